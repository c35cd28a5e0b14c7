package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"accounting-core/internal/money"
	"accounting-core/internal/tenant"
)

// pathID parses a positive integer path segment. A false return means the
// error response has already been written.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name, "VALIDATION", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// companyID returns the tenant bound by RequireTenant. The middleware
// guarantees presence; a miss here is a routing bug.
func companyID(r *http.Request) int {
	return tenant.MustFromContext(r.Context())
}

// dateQuery parses a YYYY-MM-DD query parameter, falling back to def when the
// parameter is absent.
func dateQuery(w http.ResponseWriter, r *http.Request, name string, def time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	d, err := money.ParseDay(raw)
	if err != nil {
		writeError(w, r, "invalid "+name+": expected YYYY-MM-DD", "VALIDATION", http.StatusBadRequest)
		return time.Time{}, false
	}
	return d, true
}

// intQuery parses an optional positive integer query parameter; zero means
// absent.
func intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, r, "invalid "+name, "VALIDATION", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
