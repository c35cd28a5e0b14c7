package web

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"accounting-core/internal/tenant"
)

// jwtClaims is the bearer-token payload. The token is minted by an external
// identity service sharing our secret; the core only verifies and extracts
// the tenant.
type jwtClaims struct {
	UserID    int `json:"user_id"`
	CompanyID int `json:"company_id"`
	jwt.RegisteredClaims
}

// shareClaims is the payload of a public invoice link token.
type shareClaims struct {
	CompanyID int    `json:"company_id"`
	InvoiceID int    `json:"invoice_id"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

const sharePurposeInvoice = "invoice-share"

// RequireAuth validates the Authorization bearer token and stores its claims.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims := &jwtClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if claims.CompanyID <= 0 {
			writeError(w, r, "token carries no tenant", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(tenant.WithID(r.Context(), claims.CompanyID)))
	})
}

// RequireTenant binds the {companyID} path segment to the authenticated
// tenant. A token for one tenant touching another tenant's routes is a 403,
// not a 404: the caller is authenticated, just not here.
func (h *Handler) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pathID, err := strconv.Atoi(chi.URLParam(r, "companyID"))
		if err != nil || pathID <= 0 {
			writeError(w, r, "invalid company id", "VALIDATION", http.StatusBadRequest)
			return
		}
		authID, err := tenant.FromContext(r.Context())
		if err != nil {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if authID != pathID {
			writeError(w, r, "tenant mismatch", "TENANT", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireIntegrationKey authenticates the external POS feed by shared secret.
// The tenant comes from the path; the secret vouches for the whole feed.
func (h *Handler) RequireIntegrationKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Integration-Key")
		if h.integrationKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(h.integrationKey)) != 1 {
			writeError(w, r, "invalid integration key", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		pathID, err := strconv.Atoi(chi.URLParam(r, "companyID"))
		if err != nil || pathID <= 0 {
			writeError(w, r, "invalid company id", "VALIDATION", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithID(r.Context(), pathID)))
	})
}

// mintShareToken signs a short-lived token granting anonymous read access to
// one invoice.
func (h *Handler) mintShareToken(companyID, invoiceID int, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, shareClaims{
		CompanyID: companyID,
		InvoiceID: invoiceID,
		Purpose:   sharePurposeInvoice,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign share token: %w", err)
	}
	return signed, expires, nil
}

// parseShareToken verifies a public link token and returns its target.
func (h *Handler) parseShareToken(raw string) (companyID, invoiceID int, err error) {
	claims := &shareClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid || claims.Purpose != sharePurposeInvoice {
		return 0, 0, fmt.Errorf("invalid share token")
	}
	return claims.CompanyID, claims.InvoiceID, nil
}
