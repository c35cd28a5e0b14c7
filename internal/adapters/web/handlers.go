package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"accounting-core/internal/core"
	"accounting-core/internal/integration/piti"
	"accounting-core/internal/outbox"
)

// Config carries the knobs the HTTP adapter needs beyond its services.
type Config struct {
	JWTSecret      string
	IntegrationKey string
	AllowedOrigins []string
	RateLimitRPS   float64 // per client IP; public routes run at a quarter of this
	RateLimitBurst int
}

// Handler wires the chi router over the core services.
type Handler struct {
	pool *pgxpool.Pool
	log  zerolog.Logger

	accounts  core.AccountService
	master    core.MasterDataService
	sales     core.SalesService
	purchases core.PurchaseService
	inventory core.InventoryService
	periods   core.PeriodService
	reports   core.ReportService
	importer  *piti.Importer
	schemas   *outbox.SchemaRegistry

	jwtSecret      string
	integrationKey string
}

// NewHandler creates and wires the router with all routes.
func NewHandler(pool *pgxpool.Pool, log zerolog.Logger, cfg Config) http.Handler {
	h := &Handler{
		pool:           pool,
		log:            log,
		accounts:       core.NewAccountService(pool),
		master:         core.NewMasterDataService(pool),
		sales:          core.NewSalesService(pool),
		purchases:      core.NewPurchaseService(pool),
		inventory:      core.NewInventoryService(pool),
		periods:        core.NewPeriodService(pool),
		reports:        core.NewReportService(pool),
		importer:       piti.NewImporter(pool, log),
		schemas:        outbox.NewSchemaRegistry(),
		jwtSecret:      cfg.JWTSecret,
		integrationKey: cfg.IntegrationKey,
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 40
	}
	apiLimiter := newIPLimiter(rps, burst)
	publicLimiter := newIPLimiter(rps/4, burst/4+1)
	apiLimiter.startPurge(context.Background())
	publicLimiter.startPurge(context.Background())

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID", "X-Integration-Key"},
		AllowCredentials: true,
	}))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/health", h.health)

	// Anonymous invoice reads, behind the tighter public bucket.
	r.Group(func(r chi.Router) {
		r.Use(publicLimiter.middleware)
		r.Get("/public/invoices/{token}", h.publicInvoice)
	})

	// External POS feed, authenticated by shared secret.
	r.Route("/integrations/piti/companies/{companyID}", func(r chi.Router) {
		r.Use(apiLimiter.middleware)
		r.Use(h.RequireIntegrationKey)
		r.Post("/sales", h.pitiSale)
		r.Post("/refunds", h.pitiRefund)
		r.Post("/batches", h.pitiBatch)
	})

	// Tenant API.
	r.Group(func(r chi.Router) {
		r.Use(apiLimiter.middleware)
		r.Use(h.RequireAuth)

		r.Post("/companies", h.bootstrapCompany)

		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Use(h.RequireTenant)

			r.Get("/", h.getCompany)
			r.Post("/accounts", h.createAccount)
			r.Get("/accounts", h.listAccounts)
			r.Post("/accounts/{id}/deactivate", h.deactivateAccount)

			r.Post("/customers", h.createCustomer)
			r.Get("/customers", h.listCustomers)
			r.Post("/vendors", h.createVendor)
			r.Get("/vendors", h.listVendors)
			r.Post("/items", h.createItem)
			r.Get("/items", h.listItems)
			r.Post("/locations", h.createLocation)
			r.Get("/locations", h.listLocations)

			r.Post("/period-close", h.closePeriod)
			r.Post("/period-reopen", h.reopenPeriod)

			r.Post("/invoices", h.createInvoice)
			r.Get("/invoices", h.listInvoices)
			r.Get("/invoices/{id}", h.getInvoice)
			r.Post("/invoices/{id}/post", h.postInvoice)
			r.Post("/invoices/{id}/void", h.voidInvoice)
			r.Post("/invoices/{id}/payments", h.recordPayment)
			r.Post("/invoices/{id}/public-link", h.createPublicLink)
			r.Post("/payments/{id}/reverse", h.reversePayment)

			r.Post("/credit-notes", h.issueCreditNote)
			r.Post("/credit-notes/{id}/apply", h.applyCreditNote)
			r.Post("/customer-advances", h.receiveAdvance)
			r.Post("/customer-advances/{id}/apply", h.applyAdvance)

			r.Post("/purchase-bills", h.createBill)
			r.Get("/purchase-bills", h.listBills)
			r.Get("/purchase-bills/{id}", h.getBill)
			r.Post("/purchase-bills/{id}/post", h.postBill)
			r.Post("/purchase-bills/{id}/void", h.voidBill)
			r.Post("/purchase-bills/{id}/payments", h.recordBillPayment)
			r.Post("/bill-payments/{id}/reverse", h.reverseBillPayment)

			r.Post("/vendor-credits", h.issueVendorCredit)
			r.Post("/vendor-credits/{id}/apply", h.applyVendorCredit)
			r.Post("/vendor-advances", h.payVendorAdvance)
			r.Post("/vendor-advances/{id}/apply", h.applyVendorAdvance)

			r.Post("/inventory/adjustments", h.adjustStock)
			r.Get("/inventory/stock", h.listStock)

			r.Get("/reports/profit-loss", h.profitLoss)
			r.Get("/reports/balance-sheet", h.balanceSheet)
			r.Get("/reports/ar-summary", h.arSummary)
			r.Get("/reports/ap-summary", h.apSummary)
			r.Get("/reports/account-transactions", h.accountTransactions)
			r.Get("/reports/summary", h.projectionSummary)
		})
	})

	r.Get("/events/schemas", h.eventSchemas)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Ping(r.Context()); err != nil {
		writeError(w, r, "database unreachable", "RESOURCE", http.StatusServiceUnavailable)
		return
	}

	// Surface outbox lag so operators can see a stalled publisher.
	var unpublished int
	if err := h.pool.QueryRow(r.Context(),
		"SELECT count(*) FROM outbox_events WHERE published_at IS NULL",
	).Scan(&unpublished); err != nil {
		writeError(w, r, "database unreachable", "RESOURCE", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"outbox_unpublished": unpublished,
	})
}

func (h *Handler) eventSchemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": h.schemas.Types()})
}

// readBody drains the (size-limited) request body. A false return means the
// error response has already been written.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, "request body too large", "VALIDATION", http.StatusRequestEntityTooLarge)
		} else {
			writeError(w, r, "failed to read request body", "VALIDATION", http.StatusBadRequest)
		}
		return nil, false
	}
	return body, true
}

// runIdempotent executes a write under the idempotency store: the handler's
// build runs at most once per (tenant, Idempotency-Key), replays return the
// stored response bytes unchanged with the replay header set.
func (h *Handler) runIdempotent(w http.ResponseWriter, r *http.Request, companyID int, body []byte,
	status int, build func(ctx context.Context, tx pgx.Tx) (any, error)) {

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		writeError(w, r, "Idempotency-Key header is required for writes", "VALIDATION", http.StatusBadRequest)
		return
	}

	fingerprint := core.Fingerprint(companyID, r.Method+" "+r.URL.Path, body)
	result, err := core.RunIdempotent(r.Context(), h.pool, companyID, key, fingerprint, build)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if result.Replay {
		w.Header().Set("Idempotency-Replay", "true")
		writeRawJSON(w, http.StatusOK, result.Response)
		return
	}
	writeRawJSON(w, status, result.Response)
}
