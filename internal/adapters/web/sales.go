package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"accounting-core/internal/core"
	"accounting-core/internal/money"
)

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.InvoiceInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.CreateInvoiceTx(ctx, tx, cid, in)
	})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.sales.ListInvoices(r.Context(), companyID(r), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	invoice, err := h.sales.GetInvoice(r.Context(), companyID(r), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.PostInvoiceTx(ctx, tx, cid, id)
	})
}

// voidDate reads the optional void date from the body; absent means today.
func voidDate(w http.ResponseWriter, r *http.Request, body []byte) (time.Time, bool) {
	date := money.Day(time.Now().UTC())
	if len(body) == 0 {
		return date, true
	}
	var in struct {
		Date *string `json:"date"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return time.Time{}, false
	}
	if in.Date != nil {
		d, err := money.ParseDay(*in.Date)
		if err != nil {
			writeError(w, r, "invalid date: expected YYYY-MM-DD", "VALIDATION", http.StatusBadRequest)
			return time.Time{}, false
		}
		date = d
	}
	return date, true
}

func (h *Handler) voidInvoice(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	date, ok := voidDate(w, r, body)
	if !ok {
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.VoidInvoiceTx(ctx, tx, cid, id, date)
	})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.PaymentInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	in.InvoiceID = id
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.RecordPaymentTx(ctx, tx, cid, in)
	})
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	date, ok := voidDate(w, r, body)
	if !ok {
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.ReversePaymentTx(ctx, tx, cid, id, date)
	})
}

// createPublicLink mints a signed anonymous-read link for a posted invoice.
func (h *Handler) createPublicLink(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	invoice, err := h.sales.GetInvoice(r.Context(), cid, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if invoice.Status == core.StatusDraft {
		writeError(w, r, "draft invoices cannot be shared", "STATE", http.StatusUnprocessableEntity)
		return
	}

	var in struct {
		TTLHours int `json:"ttl_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	ttl := 7 * 24 * time.Hour
	if in.TTLHours > 0 {
		ttl = time.Duration(in.TTLHours) * time.Hour
	}

	token, expires, err := h.mintShareToken(cid, id, ttl)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"url":        "/public/invoices/" + token,
		"expires_at": expires,
	})
}

// publicInvoice serves an invoice to an anonymous holder of a share token.
func (h *Handler) publicInvoice(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "token")
	cid, invoiceID, err := h.parseShareToken(raw)
	if err != nil {
		writeError(w, r, "invalid or expired link", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	invoice, err := h.sales.GetInvoice(r.Context(), cid, invoiceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) issueCreditNote(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.CreditNoteInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.IssueCreditNoteTx(ctx, tx, cid, in)
	})
}

func (h *Handler) applyCreditNote(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.ApplicationInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.ApplyCreditNoteTx(ctx, tx, cid, id, in)
	})
}

func (h *Handler) receiveAdvance(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.CustomerAdvanceInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.ReceiveAdvanceTx(ctx, tx, cid, in)
	})
}

func (h *Handler) applyAdvance(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.ApplicationInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.ApplyAdvanceTx(ctx, tx, cid, id, in)
	})
}
