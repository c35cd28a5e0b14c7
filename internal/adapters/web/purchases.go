package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	"accounting-core/internal/core"
)

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.BillInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.CreateBillTx(ctx, tx, cid, in)
	})
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.purchases.ListBills(r.Context(), companyID(r), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bill, err := h.purchases.GetBill(r.Context(), companyID(r), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (h *Handler) postBill(w http.ResponseWriter, r *http.Request) {
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
		return core.PostBillTx(ctx, tx, cid, id)
	})
}

func (h *Handler) voidBill(w http.ResponseWriter, r *http.Request) {
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
		return core.VoidBillTx(ctx, tx, cid, id, date)
	})
}

func (h *Handler) recordBillPayment(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.BillPaymentInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	in.BillID = id
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.RecordBillPaymentTx(ctx, tx, cid, in)
	})
}

func (h *Handler) reverseBillPayment(w http.ResponseWriter, r *http.Request) {
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
		return core.ReverseBillPaymentTx(ctx, tx, cid, id, date)
	})
}

func (h *Handler) issueVendorCredit(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.VendorCreditInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.IssueVendorCreditTx(ctx, tx, cid, in)
	})
}

func (h *Handler) applyVendorCredit(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.BillApplicationInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.ApplyVendorCreditTx(ctx, tx, cid, id, in)
	})
}

func (h *Handler) payVendorAdvance(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.VendorAdvanceInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.PayVendorAdvanceTx(ctx, tx, cid, in)
	})
}

func (h *Handler) applyVendorAdvance(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.BillApplicationInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusOK, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.ApplyVendorAdvanceTx(ctx, tx, cid, id, in)
	})
}
