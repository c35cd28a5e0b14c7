package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	"accounting-core/internal/integration/piti"
)

type pitiReceiptRequest struct {
	LocationID *int `json:"location_id"`
	piti.Receipt
}

// pitiSale ingests a single POS sale. The idempotency store guards the HTTP
// retry; the integration map guards re-sent external ids across batches.
func (h *Handler) pitiSale(w http.ResponseWriter, r *http.Request) {
	h.pitiReceipt(w, r, "sale")
}

func (h *Handler) pitiRefund(w http.ResponseWriter, r *http.Request) {
	h.pitiReceipt(w, r, "refund")
}

func (h *Handler) pitiReceipt(w http.ResponseWriter, r *http.Request, receiptType string) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in pitiReceiptRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	in.Type = receiptType

	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		docID, imported, err := piti.ImportReceiptTx(ctx, tx, cid, in.LocationID, in.Receipt)
		if err != nil {
			return nil, err
		}
		resp := map[string]any{
			"external_id": in.ExternalID,
			"imported":    imported,
		}
		if receiptType == "refund" {
			resp["credit_note_id"] = docID
		} else {
			resp["invoice_id"] = docID
		}
		return resp, nil
	})
}

// pitiBatch ingests many receipts; each runs in its own transaction and
// failures are reported per receipt without aborting the batch.
func (h *Handler) pitiBatch(w http.ResponseWriter, r *http.Request) {
	var batch piti.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	result, err := h.importer.Import(r.Context(), companyID(r), batch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
