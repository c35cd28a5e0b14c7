package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"

	"accounting-core/internal/core"
)

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in core.AdjustmentInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	h.runIdempotent(w, r, cid, body, http.StatusCreated, func(ctx context.Context, tx pgx.Tx) (any, error) {
		return core.AdjustStockTx(ctx, tx, cid, in)
	})
}

// listStock returns stock positions. With both location_id and item_id it
// returns the single balance plus its full move history.
func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	cid := companyID(r)
	locationID, ok := intQuery(w, r, "location_id")
	if !ok {
		return
	}
	itemID, ok := intQuery(w, r, "item_id")
	if !ok {
		return
	}

	if locationID > 0 && itemID > 0 {
		balance, err := h.inventory.GetBalance(r.Context(), cid, locationID, itemID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		moves, err := h.inventory.ListMoves(r.Context(), cid, locationID, itemID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "moves": moves})
		return
	}

	balances, err := h.inventory.ListBalances(r.Context(), cid, locationID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}
