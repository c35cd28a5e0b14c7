package web

import (
	"net/http"
	"time"

	"accounting-core/internal/money"
	"accounting-core/internal/projection"
)

func (h *Handler) profitLoss(w http.ResponseWriter, r *http.Request) {
	now := money.Day(time.Now().UTC())
	from, ok := dateQuery(w, r, "from", now.AddDate(0, -1, 0))
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to", now)
	if !ok {
		return
	}
	report, err := h.reports.ProfitLoss(r.Context(), companyID(r), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateQuery(w, r, "as_of", money.Day(time.Now().UTC()))
	if !ok {
		return
	}
	report, err := h.reports.BalanceSheet(r.Context(), companyID(r), asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) arSummary(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateQuery(w, r, "as_of", money.Day(time.Now().UTC()))
	if !ok {
		return
	}
	report, err := h.reports.ARSummary(r.Context(), companyID(r), asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) apSummary(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateQuery(w, r, "as_of", money.Day(time.Now().UTC()))
	if !ok {
		return
	}
	report, err := h.reports.APSummary(r.Context(), companyID(r), asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) accountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := intQuery(w, r, "account_id")
	if !ok {
		return
	}
	if accountID == 0 {
		writeError(w, r, "account_id is required", "VALIDATION", http.StatusBadRequest)
		return
	}
	now := money.Day(time.Now().UTC())
	from, ok := dateQuery(w, r, "from", now.AddDate(0, -1, 0))
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to", now)
	if !ok {
		return
	}
	statement, err := h.reports.AccountTransactions(r.Context(), companyID(r), accountID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

// projectionSummary serves the read-model daily rollups. Figures here are
// eventually consistent with the ledger; the journal is the source of truth.
func (h *Handler) projectionSummary(w http.ResponseWriter, r *http.Request) {
	now := money.Day(time.Now().UTC())
	from, ok := dateQuery(w, r, "from", now.AddDate(0, -1, 0))
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to", now)
	if !ok {
		return
	}
	summaries, err := projection.Summaries(r.Context(), h.pool, companyID(r), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}
