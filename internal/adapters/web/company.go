package web

import (
	"encoding/json"
	"net/http"
	"time"

	"accounting-core/internal/core"
	"accounting-core/internal/money"
)

// bootstrapCompany provisions a tenant with its default chart of accounts.
// It runs outside the idempotency store: the caller has no tenant yet.
func (h *Handler) bootstrapCompany(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string `json:"name"`
		BaseCurrency string `json:"base_currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if in.Name == "" {
		writeError(w, r, "company name is required", "VALIDATION", http.StatusBadRequest)
		return
	}
	if in.BaseCurrency == "" {
		in.BaseCurrency = "USD"
	}

	company, err := h.accounts.BootstrapCompany(r.Context(), in.Name, in.BaseCurrency)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, company)
}

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.accounts.GetCompany(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string           `json:"code"`
		Name string           `json:"name"`
		Type core.AccountType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	account, err := h.accounts.CreateAccount(r.Context(), companyID(r), in.Code, in.Name, in.Type)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListAccounts(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.accounts.DeactivateAccount(r.Context(), companyID(r), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in core.CustomerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	customer, err := h.master.CreateCustomer(r.Context(), companyID(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.master.ListCustomers(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var in core.VendorInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	vendor, err := h.master.CreateVendor(r.Context(), companyID(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vendor)
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.master.ListVendors(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var in core.ItemInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	item, err := h.master.CreateItem(r.Context(), companyID(r), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.master.ListItems(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	location, err := h.master.CreateLocation(r.Context(), companyID(r), in.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, location)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.master.ListLocations(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

// closePeriod locks all journal activity dated on or before the boundary.
// Close is naturally idempotent, so it skips the idempotency store.
func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Through string `json:"through"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	through, err := money.ParseDay(in.Through)
	if err != nil {
		writeError(w, r, "invalid through date: expected YYYY-MM-DD", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := h.periods.ClosePeriod(r.Context(), companyID(r), through); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed_through": money.FormatDay(through)})
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Through *string `json:"through"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	var through *time.Time
	if in.Through != nil {
		d, err := money.ParseDay(*in.Through)
		if err != nil {
			writeError(w, r, "invalid through date: expected YYYY-MM-DD", "VALIDATION", http.StatusBadRequest)
			return
		}
		through = &d
	}
	if err := h.periods.ReopenPeriod(r.Context(), companyID(r), through); err != nil {
		writeDomainError(w, r, err)
		return
	}
	closedThrough, err := h.periods.ClosedThrough(r.Context(), companyID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := map[string]any{"closed_through": nil}
	if closedThrough != nil {
		resp["closed_through"] = money.FormatDay(*closedThrough)
	}
	writeJSON(w, http.StatusOK, resp)
}
