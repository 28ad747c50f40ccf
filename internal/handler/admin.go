package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AdminHandler handles the broker administrator's endpoints.
type AdminHandler struct {
	allocationSvc *service.AllocationService
	accountSvc    *service.AccountService
	instrumentSvc *service.InstrumentService
	logger        *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	allocationSvc *service.AllocationService,
	accountSvc *service.AccountService,
	instrumentSvc *service.InstrumentService,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		allocationSvc: allocationSvc,
		accountSvc:    accountSvc,
		instrumentSvc: instrumentSvc,
		logger:        logger,
	}
}

// setAllocationRequest is the JSON request body for
// PUT /admin/accounts/{account_id}/allocation.
type setAllocationRequest struct {
	AssignedCash *decimal.Decimal `json:"assigned_cash"`
}

// allocationResponse reports what an allocation change actually applied.
type allocationResponse struct {
	AccountID     string `json:"account_id"`
	AssignedCash  string `json:"assigned_cash"`
	Delta         string `json:"delta"`
	CashDelta     string `json:"cash_delta"`
	Shortfall     string `json:"shortfall"`
	Available     string `json:"available"`
	Created       bool   `json:"created"`
	Overallocated bool   `json:"overallocated"`
}

type brokerCashRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type brokerCashResponse struct {
	BrokerCash string `json:"broker_cash"`
}

type accountAllocationResponse struct {
	AccountID     string            `json:"account_id"`
	AssignedCash  string            `json:"assigned_cash"`
	CashBalance   string            `json:"cash_balance"`
	Reserved      string            `json:"reserved"`
	Available     string            `json:"available"`
	Overallocated bool              `json:"overallocated"`
	Active        bool              `json:"active"`
	Frozen        bool              `json:"frozen"`
	Holdings      []holdingResponse `json:"holdings"`
}

// overviewResponse is the JSON response for GET /admin/overview.
type overviewResponse struct {
	BrokerCash     string                      `json:"broker_cash"`
	TotalAssigned  string                      `json:"total_assigned"`
	TotalReserved  string                      `json:"total_reserved"`
	TotalAvailable string                      `json:"total_available"`
	Unallocated    string                      `json:"unallocated"`
	Overallocated  bool                        `json:"overallocated"`
	Accounts       []accountAllocationResponse `json:"accounts"`
	GeneratedAt    string                      `json:"generated_at"`
}

// accountStateResponse is returned by the freeze and activation actions.
type accountStateResponse struct {
	AccountID string `json:"account_id"`
	Active    bool   `json:"active"`
	Frozen    bool   `json:"frozen"`
	UpdatedAt string `json:"updated_at"`
}

type registerInstrumentRequest struct {
	Symbol   string `json:"symbol"`
	Ref      string `json:"ref"`
	Currency string `json:"currency"`
}

// SetAllocation handles PUT /admin/accounts/{account_id}/allocation.
func (h *AdminHandler) SetAllocation(w http.ResponseWriter, r *http.Request) {
	var req setAllocationRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.AssignedCash == nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "assigned_cash is required")
		return
	}

	out, err := h.allocationSvc.SetTarget(r.Context(), chi.URLParam(r, "account_id"), req.AssignedCash.String())
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if out.Applied.Created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, allocationResponse{
		AccountID:     out.AccountID,
		AssignedCash:  domain.FormatAmount(out.Applied.AssignedCash),
		Delta:         domain.FormatAmount(out.Applied.Delta),
		CashDelta:     domain.FormatAmount(out.Applied.CashDelta),
		Shortfall:     domain.FormatAmount(out.Applied.Shortfall),
		Available:     domain.FormatAmount(out.Available),
		Created:       out.Applied.Created,
		Overallocated: out.Overallocated,
	})
}

// Overview handles GET /admin/overview.
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.allocationSvc.Overview(r.Context())
	if err != nil {
		mapError(w, h.logger, err)
		return
	}

	accounts := make([]accountAllocationResponse, len(ov.Accounts))
	for i, a := range ov.Accounts {
		accounts[i] = accountAllocationResponse{
			AccountID:     a.AccountID,
			AssignedCash:  domain.FormatAmount(a.AssignedCash),
			CashBalance:   domain.FormatAmount(a.CashBalance),
			Reserved:      domain.FormatAmount(a.Reserved),
			Available:     domain.FormatAmount(a.Available),
			Overallocated: a.Overallocated,
			Active:        a.Active,
			Frozen:        a.Frozen,
			Holdings:      buildHoldingResponses(a.Holdings),
		}
	}

	WriteJSON(w, http.StatusOK, overviewResponse{
		BrokerCash:     domain.FormatAmount(ov.BrokerCash),
		TotalAssigned:  domain.FormatAmount(ov.TotalAssigned),
		TotalReserved:  domain.FormatAmount(ov.TotalReserved),
		TotalAvailable: domain.FormatAmount(ov.TotalAvailable),
		Unallocated:    domain.FormatAmount(ov.Unallocated),
		Overallocated:  ov.Overallocated,
		Accounts:       accounts,
		GeneratedAt:    formatTime(ov.GeneratedAt),
	})
}

// SetBrokerCash handles PUT /admin/broker-cash.
func (h *AdminHandler) SetBrokerCash(w http.ResponseWriter, r *http.Request) {
	var req brokerCashRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Amount == nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "amount is required")
		return
	}

	cash, err := h.allocationSvc.SetBrokerCash(req.Amount.String())
	if err != nil {
		mapError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, brokerCashResponse{BrokerCash: domain.FormatAmount(cash)})
}

// RegisterInstrument handles POST /admin/instruments.
func (h *AdminHandler) RegisterInstrument(w http.ResponseWriter, r *http.Request) {
	var req registerInstrumentRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	in, err := h.instrumentSvc.Register(service.RegisterInstrumentRequest{
		Symbol:   req.Symbol,
		Ref:      req.Ref,
		Currency: req.Currency,
	})
	if err != nil {
		mapError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, instrumentResponse{Symbol: in.Symbol, Ref: in.Ref, Currency: in.Currency})
}

// Freeze handles POST /admin/accounts/{account_id}/freeze.
func (h *AdminHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.accountSvc.Freeze)
}

// Unfreeze handles POST /admin/accounts/{account_id}/unfreeze.
func (h *AdminHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.accountSvc.Unfreeze)
}

// Deactivate handles POST /admin/accounts/{account_id}/deactivate.
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.accountSvc.Deactivate)
}

// Activate handles POST /admin/accounts/{account_id}/activate.
func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.accountSvc.Activate)
}

func (h *AdminHandler) accountAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(context.Context, string) (*domain.Account, error),
) {
	acct, err := action(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		mapError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, accountStateResponse{
		AccountID: acct.AccountID,
		Active:    acct.Active,
		Frozen:    acct.Frozen,
		UpdatedAt: formatTime(acct.UpdatedAt),
	})
}
