package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/studiobook/backend/internal/models"
	"github.com/studiobook/backend/internal/services"
)

type WalletHandler struct {
	wallets   *services.WalletService
	credits   *services.CreditService
	validator *services.ValidationHelper
}

func NewWalletHandler(wallets *services.WalletService, credits *services.CreditService) *WalletHandler {
	return &WalletHandler{
		wallets:   wallets,
		credits:   credits,
		validator: services.NewValidationHelper(),
	}
}

func (h *WalletHandler) Routes(r chi.Router) {
	r.Post("/customers/{customerId}/wallets", h.CreateWallet)
	r.Get("/wallets/{id}", h.GetWallet)
	r.Get("/wallets/{id}/history", h.History)
	r.Get("/wallets/{id}/lots", h.Lots)
	r.Post("/wallets/{id}/top-up", h.TopUp)
	r.Post("/wallets/{id}/credits", h.GrantCredits)
	r.Post("/wallets/{id}/consume", h.ConsumeCredits)
}

// CreateWallet returns the customer's wallet in a currency, creating it on first use
// @Summary Create wallet
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param customerId path string true "Customer ID"
// @Param request body models.CreateWalletRequest true "Wallet currency"
// @Success 200 {object} models.Wallet
// @Failure 400 {object} services.ErrorResponse
// @Router /customers/{customerId}/wallets [post]
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.CreateWalletRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	wallet, err := h.wallets.EnsureWallet(r.Context(), orgID, chi.URLParam(r, "customerId"), strings.ToUpper(req.Currency))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// @Summary Get wallet
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Success 200 {object} models.Wallet
// @Failure 404 {object} services.ErrorResponse
// @Router /wallets/{id} [get]
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	walletID, ok := pathID(w, r, "id", models.ErrWalletNotFound)
	if !ok {
		return
	}
	wallet, err := h.wallets.Get(r.Context(), orgID, walletID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// History lists the wallet's monetary ledger entries
// @Summary Wallet history
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Param from query string false "RFC 3339 start"
// @Param to query string false "RFC 3339 end"
// @Success 200 {array} models.LedgerEntry
// @Router /wallets/{id}/history [get]
func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	walletID, ok := pathID(w, r, "id", models.ErrWalletNotFound)
	if !ok {
		return
	}
	from, to, err := timeRange(r, time.Now())
	if err != nil {
		services.SendErrorResponse(w, "from and to must be RFC 3339 timestamps", http.StatusBadRequest, nil)
		return
	}
	entries, err := h.wallets.History(r.Context(), orgID, walletID, from, to)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// @Summary Active credit lots
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Param creditType query string true "Credit type"
// @Success 200 {array} models.CreditLot
// @Router /wallets/{id}/lots [get]
func (h *WalletHandler) Lots(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	walletID, ok := pathID(w, r, "id", models.ErrWalletNotFound)
	if !ok {
		return
	}
	creditType := r.URL.Query().Get("creditType")
	if creditType == "" {
		services.SendErrorResponse(w, "creditType is required", http.StatusBadRequest, nil)
		return
	}
	lots, err := h.credits.Lots(r.Context(), orgID, walletID, creditType)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

// TopUp adds purchased money to the wallet
// @Summary Top up wallet
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Param request body models.WalletMovementRequest true "Amount and reference"
// @Success 200 {object} models.Wallet
// @Failure 400 {object} services.ErrorResponse
// @Router /wallets/{id}/top-up [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	walletID, ok := pathID(w, r, "id", models.ErrWalletNotFound)
	if !ok {
		return
	}
	var req models.WalletMovementRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	wallet, err := h.wallets.Get(r.Context(), orgID, walletID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	amount, err := models.ParseAmount(req.Amount, wallet.Currency)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	wallet, err = h.wallets.TopUp(r.Context(), orgID, walletID, amount, req.Reference, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GrantCredits adds a lot of prepaid credits to the wallet
// @Summary Grant credits
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Param request body models.GrantCreditsRequest true "Credit lot"
// @Success 201 {array} models.CreditLot
// @Failure 400 {object} services.ErrorResponse
// @Router /wallets/{id}/credits [post]
func (h *WalletHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	walletID, ok := pathID(w, r, "id", models.ErrWalletNotFound)
	if !ok {
		return
	}
	var req models.GrantCreditsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	lots, err := h.credits.Grant(r.Context(), orgID, walletID, req, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lots)
}

// ConsumeCredits spends credits, soonest-expiring lots first
// @Summary Consume credits
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Param request body models.ConsumeCreditsRequest true "Quantity and booking reference"
// @Success 200 {object} models.ConsumeResult
// @Failure 422 {object} services.ErrorResponse
// @Router /wallets/{id}/consume [post]
func (h *WalletHandler) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	walletID, ok := pathID(w, r, "id", models.ErrWalletNotFound)
	if !ok {
		return
	}
	var req models.ConsumeCreditsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.credits.Consume(r.Context(), orgID, walletID, req.CreditType, req.Quantity, req.Reference, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
