package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/studiobook/backend/internal/models"
	"github.com/studiobook/backend/internal/services"
)

type CashDrawerHandler struct {
	service   *services.CashDrawerService
	validator *services.ValidationHelper
}

func NewCashDrawerHandler(service *services.CashDrawerService) *CashDrawerHandler {
	return &CashDrawerHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

func (h *CashDrawerHandler) Routes(r chi.Router) {
	r.Route("/cash-drawers/{id}", func(r chi.Router) {
		r.Post("/open", h.Open)
		r.Post("/transactions", h.RecordTransaction)
		r.Post("/close", h.RequestClose)
		r.Post("/count", h.SubmitCount)
		r.Get("/session", h.CurrentSession)
		r.Get("/z-report", h.ZReport)
	})
}

// Open starts a drawer session with an opening float
// @Summary Open cash drawer
// @Tags cash-drawers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Drawer ID"
// @Param request body models.OpenDrawerRequest true "Opening float"
// @Success 201 {object} models.CashDrawerSession
// @Failure 409 {object} services.ErrorResponse "Drawer already open"
// @Router /cash-drawers/{id}/open [post]
func (h *CashDrawerHandler) Open(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.OpenDrawerRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	req.Currency = strings.ToUpper(req.Currency)

	session, err := h.service.Open(r.Context(), orgID, chi.URLParam(r, "id"), req, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// RecordTransaction records a cash sale, refund, payout or pay-in on the open session
// @Summary Record cash transaction
// @Description Sales and refunds are rounded to the drawer's cash increment.
// @Tags cash-drawers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Drawer ID"
// @Param request body models.CashTransactionRequest true "Transaction"
// @Success 200 {object} models.CashTransactionResult
// @Failure 404 {object} services.ErrorResponse "No open session"
// @Failure 409 {object} services.ErrorResponse "Session is closing"
// @Router /cash-drawers/{id}/transactions [post]
func (h *CashDrawerHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.CashTransactionRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	session, err := h.service.CurrentSession(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	amount, err := models.ParseAmount(req.Amount, session.Currency)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	result, err := h.service.RecordTransaction(r.Context(), orgID, session.ID, req.Kind, amount, req.Reference, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RequestClose stops the session taking transactions until it is counted
// @Summary Request drawer close
// @Tags cash-drawers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Drawer ID"
// @Success 200 {object} models.CashDrawerSession
// @Failure 404 {object} services.ErrorResponse
// @Router /cash-drawers/{id}/close [post]
func (h *CashDrawerHandler) RequestClose(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	session, err := h.service.CurrentSession(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	session, err = h.service.RequestClose(r.Context(), orgID, session.ID, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SubmitCount closes the session with the counted denominations
// @Summary Submit drawer count
// @Tags cash-drawers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Drawer ID"
// @Param request body models.SubmitCountRequest true "Denomination counts keyed by face value"
// @Success 200 {object} models.CountResult
// @Failure 409 {object} services.ErrorResponse "Close not requested"
// @Router /cash-drawers/{id}/count [post]
func (h *CashDrawerHandler) SubmitCount(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.SubmitCountRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	session, err := h.service.CurrentSession(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	result, err := h.service.SubmitCount(r.Context(), orgID, session.ID, req.Denominations, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// @Summary Current drawer session
// @Tags cash-drawers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Drawer ID"
// @Success 200 {object} models.CashDrawerSession
// @Failure 404 {object} services.ErrorResponse
// @Router /cash-drawers/{id}/session [get]
func (h *CashDrawerHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	session, err := h.service.CurrentSession(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ZReport summarizes the drawer's most recent session
// @Summary Drawer Z report
// @Tags cash-drawers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Drawer ID"
// @Success 200 {object} models.ZReport
// @Failure 404 {object} services.ErrorResponse
// @Router /cash-drawers/{id}/z-report [get]
func (h *CashDrawerHandler) ZReport(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	session, err := h.service.LatestSession(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	report, err := h.service.ZReport(r.Context(), orgID, session.ID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
