package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/studiobook/backend/internal/models"
	"github.com/studiobook/backend/internal/services"
)

type GiftCardHandler struct {
	service   *services.GiftCardService
	qr        *QRHandler
	validator *services.ValidationHelper
}

func NewGiftCardHandler(service *services.GiftCardService) *GiftCardHandler {
	return &GiftCardHandler{
		service:   service,
		qr:        NewQRHandler(service),
		validator: services.NewValidationHelper(),
	}
}

func (h *GiftCardHandler) Routes(r chi.Router) {
	r.Post("/gift-cards", h.Issue)
	r.Get("/gift-cards/{code}", h.Lookup)
	r.Get("/gift-cards/{code}/qr", h.qr.GiftCardQR)
	r.Post("/gift-cards/{code}/redeem", h.Redeem)
	r.Post("/gift-cards/{code}/refund", h.Refund)
}

// Issue sells a new gift card
// @Summary Issue gift card
// @Tags gift-cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.IssueGiftCardRequest true "Face value and expiry"
// @Success 201 {object} models.GiftCard
// @Failure 400 {object} services.ErrorResponse
// @Router /gift-cards [post]
func (h *GiftCardHandler) Issue(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.IssueGiftCardRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	card, err := h.service.Issue(r.Context(), orgID, req, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// @Summary Look up gift card
// @Tags gift-cards
// @Produce json
// @Security BearerAuth
// @Param code path string true "Gift card code"
// @Success 200 {object} models.GiftCard
// @Failure 404 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /gift-cards/{code} [get]
func (h *GiftCardHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	card, err := h.service.Lookup(r.Context(), orgID, chi.URLParam(r, "code"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// Redeem spends part of a gift card balance on an order
// @Summary Redeem gift card
// @Tags gift-cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Gift card code"
// @Param request body models.RedeemGiftCardRequest true "Amount and order"
// @Success 200 {object} models.GiftCard
// @Failure 422 {object} services.ErrorResponse "Insufficient balance, expired or inactive"
// @Router /gift-cards/{code}/redeem [post]
func (h *GiftCardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.service.Redeem)
}

// Refund returns a previous redemption to the card
// @Summary Refund to gift card
// @Tags gift-cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Gift card code"
// @Param request body models.RedeemGiftCardRequest true "Amount and order"
// @Success 200 {object} models.GiftCard
// @Failure 422 {object} services.ErrorResponse
// @Router /gift-cards/{code}/refund [post]
func (h *GiftCardHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.service.Refund)
}

type cardMovement func(ctx context.Context, orgID, code string, amount int64, orderRef, actor string) (*models.GiftCard, error)

func (h *GiftCardHandler) move(w http.ResponseWriter, r *http.Request, apply cardMovement) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.RedeemGiftCardRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	code := chi.URLParam(r, "code")
	card, err := h.service.Lookup(r.Context(), orgID, code)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	amount, err := models.ParseAmount(req.Amount, card.Currency)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	card, err = apply(r.Context(), orgID, code, amount, req.OrderRef, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}
