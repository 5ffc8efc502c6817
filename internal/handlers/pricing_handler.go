package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/studiobook/backend/internal/models"
	"github.com/studiobook/backend/internal/services"
)

type PricingHandler struct {
	service   *services.PricingService
	validator *services.ValidationHelper
}

func NewPricingHandler(service *services.PricingService) *PricingHandler {
	return &PricingHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

func (h *PricingHandler) Routes(r chi.Router) {
	r.Post("/orders/{id}/discounts", h.EvaluateDiscounts)
	r.Post("/orders/{id}/discounts/commit", h.CommitDiscounts)
	r.Post("/price-rules", h.CreateRule)
	r.Get("/price-rules", h.ListRules)
	r.Delete("/price-rules/{id}", h.DeactivateRule)
}

// EvaluateDiscounts prices an order against the active rules and an optional coupon
// @Summary Evaluate discounts
// @Description Discounts are computed on the undiscounted subtotal and do not compound.
// @Tags pricing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Param request body models.EvaluateDiscountsRequest true "Order lines and coupon"
// @Success 200 {object} models.Evaluation
// @Failure 404 {object} services.ErrorResponse "Unknown coupon"
// @Failure 422 {object} services.ErrorResponse "Coupon usage limit reached"
// @Router /orders/{id}/discounts [post]
func (h *PricingHandler) EvaluateDiscounts(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.EvaluateDiscountsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	eval, err := h.service.EvaluateOrder(r.Context(), orgID, chi.URLParam(r, "id"), req)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// CommitDiscounts prices a placed order again and records the discounts
// @Summary Commit discounts
// @Description Discounts are recomputed from the current rules. When the request lists the discounts the customer was shown, a difference fails the commit.
// @Tags pricing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Param request body models.CommitDiscountsRequest true "Order lines, coupon and the discounts shown"
// @Success 200 {object} models.Evaluation
// @Failure 404 {object} services.ErrorResponse "Unknown coupon or rule"
// @Failure 409 {object} services.ErrorResponse "Discounts changed since they were shown"
// @Failure 422 {object} services.ErrorResponse "Coupon usage limit reached"
// @Router /orders/{id}/discounts/commit [post]
func (h *PricingHandler) CommitDiscounts(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.CommitDiscountsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	eval, err := h.service.CommitOrder(r.Context(), orgID, chi.URLParam(r, "id"), req)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// @Summary Create price rule
// @Tags pricing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreatePriceRuleRequest true "Rule"
// @Success 201 {object} models.PriceRule
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /price-rules [post]
func (h *PricingHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.CreatePriceRuleRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	rule, err := h.service.CreateRule(r.Context(), orgID, req, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// @Summary List price rules
// @Tags pricing
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.PriceRule
// @Router /price-rules [get]
func (h *PricingHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	rules, err := h.service.ListRules(r.Context(), orgID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// @Summary Deactivate price rule
// @Tags pricing
// @Security BearerAuth
// @Param id path string true "Rule ID"
// @Success 204
// @Failure 404 {object} services.ErrorResponse
// @Router /price-rules/{id} [delete]
func (h *PricingHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	ruleID, ok := pathID(w, r, "id", models.ErrRuleNotFound)
	if !ok {
		return
	}
	if err := h.service.DeactivateRule(r.Context(), orgID, ruleID, actor); err != nil {
		services.SendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
