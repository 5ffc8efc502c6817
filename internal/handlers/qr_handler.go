package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/studiobook/backend/internal/services"
)

type QRHandler struct {
	cards *services.GiftCardService
}

func NewQRHandler(cards *services.GiftCardService) *QRHandler {
	return &QRHandler{cards: cards}
}

// GiftCardQR renders a printable QR code for a gift card
// @Summary Gift card QR code
// @Description Returns the card code encoded as a base64 PNG
// @Tags gift-cards
// @Produce json
// @Security BearerAuth
// @Param code path string true "Gift card code"
// @Success 200 {object} object{code=string,qrImage=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /gift-cards/{code}/qr [get]
func (h *QRHandler) GiftCardQR(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}

	code := chi.URLParam(r, "code")
	qrImage, err := h.cards.QRCode(r.Context(), orgID, code)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"code":    code,
		"qrImage": qrImage,
	})
}
