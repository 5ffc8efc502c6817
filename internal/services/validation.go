package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/models"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// errorStatuses maps domain errors to HTTP statuses, first match wins.
var errorStatuses = []struct {
	err    error
	status int
}{
	{models.ErrInsufficientCredits, http.StatusUnprocessableEntity},
	{models.ErrInsufficientGiftCardBalance, http.StatusUnprocessableEntity},
	{models.ErrInsufficientWalletBalance, http.StatusUnprocessableEntity},
	{models.ErrInactiveGiftCard, http.StatusUnprocessableEntity},
	{models.ErrRuleUsageExceeded, http.StatusUnprocessableEntity},
	{models.ErrRefundExceedsRedeemed, http.StatusUnprocessableEntity},
	{models.ErrGiftCardNotExpired, http.StatusUnprocessableEntity},
	{models.ErrNegativeBalance, http.StatusUnprocessableEntity},
	{models.ErrConcurrentModification, http.StatusConflict},
	{models.ErrDrawerAlreadyOpen, http.StatusConflict},
	{models.ErrSessionClosed, http.StatusConflict},
	{models.ErrSessionPendingCount, http.StatusConflict},
	{models.ErrSessionNotPendingCount, http.StatusConflict},
	{models.ErrCouponExists, http.StatusConflict},
	{models.ErrDiscountMismatch, http.StatusConflict},
	{models.ErrTargetAlreadyMatched, http.StatusConflict},
	{models.ErrWalletNotFound, http.StatusNotFound},
	{models.ErrGiftCardNotFound, http.StatusNotFound},
	{models.ErrSessionNotFound, http.StatusNotFound},
	{models.ErrRuleNotFound, http.StatusNotFound},
	{models.ErrCouponNotFound, http.StatusNotFound},
	{models.ErrStatementLineNotFound, http.StatusNotFound},
	{models.ErrMatchTargetNotFound, http.StatusNotFound},
	{models.ErrRateLimited, http.StatusTooManyRequests},
	{models.ErrInvalidAmount, http.StatusBadRequest},
	{models.ErrInvalidDenomination, http.StatusBadRequest},
	{models.ErrInvalidPriceRule, http.StatusBadRequest},
	{models.ErrUnknownRuleKind, http.StatusBadRequest},
	{models.ErrInvalidExpiry, http.StatusBadRequest},
	{models.ErrCurrencyMismatch, http.StatusBadRequest},
	{models.ErrUnsupportedStatementFormat, http.StatusBadRequest},
}

// StatusFor returns the HTTP status for a service error. Unknown errors are
// internal.
func StatusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	if database.IsInvalidInput(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// SendServiceError writes err with its mapped status. Internal errors are
// not echoed to the client.
func SendServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		message = "Internal server error"
	case database.IsInvalidInput(err):
		message = "Malformed value in request"
	}
	SendErrorResponse(w, message, status, nil)
}
