package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/studiobook/backend/internal/models"
	"github.com/studiobook/backend/internal/services"
)

const maxStatementBytes = 20 << 20

type ReconciliationHandler struct {
	service   *services.ReconciliationService
	review    *services.ReviewQueue
	validator *services.ValidationHelper
}

func NewReconciliationHandler(service *services.ReconciliationService, review *services.ReviewQueue) *ReconciliationHandler {
	return &ReconciliationHandler{
		service:   service,
		review:    review,
		validator: services.NewValidationHelper(),
	}
}

func (h *ReconciliationHandler) Routes(r chi.Router) {
	r.Post("/reconciliation/import", h.Import)
	r.Post("/reconciliation/match", h.Match)
	r.Get("/reconciliation/lines/{id}", h.Result)
	r.Post("/reconciliation/lines/{id}/link", h.Link)
	r.Get("/reconciliation/lines/{id}/status-report", h.StatusReport)
	r.Get("/review-queue", h.ReviewQueue)
}

// statementFormat picks the format from the query string, falling back to
// the content type.
func statementFormat(r *http.Request, contentType string) (services.StatementFormat, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return services.ParseStatementFormat(f)
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/csv":
		return services.FormatCSV, nil
	case "application/xml", "text/xml":
		return services.FormatCAMT053, nil
	}
	return "", models.ErrUnsupportedStatementFormat
}

// Import stores the lines of a bank statement file
// @Summary Import bank statement
// @Description Accepts camt.053 XML or CSV, either as the raw body or as the "file" field of a multipart form. Lines already imported are skipped.
// @Tags reconciliation
// @Accept xml,text/csv,multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param format query string false "camt053 or csv"
// @Success 201 {object} models.ImportResult
// @Failure 400 {object} services.ErrorResponse
// @Router /reconciliation/import [post]
func (h *ReconciliationHandler) Import(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxStatementBytes)

	var body io.Reader = r.Body
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			services.SendErrorResponse(w, "Missing statement file", http.StatusBadRequest, nil)
			return
		}
		defer file.Close()
		body = file
		contentType = header.Header.Get("Content-Type")
	}

	format, err := statementFormat(r, contentType)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	result, err := h.service.Import(r.Context(), orgID, format, body)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Match scores the organization's open statement lines against payouts and invoices
// @Summary Run reconciliation
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.RunResult
// @Router /reconciliation/match [post]
func (h *ReconciliationHandler) Match(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	result, err := h.service.Run(r.Context(), orgID, time.Now())
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// @Summary Statement line match result
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Param id path string true "Statement line ID"
// @Success 200 {object} models.MatchResult
// @Failure 404 {object} services.ErrorResponse
// @Router /reconciliation/lines/{id} [get]
func (h *ReconciliationHandler) Result(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "id", models.ErrStatementLineNotFound)
	if !ok {
		return
	}
	result, err := h.service.Result(r.Context(), orgID, lineID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	if result == nil {
		services.SendErrorResponse(w, "Statement line has not been matched yet", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Link confirms a statement line against a payout or invoice by hand
// @Summary Link statement line
// @Tags reconciliation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Statement line ID"
// @Param request body models.LinkStatementLineRequest true "Target"
// @Success 200 {object} models.MatchResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Target already matched"
// @Router /reconciliation/lines/{id}/link [post]
func (h *ReconciliationHandler) Link(w http.ResponseWriter, r *http.Request) {
	orgID, actor, ok := identity(w, r)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "id", models.ErrStatementLineNotFound)
	if !ok {
		return
	}
	var req models.LinkStatementLineRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.Link(r.Context(), orgID, lineID, req.TargetType, req.TargetID, actor)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StatusReport returns a pacs.002 payment status report for a statement line
// @Summary Payment status report
// @Tags reconciliation
// @Produce xml
// @Security BearerAuth
// @Param id path string true "Statement line ID"
// @Success 200 {string} string "pacs.002 document"
// @Failure 404 {object} services.ErrorResponse
// @Router /reconciliation/lines/{id}/status-report [get]
func (h *ReconciliationHandler) StatusReport(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "id", models.ErrStatementLineNotFound)
	if !ok {
		return
	}
	doc, err := h.service.StatusReport(r.Context(), orgID, lineID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, doc)
}

// ReviewQueue lists items waiting for a person to resolve them
// @Summary Review queue
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum items" default(100)
// @Success 200 {array} models.ReviewItem
// @Router /review-queue [get]
func (h *ReconciliationHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := identity(w, r)
	if !ok {
		return
	}
	var limit int64
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	items, err := h.review.List(r.Context(), orgID, limit)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
