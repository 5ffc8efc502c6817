package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mW "github.com/studiobook/backend/internal/middleware"
	"github.com/studiobook/backend/internal/services"
)

const maxBodyBytes = 1_048_576

// identity reads the caller's organization and user, answering 401 itself
// when there is none.
func identity(w http.ResponseWriter, r *http.Request) (orgID, actor string, ok bool) {
	orgID, ok = mW.OrgIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", "", false
	}
	return orgID, mW.ActorFromContext(r.Context()), true
}

// decodeJSON reads exactly one JSON object into dst and validates it. On
// failure the response is already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// pathID reads a UUID path parameter. A malformed id cannot name a stored
// record, so it is answered with notFound.
func pathID(w http.ResponseWriter, r *http.Request, name string, notFound error) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		services.SendServiceError(w, notFound)
		return "", false
	}
	return id.String(), true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// timeRange parses optional RFC 3339 "from" and "to" query parameters.
func timeRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	from, to := time.Time{}, now
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	return from, to, nil
}
