package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sloppyjobs/jobulator/auth"
	"github.com/sloppyjobs/jobulator/pipeline"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// respondError maps the error taxonomy onto status codes.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrForbidden), errors.Is(err, auth.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrUnavailable), errors.Is(err, auth.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return pipeline.ErrValidation
	}
	return nil
}
