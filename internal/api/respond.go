package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/expr"
	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/search"
)

const (
	defaultP = 0.5
	// maxBodyBytes caps every JSON request body.
	maxBodyBytes = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps engine errors to status codes. Unknown errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		inErr     *scoring.InputError
		exprErr   *expr.Error
		refErr    *search.ReferenceError
		exhausted *search.SearchExhaustedError
	)
	switch {
	case errors.As(err, &inErr), errors.As(err, &exprErr), errors.As(err, &refErr):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     err.Error(),
			"ratio_min": exhausted.Min,
			"ratio_max": exhausted.Max,
			"step":      exhausted.Step,
		})
	default:
		logger.Error("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func urlID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// pOrDefault treats an omitted p as 0.5.
func pOrDefault(p *float64) float64 {
	if p == nil {
		return defaultP
	}
	return *p
}
