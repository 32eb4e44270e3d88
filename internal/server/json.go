package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/simple5k/internal/tracker"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDomainError maps tracker errors to a status code. Anything it does
// not recognise is logged and reported as an internal error.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrConflict),
		errors.Is(err, tracker.ErrTagInUse),
		errors.Is(err, tracker.ErrAnotherRaceInProgress),
		errors.Is(err, tracker.ErrRaceNotStarted),
		errors.Is(err, tracker.ErrSignupClosed),
		errors.Is(err, tracker.ErrRaceFull):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tracker.ErrMissingField),
		errors.Is(err, tracker.ErrInvalidGender),
		errors.Is(err, tracker.ErrInvalidAgeBracket),
		errors.Is(err, tracker.ErrInvalidShirtSize),
		errors.Is(err, tracker.ErrFieldTooLong),
		errors.Is(err, tracker.ErrInvalidTimestamp),
		errors.Is(err, tracker.ErrInvalidTag),
		errors.Is(err, tracker.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// idParam parses a positive integer route parameter, writing a 400 when
// it is malformed.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
