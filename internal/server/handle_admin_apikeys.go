package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/simple5k/internal/store"
)

// APIKeyRequest names a new timing client key.
type APIKeyRequest struct {
	Name string `json:"name"`
}

// APIKeyResponse describes a key. Key is only set in the response that
// created it.
type APIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Masked    string    `json:"masked"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	Key       string    `json:"key,omitempty"`
}

func apiKeyResponse(k store.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		Masked:    k.Masked(),
		Active:    k.Active,
		CreatedAt: k.CreatedAt,
	}
}

func handleAdminListAPIKeys(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := st.ListAPIKeys(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAdminCreateAPIKey(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req APIKeyRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		k, plain, err := st.CreateAPIKey(r.Context(), req.Name)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		logger.InfoContext(r.Context(), "api key created",
			"key_id", k.ID, "name", k.Name, "admin", adminFrom(r).Email)

		resp := apiKeyResponse(k)
		resp.Key = plain
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleAdminDeactivateAPIKey(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "keyID")
		if err := st.DeactivateAPIKey(r.Context(), id); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		logger.InfoContext(r.Context(), "api key deactivated", "key_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}
