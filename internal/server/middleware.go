package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playperu/simple5k/internal/store"
)

type ctxKey int

const (
	ctxKeyAdmin ctxKey = iota
	ctxKeyAPIKey
)

func adminAuthMiddleware(st Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(adminCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			admin, err := st.AdminFromSession(r.Context(), cookie.Value)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyAdmin, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// apiKeyMiddleware admits timing clients holding an active API key.
func apiKeyMiddleware(logger *slog.Logger, st Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain, err := apiKeyFromRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			key, err := st.VerifyAPIKey(r.Context(), plain)
			if errors.Is(err, store.ErrInvalidAPIKey) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			if err != nil {
				writeDomainError(w, r, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyAPIKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func adminFrom(r *http.Request) store.Admin {
	return r.Context().Value(ctxKeyAdmin).(store.Admin)
}

func apiKeyFrom(r *http.Request) store.APIKey {
	key, _ := r.Context().Value(ctxKeyAPIKey).(store.APIKey)
	return key
}
