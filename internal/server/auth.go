package server

import (
	"errors"
	"net/http"
	"strings"
)

var errNoAPIKey = errors.New("api key required")

// apiKeyFromRequest reads the key from X-API-Key, falling back to a Bearer
// token.
func apiKeyFromRequest(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token = strings.TrimSpace(token); !found || token == "" {
		return "", errNoAPIKey
	}
	return token, nil
}
