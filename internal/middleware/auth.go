package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/audit"
	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/httputil"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/util"
)

// APIKeyMiddleware protects the control surface with a single operator key.
// Only the sha256 of the key is configured.
type APIKeyMiddleware struct {
	keyHash string
}

func NewAPIKeyMiddleware(keyHash string) *APIKeyMiddleware {
	if keyHash == "" {
		log.Warn().Msg("API_KEY_HASH is empty: control surface is unauthenticated")
	}
	return &APIKeyMiddleware{keyHash: strings.ToLower(keyHash)}
}

func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.keyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing API key"))
			return
		}

		if !util.ConstantTimeEqual(util.HashToken(token), m.keyHash) {
			log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("auth middleware: invalid api key attempt")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]any{"path": r.URL.Path},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken reads the key from X-API-Key, a bearer header, or the token
// query parameter (EventSource cannot set headers).
func extractToken(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
