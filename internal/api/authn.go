package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/remote-lab-core/internal/auth"
)

// authMiddleware guards every route except /health and /metrics.
//
// It is a pass-through while security.jwt.secret is empty. Otherwise it
// wants "Authorization: Bearer <token>", falling back to ?token= for
// browsers opening a WebSocket. The token subject is stored in the context
// for audit entries.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	secret := s.secCfg.JWT.Secret
	if secret == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		claims, err := auth.ParseToken(raw, secret)
		if err != nil {
			s.logger.Debug("token rejected", "path", r.URL.Path, "error", err, "request_id", requestID(r))
			if errors.Is(err, auth.ErrTokenExpired) {
				writeUnauthorized(w, "token expired")
			} else {
				writeUnauthorized(w, "invalid token")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeySubject, claims.Subject)))
	})
}

// bearerToken returns the header token, or ?token= when no Authorization
// header is present. A non-Bearer header yields "".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return r.URL.Query().Get("token")
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// subjectFromContext returns the token subject, or "" when auth is disabled.
func subjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(ctxKeySubject).(string) //nolint:errcheck // absent key yields ""
	return sub
}
