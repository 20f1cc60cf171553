package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/securedocs/internal/common"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// tokenFromRequest prefers the session cookie and falls back to a bearer
// header.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(common.TokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *HTTPServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		userID, err := s.users.Authenticate(token)
		if err != nil {
			s.logger.Warn(r.Context(), "rejected token", "error", err)
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
