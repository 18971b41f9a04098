package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmendozar/citadesk/libs/auth"
	"github.com/jmendozar/citadesk/libs/httpx"
)

type ctxKey int

const clientIDKey ctxKey = 1

// ClientIDFromContext returns the authenticated citizen account, or "".
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// WithClientAuth verifies the bearer token issued by the identity service and
// stores the client id in the request context.
func WithClientAuth(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(raw, secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			clientID := claims.ClientID
			if clientID == "" {
				clientID = claims.Sub
			}
			if clientID == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
