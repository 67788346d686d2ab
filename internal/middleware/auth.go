package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/afyalink/afyalink-backend/internal/api/httpx"
	"github.com/afyalink/afyalink-backend/internal/auth"
)

type ctxKey string

const (
	ctxSubjectKey ctxKey = "sub"
	ctxRoleKey    ctxKey = "role"
)

func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxSubjectKey).(string)
	return v, ok
}

func RoleFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRoleKey).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM *auth.TokenManager
}

func NewAuthMiddleware(tm *auth.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{TM: tm}
}

func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])
		claims, err := m.TM.Parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxSubjectKey, claims.Subject)
		ctx = context.WithValue(ctx, ctxRoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route on the role claim. Deny unless listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFrom(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "no role", nil)
				return
			}
			if _, ok := allowed[role]; !ok {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
