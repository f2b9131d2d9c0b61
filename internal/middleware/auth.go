package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ledgerdesk/backend/internal/auth"
	"github.com/ledgerdesk/backend/internal/models"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFrom returns the authenticated principal attached by
// Authenticator. The second return is false on unauthenticated requests.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

// WithPrincipal attaches a principal to the context. Exposed for handler
// tests that bypass the middleware chain.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Authenticator verifies the bearer token, re-loads the account so state
// changes after issuance (deactivation, deletion) take effect immediately,
// and attaches the principal to the request context.
func Authenticator(db *sql.DB, tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.Verify(parts[1])
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					writeError(w, "Token expired", http.StatusUnauthorized)
				} else {
					writeError(w, "Invalid token", http.StatusUnauthorized)
				}
				return
			}

			var p models.Principal
			err = db.QueryRow(
				`SELECT id, name, email, role, active FROM users WHERE id = $1`,
				claims.UserID,
			).Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Active)
			if err != nil {
				if err == sql.ErrNoRows {
					writeError(w, "Account no longer exists", http.StatusUnauthorized)
				} else {
					log.Printf("[AUTH] Failed to load account %s: %v", claims.UserID, err)
					writeError(w, "An internal error occurred", http.StatusInternalServerError)
				}
				return
			}

			if !p.Active {
				writeError(w, "Account deactivated", http.StatusForbidden)
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects principals whose role is not in the permitted set.
// Passing the full taxonomy expresses "any authenticated account" while
// still rejecting roles outside it.
func RequireRoles(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !p.Role.Valid() || !allowed[p.Role] {
				writeError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError emits the uniform response envelope without pulling handler
// helpers into the middleware package.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{false, message})
}
