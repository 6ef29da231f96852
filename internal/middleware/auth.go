package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go-session-client/internal/model"
	"go-session-client/pkg/apierror"
)

type tokenValidator interface {
	ValidateToken(tokenString string) (*model.AuthClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			writeAPIError(w, apierror.New(apierror.CodeUnauthorized, "missing or invalid authorization header", "", http.StatusUnauthorized))
			return
		}

		token := strings.TrimSpace(header[7:])
		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			var apiErr *apierror.APIError
			if errors.As(err, &apiErr) && apiErr.Code == apierror.CodeAccountDeactivated {
				writeAPIError(w, apiErr)
				return
			}
			writeAPIError(w, apierror.New(apierror.CodeUnauthorized, "invalid or expired token", "", http.StatusUnauthorized))
			return
		}

		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	roleSet := map[string]struct{}{}
	for _, role := range allowedRoles {
		roleSet[strings.ToUpper(strings.TrimSpace(role))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAPIError(w, apierror.New(apierror.CodeUnauthorized, "authentication required", "", http.StatusUnauthorized))
				return
			}

			for _, role := range claims.Roles {
				if _, allowed := roleSet[strings.ToUpper(role)]; allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeAPIError(w, apierror.New(apierror.CodeForbidden, "insufficient permissions", "", http.StatusForbidden))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok
}
