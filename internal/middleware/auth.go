package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/scoutly/scoutly/internal/auth"
)

// AuthorizationHeader is the HTTP header carrying the bearer token.
const AuthorizationHeader = "Authorization"

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), "auth_failed"))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, `{"error":{"code":"auth_failed","message":"`+message+`"}}`)
}

// RequireAuth validates the bearer token and stores the authenticated person
// id in the request context. Requests without a valid access token get 401.
func RequireAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(AuthorizationHeader)
			if header == "" {
				writeAuthError(w, r, "Authorization header is required")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeAuthError(w, r, "Authorization header must be a bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				writeAuthError(w, r, "Invalid or expired token")
				return
			}
			if claims.Type != auth.TokenTypeAccess {
				writeAuthError(w, r, "Access token required")
				return
			}

			ctx := SetPersonID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
