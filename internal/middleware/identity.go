package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/auth"
)

type tokenRejectedKey struct{}

// tokenRejected reports whether Identity saw a bearer token it could not
// verify.
func tokenRejected(r *http.Request) bool {
	v, _ := r.Context().Value(tokenRejectedKey{}).(bool)
	return v
}

var invalidToken = ErrorResponse{
	Error:   "Unauthorized",
	Message: "Invalid or expired token",
	Code:    "INVALID_TOKEN",
}

// Identity attaches the bearer token's identity to the request context.
// Requests without a token stay anonymous. A request with an invalid token
// also continues anonymously but is marked, so the firewall still records
// and rate-limits it before answering 401.
func Identity(jwtManager *auth.JWTManager, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			id, err := jwtManager.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				log.Debug("rejected bearer token", zap.Error(err))
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenRejectedKey{}, true)))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireUser rejects anonymous requests and, when types is not empty,
// identities of any other user type.
func RequireUser(types ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			if id == nil && tokenRejected(r) {
				writeJSON(w, http.StatusUnauthorized, invalidToken)
				return
			}
			if id == nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error:   "Unauthorized",
					Message: "Authentication required",
					Code:    "UNAUTHENTICATED",
				})
				return
			}
			if len(types) > 0 && !slices.Contains(types, id.UserType) {
				writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error:   "Forbidden",
					Message: "Insufficient role",
					Code:    "ROLE_REQUIRED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
