package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/consent"
	"github.com/raakeshmj/campusguard/internal/firewall"
)

// Consent guards routes that read a dependent's data. dependentID extracts
// the dependent from the request. Staff and admins bypass the gate.
func Consent(gate *consent.Gate, dependentID func(*http.Request) string, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			switch {
			case id == nil:
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error:   "Unauthorized",
					Message: "Authentication required",
					Code:    "UNAUTHENTICATED",
				})
				return
			case id.IsPrivileged():
				next.ServeHTTP(w, r)
				return
			case id.UserType != auth.UserTypeParent:
				writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error:   "Forbidden",
					Message: "Only guardians may access dependent records",
					Code:    "CONSENT_DENIED",
				})
				return
			}

			d, err := gate.Authorize(r.Context(), consent.Request{
				GuardianID:  id.UserID,
				DependentID: dependentID(r),
				IP:          firewall.ClientIP(r),
				UserAgent:   r.UserAgent(),
			})
			if err != nil {
				log.Error("consent check failed", zap.String("guardian_id", id.UserID), zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
					Error:   "Service Unavailable",
					Message: "Consent could not be verified",
					Code:    "CONSENT_UNAVAILABLE",
				})
				return
			}
			if !d.Allowed {
				writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error:   "Forbidden",
					Message: "Guardian consent required",
					Code:    "CONSENT_DENIED",
					Reason:  d.Reason,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
