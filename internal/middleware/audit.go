package middleware

import (
	"net/http"
	"time"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/firewall"
)

// ActivityAudit writes one activity entry per request that passed the
// firewall.
func ActivityAudit(rec *audit.Recorder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newInterceptor(w)

			next.ServeHTTP(rw, r)

			actorID := "anonymous"
			tenantID := ""
			if id := auth.FromContext(r.Context()); id != nil {
				actorID = id.UserID
				tenantID = id.TenantID
			}

			rec.Activity(r.Context(), audit.Entry{
				Timestamp:  start.UTC(),
				TenantID:   tenantID,
				ActorID:    actorID,
				Action:     r.Method + " " + r.URL.Path,
				TargetType: "route",
				TargetID:   r.URL.Path,
				IP:         firewall.ClientIP(r),
				UserAgent:  r.UserAgent(),
				Metadata: map[string]interface{}{
					"status":      rw.statusCode,
					"duration_ms": time.Since(start).Milliseconds(),
				},
			})
		})
	}
}
