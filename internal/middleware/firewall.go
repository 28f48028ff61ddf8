package middleware

import (
	"bytes"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/firewall"
)

// decoratingWriter applies the firewall's response decorators once, right
// before the status line is sent.
type decoratingWriter struct {
	http.ResponseWriter
	req        *firewall.Request
	decorators []firewall.ResponseDecorator
	done       bool
}

func (d *decoratingWriter) apply() {
	if d.done {
		return
	}
	d.done = true
	h := d.ResponseWriter.Header()
	for _, dec := range d.decorators {
		dec.Decorate(d.req, h)
	}
}

func (d *decoratingWriter) WriteHeader(code int) {
	d.apply()
	d.ResponseWriter.WriteHeader(code)
}

func (d *decoratingWriter) Write(p []byte) (int, error) {
	d.apply()
	return d.ResponseWriter.Write(p)
}

// Firewall gates every request through the pipeline. The body is buffered
// up to the configured limit plus one byte so oversize bodies are still
// detected, then handed back to downstream handlers intact. The client
// address is resolved once against the trusted proxy list and stored on
// the context for later handlers. Requests Identity marked as carrying an
// invalid token are answered 401 only after the pipeline allowed them.
func Firewall(p *firewall.Pipeline, cfg *config.Manager, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil && r.Body != http.NoBody {
				limit := cfg.Current().Firewall.Request.MaxBodyBytes + 1
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, limit))
				if err != nil {
					log.Warn("failed to read request body", zap.Error(err))
					writeJSON(w, http.StatusBadRequest, ErrorResponse{
						Error:   "Bad Request",
						Message: "Unable to read request body",
						Code:    "BODY_UNREADABLE",
					})
					return
				}
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			}

			r = r.WithContext(firewall.WithClientIP(r.Context(), p.ClientIP(r)))
			req := firewall.NewRequest(r, body)
			decision, decorators := p.Evaluate(r.Context(), req)
			if !decision.Allowed {
				writeJSON(w, decision.StatusCode, ErrorResponse{
					Error:   "Forbidden",
					Message: decision.Reason,
					Code:    "FIREWALL_BLOCKED",
				})
				return
			}
			var out http.ResponseWriter = w
			if len(decorators) > 0 {
				out = &decoratingWriter{ResponseWriter: w, req: req, decorators: decorators}
			}
			if tokenRejected(r) {
				writeJSON(out, http.StatusUnauthorized, invalidToken)
				return
			}
			next.ServeHTTP(out, r)
		})
	}
}
