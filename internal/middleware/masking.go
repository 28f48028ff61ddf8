package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/masking"
)

type MaskMode int

const (
	MaskStudent MaskMode = iota
	MaskParent
)

// Masking redacts sensitive fields of JSON responses for the caller.
func Masking(engine *masking.Engine, mode MaskMode, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewer := auth.FromContext(r.Context())
			err := rewriteJSON(w, r, next, func(v interface{}) error {
				switch mode {
				case MaskParent:
					engine.ProtectParentData(v, viewer)
				default:
					engine.ProtectStudentData(v, viewer)
				}
				return nil
			})
			if err != nil {
				log.Error("response masking failed", zap.String("path", r.URL.Path), zap.Error(err))
			}
		})
	}
}
