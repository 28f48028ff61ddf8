package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/fieldcrypt"
)

func cryptoContext(r *http.Request) fieldcrypt.Context {
	c := fieldcrypt.Context{}
	if id := auth.FromContext(r.Context()); id != nil {
		c.TenantID = id.TenantID
	}
	return c
}

func hasJSONBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return isJSON(r.Header.Get("Content-Type"))
	}
	return false
}

// FieldCrypto decrypts protected fields of inbound JSON bodies and
// encrypts them in outbound JSON responses. A field that fails to decrypt
// rejects the request.
func FieldCrypto(engine *fieldcrypt.Engine, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cc := cryptoContext(r)

			if hasJSONBody(r) && r.Body != nil {
				raw, err := io.ReadAll(r.Body)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, decryptFailure())
					return
				}
				var v interface{}
				if len(raw) > 0 && json.Unmarshal(raw, &v) == nil {
					if err := engine.DecryptPayload(v, cc); err != nil {
						log.Warn("inbound field decryption failed",
							zap.String("path", r.URL.Path),
							zap.String("tenant", cc.TenantID),
							zap.Error(err))
						writeJSON(w, http.StatusBadRequest, decryptFailure())
						return
					}
					if raw, err = json.Marshal(v); err != nil {
						writeJSON(w, http.StatusBadRequest, decryptFailure())
						return
					}
				}
				r.Body = io.NopCloser(bytes.NewReader(raw))
				r.ContentLength = int64(len(raw))
				r.Header.Set("Content-Length", strconv.Itoa(len(raw)))
			}

			err := rewriteJSON(w, r, next, func(v interface{}) error {
				return engine.EncryptPayload(v, cc)
			})
			if err != nil {
				log.Error("outbound field encryption failed", zap.String("path", r.URL.Path), zap.Error(err))
				w.Header().Del("Content-Length")
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error:   "Internal Server Error",
					Message: "Unable to protect response payload",
					Code:    "ENCRYPTION_FAILED",
				})
			}
		})
	}
}

func decryptFailure() ErrorResponse {
	f := false
	return ErrorResponse{
		Success: &f,
		Message: "Invalid encrypted payload",
		Code:    "DECRYPTION_FAILED",
	}
}
