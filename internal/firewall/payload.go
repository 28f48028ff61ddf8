package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raakeshmj/campusguard/internal/config"
)

type requestValidator struct {
	methods []string
	maxURL  int
	maxBody int64
}

func newRequestValidator(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	methods := make([]string, 0, len(cfg.Request.AllowedMethods))
	for _, m := range cfg.Request.AllowedMethods {
		methods = append(methods, strings.ToUpper(m))
	}
	return &requestValidator{methods: methods, maxURL: cfg.Request.MaxURLLength, maxBody: cfg.Request.MaxBodyBytes}, nil
}

func (l *requestValidator) Kind() Kind { return KindRequestValidation }

func (l *requestValidator) Check(_ context.Context, req *Request) (Verdict, error) {
	switch {
	case !slices.Contains(l.methods, req.Method):
		return Deny(http.StatusMethodNotAllowed, "Method not allowed"), nil
	case len(req.URI) > l.maxURL:
		return Deny(http.StatusRequestURITooLong, "Request URI too long"), nil
	case req.BodySize > l.maxBody:
		return Deny(http.StatusRequestEntityTooLarge, "Request body too large"), nil
	case strings.Contains(req.Path, "\x00"), strings.Contains(strings.ToLower(req.URI), "%00"):
		return Deny(http.StatusBadRequest, "Null byte in request path"), nil
	case strings.Contains(req.Path, "../"), strings.Contains(req.Path, `..\`):
		return Deny(http.StatusBadRequest, "Path traversal detected"), nil
	}
	return Allow(), nil
}

type fileUploadGuard struct {
	denied  []string
	allowed []string
	maxSize int64
}

func newFileUploadGuard(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	denied := make([]string, 0, len(cfg.Upload.DeniedExtensions))
	for _, e := range cfg.Upload.DeniedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		denied = append(denied, e)
	}
	return &fileUploadGuard{denied: denied, allowed: cfg.Upload.AllowedContentTypes, maxSize: cfg.Upload.MaxFileBytes}, nil
}

func (l *fileUploadGuard) Kind() Kind { return KindFileUpload }

func (l *fileUploadGuard) Check(_ context.Context, req *Request) (Verdict, error) {
	if req.ContentType != "multipart/form-data" || len(req.Body) == 0 {
		return Allow(), nil
	}
	_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return Deny(http.StatusBadRequest, "Malformed multipart request"), nil
	}

	mr := multipart.NewReader(bytes.NewReader(req.Body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return Allow(), nil
		}
		if err != nil {
			return Verdict{}, fmt.Errorf("read multipart: %w", err)
		}
		name := part.FileName()
		if name == "" {
			part.Close()
			continue
		}
		v, err := l.checkPart(name, part)
		part.Close()
		if err != nil || !v.Allowed {
			return v, err
		}
	}
}

func (l *fileUploadGuard) checkPart(name string, part *multipart.Part) (Verdict, error) {
	// "shell.php.jpg" is rejected as well as "shell.php".
	base := strings.ToLower(filepath.Base(name))
	segments := strings.Split(base, ".")
	for _, seg := range segments[1:] {
		if slices.Contains(l.denied, "."+seg) {
			return Deny(http.StatusForbidden, "File type not allowed"), nil
		}
	}

	ct, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
	if len(l.allowed) > 0 && !slices.Contains(l.allowed, ct) {
		return Deny(http.StatusUnsupportedMediaType, "File content type not allowed"), nil
	}

	n, err := io.Copy(io.Discard, io.LimitReader(part, l.maxSize+1))
	if err != nil {
		return Verdict{}, fmt.Errorf("read upload %q: %w", name, err)
	}
	if n > l.maxSize {
		return Deny(http.StatusRequestEntityTooLarge, "Uploaded file too large"), nil
	}
	return Allow(), nil
}

type outputEncoding struct{}

func newOutputEncoding(config.FirewallConfig, Deps) (Layer, error) {
	return outputEncoding{}, nil
}

func (outputEncoding) Kind() Kind { return KindOutputEncoding }

// Check rejects clients that refuse UTF-8 responses.
func (outputEncoding) Check(_ context.Context, req *Request) (Verdict, error) {
	ac := strings.ToLower(req.Header.Get("Accept-Charset"))
	if ac == "" || strings.Contains(ac, "utf-8") || strings.Contains(ac, "*") {
		return Allow(), nil
	}
	return Deny(http.StatusNotAcceptable, "UTF-8 responses only"), nil
}

func (outputEncoding) Decorate(_ *Request, h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	ct := h.Get("Content-Type")
	if ct == "" || strings.Contains(strings.ToLower(ct), "charset=") {
		return
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return
	}
	if strings.HasPrefix(mt, "text/") || mt == "application/json" || strings.HasSuffix(mt, "+json") {
		h.Set("Content-Type", ct+"; charset=utf-8")
	}
}
