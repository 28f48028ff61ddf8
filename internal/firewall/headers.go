package firewall

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/raakeshmj/campusguard/internal/config"
)

type corsPolicy struct {
	origins     []string
	methods     string
	headers     string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	return &corsPolicy{
		origins:     cfg.CORS.AllowedOrigins,
		methods:     strings.Join(cfg.CORS.AllowedMethods, ", "),
		headers:     strings.Join(cfg.CORS.AllowedHeaders, ", "),
		credentials: cfg.CORS.AllowCredentials,
		maxAge:      strconv.Itoa(cfg.CORS.MaxAgeSeconds),
	}, nil
}

func (l *corsPolicy) Kind() Kind { return KindCORS }

func (l *corsPolicy) allowed(origin string) bool {
	return slices.Contains(l.origins, "*") || slices.Contains(l.origins, origin)
}

// Check only rejects preflights. Simple cross-origin requests pass and the
// browser withholds the response when no CORS headers come back.
func (l *corsPolicy) Check(_ context.Context, req *Request) (Verdict, error) {
	origin := req.Header.Get("Origin")
	if origin == "" || l.allowed(origin) {
		return Allow(), nil
	}
	if req.Method == http.MethodOptions {
		return Deny(http.StatusForbidden, "Origin not allowed"), nil
	}
	return Allow(), nil
}

func (l *corsPolicy) Decorate(req *Request, h http.Header) {
	origin := req.Header.Get("Origin")
	if origin == "" || !l.allowed(origin) {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	if l.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if req.Method == http.MethodOptions {
		h.Set("Access-Control-Allow-Methods", l.methods)
		h.Set("Access-Control-Allow-Headers", l.headers)
		h.Set("Access-Control-Max-Age", l.maxAge)
	}
}

type httpsEnforcement struct {
	hsts string
}

func newHTTPSEnforcement(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	return &httpsEnforcement{hsts: "max-age=" + strconv.Itoa(cfg.HTTPS.HSTSMaxAgeSeconds) + "; includeSubDomains"}, nil
}

func (l *httpsEnforcement) Kind() Kind { return KindHTTPSEnforcement }

func (l *httpsEnforcement) Check(_ context.Context, req *Request) (Verdict, error) {
	if req.Secure() {
		return Allow(), nil
	}
	return Deny(http.StatusForbidden, "HTTPS required"), nil
}

func (l *httpsEnforcement) Decorate(req *Request, h http.Header) {
	if req.Secure() {
		h.Set("Strict-Transport-Security", l.hsts)
	}
}

type cspHeader struct {
	policy string
}

func newCSPHeader(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	return &cspHeader{policy: cfg.CSP.Policy}, nil
}

func (l *cspHeader) Kind() Kind { return KindCSP }

func (l *cspHeader) Check(context.Context, *Request) (Verdict, error) { return Allow(), nil }

func (l *cspHeader) Decorate(_ *Request, h http.Header) {
	if h.Get("Content-Security-Policy") == "" {
		h.Set("Content-Security-Policy", l.policy)
	}
}

type headerSecurity struct {
	hosts    []string
	maxBytes int
}

func newHeaderSecurity(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	hosts := make([]string, 0, len(cfg.Headers.AllowedHosts))
	for _, h := range cfg.Headers.AllowedHosts {
		hosts = append(hosts, strings.ToLower(h))
	}
	return &headerSecurity{hosts: hosts, maxBytes: cfg.Headers.MaxHeaderBytes}, nil
}

func (l *headerSecurity) Kind() Kind { return KindHeaderSecurity }

func (l *headerSecurity) Check(_ context.Context, req *Request) (Verdict, error) {
	total := 0
	for name, values := range req.Header {
		total += len(name)
		for _, v := range values {
			total += len(v)
			if strings.ContainsAny(v, "\r\n\x00") {
				return Deny(http.StatusBadRequest, "Invalid header value"), nil
			}
		}
	}
	if total > l.maxBytes {
		return Deny(http.StatusRequestHeaderFieldsTooLarge, "Request headers too large"), nil
	}

	if len(l.hosts) > 0 {
		host := req.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !slices.Contains(l.hosts, strings.ToLower(host)) {
			return Deny(http.StatusBadRequest, "Invalid host header"), nil
		}
	}
	return Allow(), nil
}

func (l *headerSecurity) Decorate(_ *Request, h http.Header) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
}

var cookieInjection = regexp.MustCompile(`(?i)[<>\x00]|javascript:|%3c|%3e`)

type cookieSecurity struct {
	maxBytes int
	sameSite string
}

func newCookieSecurity(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	return &cookieSecurity{maxBytes: cfg.Cookies.MaxCookieBytes, sameSite: cfg.Cookies.SameSite}, nil
}

func (l *cookieSecurity) Kind() Kind { return KindCookieSecurity }

func (l *cookieSecurity) Check(_ context.Context, req *Request) (Verdict, error) {
	raw := strings.Join(req.Header.Values("Cookie"), "; ")
	if raw == "" {
		return Allow(), nil
	}
	if len(raw) > l.maxBytes {
		return Deny(http.StatusRequestHeaderFieldsTooLarge, "Cookie header too large"), nil
	}
	if cookieInjection.MatchString(raw) {
		return Deny(http.StatusBadRequest, "Invalid cookie value"), nil
	}
	return Allow(), nil
}

// Decorate adds missing flags to outgoing cookies. The CSRF cookie must
// stay readable by scripts, so it never gets HttpOnly.
func (l *cookieSecurity) Decorate(req *Request, h http.Header) {
	cookies := h.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		lower := strings.ToLower(c)
		if req.Secure() && !strings.Contains(lower, "; secure") {
			c += "; Secure"
		}
		if !strings.HasPrefix(c, CSRFCookie+"=") && !strings.Contains(lower, "; httponly") {
			c += "; HttpOnly"
		}
		if !strings.Contains(lower, "; samesite=") {
			c += "; SameSite=" + l.sameSite
		}
		out = append(out, c)
	}
	h.Del("Set-Cookie")
	for _, c := range out {
		h.Add("Set-Cookie", c)
	}
}
