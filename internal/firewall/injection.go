package firewall

import (
	"context"
	"net/http"
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/raakeshmj/campusguard/internal/config"
)

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s\S]*?\bselect\b`),
	regexp.MustCompile(`(?i)\b(select\s+[\w*,\s()]+?\s+from|insert\s+into|update\s+\w+\s+set|delete\s+from|drop\s+(table|database)|truncate\s+table|alter\s+table)\b`),
	regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"\w]+\s*=\s*['"\w]+`),
	regexp.MustCompile(`(?i)['"]\s*;\s*(drop|delete|update|insert|shutdown|exec)\b`),
	regexp.MustCompile(`['"]\s*(--|#)`),
	regexp.MustCompile(`/\*[\s\S]*?\*/`),
}

var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script[\s>/]`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)<[^>]+\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet|meta|base)\b`),
	regexp.MustCompile(`(?i)expression\s*\(`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
}

var dbInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)information_schema`),
	regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep|waitfor\s+delay)\s*\(`),
	regexp.MustCompile(`(?i)\bpg_sleep\b`),
	regexp.MustCompile(`(?i)\bxp_cmdshell\b`),
	regexp.MustCompile(`(?i)\bload_file\s*\(`),
	regexp.MustCompile(`(?i)\binto\s+(out|dump)file\b`),
	regexp.MustCompile(`\$(where|ne|gt|gte|lt|lte|regex|expr|function|or|and|nin)\b`),
}

// patternLayer denies when any input value (and optionally key) matches
// one of its patterns.
type patternLayer struct {
	kind     Kind
	patterns []*regexp.Regexp
	keys     bool
	message  string
	status   int
}

func (l *patternLayer) Kind() Kind { return l.kind }

func (l *patternLayer) Check(_ context.Context, req *Request) (Verdict, error) {
	for _, in := range req.Inputs() {
		if matchAny(l.patterns, in.Value) || (l.keys && matchAny(l.patterns, in.Key)) {
			return Deny(l.status, l.message), nil
		}
	}
	return Allow(), nil
}

func newSQLInjectionFilter(config.FirewallConfig, Deps) (Layer, error) {
	return &patternLayer{
		kind:     KindSQLInjection,
		patterns: sqlInjectionPatterns,
		message:  "Potential SQL injection detected",
		status:   http.StatusForbidden,
	}, nil
}

func newXSSFilter(config.FirewallConfig, Deps) (Layer, error) {
	return &patternLayer{
		kind:     KindXSSFilter,
		patterns: xssPatterns,
		message:  "Potential XSS attack detected",
		status:   http.StatusForbidden,
	}, nil
}

func newDBInjectionFilter(config.FirewallConfig, Deps) (Layer, error) {
	return &patternLayer{
		kind:     KindDBInjection,
		patterns: dbInjectionPatterns,
		keys:     true,
		message:  "Potential database injection detected",
		status:   http.StatusForbidden,
	}, nil
}

type inputSanitizer struct {
	maxLen int
}

func newInputSanitizer(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	return &inputSanitizer{maxLen: cfg.Input.MaxFieldLength}, nil
}

func (l *inputSanitizer) Kind() Kind { return KindInputSanitization }

func (l *inputSanitizer) Check(_ context.Context, req *Request) (Verdict, error) {
	for _, in := range req.Inputs() {
		if utf8.RuneCountInString(in.Value) > l.maxLen {
			return Deny(http.StatusBadRequest, "Input exceeds maximum length"), nil
		}
		if hasControl(in.Key) || hasControl(in.Value) {
			return Deny(http.StatusBadRequest, "Invalid characters in input"), nil
		}
	}
	return Allow(), nil
}

// hasControl reports NUL and control characters other than tab, CR and LF.
func hasControl(s string) bool {
	for _, r := range s {
		switch r {
		case '\t', '\n', '\r':
			continue
		}
		if r == utf8.RuneError || unicode.IsControl(r) {
			return true
		}
	}
	return false
}
