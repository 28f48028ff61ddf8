package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/raakeshmj/campusguard/internal/config"
)

// Rule is the rate limit that applies to a matched route.
type Rule struct {
	Pattern     string
	MaxAttempts int64
	Window      time.Duration
	Burst       int
}

type compiledRule struct {
	rule Rule
	g    glob.Glob
}

// Engine resolves a request path to its rate limit rule.
// Conflict Resolution: First Match Wins (configuration order).
type Engine struct {
	rules []compiledRule
	def   Rule
}

func NewEngine(cfg config.RateLimitConfig) (*Engine, error) {
	e := &Engine{def: toRule(cfg.Default)}
	if e.def.Pattern == "" {
		e.def.Pattern = "*"
	}
	for _, r := range cfg.Routes {
		if r.MaxAttempts <= 0 {
			continue
		}
		g, err := compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rate limit pattern %q: %w", r.Pattern, err)
		}
		e.rules = append(e.rules, compiledRule{rule: toRule(r), g: g})
	}
	return e, nil
}

// Resolve returns the first matching rule, or the default rule.
func (e *Engine) Resolve(path string) Rule {
	p := normalize(path)
	for _, r := range e.rules {
		if r.g.Match(p) {
			return r.rule
		}
	}
	return e.def
}

func toRule(r config.RateLimitRule) Rule {
	decay := r.DecayMinutes
	if decay <= 0 {
		decay = 1
	}
	return Rule{
		Pattern:     r.Pattern,
		MaxAttempts: int64(r.MaxAttempts),
		Window:      time.Duration(decay) * time.Minute,
		Burst:       r.Burst,
	}
}

// Matcher reports whether a path matches any of a list of globs.
type Matcher struct {
	globs []glob.Glob
}

func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		g, err := compile(p)
		if err != nil {
			return nil, fmt.Errorf("path pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}
	p := normalize(path)
	for _, g := range m.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// Patterns are written with or without a leading slash ("api/*" and
// "/api/*" are the same); '*' spans path segments.
func compile(pattern string) (glob.Glob, error) {
	return glob.Compile(normalize(pattern))
}

func normalize(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
