package firewall

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/limiter"
	"github.com/raakeshmj/campusguard/internal/policy"
)

// parsePrefixes accepts CIDRs and bare addresses.
func parsePrefixes(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("parse cidr %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse ip %q: %w", s, err)
		}
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func containsAddr(prefixes []netip.Prefix, a netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

type ipFilter struct {
	allow    []netip.Prefix
	deny     []netip.Prefix
	throttle *limiter.LoginThrottle
}

func newIPFilter(cfg config.FirewallConfig, deps Deps) (Layer, error) {
	allow, err := parsePrefixes(cfg.IP.Allow)
	if err != nil {
		return nil, err
	}
	deny, err := parsePrefixes(cfg.IP.Deny)
	if err != nil {
		return nil, err
	}
	return &ipFilter{allow: allow, deny: deny, throttle: deps.Throttle}, nil
}

func (l *ipFilter) Kind() Kind { return KindIPFilter }

func (l *ipFilter) Check(ctx context.Context, req *Request) (Verdict, error) {
	addr, err := netip.ParseAddr(req.IP)
	if err != nil {
		if len(l.allow) > 0 {
			return Deny(http.StatusForbidden, "IP address not allowed"), nil
		}
	} else {
		addr = addr.Unmap()
		if containsAddr(l.deny, addr) {
			return Deny(http.StatusForbidden, "IP address blocked"), nil
		}
		if len(l.allow) > 0 && !containsAddr(l.allow, addr) {
			return Deny(http.StatusForbidden, "IP address not allowed"), nil
		}
	}

	if l.throttle == nil {
		return Allow(), nil
	}
	locked, err := l.throttle.IsLockedOut(ctx, req.IP)
	if err != nil {
		return Verdict{}, err
	}
	if locked {
		return Deny(http.StatusForbidden, "Too many failed login attempts"), nil
	}
	return Allow(), nil
}

const (
	noteLimit     = "ratelimit.limit"
	noteRemaining = "ratelimit.remaining"
	noteBurst     = "ratelimit.burst"
	noteReset     = "ratelimit.reset"
)

// rateLimiter counts requests per IP and matched route pattern. Burst is
// reported to clients but not enforced as a separate allowance.
type rateLimiter struct {
	engine *policy.Engine
	store  limiter.Store
	status int
}

func newRateLimiter(cfg config.FirewallConfig, deps Deps) (Layer, error) {
	engine, err := policy.NewEngine(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{engine: engine, store: deps.Store, status: cfg.RateLimit.StatusCode}, nil
}

func (l *rateLimiter) Kind() Kind { return KindRateLimiter }

func rateKey(ip, pattern string) string {
	return "ip:" + ip + ":route:" + pattern
}

func (l *rateLimiter) Check(ctx context.Context, req *Request) (Verdict, error) {
	if l.store == nil {
		return Verdict{}, limiter.ErrStoreUnavailable
	}
	rule := l.engine.Resolve(req.Path)
	res, err := l.store.CheckAndIncrement(ctx, rateKey(req.IP, rule.Pattern), rule.MaxAttempts, rule.Window)
	if err != nil {
		return Verdict{}, err
	}

	req.note(noteLimit, strconv.FormatInt(res.Limit, 10))
	req.note(noteRemaining, strconv.FormatInt(res.Remaining, 10))
	req.note(noteBurst, strconv.Itoa(rule.Burst))
	req.note(noteReset, strconv.Itoa(int(res.ResetIn.Round(time.Second).Seconds())))

	if !res.Allowed {
		return Deny(l.status, "Too many requests"), nil
	}
	return Allow(), nil
}

func (l *rateLimiter) Decorate(req *Request, h http.Header) {
	for note, header := range map[string]string{
		noteLimit:     "X-RateLimit-Limit",
		noteRemaining: "X-RateLimit-Remaining",
		noteBurst:     "X-RateLimit-Burst",
		noteReset:     "X-RateLimit-Reset",
	} {
		if v, ok := req.noted(note); ok {
			h.Set(header, v)
		}
	}
}

type userAgentFilter struct {
	allow      []*regexp.Regexp
	deny       []*regexp.Regexp
	blockEmpty bool
}

func newUserAgentFilter(cfg config.FirewallConfig, _ Deps) (Layer, error) {
	allow, err := compileAll(cfg.UserAgent.Allow)
	if err != nil {
		return nil, err
	}
	deny, err := compileAll(cfg.UserAgent.Deny)
	if err != nil {
		return nil, err
	}
	return &userAgentFilter{allow: allow, deny: deny, blockEmpty: cfg.UserAgent.BlockEmpty}, nil
}

func (l *userAgentFilter) Kind() Kind { return KindUserAgent }

func (l *userAgentFilter) Check(_ context.Context, req *Request) (Verdict, error) {
	ua := strings.TrimSpace(req.Header.Get("User-Agent"))
	if ua == "" {
		if l.blockEmpty {
			return Deny(http.StatusForbidden, "User agent required"), nil
		}
		return Allow(), nil
	}
	if matchAny(l.allow, ua) {
		return Allow(), nil
	}
	if matchAny(l.deny, ua) {
		return Deny(http.StatusForbidden, "User agent blocked"), nil
	}
	return Allow(), nil
}

type geoBlock struct {
	allowed  []string
	resolver GeoResolver
}

func newGeoBlock(cfg config.FirewallConfig, deps Deps) (Layer, error) {
	allowed := make([]string, 0, len(cfg.Geo.AllowedCountries))
	for _, c := range cfg.Geo.AllowedCountries {
		allowed = append(allowed, strings.ToUpper(strings.TrimSpace(c)))
	}
	return &geoBlock{allowed: allowed, resolver: deps.Geo}, nil
}

func (l *geoBlock) Kind() Kind { return KindGeoBlock }

// Check allows requests whose country cannot be resolved.
func (l *geoBlock) Check(ctx context.Context, req *Request) (Verdict, error) {
	if len(l.allowed) == 0 || l.resolver == nil {
		return Allow(), nil
	}
	country, err := l.resolver.Country(ctx, req)
	if err != nil {
		return Verdict{}, err
	}
	if country == "" || slices.Contains(l.allowed, country) {
		return Allow(), nil
	}
	return Deny(http.StatusForbidden, "Access from your region is not permitted"), nil
}

// browserHeaders are sent by every mainstream browser.
var browserHeaders = []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"}

type botDetector struct {
	good       []*regexp.Regexp
	bad        []*regexp.Regexp
	maxPerMin  int64
	maxMissing int
	store      limiter.Store
}

func newBotDetector(cfg config.FirewallConfig, deps Deps) (Layer, error) {
	good, err := compileAll(cfg.Bot.GoodBots)
	if err != nil {
		return nil, err
	}
	bad, err := compileAll(cfg.Bot.BadBots)
	if err != nil {
		return nil, err
	}
	return &botDetector{
		good:       good,
		bad:        bad,
		maxPerMin:  int64(cfg.Bot.MaxRequestsPerMinute),
		maxMissing: cfg.Bot.MaxMissingHeaders,
		store:      deps.Store,
	}, nil
}

func (l *botDetector) Kind() Kind { return KindBotDetection }

func (l *botDetector) Check(ctx context.Context, req *Request) (Verdict, error) {
	ua := req.Header.Get("User-Agent")
	if matchAny(l.good, ua) {
		return Allow(), nil
	}
	if matchAny(l.bad, ua) {
		return Deny(http.StatusForbidden, "Automated traffic is not allowed"), nil
	}

	missing := 0
	for _, h := range browserHeaders {
		if req.Header.Get(h) == "" {
			missing++
		}
	}
	if missing > l.maxMissing {
		return Deny(http.StatusForbidden, "Automated traffic is not allowed"), nil
	}

	if l.store == nil {
		return Allow(), nil
	}
	n, err := l.store.Hit(ctx, "bot:ip:"+req.IP, time.Minute)
	if err != nil {
		return Verdict{}, err
	}
	if n > l.maxPerMin {
		return Deny(http.StatusForbidden, "Request rate indicates automation"), nil
	}
	return Allow(), nil
}
