package firewall

import (
	"context"
	"strings"
	"time"

	"github.com/raakeshmj/campusguard/internal/cache"
)

// GeoResolver maps a request to an ISO 3166 alpha-2 country code, or ""
// when unknown.
type GeoResolver interface {
	Country(ctx context.Context, req *Request) (string, error)
}

// countryHeaders are set by the edge proxy in front of the app.
var countryHeaders = []string{"CF-IPCountry", "X-Country-Code"}

// HeaderGeoResolver trusts the edge proxy's country header and remembers
// the last country seen per client IP.
type HeaderGeoResolver struct {
	cache *cache.MemoryCache[string]
	ttl   time.Duration
}

func NewHeaderGeoResolver(ttl time.Duration) *HeaderGeoResolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HeaderGeoResolver{cache: cache.NewMemoryCache[string](), ttl: ttl}
}

func (r *HeaderGeoResolver) Country(_ context.Context, req *Request) (string, error) {
	for _, h := range countryHeaders {
		c := strings.ToUpper(strings.TrimSpace(req.Header.Get(h)))
		// XX and T1 are Cloudflare's unknown and Tor markers.
		if len(c) == 2 && c != "XX" && c != "T1" {
			r.cache.Set(req.IP, c, r.ttl)
			return c, nil
		}
	}
	c, _ := r.cache.Get(req.IP)
	return c, nil
}
