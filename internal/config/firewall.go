package config

import (
	"slices"
	"strings"
)

// LayerSetting toggles one firewall layer. Enabled is nil when the file does
// not mention it, in which case the layer default applies.
type LayerSetting struct {
	Name    string `mapstructure:"name" json:"name"`
	Enabled *bool  `mapstructure:"enabled" json:"enabled,omitempty"`
}

type RateLimitRule struct {
	Pattern      string `mapstructure:"pattern" json:"pattern"`
	MaxAttempts  int    `mapstructure:"max_attempts" json:"max_attempts"`
	DecayMinutes int    `mapstructure:"decay_minutes" json:"decay_minutes"`
	Burst        int    `mapstructure:"burst" json:"burst"`
}

type IPConfig struct {
	Allow []string `mapstructure:"allow" json:"allow"`
	Deny  []string `mapstructure:"deny" json:"deny"`
}

type RateLimitConfig struct {
	Default    RateLimitRule   `mapstructure:"default" json:"default"`
	Routes     []RateLimitRule `mapstructure:"routes" json:"routes"`
	StatusCode int             `mapstructure:"status_code" json:"status_code"`
}

type UserAgentConfig struct {
	Allow      []string `mapstructure:"allow" json:"allow"`
	Deny       []string `mapstructure:"deny" json:"deny"`
	BlockEmpty bool     `mapstructure:"block_empty" json:"block_empty"`
}

type GeoConfig struct {
	AllowedCountries []string `mapstructure:"allowed_countries" json:"allowed_countries"`
}

type BotConfig struct {
	GoodBots             []string `mapstructure:"good_bots" json:"good_bots"`
	BadBots              []string `mapstructure:"bad_bots" json:"bad_bots"`
	MaxRequestsPerMinute int      `mapstructure:"max_requests_per_minute" json:"max_requests_per_minute"`
	MaxMissingHeaders    int      `mapstructure:"max_missing_headers" json:"max_missing_headers"`
}

type PathExemptions struct {
	Exempt []string `mapstructure:"exempt" json:"exempt"`
}

type SessionConfig struct {
	MaxLifetimeMinutes int `mapstructure:"max_lifetime_minutes" json:"max_lifetime_minutes"`
}

type RequestConfig struct {
	AllowedMethods []string `mapstructure:"allowed_methods" json:"allowed_methods"`
	MaxURLLength   int      `mapstructure:"max_url_length" json:"max_url_length"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}

type UploadConfig struct {
	DeniedExtensions    []string `mapstructure:"denied_extensions" json:"denied_extensions"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types" json:"allowed_content_types"`
	MaxFileBytes        int64    `mapstructure:"max_file_bytes" json:"max_file_bytes"`
}

type InputConfig struct {
	MaxFieldLength int `mapstructure:"max_field_length" json:"max_field_length"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" json:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAgeSeconds    int      `mapstructure:"max_age_seconds" json:"max_age_seconds"`
}

type HTTPSConfig struct {
	HSTSMaxAgeSeconds int `mapstructure:"hsts_max_age_seconds" json:"hsts_max_age_seconds"`
}

type CSPConfig struct {
	Policy string `mapstructure:"policy" json:"policy"`
}

type HeaderConfig struct {
	AllowedHosts   []string `mapstructure:"allowed_hosts" json:"allowed_hosts"`
	MaxHeaderBytes int      `mapstructure:"max_header_bytes" json:"max_header_bytes"`
}

type CookieConfig struct {
	MaxCookieBytes int    `mapstructure:"max_cookie_bytes" json:"max_cookie_bytes"`
	SameSite       string `mapstructure:"same_site" json:"same_site"`
}

type LoginConfig struct {
	MaxFailures        int `mapstructure:"max_failures" json:"max_failures"`
	DecayMinutes       int `mapstructure:"decay_minutes" json:"decay_minutes"`
	BurstWindowMinutes int `mapstructure:"burst_window_minutes" json:"burst_window_minutes"`
	BurstThreshold     int `mapstructure:"burst_threshold" json:"burst_threshold"`
}

type CryptoConfig struct {
	RotationDays int      `mapstructure:"rotation_days" json:"rotation_days"`
	Fields       []string `mapstructure:"fields" json:"fields"`
}

// FirewallConfig is everything the request firewall reads at runtime. It is
// held inside a Snapshot and treated as immutable once published.
type FirewallConfig struct {
	Environment string          `mapstructure:"environment" json:"environment"`
	Layers      []LayerSetting  `mapstructure:"layers" json:"layers"`
	// Peers allowed to set X-Forwarded-For and X-Real-IP.
	TrustedProxies []string `mapstructure:"trusted_proxies" json:"trusted_proxies"`
	IP          IPConfig        `mapstructure:"ip" json:"ip"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
	UserAgent   UserAgentConfig `mapstructure:"user_agent" json:"user_agent"`
	Geo         GeoConfig       `mapstructure:"geo" json:"geo"`
	Bot         BotConfig       `mapstructure:"bot" json:"bot"`
	CSRF        PathExemptions  `mapstructure:"csrf" json:"csrf"`
	Session     SessionConfig   `mapstructure:"session" json:"session"`
	TwoFactor   PathExemptions  `mapstructure:"two_factor" json:"two_factor"`
	Request     RequestConfig   `mapstructure:"request" json:"request"`
	Upload      UploadConfig    `mapstructure:"upload" json:"upload"`
	Input       InputConfig     `mapstructure:"input" json:"input"`
	CORS        CORSConfig      `mapstructure:"cors" json:"cors"`
	HTTPS       HTTPSConfig     `mapstructure:"https" json:"https"`
	CSP         CSPConfig       `mapstructure:"csp" json:"csp"`
	Headers     HeaderConfig    `mapstructure:"headers" json:"headers"`
	Cookies     CookieConfig    `mapstructure:"cookies" json:"cookies"`
	Login       LoginConfig     `mapstructure:"login" json:"login"`
	Crypto      CryptoConfig    `mapstructure:"crypto" json:"crypto"`
}

// DefaultFirewallConfig is used when no firewall file exists.
func DefaultFirewallConfig() FirewallConfig {
	cfg := FirewallConfig{
		Environment: "production",
		UserAgent: UserAgentConfig{
			Deny:       []string{`(?i)sqlmap`, `(?i)nikto`, `(?i)nmap`, `(?i)masscan`, `(?i)dirbuster`},
			BlockEmpty: true,
		},
		Bot: BotConfig{
			GoodBots: []string{`(?i)googlebot`, `(?i)bingbot`, `(?i)duckduckbot`},
			BadBots:  []string{`(?i)scrapy`, `(?i)python-requests`, `(?i)curl/`, `(?i)wget`},
		},
		RateLimit: RateLimitConfig{
			Routes: []RateLimitRule{
				{Pattern: "/login", MaxAttempts: 5, DecayMinutes: 1, Burst: 5},
				{Pattern: "/api/*", MaxAttempts: 60, DecayMinutes: 1, Burst: 20},
			},
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with safe defaults. It never removes settings.
func (c *FirewallConfig) Normalize() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.RateLimit.Default.MaxAttempts <= 0 {
		c.RateLimit.Default = RateLimitRule{Pattern: "*", MaxAttempts: 60, DecayMinutes: 1, Burst: 20}
	}
	if c.RateLimit.StatusCode == 0 {
		c.RateLimit.StatusCode = 403
	}
	for i := range c.RateLimit.Routes {
		if c.RateLimit.Routes[i].DecayMinutes <= 0 {
			c.RateLimit.Routes[i].DecayMinutes = 1
		}
	}
	if c.Bot.MaxRequestsPerMinute <= 0 {
		c.Bot.MaxRequestsPerMinute = 300
	}
	if c.Bot.MaxMissingHeaders <= 0 {
		c.Bot.MaxMissingHeaders = 3
	}
	if c.Session.MaxLifetimeMinutes <= 0 {
		c.Session.MaxLifetimeMinutes = 120
	}
	if len(c.Request.AllowedMethods) == 0 {
		c.Request.AllowedMethods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if c.Request.MaxURLLength <= 0 {
		c.Request.MaxURLLength = 2048
	}
	if c.Request.MaxBodyBytes <= 0 {
		c.Request.MaxBodyBytes = 10 << 20
	}
	if len(c.Upload.DeniedExtensions) == 0 {
		c.Upload.DeniedExtensions = []string{".php", ".phtml", ".exe", ".sh", ".bat", ".cmd", ".js", ".jar", ".py", ".pl"}
	}
	if len(c.Upload.AllowedContentTypes) == 0 {
		c.Upload.AllowedContentTypes = []string{"image/jpeg", "image/png", "image/gif", "application/pdf"}
	}
	if c.Upload.MaxFileBytes <= 0 {
		c.Upload.MaxFileBytes = 5 << 20
	}
	if c.Input.MaxFieldLength <= 0 {
		c.Input.MaxFieldLength = 10000
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With"}
	}
	if c.CORS.MaxAgeSeconds <= 0 {
		c.CORS.MaxAgeSeconds = 600
	}
	if c.HTTPS.HSTSMaxAgeSeconds <= 0 {
		c.HTTPS.HSTSMaxAgeSeconds = 31536000
	}
	if c.CSP.Policy == "" {
		c.CSP.Policy = "default-src 'self'; script-src 'self'; object-src 'none'; frame-ancestors 'none'"
	}
	if c.Headers.MaxHeaderBytes <= 0 {
		c.Headers.MaxHeaderBytes = 16 << 10
	}
	if c.Cookies.MaxCookieBytes <= 0 {
		c.Cookies.MaxCookieBytes = 8 << 10
	}
	if c.Cookies.SameSite == "" {
		c.Cookies.SameSite = "Lax"
	}
	if c.Login.MaxFailures <= 0 {
		c.Login.MaxFailures = 5
	}
	if c.Login.DecayMinutes <= 0 {
		c.Login.DecayMinutes = 30
	}
	if c.Login.BurstWindowMinutes <= 0 {
		c.Login.BurstWindowMinutes = 5
	}
	if c.Login.BurstThreshold <= 0 {
		c.Login.BurstThreshold = 10
	}
	if c.Crypto.RotationDays <= 0 {
		c.Crypto.RotationDays = 90
	}
}

// IsProduction reports whether the firewall runs with production defaults.
func (c FirewallConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Clone returns a copy that shares no slices with c.
func (c FirewallConfig) Clone() FirewallConfig {
	out := c
	out.Layers = make([]LayerSetting, len(c.Layers))
	for i, l := range c.Layers {
		out.Layers[i] = LayerSetting{Name: l.Name}
		if l.Enabled != nil {
			enabled := *l.Enabled
			out.Layers[i].Enabled = &enabled
		}
	}
	out.TrustedProxies = slices.Clone(c.TrustedProxies)
	out.IP.Allow = slices.Clone(c.IP.Allow)
	out.IP.Deny = slices.Clone(c.IP.Deny)
	out.RateLimit.Routes = slices.Clone(c.RateLimit.Routes)
	out.UserAgent.Allow = slices.Clone(c.UserAgent.Allow)
	out.UserAgent.Deny = slices.Clone(c.UserAgent.Deny)
	out.Geo.AllowedCountries = slices.Clone(c.Geo.AllowedCountries)
	out.Bot.GoodBots = slices.Clone(c.Bot.GoodBots)
	out.Bot.BadBots = slices.Clone(c.Bot.BadBots)
	out.CSRF.Exempt = slices.Clone(c.CSRF.Exempt)
	out.TwoFactor.Exempt = slices.Clone(c.TwoFactor.Exempt)
	out.Request.AllowedMethods = slices.Clone(c.Request.AllowedMethods)
	out.Upload.DeniedExtensions = slices.Clone(c.Upload.DeniedExtensions)
	out.Upload.AllowedContentTypes = slices.Clone(c.Upload.AllowedContentTypes)
	out.CORS.AllowedOrigins = slices.Clone(c.CORS.AllowedOrigins)
	out.CORS.AllowedMethods = slices.Clone(c.CORS.AllowedMethods)
	out.CORS.AllowedHeaders = slices.Clone(c.CORS.AllowedHeaders)
	out.Headers.AllowedHosts = slices.Clone(c.Headers.AllowedHosts)
	out.Crypto.Fields = slices.Clone(c.Crypto.Fields)
	return out
}
