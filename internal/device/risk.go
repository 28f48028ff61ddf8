package device

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const (
	ipWeight      = 0.3
	deviceWeight  = 0.4
	patternWeight = 0.3
)

// OpenVPN and WireGuard default tunnels plus the CGNAT block used by mesh VPNs.
var defaultVPNRanges = []string{"10.8.0.0/24", "10.9.0.0/24", "10.66.66.0/24", "100.64.0.0/10"}

var automationMarkers = []string{"headless", "phantomjs", "selenium", "puppeteer", "playwright", "webdriver"}

// Signals are the inputs of one assessment. Counters come from the login throttle.
type Signals struct {
	Fingerprint    Fingerprint
	Failures       int64
	RecentAttempts int64
	KnownDevice    bool
	At             time.Time
}

type Assessment struct {
	Score       float64  `json:"score"`
	IPRisk      float64  `json:"ip_risk"`
	DeviceRisk  float64  `json:"device_risk"`
	PatternRisk float64  `json:"pattern_risk"`
	Level       string   `json:"level"`
	Factors     []string `json:"factors,omitempty"`
	// RequireSecondFactor is advice for the caller; nothing is blocked here.
	RequireSecondFactor bool `json:"require_second_factor"`
}

type Assessor struct {
	vpn []netip.Prefix
}

func NewAssessor(vpnCIDRs []string) (*Assessor, error) {
	if len(vpnCIDRs) == 0 {
		vpnCIDRs = defaultVPNRanges
	}
	a := &Assessor{}
	for _, c := range vpnCIDRs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("vpn range %q: %w", c, err)
		}
		a.vpn = append(a.vpn, p)
	}
	return a, nil
}

func (a *Assessor) Assess(s Signals) Assessment {
	var factors []string
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	ipRisk := 0.0
	if s.Failures > 0 {
		ipRisk += clamp(float64(s.Failures)/5) * 0.7
		factors = append(factors, "recent_login_failures")
	}
	if a.isVPN(s.Fingerprint.IP) {
		ipRisk += 0.3
		factors = append(factors, "vpn_range")
	}

	deviceRisk := 0.0
	ua := strings.ToLower(s.Fingerprint.UserAgent)
	if s.Fingerprint.DeviceType == "" || s.Fingerprint.DeviceType == Unknown {
		deviceRisk += 0.3
		factors = append(factors, "unknown_device_type")
	}
	if s.Fingerprint.Browser == "" || s.Fingerprint.Browser == Unknown || strings.Contains(ua, "bot") {
		deviceRisk += 0.3
		factors = append(factors, "suspicious_browser")
	}
	if containsAny(ua, automationMarkers) {
		deviceRisk += 0.4
		factors = append(factors, "automation")
	}
	if s.Fingerprint.AcceptLanguage == "" {
		deviceRisk += 0.2
		factors = append(factors, "missing_accept_language")
	}
	if !s.KnownDevice {
		deviceRisk += 0.1
		factors = append(factors, "new_device")
	}

	patternRisk := 0.0
	if h := at.Hour(); h < 6 || h >= 23 {
		patternRisk += 0.5
		factors = append(factors, "unusual_hour")
	}
	switch {
	case s.RecentAttempts >= 5:
		patternRisk += 0.5
		factors = append(factors, "high_attempt_frequency")
	case s.RecentAttempts >= 3:
		patternRisk += 0.25
		factors = append(factors, "elevated_attempt_frequency")
	}

	out := Assessment{
		IPRisk:      clamp(ipRisk),
		DeviceRisk:  clamp(deviceRisk),
		PatternRisk: clamp(patternRisk),
		Factors:     factors,
	}
	out.Score = clamp(out.IPRisk*ipWeight + out.DeviceRisk*deviceWeight + out.PatternRisk*patternWeight)
	switch {
	case out.Score >= 0.7:
		out.Level = "high"
	case out.Score >= 0.3:
		out.Level = "medium"
	default:
		out.Level = "low"
	}
	out.RequireSecondFactor = out.Score >= 0.5
	return out
}

func (a *Assessor) isVPN(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.vpn {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
