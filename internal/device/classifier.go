package device

import "strings"

const Unknown = "unknown"

type Classification struct {
	Platform   string `json:"platform"`
	Browser    string `json:"browser"`
	DeviceType string `json:"device_type"`
}

// Classifier maps a User-Agent string to a coarse platform/browser/device type.
type Classifier interface {
	Classify(userAgent string) Classification
}

// SubstringClassifier is a low-fidelity classifier built on User-Agent
// substrings. Swap in a parser-backed Classifier for accuracy.
type SubstringClassifier struct{}

type rule struct {
	needle string
	value  string
}

// Order matters: Edge and Opera UAs also contain "Chrome", Chrome contains "Safari".
var (
	platformRules = []rule{
		{"windows", "Windows"},
		{"android", "Android"},
		{"iphone", "iOS"},
		{"ipad", "iOS"},
		{"mac os", "macOS"},
		{"cros ", "ChromeOS"},
		{"linux", "Linux"},
	}
	browserRules = []rule{
		{"edg/", "Edge"},
		{"opr/", "Opera"},
		{"opera", "Opera"},
		{"firefox", "Firefox"},
		{"chrome", "Chrome"},
		{"crios", "Chrome"},
		{"safari", "Safari"},
	}
	tabletNeedles = []string{"ipad", "tablet"}
	mobileNeedles = []string{"mobile", "iphone", "android"}
)

func (SubstringClassifier) Classify(userAgent string) Classification {
	ua := strings.ToLower(userAgent)
	c := Classification{
		Platform:   match(ua, platformRules),
		Browser:    match(ua, browserRules),
		DeviceType: Unknown,
	}
	switch {
	case ua == "":
	case containsAny(ua, tabletNeedles):
		c.DeviceType = "tablet"
	case containsAny(ua, mobileNeedles):
		c.DeviceType = "mobile"
	case c.Platform != Unknown:
		c.DeviceType = "desktop"
	}
	return c
}

func match(ua string, rules []rule) string {
	for _, r := range rules {
		if strings.Contains(ua, r.needle) {
			return r.value
		}
	}
	return Unknown
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
