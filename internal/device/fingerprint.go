package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Fingerprint is derived per request and never stored verbatim; only Hash
// is persisted on the device record.
type Fingerprint struct {
	UserAgent        string `json:"user_agent"`
	IP               string `json:"ip"`
	AcceptLanguage   string `json:"accept_language"`
	AcceptEncoding   string `json:"accept_encoding"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Classification
	Hash string `json:"fingerprint_hash"`
}

type Fingerprinter struct {
	classifier Classifier
}

func NewFingerprinter(c Classifier) *Fingerprinter {
	if c == nil {
		c = SubstringClassifier{}
	}
	return &Fingerprinter{classifier: c}
}

func (f *Fingerprinter) Derive(ip string, h http.Header) Fingerprint {
	fp := Fingerprint{
		UserAgent:        h.Get("User-Agent"),
		IP:               ip,
		AcceptLanguage:   h.Get("Accept-Language"),
		AcceptEncoding:   h.Get("Accept-Encoding"),
		ScreenResolution: h.Get("X-Screen-Resolution"),
		Timezone:         h.Get("X-Timezone"),
	}
	fp.Classification = f.classifier.Classify(fp.UserAgent)
	fp.Hash = Hash(fp)
	return fp
}

// Hash is SHA-256 over ua|ip|accept_language|platform|browser|device_type.
func Hash(fp Fingerprint) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		fp.UserAgent,
		fp.IP,
		fp.AcceptLanguage,
		fp.Platform,
		fp.Browser,
		fp.DeviceType,
	}, "|")))
	return hex.EncodeToString(sum[:])
}
