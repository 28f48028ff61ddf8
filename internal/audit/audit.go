package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeBlocked = "blocked"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Entry is one row of the general activity log.
type Entry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	ActorID    string                 `json:"actor_id"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"target_type,omitempty"`
	TargetID   string                 `json:"target_id,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// FirewallEntry records the terminal outcome of one request.
type FirewallEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	UserID     string    `json:"user_id,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Outcome    string    `json:"outcome"`
	Layer      string    `json:"layer,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code"`
}

// SecurityEntry records an unauthorized access attempt.
type SecurityEntry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	ActorID    string                 `json:"actor_id"`
	Event      string                 `json:"event"`
	Severity   Severity               `json:"severity"`
	Reason     string                 `json:"reason,omitempty"`
	TargetType string                 `json:"target_type,omitempty"`
	TargetID   string                 `json:"target_id,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Sink persists the three audit streams. Entries are append-only.
type Sink interface {
	WriteActivity(ctx context.Context, e Entry) error
	WriteFirewall(ctx context.Context, e FirewallEntry) error
	WriteSecurity(ctx context.Context, e SecurityEntry) error
}

// FirewallRecorder is the part of Recorder the request firewall uses.
type FirewallRecorder interface {
	Firewall(ctx context.Context, e FirewallEntry)
}

// JSONSink writes one JSON object per line to an io.Writer.
type JSONSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{out: w}
}

type line struct {
	Stream string      `json:"stream"`
	Entry  interface{} `json:"entry"`
}

func (s *JSONSink) WriteActivity(_ context.Context, e Entry) error {
	if e.Metadata != nil {
		e.Metadata = maskSensitive(e.Metadata)
	}
	return s.write("activity", e)
}

func (s *JSONSink) WriteFirewall(_ context.Context, e FirewallEntry) error {
	return s.write("firewall", e)
}

func (s *JSONSink) WriteSecurity(_ context.Context, e SecurityEntry) error {
	if e.Metadata != nil {
		e.Metadata = maskSensitive(e.Metadata)
	}
	return s.write("security", e)
}

func (s *JSONSink) write(stream string, e interface{}) error {
	bytes, err := json.Marshal(line{Stream: stream, Entry: e})
	if err != nil {
		return err
	}
	bytes = append(bytes, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.out.Write(bytes)
	return err
}

var sensitiveKeys = []string{"api_key", "password", "token", "secret", "national_id", "card_number"}

// maskSensitive returns a copy of m with credential-like keys redacted.
func maskSensitive(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
		lowerK := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lowerK, s) {
				out[k] = "***REDACTED***"
				break
			}
		}
	}
	return out
}

// MultiSink fans every entry out to all sinks.
type MultiSink []Sink

func (m MultiSink) WriteActivity(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteActivity(ctx, e))
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteFirewall(ctx context.Context, e FirewallEntry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteFirewall(ctx, e))
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteSecurity(ctx context.Context, e SecurityEntry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteSecurity(ctx, e))
	}
	return errors.Join(errs...)
}
