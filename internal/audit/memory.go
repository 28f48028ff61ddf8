package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in process. Used in tests and local runs.
type MemorySink struct {
	mu       sync.Mutex
	activity []Entry
	firewall []FirewallEntry
	security []SecurityEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WriteActivity(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, e)
	return nil
}

func (s *MemorySink) WriteFirewall(_ context.Context, e FirewallEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firewall = append(s.firewall, e)
	return nil
}

func (s *MemorySink) WriteSecurity(_ context.Context, e SecurityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = append(s.security, e)
	return nil
}

func (s *MemorySink) Activity() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.activity...)
}

func (s *MemorySink) Firewall() []FirewallEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FirewallEntry(nil), s.firewall...)
}

func (s *MemorySink) Security() []SecurityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SecurityEntry(nil), s.security...)
}
