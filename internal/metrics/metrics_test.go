package metrics

import (
	"testing"
	"time"
)

func TestCollector_Stats(t *testing.T) {
	c := NewCollector(3)
	c.Record(10*time.Millisecond, 200)
	c.Record(20*time.Millisecond, 403)
	c.Record(30*time.Millisecond, 200)
	c.Record(40*time.Millisecond, 500)

	c.RecordDecision(true, "")
	c.RecordDecision(false, "rate_limiter")
	c.RecordDecision(false, "rate_limiter")
	c.RecordFault("geo_block")

	s := c.GetStats()
	if s.TotalRequests != 4 || s.TotalErrors != 2 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if s.ErrorRate != 0.5 {
		t.Errorf("error rate = %v", s.ErrorRate)
	}
	if s.P50Latency != "30ms" {
		t.Errorf("p50 = %s, window should hold the last 3 samples", s.P50Latency)
	}
	if s.BlockedByLayer["rate_limiter"] != 2 || s.FirewallAllows != 1 || s.FaultsByLayer["geo_block"] != 1 {
		t.Errorf("unexpected firewall counters %+v", s)
	}
}
