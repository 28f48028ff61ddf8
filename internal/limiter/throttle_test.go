package limiter

import (
	"context"
	"testing"

	"github.com/raakeshmj/campusguard/internal/config"
)

func TestLoginThrottle_LockoutAndClear(t *testing.T) {
	cfg := config.DefaultFirewallConfig()
	cfg.Login.MaxFailures = 3
	cfg.Login.BurstThreshold = 4
	th := NewLoginThrottle(NewMemoryStore(), config.NewManager(cfg, nil))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := th.RecordFailure(ctx, "198.51.100.7", "alice"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	locked, _ := th.IsLockedOut(ctx, "198.51.100.7")
	if !locked {
		t.Fatal("expected ip to be locked out after 3 failures")
	}
	if n, _ := th.AccountFailures(ctx, "alice"); n != 3 {
		t.Errorf("expected 3 account failures, got %d", n)
	}
	bursting, _ := th.IsBursting(ctx, "198.51.100.7")
	if bursting {
		t.Error("3 attempts should stay under burst threshold of 4")
	}

	th.RecordAttempt(ctx, "198.51.100.7")
	if bursting, _ = th.IsBursting(ctx, "198.51.100.7"); !bursting {
		t.Error("expected burst after 4 attempts")
	}

	if err := th.Clear(ctx, "198.51.100.7", "alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if locked, _ = th.IsLockedOut(ctx, "198.51.100.7"); locked {
		t.Error("lockout should clear after success")
	}
	if n, _ := th.RecentAttempts(ctx, "198.51.100.7"); n != 4 {
		t.Errorf("burst counter must survive clear, got %d", n)
	}
}
