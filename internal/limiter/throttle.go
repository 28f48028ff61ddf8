package limiter

import (
	"context"
	"time"

	"github.com/raakeshmj/campusguard/internal/config"
)

// LoginThrottle tracks failed logins with two independent counters per IP:
// a long decay window for lockout and a short one for burst detection.
type LoginThrottle struct {
	store Store
	cfg   *config.Manager
}

func NewLoginThrottle(store Store, cfg *config.Manager) *LoginThrottle {
	return &LoginThrottle{store: store, cfg: cfg}
}

func (t *LoginThrottle) settings() config.LoginConfig {
	return t.cfg.Current().Firewall.Login
}

func failureKey(ip string) string   { return "login:fail:ip:" + ip }
func accountKey(acct string) string { return "login:fail:acct:" + acct }
func burstKey(ip string) string     { return "login:burst:ip:" + ip }

// RecordFailure counts one failed login from ip against account.
func (t *LoginThrottle) RecordFailure(ctx context.Context, ip, account string) error {
	s := t.settings()
	decay := time.Duration(s.DecayMinutes) * time.Minute
	if _, err := t.store.Hit(ctx, failureKey(ip), decay); err != nil {
		return err
	}
	if account != "" {
		if _, err := t.store.Hit(ctx, accountKey(account), decay); err != nil {
			return err
		}
	}
	_, err := t.store.Hit(ctx, burstKey(ip), time.Duration(s.BurstWindowMinutes)*time.Minute)
	return err
}

// RecordAttempt counts a login attempt regardless of outcome in the burst window.
func (t *LoginThrottle) RecordAttempt(ctx context.Context, ip string) error {
	_, err := t.store.Hit(ctx, burstKey(ip), time.Duration(t.settings().BurstWindowMinutes)*time.Minute)
	return err
}

// Clear drops the failure counters after a successful login. The burst
// counter keeps running.
func (t *LoginThrottle) Clear(ctx context.Context, ip, account string) error {
	if err := t.store.Reset(ctx, failureKey(ip)); err != nil {
		return err
	}
	if account != "" {
		return t.store.Reset(ctx, accountKey(account))
	}
	return nil
}

func (t *LoginThrottle) Failures(ctx context.Context, ip string) (int64, error) {
	return t.store.Count(ctx, failureKey(ip))
}

func (t *LoginThrottle) AccountFailures(ctx context.Context, account string) (int64, error) {
	return t.store.Count(ctx, accountKey(account))
}

func (t *LoginThrottle) RecentAttempts(ctx context.Context, ip string) (int64, error) {
	return t.store.Count(ctx, burstKey(ip))
}

func (t *LoginThrottle) IsLockedOut(ctx context.Context, ip string) (bool, error) {
	n, err := t.Failures(ctx, ip)
	if err != nil {
		return false, err
	}
	return n >= int64(t.settings().MaxFailures), nil
}

func (t *LoginThrottle) IsBursting(ctx context.Context, ip string) (bool, error) {
	n, err := t.RecentAttempts(ctx, ip)
	if err != nil {
		return false, err
	}
	return n >= int64(t.settings().BurstThreshold), nil
}
