package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/db"
	"github.com/raakeshmj/campusguard/internal/device"
	"github.com/raakeshmj/campusguard/internal/limiter"
	"github.com/raakeshmj/campusguard/internal/repository"
)

// LoginEvent is reported by the authentication frontend after each attempt.
type LoginEvent struct {
	UserID  string
	Account string
	Success bool
	IP      string
	Header  http.Header
}

type LoginResult struct {
	Device     *db.UserDevice    `json:"device,omitempty"`
	Assessment device.Assessment `json:"assessment"`
	LockedOut  bool              `json:"locked_out"`
	NewDevice  bool              `json:"new_device"`
}

type DeviceService struct {
	devices       repository.DeviceRepository
	throttle      *limiter.LoginThrottle
	fingerprinter *device.Fingerprinter
	assessor      *device.Assessor
	recorder      *audit.Recorder
	now           func() time.Time
}

func NewDeviceService(d repository.DeviceRepository, t *limiter.LoginThrottle, f *device.Fingerprinter, a *device.Assessor, r *audit.Recorder) *DeviceService {
	return &DeviceService{
		devices:       d,
		throttle:      t,
		fingerprinter: f,
		assessor:      a,
		recorder:      r,
		now:           time.Now,
	}
}

// RecordLogin feeds the throttle and, on success, registers the device.
// The assessment is advisory and never blocks the login by itself.
func (s *DeviceService) RecordLogin(ctx context.Context, ev LoginEvent) (*LoginResult, error) {
	fp := s.fingerprinter.Derive(ev.IP, ev.Header)

	if !ev.Success {
		return s.recordFailure(ctx, ev, fp)
	}
	// failures count toward the burst window inside RecordFailure
	if err := s.throttle.RecordAttempt(ctx, ev.IP); err != nil {
		return nil, err
	}

	existing, err := s.devices.GetDevice(ctx, ev.UserID, fp.Hash)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	known := existing != nil && existing.IsTrusted

	assessment, err := s.assess(ctx, ev.IP, fp, known)
	if err != nil {
		return nil, err
	}
	if err := s.throttle.Clear(ctx, ev.IP, ev.Account); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	dev := existing
	if dev == nil {
		dev = &db.UserDevice{
			ID:          uuid.NewString(),
			UserID:      ev.UserID,
			DeviceHash:  fp.Hash,
			IsTrusted:   true,
			FirstSeenAt: now,
		}
	}
	// A revoked device stays untrusted until an administrator restores it.
	dev.Platform = fp.Platform
	dev.Browser = fp.Browser
	dev.DeviceType = fp.DeviceType
	dev.LastIP = ev.IP
	dev.LastSeenAt = now
	if err := s.devices.UpsertDevice(ctx, dev); err != nil {
		return nil, err
	}

	s.recorder.Activity(ctx, audit.Entry{
		ActorID:    ev.UserID,
		Action:     "login_success",
		TargetType: "device",
		TargetID:   fp.Hash,
		IP:         ev.IP,
		UserAgent:  fp.UserAgent,
		Metadata:   map[string]interface{}{"risk_level": assessment.Level, "risk_score": assessment.Score},
	})
	if existing == nil {
		s.recorder.Activity(ctx, audit.Entry{
			ActorID:    ev.UserID,
			Action:     "device_registered",
			TargetType: "device",
			TargetID:   fp.Hash,
			IP:         ev.IP,
			Metadata:   map[string]interface{}{"platform": fp.Platform, "browser": fp.Browser, "device_type": fp.DeviceType},
		})
	}

	return &LoginResult{Device: dev, Assessment: assessment, NewDevice: existing == nil}, nil
}

func (s *DeviceService) recordFailure(ctx context.Context, ev LoginEvent, fp device.Fingerprint) (*LoginResult, error) {
	if err := s.throttle.RecordFailure(ctx, ev.IP, ev.Account); err != nil {
		return nil, err
	}
	locked, err := s.throttle.IsLockedOut(ctx, ev.IP)
	if err != nil {
		return nil, err
	}
	bursting, err := s.throttle.IsBursting(ctx, ev.IP)
	if err != nil {
		return nil, err
	}

	severity := audit.SeverityLow
	event := "login_failed"
	switch {
	case locked:
		severity, event = audit.SeverityHigh, "login_lockout"
	case bursting:
		severity, event = audit.SeverityMedium, "login_burst"
	}
	s.recorder.Security(ctx, audit.SecurityEntry{
		ActorID:    ev.UserID,
		Event:      event,
		Severity:   severity,
		TargetType: "account",
		TargetID:   ev.Account,
		IP:         ev.IP,
		UserAgent:  fp.UserAgent,
	})

	assessment, err := s.assess(ctx, ev.IP, fp, false)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Assessment: assessment, LockedOut: locked}, nil
}

// Assess scores the current request for userID without side effects.
func (s *DeviceService) Assess(ctx context.Context, userID, ip string, h http.Header) (device.Assessment, error) {
	fp := s.fingerprinter.Derive(ip, h)
	known := false
	if userID != "" {
		d, err := s.devices.GetDevice(ctx, userID, fp.Hash)
		switch {
		case err == nil:
			known = d.IsTrusted
		case !errors.Is(err, repository.ErrNotFound):
			return device.Assessment{}, err
		}
	}
	return s.assess(ctx, ip, fp, known)
}

func (s *DeviceService) assess(ctx context.Context, ip string, fp device.Fingerprint, known bool) (device.Assessment, error) {
	failures, err := s.throttle.Failures(ctx, ip)
	if err != nil {
		return device.Assessment{}, err
	}
	recent, err := s.throttle.RecentAttempts(ctx, ip)
	if err != nil {
		return device.Assessment{}, err
	}
	return s.assessor.Assess(device.Signals{
		Fingerprint:    fp,
		Failures:       failures,
		RecentAttempts: recent,
		KnownDevice:    known,
		At:             s.now(),
	}), nil
}

func (s *DeviceService) ListDevices(ctx context.Context, userID string) ([]*db.UserDevice, error) {
	return s.devices.ListDevices(ctx, userID)
}

// RevokeDevice clears trust on one of userID's devices. Repeated calls
// keep the first revocation time.
func (s *DeviceService) RevokeDevice(ctx context.Context, userID, hash string) (*db.UserDevice, error) {
	d, err := s.devices.GetDevice(ctx, userID, hash)
	if err != nil {
		return nil, err
	}
	if d.RevokedAt == nil {
		now := s.now().UTC()
		d.RevokedAt = &now
	}
	d.IsTrusted = false
	if err := s.devices.UpsertDevice(ctx, d); err != nil {
		return nil, err
	}
	s.recorder.Activity(ctx, audit.Entry{
		ActorID:    userID,
		Action:     "device_revoked",
		TargetType: "device",
		TargetID:   hash,
	})
	return d, nil
}
