// Package consent decides whether a guardian may read a dependent's data.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/db"
	"github.com/raakeshmj/campusguard/internal/repository"
)

var ErrConsentDenied = errors.New("consent denied")

// Reasons stored on audit entries.
const (
	ReasonNoRelationship   = "no_relationship"
	ReasonConsentRevoked   = "consent_revoked"
	ReasonConsentExpired   = "consent_expired"
	ReasonExplicitConsent  = "explicit_consent"
	ReasonImplicitConsent  = "implicit_relationship_consent"
	actionAccessGranted    = "guardian_data_access_granted"
	actionAccessDenied     = "guardian_data_access_denied"
	actionConsentGranted   = "consent_granted"
	actionConsentRevoked   = "consent_revoked"
	eventUnauthorizedDatum = "unauthorized_dependent_access"
)

// Request describes one guardian read.
type Request struct {
	GuardianID  string
	DependentID string
	ConsentType string
	IP          string
	UserAgent   string
}

type Decision struct {
	Allowed bool
	Reason  string
	// Implicit is set when access rests on the relationship alone.
	Implicit bool
}

func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrConsentDenied, d.Reason)
}

type Gate struct {
	relationships repository.RelationshipRepository
	consents      repository.ConsentRepository
	recorder      *audit.Recorder
	log           *zap.Logger
	now           func() time.Time
}

func NewGate(rel repository.RelationshipRepository, consents repository.ConsentRepository, rec *audit.Recorder, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{relationships: rel, consents: consents, recorder: rec, log: log, now: time.Now}
}

// Authorize grants access only when a relationship exists and consent is
// either absent or granted and unexpired. Every decision is audited.
// Repository errors are returned with a denied decision.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	if req.ConsentType == "" {
		req.ConsentType = db.ConsentTypeDataAccess
	}

	d, err := g.decide(ctx, req)
	if err != nil {
		g.log.Error("consent lookup failed",
			zap.String("guardian_id", req.GuardianID),
			zap.String("dependent_id", req.DependentID),
			zap.Error(err))
		return Decision{Reason: "lookup_failed"}, err
	}
	g.record(ctx, req, d)
	return d, nil
}

func (g *Gate) decide(ctx context.Context, req Request) (Decision, error) {
	ok, err := g.relationships.HasRelationship(ctx, req.GuardianID, req.DependentID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Reason: ReasonNoRelationship}, nil
	}

	rec, err := g.consents.GetConsent(ctx, req.GuardianID, req.DependentID, req.ConsentType)
	if errors.Is(err, repository.ErrNotFound) {
		return Decision{Allowed: true, Reason: ReasonImplicitConsent, Implicit: true}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	now := g.now()
	switch {
	case rec.Status != db.ConsentGranted:
		return Decision{Reason: ReasonConsentRevoked}, nil
	case !rec.Active(now):
		return Decision{Reason: ReasonConsentExpired}, nil
	}
	return Decision{Allowed: true, Reason: ReasonExplicitConsent}, nil
}

func (g *Gate) record(ctx context.Context, req Request, d Decision) {
	if g.recorder == nil {
		return
	}
	action := actionAccessGranted
	if !d.Allowed {
		action = actionAccessDenied
	}
	meta := map[string]interface{}{
		"reason":       d.Reason,
		"consent_type": req.ConsentType,
	}
	if d.Implicit {
		meta["implicit"] = true
	}
	g.recorder.Activity(ctx, audit.Entry{
		ActorID:    req.GuardianID,
		Action:     action,
		TargetType: "student",
		TargetID:   req.DependentID,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		Metadata:   meta,
	})
	if d.Allowed {
		return
	}
	g.recorder.Security(ctx, audit.SecurityEntry{
		ActorID:    req.GuardianID,
		Event:      eventUnauthorizedDatum,
		Severity:   audit.SeverityMedium,
		Reason:     d.Reason,
		TargetType: "student",
		TargetID:   req.DependentID,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
	})
}

// Grant upserts a granted record and clears any previous revocation.
// A nil expiresAt never expires.
func (g *Gate) Grant(ctx context.Context, guardianID, dependentID, consentType string, expiresAt *time.Time) (*db.ConsentRecord, error) {
	return g.upsert(ctx, guardianID, dependentID, consentType, func(rec *db.ConsentRecord, now time.Time) {
		rec.Status = db.ConsentGranted
		rec.GrantedAt = &now
		rec.RevokedAt = nil
		rec.ExpiresAt = expiresAt
	}, actionConsentGranted)
}

// Revoke marks the record revoked. Revoking without a prior grant still
// writes a row so the implicit relationship consent no longer applies.
func (g *Gate) Revoke(ctx context.Context, guardianID, dependentID, consentType string) (*db.ConsentRecord, error) {
	return g.upsert(ctx, guardianID, dependentID, consentType, func(rec *db.ConsentRecord, now time.Time) {
		if rec.Status == db.ConsentRevoked && rec.RevokedAt != nil {
			return
		}
		rec.Status = db.ConsentRevoked
		rec.RevokedAt = &now
	}, actionConsentRevoked)
}

func (g *Gate) upsert(ctx context.Context, guardianID, dependentID, consentType string, apply func(*db.ConsentRecord, time.Time), action string) (*db.ConsentRecord, error) {
	if consentType == "" {
		consentType = db.ConsentTypeDataAccess
	}
	ok, err := g.relationships.HasRelationship(ctx, guardianID, dependentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConsentDenied, ReasonNoRelationship)
	}

	rec, err := g.consents.GetConsent(ctx, guardianID, dependentID, consentType)
	if errors.Is(err, repository.ErrNotFound) {
		rec = &db.ConsentRecord{
			ID:          uuid.NewString(),
			ParentID:    guardianID,
			ChildID:     dependentID,
			ConsentType: consentType,
		}
	} else if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	apply(rec, now)
	rec.UpdatedAt = now
	if err := g.consents.UpsertConsent(ctx, rec); err != nil {
		return nil, err
	}

	if g.recorder != nil {
		g.recorder.Activity(ctx, audit.Entry{
			ActorID:    guardianID,
			Action:     action,
			TargetType: "student",
			TargetID:   dependentID,
			Metadata:   map[string]interface{}{"consent_type": consentType},
		})
	}
	return rec, nil
}

// Record returns the stored consent row for the pair, or nil when access
// rests on the relationship alone.
func (g *Gate) Record(ctx context.Context, guardianID, dependentID, consentType string) (*db.ConsentRecord, error) {
	if consentType == "" {
		consentType = db.ConsentTypeDataAccess
	}
	rec, err := g.consents.GetConsent(ctx, guardianID, dependentID, consentType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}
