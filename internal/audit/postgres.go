package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the audit tables. Rows are never updated or deleted.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	tenant_id TEXT,
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT,
	target_id TEXT,
	ip TEXT,
	user_agent TEXT,
	metadata JSONB
);
CREATE TABLE IF NOT EXISTS firewall_logs (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	ip TEXT NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	user_id TEXT,
	user_agent TEXT,
	outcome TEXT NOT NULL,
	layer TEXT,
	reason TEXT,
	status_code INT NOT NULL
);
CREATE TABLE IF NOT EXISTS security_audit_logs (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	actor_id TEXT NOT NULL,
	event TEXT NOT NULL,
	severity TEXT NOT NULL,
	reason TEXT,
	target_type TEXT,
	target_id TEXT,
	ip TEXT,
	user_agent TEXT,
	metadata JSONB
);
`

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresSink struct {
	DB auditDB
}

func NewPostgresSink(db auditDB) *PostgresSink {
	return &PostgresSink{DB: db}
}

func (s *PostgresSink) WriteActivity(ctx context.Context, e Entry) error {
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO audit_logs
		(id, created_at, tenant_id, actor_id, action, target_type, target_id, ip, user_agent, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.Timestamp, e.TenantID, e.ActorID, e.Action, e.TargetType, e.TargetID, e.IP, e.UserAgent, meta)
	return err
}

func (s *PostgresSink) WriteFirewall(ctx context.Context, e FirewallEntry) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO firewall_logs
		(id, created_at, ip, method, path, user_id, user_agent, outcome, layer, reason, status_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.Timestamp, e.IP, e.Method, e.Path, e.UserID, e.UserAgent, e.Outcome, e.Layer, e.Reason, e.StatusCode)
	return err
}

func (s *PostgresSink) WriteSecurity(ctx context.Context, e SecurityEntry) error {
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO security_audit_logs
		(id, created_at, actor_id, event, severity, reason, target_type, target_id, ip, user_agent, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.Timestamp, e.ActorID, e.Event, string(e.Severity), e.Reason, e.TargetType, e.TargetID, e.IP, e.UserAgent, meta)
	return err
}

func marshalMeta(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(maskSensitive(m))
}
