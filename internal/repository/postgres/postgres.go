package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/raakeshmj/campusguard/internal/db"
	"github.com/raakeshmj/campusguard/internal/repository"
)

const Schema = `
CREATE TABLE IF NOT EXISTS parent_student_relationships (
	parent_id  TEXT NOT NULL,
	child_id   TEXT NOT NULL,
	relation   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (parent_id, child_id)
);
CREATE TABLE IF NOT EXISTS parental_consents (
	id           UUID PRIMARY KEY,
	parent_id    TEXT NOT NULL,
	child_id     TEXT NOT NULL,
	consent_type TEXT NOT NULL,
	status       TEXT NOT NULL,
	granted_at   TIMESTAMPTZ,
	revoked_at   TIMESTAMPTZ,
	expires_at   TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (parent_id, child_id, consent_type)
);
CREATE TABLE IF NOT EXISTS user_devices (
	id            UUID PRIMARY KEY,
	user_id       TEXT NOT NULL,
	device_hash   TEXT NOT NULL,
	platform      TEXT NOT NULL,
	browser       TEXT NOT NULL,
	device_type   TEXT NOT NULL,
	last_ip       TEXT NOT NULL,
	is_trusted    BOOLEAN NOT NULL DEFAULT true,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
	revoked_at    TIMESTAMPTZ,
	UNIQUE (user_id, device_hash)
);`

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db Querier
}

func New(q Querier) *Repository {
	return &Repository{db: q}
}

// Migrate creates the tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *Repository) HasRelationship(ctx context.Context, parentID, childID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM parent_student_relationships WHERE parent_id = $1 AND child_id = $2)`,
		parentID, childID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query relationship: %w", err)
	}
	return exists, nil
}

func (r *Repository) AddRelationship(ctx context.Context, rel *db.Relationship) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO parent_student_relationships (parent_id, child_id, relation, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (parent_id, child_id) DO NOTHING`,
		rel.ParentID, rel.ChildID, rel.Relation, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

func (r *Repository) GetConsent(ctx context.Context, parentID, childID, consentType string) (*db.ConsentRecord, error) {
	var c db.ConsentRecord
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT id, parent_id, child_id, consent_type, status, granted_at, revoked_at, expires_at, updated_at
		 FROM parental_consents WHERE parent_id = $1 AND child_id = $2 AND consent_type = $3`,
		parentID, childID, consentType).
		Scan(&c.ID, &c.ParentID, &c.ChildID, &c.ConsentType, &status, &c.GrantedAt, &c.RevokedAt, &c.ExpiresAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query consent: %w", err)
	}
	c.Status = db.ConsentStatus(status)
	return &c, nil
}

func (r *Repository) UpsertConsent(ctx context.Context, rec *db.ConsentRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO parental_consents (id, parent_id, child_id, consent_type, status, granted_at, revoked_at, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (parent_id, child_id, consent_type) DO UPDATE SET
		   status = EXCLUDED.status,
		   granted_at = EXCLUDED.granted_at,
		   revoked_at = EXCLUDED.revoked_at,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.ParentID, rec.ChildID, rec.ConsentType, string(rec.Status),
		rec.GrantedAt, rec.RevokedAt, rec.ExpiresAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

const deviceColumns = `id, user_id, device_hash, platform, browser, device_type, last_ip, is_trusted, first_seen_at, last_seen_at, revoked_at`

func scanDevice(row pgx.Row) (*db.UserDevice, error) {
	var d db.UserDevice
	err := row.Scan(&d.ID, &d.UserID, &d.DeviceHash, &d.Platform, &d.Browser, &d.DeviceType,
		&d.LastIP, &d.IsTrusted, &d.FirstSeenAt, &d.LastSeenAt, &d.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) GetDevice(ctx context.Context, userID, deviceHash string) (*db.UserDevice, error) {
	d, err := scanDevice(r.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM user_devices WHERE user_id = $1 AND device_hash = $2`,
		userID, deviceHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query device: %w", err)
	}
	return d, nil
}

func (r *Repository) UpsertDevice(ctx context.Context, d *db.UserDevice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_devices (`+deviceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, device_hash) DO UPDATE SET
		   platform = EXCLUDED.platform,
		   browser = EXCLUDED.browser,
		   device_type = EXCLUDED.device_type,
		   last_ip = EXCLUDED.last_ip,
		   is_trusted = EXCLUDED.is_trusted,
		   last_seen_at = EXCLUDED.last_seen_at,
		   revoked_at = EXCLUDED.revoked_at`,
		d.ID, d.UserID, d.DeviceHash, d.Platform, d.Browser, d.DeviceType,
		d.LastIP, d.IsTrusted, d.FirstSeenAt, d.LastSeenAt, d.RevokedAt)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (r *Repository) ListDevices(ctx context.Context, userID string) ([]*db.UserDevice, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM user_devices WHERE user_id = $1 ORDER BY last_seen_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var list []*db.UserDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

var _ repository.RelationshipRepository = (*Repository)(nil)
var _ repository.ConsentRepository = (*Repository)(nil)
var _ repository.DeviceRepository = (*Repository)(nil)
