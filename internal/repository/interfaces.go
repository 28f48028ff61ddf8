package repository

import (
	"context"
	"errors"

	"github.com/raakeshmj/campusguard/internal/db"
)

var ErrNotFound = errors.New("record not found")

type RelationshipRepository interface {
	HasRelationship(ctx context.Context, parentID, childID string) (bool, error)
	AddRelationship(ctx context.Context, rel *db.Relationship) error
}

type ConsentRepository interface {
	// GetConsent returns ErrNotFound when no row exists.
	GetConsent(ctx context.Context, parentID, childID, consentType string) (*db.ConsentRecord, error)
	UpsertConsent(ctx context.Context, rec *db.ConsentRecord) error
}

type DeviceRepository interface {
	GetDevice(ctx context.Context, userID, deviceHash string) (*db.UserDevice, error)
	UpsertDevice(ctx context.Context, device *db.UserDevice) error
	ListDevices(ctx context.Context, userID string) ([]*db.UserDevice, error)
}
