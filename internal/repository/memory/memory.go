package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/raakeshmj/campusguard/internal/db"
	"github.com/raakeshmj/campusguard/internal/repository"
)

// MemoryRepository stores copies, so callers never share rows with it.
type MemoryRepository struct {
	relationships map[string]*db.Relationship
	consents      map[string]*db.ConsentRecord
	devices       map[string]*db.UserDevice
	mu            sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		relationships: make(map[string]*db.Relationship),
		consents:      make(map[string]*db.ConsentRecord),
		devices:       make(map[string]*db.UserDevice),
	}
}

func relKey(parentID, childID string) string { return parentID + "|" + childID }

func consentKey(parentID, childID, consentType string) string {
	return parentID + "|" + childID + "|" + consentType
}

func deviceKey(userID, hash string) string { return userID + "|" + hash }

// Relationship Repo Implementation
func (r *MemoryRepository) HasRelationship(ctx context.Context, parentID, childID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.relationships[relKey(parentID, childID)]
	return ok, nil
}

func (r *MemoryRepository) AddRelationship(ctx context.Context, rel *db.Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rel
	r.relationships[relKey(rel.ParentID, rel.ChildID)] = &cp
	return nil
}

// Consent Repo Implementation
func (r *MemoryRepository) GetConsent(ctx context.Context, parentID, childID, consentType string) (*db.ConsentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.consents[consentKey(parentID, childID, consentType)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) UpsertConsent(ctx context.Context, rec *db.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.consents[consentKey(rec.ParentID, rec.ChildID, rec.ConsentType)] = &cp
	return nil
}

// Device Repo Implementation
func (r *MemoryRepository) GetDevice(ctx context.Context, userID, deviceHash string) (*db.UserDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.devices[deviceKey(userID, deviceHash)]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) UpsertDevice(ctx context.Context, device *db.UserDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *device
	r.devices[deviceKey(device.UserID, device.DeviceHash)] = &cp
	return nil
}

func (r *MemoryRepository) ListDevices(ctx context.Context, userID string) ([]*db.UserDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []*db.UserDevice
	for _, d := range r.devices {
		if d.UserID == userID {
			cp := *d
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastSeenAt.After(list[j].LastSeenAt) })
	return list, nil
}

// Interface check
var _ repository.RelationshipRepository = (*MemoryRepository)(nil)
var _ repository.ConsentRepository = (*MemoryRepository)(nil)
var _ repository.DeviceRepository = (*MemoryRepository)(nil)
