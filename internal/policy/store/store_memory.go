package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"tourops/internal/policy/models"
	id "tourops/pkg/domain"
	"tourops/pkg/platform/tx"
)

// InMemoryStore keeps policies and snapshots in process. Mutations performed
// inside a tx.MemoryRunner transaction register undo actions, so a failed
// activation leaves the previous active policy in place.
type InMemoryStore struct {
	mu        sync.RWMutex
	policies  map[id.PolicyID]*models.Policy
	snapshots map[id.OrderID][]*models.Snapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		policies:  make(map[id.PolicyID]*models.Policy),
		snapshots: make(map[id.OrderID][]*models.Snapshot),
	}
}

// CreateNextVersion stores p as inactive with the organization's next version.
func (s *InMemoryStore) CreateNextVersion(ctx context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.ID]; exists {
		return ErrConflict
	}
	maxVersion := 0
	for _, existing := range s.policies {
		if existing.OrganizationID == p.OrganizationID && existing.Version > maxVersion {
			maxVersion = existing.Version
		}
	}
	p.Version = maxVersion + 1
	p.Active = false
	s.policies[p.ID] = copyPolicy(p)

	policyID := p.ID
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.policies, policyID)
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, policyID id.PolicyID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPolicy(p), nil
}

// FindActive returns the highest-version active policy of the organization.
func (s *InMemoryStore) FindActive(_ context.Context, orgID id.OrganizationID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Policy
	for _, p := range s.policies {
		if p.OrganizationID != orgID || !p.Active {
			continue
		}
		if found == nil || p.Version > found.Version {
			found = p
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return copyPolicy(found), nil
}

// ListByOrganization returns every policy, newest version first.
func (s *InMemoryStore) ListByOrganization(_ context.Context, orgID id.OrganizationID) ([]*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Policy{}
	for _, p := range s.policies {
		if p.OrganizationID == orgID {
			out = append(out, copyPolicy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Update replaces editable fields. Version and active are kept from storage.
func (s *InMemoryStore) Update(ctx context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.policies[p.ID]
	if !ok {
		return ErrNotFound
	}
	previous := copyPolicy(current)
	next := copyPolicy(p)
	next.Version = current.Version
	next.Active = current.Active
	next.OrganizationID = current.OrganizationID
	next.CreatedAt = current.CreatedAt
	s.policies[p.ID] = next

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.policies[previous.ID] = previous
	})
	return nil
}

// LockOrganization is a no-op; the memory runner already serializes transactions.
func (s *InMemoryStore) LockOrganization(context.Context, id.OrganizationID) error {
	return nil
}

func (s *InMemoryStore) DeactivateAll(ctx context.Context, orgID id.OrganizationID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.policies {
		if p.OrganizationID != orgID || !p.Active {
			continue
		}
		p.Active = false
		p.UpdatedAt = now
		restore := p
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			restore.Active = true
		})
	}
	return nil
}

// MarkActive activates one policy. Another active policy in the same
// organization is a conflict, mirroring the partial unique index.
func (s *InMemoryStore) MarkActive(ctx context.Context, policyID id.PolicyID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.policies[policyID]
	if !ok {
		return ErrNotFound
	}
	for _, p := range s.policies {
		if p.ID != policyID && p.OrganizationID == target.OrganizationID && p.Active {
			return ErrConflict
		}
	}
	if target.Active {
		return nil
	}
	target.Active = true
	target.UpdatedAt = now
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		target.Active = false
	})
	return nil
}

func (s *InMemoryStore) SaveSnapshot(_ context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	cp.Thresholds = snap.Thresholds.Clone()
	s.snapshots[snap.OrderID] = append(s.snapshots[snap.OrderID], &cp)
	return nil
}

// ListSnapshots returns the order's snapshots, newest first.
func (s *InMemoryStore) ListSnapshots(_ context.Context, orderID id.OrderID) ([]*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.snapshots[orderID]
	out := make([]*models.Snapshot, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		cp := *src[i]
		cp.Thresholds = src[i].Thresholds.Clone()
		out = append(out, &cp)
	}
	return out, nil
}

func copyPolicy(p *models.Policy) *models.Policy {
	cp := *p
	cp.Thresholds = p.Thresholds.Clone()
	return &cp
}
