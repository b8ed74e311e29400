package models

import (
	"time"

	id "tourops/pkg/domain"
)

// Snapshot is an immutable copy of a policy's thresholds bound to an order at
// the moment a transition decision was recorded.
type Snapshot struct {
	ID             id.SnapshotID     `json:"id"`
	OrderID        id.OrderID        `json:"order_id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	// PolicyID is nil when the system default was in effect.
	PolicyID id.PolicyID `json:"policy_id"`
	Version  int         `json:"version"`
	Thresholds
	CreatedAt time.Time `json:"created_at"`
}

// NewSnapshot copies p into a snapshot for orderID.
func NewSnapshot(snapshotID id.SnapshotID, orderID id.OrderID, p *Policy, now time.Time) *Snapshot {
	return &Snapshot{
		ID:             snapshotID,
		OrderID:        orderID,
		OrganizationID: p.OrganizationID,
		PolicyID:       p.ID,
		Version:        p.Version,
		Thresholds:     p.Thresholds.Clone(),
		CreatedAt:      now,
	}
}
