// Package domain holds the typed identifiers shared by every bounded context.
//
// Each identifier is a distinct named type over uuid.UUID so that an order id
// can never be passed where a policy id is expected. Parse functions are the
// trust-boundary constructors: they reject empty, malformed and nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "tourops/pkg/domain-errors"
)

type (
	OrganizationID uuid.UUID
	OrderID        uuid.UUID
	PolicyID       uuid.UUID
	SnapshotID     uuid.UUID
	UserID         uuid.UUID
	AuditRecordID  uuid.UUID
)

func parseUUID(kind, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be a valid UUID", kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", kind)
	}
	return parsed, nil
}

func ParseOrganizationID(raw string) (OrganizationID, error) {
	u, err := parseUUID("organization id", raw)
	return OrganizationID(u), err
}

func ParseOrderID(raw string) (OrderID, error) {
	u, err := parseUUID("order id", raw)
	return OrderID(u), err
}

func ParsePolicyID(raw string) (PolicyID, error) {
	u, err := parseUUID("policy id", raw)
	return PolicyID(u), err
}

func ParseSnapshotID(raw string) (SnapshotID, error) {
	u, err := parseUUID("snapshot id", raw)
	return SnapshotID(u), err
}

func ParseUserID(raw string) (UserID, error) {
	u, err := parseUUID("user id", raw)
	return UserID(u), err
}

func ParseAuditRecordID(raw string) (AuditRecordID, error) {
	u, err := parseUUID("audit record id", raw)
	return AuditRecordID(u), err
}

func (id OrganizationID) String() string { return uuid.UUID(id).String() }
func (id OrderID) String() string        { return uuid.UUID(id).String() }
func (id PolicyID) String() string       { return uuid.UUID(id).String() }
func (id SnapshotID) String() string     { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id AuditRecordID) String() string  { return uuid.UUID(id).String() }

func (id OrganizationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrderID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SnapshotID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id AuditRecordID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps the canonical UUID form on the wire and in cached JSON.

func (id OrganizationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id OrderID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id PolicyID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id SnapshotID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id AuditRecordID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }

func (id *OrganizationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OrderID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PolicyID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *SnapshotID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AuditRecordID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
