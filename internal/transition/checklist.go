package transition

import (
	"fmt"

	ordermodels "tourops/internal/order/models"
	platformstrings "tourops/pkg/platform/strings"
)

// Checklist lists the field keys guarding one transition.
type Checklist struct {
	Required    []string
	Recommended []string
}

// Edge identifies a (from, to) status pair.
type Edge struct {
	From ordermodels.Status
	To   ordermodels.Status
}

// OverrideKey is the checklist_overrides key for an edge, e.g. "planning->quoting".
func (e Edge) OverrideKey() string {
	return fmt.Sprintf("%s->%s", e.From, e.To)
}

// Config is an allow-list of guarded edges. Edges without an entry are unguarded.
type Config map[Edge]Checklist

// DefaultConfig returns the built-in guarded transitions.
func DefaultConfig() Config {
	return Config{
		{ordermodels.StatusPlanning, ordermodels.StatusQuoting}: {
			Required:    []string{KeyParticipants, KeyItineraryDescription},
			Recommended: []string{KeyActivities},
		},
		{ordermodels.StatusQuoting, ordermodels.StatusReservationsPending}: {
			Required:    []string{KeySaleValue, KeyEstimatedCost, KeyMargin},
			Recommended: []string{KeyDeposit},
		},
		{ordermodels.StatusReservationsPending, ordermodels.StatusReservationsConfirmed}: {
			Required:    []string{KeyDeposit, KeyPaymentRegistered, KeySuppliersLinked, KeyLodgingBooked},
			Recommended: []string{KeyTransportBooked, KeyActivities},
		},
		{ordermodels.StatusReservationsConfirmed, ordermodels.StatusDocumentation}: {
			Required:    []string{KeyParticipantDocuments},
			Recommended: []string{KeyEmergencyContacts},
		},
		{ordermodels.StatusDocumentation, ordermodels.StatusReadyToTravel}: {
			Required:    []string{KeyGuideAssigned, KeyDriverAssigned, KeyTransportBooked, KeyParticipantDocuments},
			Recommended: []string{KeyAllExpensesPaid, KeyEmergencyContacts},
		},
		{ordermodels.StatusReadyToTravel, ordermodels.StatusInProgress}: {
			Required:    []string{KeyGuideAssigned, KeyDriverAssigned},
			Recommended: []string{KeyFullyPaid},
		},
		{ordermodels.StatusCompleted, ordermodels.StatusPostTrip}: {
			Required:    []string{KeyAllExpensesPaid, KeyCostWithinTolerance},
			Recommended: []string{KeyFullyPaid},
		},
	}
}

// Resolve returns the checklist for an edge. A policy override for the edge,
// shaped {"required": [...], "recommended": [...]}, replaces the lists it names.
// Override keys are trimmed and deduplicated.
func (c Config) Resolve(edge Edge, overrides map[string]any) (Checklist, bool) {
	base, guarded := c[edge]
	raw, ok := overrides[edge.OverrideKey()].(map[string]any)
	if !ok {
		return base, guarded
	}
	out := Checklist{Required: base.Required, Recommended: base.Recommended}
	if keys, ok := stringList(raw["required"]); ok {
		out.Required = keys
	}
	if keys, ok := stringList(raw["recommended"]); ok {
		out.Recommended = keys
	}
	return out, guarded || len(out.Required) > 0 || len(out.Recommended) > 0
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return platformstrings.DedupeAndTrim(list), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return platformstrings.DedupeAndTrim(out), true
	default:
		return nil, false
	}
}
