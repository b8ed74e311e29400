// Package models defines versioned organization policies and their snapshots.
package models

import (
	"strings"
	"time"

	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

// System-wide fallback thresholds.
const (
	DefaultMinMarginPct            = 15.0
	DefaultMinDepositPct           = 30.0
	DefaultCostOverrunTolerancePct = 10.0
	DefaultMinGuideLeadDays        = 7
	DefaultMinDriverLeadDays       = 5
	DefaultMinLodgingLeadDays      = 15

	MaxNameLength = 120
)

// Financial thresholds, all percentages in [0,100].
type Financial struct {
	MinMarginPct            float64 `json:"min_margin_pct"`
	MinDepositPct           float64 `json:"min_deposit_pct"`
	CostOverrunTolerancePct float64 `json:"cost_overrun_tolerance_pct"`
}

// Deadlines are minimum lead times in days before the trip start.
type Deadlines struct {
	MinGuideLeadDays   int `json:"min_guide_lead_days"`
	MinDriverLeadDays  int `json:"min_driver_lead_days"`
	MinLodgingLeadDays int `json:"min_lodging_lead_days"`
}

// Thresholds is the part of a policy rules are evaluated against.
type Thresholds struct {
	Financial          Financial      `json:"financial"`
	Deadlines          Deadlines      `json:"deadlines"`
	ChecklistOverrides map[string]any `json:"checklist_overrides"`
}

// Policy is a versioned, organization-scoped threshold set. At most one policy
// per organization is active.
type Policy struct {
	ID             id.PolicyID       `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Version        int               `json:"version"`
	Active         bool              `json:"active"`
	Thresholds
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// IsDefault marks the non-persisted system fallback.
	IsDefault bool `json:"is_default"`
}

// DefaultFinancial returns the fallback financial thresholds.
func DefaultFinancial() Financial {
	return Financial{
		MinMarginPct:            DefaultMinMarginPct,
		MinDepositPct:           DefaultMinDepositPct,
		CostOverrunTolerancePct: DefaultCostOverrunTolerancePct,
	}
}

// DefaultDeadlines returns the fallback deadline thresholds.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		MinGuideLeadDays:   DefaultMinGuideLeadDays,
		MinDriverLeadDays:  DefaultMinDriverLeadDays,
		MinLodgingLeadDays: DefaultMinLodgingLeadDays,
	}
}

// DefaultPolicy builds the fallback used when an organization has no active policy.
func DefaultPolicy(orgID id.OrganizationID) *Policy {
	return &Policy{
		OrganizationID: orgID,
		Name:           "Política padrão",
		Description:    "Limites padrão do sistema",
		Version:        0,
		Active:         true,
		Thresholds: Thresholds{
			Financial:          DefaultFinancial(),
			Deadlines:          DefaultDeadlines(),
			ChecklistOverrides: map[string]any{},
		},
		IsDefault: true,
	}
}

// FinancialInput carries optional financial thresholds; nil fields fall back.
type FinancialInput struct {
	MinMarginPct            *float64 `json:"min_margin_pct,omitempty"`
	MinDepositPct           *float64 `json:"min_deposit_pct,omitempty"`
	CostOverrunTolerancePct *float64 `json:"cost_overrun_tolerance_pct,omitempty"`
}

// DeadlinesInput carries optional deadline thresholds; nil fields fall back.
type DeadlinesInput struct {
	MinGuideLeadDays   *int `json:"min_guide_lead_days,omitempty"`
	MinDriverLeadDays  *int `json:"min_driver_lead_days,omitempty"`
	MinLodgingLeadDays *int `json:"min_lodging_lead_days,omitempty"`
}

// Apply overlays the set fields onto base.
func (in FinancialInput) Apply(base Financial) Financial {
	if in.MinMarginPct != nil {
		base.MinMarginPct = *in.MinMarginPct
	}
	if in.MinDepositPct != nil {
		base.MinDepositPct = *in.MinDepositPct
	}
	if in.CostOverrunTolerancePct != nil {
		base.CostOverrunTolerancePct = *in.CostOverrunTolerancePct
	}
	return base
}

// Apply overlays the set fields onto base.
func (in DeadlinesInput) Apply(base Deadlines) Deadlines {
	if in.MinGuideLeadDays != nil {
		base.MinGuideLeadDays = *in.MinGuideLeadDays
	}
	if in.MinDriverLeadDays != nil {
		base.MinDriverLeadDays = *in.MinDriverLeadDays
	}
	if in.MinLodgingLeadDays != nil {
		base.MinLodgingLeadDays = *in.MinLodgingLeadDays
	}
	return base
}

// CreateInput describes a new policy.
type CreateInput struct {
	OrganizationID     id.OrganizationID
	Name               string
	Description        string
	Financial          FinancialInput
	Deadlines          DeadlinesInput
	ChecklistOverrides map[string]any
}

// UpdateInput is a patch. Version and active are never patched.
type UpdateInput struct {
	Name               *string
	Description        *string
	Financial          FinancialInput
	Deadlines          DeadlinesInput
	ChecklistOverrides map[string]any
}

// Normalize trims text fields.
func (in *CreateInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
}

// Validate checks a fully populated policy document.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len([]rune(p.Name)) > MaxNameLength {
		return dErrors.Newf(dErrors.CodeValidation, "name must be at most %d characters", MaxNameLength)
	}
	if p.OrganizationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "organization_id is required")
	}
	return p.Thresholds.Validate()
}

// Validate checks percentage ranges and non-negative lead days.
func (t Thresholds) Validate() error {
	pct := map[string]float64{
		"min_margin_pct":             t.Financial.MinMarginPct,
		"min_deposit_pct":            t.Financial.MinDepositPct,
		"cost_overrun_tolerance_pct": t.Financial.CostOverrunTolerancePct,
	}
	for _, name := range []string{"min_margin_pct", "min_deposit_pct", "cost_overrun_tolerance_pct"} {
		if v := pct[name]; v < 0 || v > 100 {
			return dErrors.Newf(dErrors.CodeValidation, "%s must be between 0 and 100", name)
		}
	}
	days := []struct {
		name string
		v    int
	}{
		{"min_guide_lead_days", t.Deadlines.MinGuideLeadDays},
		{"min_driver_lead_days", t.Deadlines.MinDriverLeadDays},
		{"min_lodging_lead_days", t.Deadlines.MinLodgingLeadDays},
	}
	for _, d := range days {
		if d.v < 0 {
			return dErrors.Newf(dErrors.CodeValidation, "%s must not be negative", d.name)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t Thresholds) Clone() Thresholds {
	t.ChecklistOverrides = CloneOverrides(t.ChecklistOverrides)
	return t
}

// CloneOverrides deep-copies nested maps and slices; other values are copied by value.
func CloneOverrides(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneOverrides(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
