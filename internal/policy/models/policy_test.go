package models

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

func ptr[T any](v T) *T { return &v }

func validPolicy() *Policy {
	return &Policy{
		OrganizationID: id.OrganizationID(uuid.New()),
		Name:           "Padrão 2026",
		Thresholds: Thresholds{
			Financial: DefaultFinancial(),
			Deadlines: DefaultDeadlines(),
		},
	}
}

func TestDefaultPolicy(t *testing.T) {
	org := id.OrganizationID(uuid.New())
	p := DefaultPolicy(org)
	assert.True(t, p.IsDefault)
	assert.Equal(t, org, p.OrganizationID)
	assert.Equal(t, 15.0, p.Financial.MinMarginPct)
	assert.Equal(t, 30.0, p.Financial.MinDepositPct)
	assert.Equal(t, 10.0, p.Financial.CostOverrunTolerancePct)
	assert.Equal(t, Deadlines{MinGuideLeadDays: 7, MinDriverLeadDays: 5, MinLodgingLeadDays: 15}, p.Deadlines)
	require.NoError(t, p.Thresholds.Validate())
}

func TestInputApply(t *testing.T) {
	f := FinancialInput{MinMarginPct: ptr(20.0)}.Apply(DefaultFinancial())
	assert.Equal(t, 20.0, f.MinMarginPct)
	assert.Equal(t, DefaultMinDepositPct, f.MinDepositPct)

	d := DeadlinesInput{MinDriverLeadDays: ptr(0)}.Apply(DefaultDeadlines())
	assert.Equal(t, 0, d.MinDriverLeadDays)
	assert.Equal(t, DefaultMinGuideLeadDays, d.MinGuideLeadDays)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"blank name", func(p *Policy) { p.Name = "  " }},
		{"name too long", func(p *Policy) { p.Name = strings.Repeat("a", MaxNameLength+1) }},
		{"missing organization", func(p *Policy) { p.OrganizationID = id.OrganizationID{} }},
		{"margin above 100", func(p *Policy) { p.Financial.MinMarginPct = 101 }},
		{"negative deposit", func(p *Policy) { p.Financial.MinDepositPct = -1 }},
		{"negative lead days", func(p *Policy) { p.Deadlines.MinLodgingLeadDays = -3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}

	require.NoError(t, validPolicy().Validate())
}

func TestNewSnapshotIsDeepCopy(t *testing.T) {
	p := validPolicy()
	p.ID = id.PolicyID(uuid.New())
	p.Version = 3
	p.ChecklistOverrides = map[string]any{
		"planning->quoting": map[string]any{"required": []any{"participants"}},
	}

	snap := NewSnapshot(id.SnapshotID(uuid.New()), id.OrderID(uuid.New()), p, time.Now())
	p.ChecklistOverrides["planning->quoting"].(map[string]any)["required"].([]any)[0] = "changed"
	p.Financial.MinMarginPct = 50

	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, p.ID, snap.PolicyID)
	assert.Equal(t, DefaultMinMarginPct, snap.Financial.MinMarginPct)
	nested := snap.ChecklistOverrides["planning->quoting"].(map[string]any)["required"].([]any)
	assert.Equal(t, "participants", nested[0])
}
