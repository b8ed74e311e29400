package handler

import (
	"strings"

	"tourops/internal/policy/models"
	id "tourops/pkg/domain"
	dErrors "tourops/pkg/domain-errors"
)

// CreatePolicyRequest is the body of POST /organizations/{orgID}/policies.
type CreatePolicyRequest struct {
	Name               string                `json:"name"`
	Description        string                `json:"description"`
	Financial          models.FinancialInput `json:"financial"`
	Deadlines          models.DeadlinesInput `json:"deadlines"`
	ChecklistOverrides map[string]any        `json:"checklist_overrides"`
}

func (r *CreatePolicyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len([]rune(r.Name)) > models.MaxNameLength {
		return dErrors.Newf(dErrors.CodeValidation, "name must be at most %d characters", models.MaxNameLength)
	}
	return nil
}

func (r *CreatePolicyRequest) ToInput(orgID id.OrganizationID) models.CreateInput {
	return models.CreateInput{
		OrganizationID:     orgID,
		Name:               r.Name,
		Description:        r.Description,
		Financial:          r.Financial,
		Deadlines:          r.Deadlines,
		ChecklistOverrides: r.ChecklistOverrides,
	}
}

// UpdatePolicyRequest is the body of PATCH /organizations/{orgID}/policies/{policyID}.
type UpdatePolicyRequest struct {
	Name               *string               `json:"name"`
	Description        *string               `json:"description"`
	Financial          models.FinancialInput `json:"financial"`
	Deadlines          models.DeadlinesInput `json:"deadlines"`
	ChecklistOverrides map[string]any        `json:"checklist_overrides"`
}

func (r *UpdatePolicyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Name != nil {
		trimmed := strings.TrimSpace(*r.Name)
		r.Name = &trimmed
	}
	return nil
}

func (r *UpdatePolicyRequest) ToInput() models.UpdateInput {
	return models.UpdateInput{
		Name:               r.Name,
		Description:        r.Description,
		Financial:          r.Financial,
		Deadlines:          r.Deadlines,
		ChecklistOverrides: r.ChecklistOverrides,
	}
}

// SnapshotRequest is the body of POST /orders/{orderID}/policy-snapshots.
// Without a policy id the organization's active policy is frozen.
type SnapshotRequest struct {
	OrganizationID string `json:"organization_id"`
	PolicyID       string `json:"policy_id"`

	orgID    id.OrganizationID
	policyID id.PolicyID
}

func (r *SnapshotRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.PolicyID != "" {
		policyID, err := id.ParsePolicyID(r.PolicyID)
		if err != nil {
			return err
		}
		r.policyID = policyID
		return nil
	}
	orgID, err := id.ParseOrganizationID(r.OrganizationID)
	if err != nil {
		return err
	}
	r.orgID = orgID
	return nil
}
