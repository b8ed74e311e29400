package transition

import ordermodels "tourops/internal/order/models"

// ChecklistItem is a configured item paired with its computed completion.
type ChecklistItem struct {
	FieldKey  string `json:"field_key"`
	Label     string `json:"label"`
	Category  string `json:"category"`
	Required  bool   `json:"required"`
	Completed bool   `json:"completed"`
}

// Finding is an incomplete item presented to the operator.
type Finding struct {
	FieldKey    string `json:"field_key"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Mandatory   bool   `json:"mandatory"`
}

// Result is the verdict for one transition. Checks are completed required
// items, Warnings are incomplete recommended items and Blockers are
// incomplete required items.
type Result struct {
	FromStatus           ordermodels.Status `json:"from_status"`
	ToStatus             ordermodels.Status `json:"to_status"`
	Guarded              bool               `json:"guarded"`
	RequiredChecklist    []ChecklistItem    `json:"required_checklist"`
	RecommendedChecklist []ChecklistItem    `json:"recommended_checklist"`
	CanProceed           bool               `json:"can_proceed"`
	Blockers             []Finding          `json:"blockers"`
	Checks               []ChecklistItem    `json:"checks"`
	Warnings             []Finding          `json:"warnings"`
	PolicyVersion        int                `json:"policy_version"`
}

// BlockerKeys lists the field keys of unmet required items.
func (r *Result) BlockerKeys() []string {
	keys := make([]string, 0, len(r.Blockers))
	for _, b := range r.Blockers {
		keys = append(keys, b.FieldKey)
	}
	return keys
}
