// Package models holds the read-only operational order aggregate.
package models

import (
	"time"

	id "tourops/pkg/domain"
)

// SupplierCategoryGuiding marks an external supplier that provides guiding.
const SupplierCategoryGuiding = "guiding"

// Order is an operational order ("OS") with the nested collections the
// checklist rules read. It is owned by the surrounding CRUD system.
type Order struct {
	ID             id.OrderID        `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	Code           string            `json:"code"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Status         Status            `json:"status"`
	StartDate      *time.Time        `json:"start_date,omitempty"`
	EndDate        *time.Time        `json:"end_date,omitempty"`

	SaleValue      float64 `json:"sale_value"`
	EstimatedCost  float64 `json:"estimated_cost"`
	ActualCost     float64 `json:"actual_cost"`
	ReceivedAmount float64 `json:"received_amount"`

	Details
}

// Details are the nested collections, persisted together as one document.
type Details struct {
	Participants []Participant      `json:"participants"`
	Suppliers    []Supplier         `json:"suppliers"`
	Lodgings     []Lodging          `json:"lodgings"`
	Transports   []Transport        `json:"transports"`
	Activities   []Activity         `json:"activities"`
	Guides       []GuideAssignment  `json:"guides"`
	Drivers      []DriverAssignment `json:"drivers"`
	Payments     []Payment          `json:"payments"`
	Expenses     []Expense          `json:"expenses"`
}

type Participant struct {
	Name             string `json:"name"`
	DocumentNumber   string `json:"document_number,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}

type Supplier struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type Lodging struct {
	Name      string `json:"name"`
	Confirmed bool   `json:"confirmed"`
}

type Transport struct {
	Kind      string `json:"kind"`
	Confirmed bool   `json:"confirmed"`
}

type Activity struct {
	Name string `json:"name"`
}

type GuideAssignment struct {
	Name string `json:"name"`
}

type DriverAssignment struct {
	Name string `json:"name"`
}

type Payment struct {
	Amount float64   `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
}

type Expense struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Paid        bool    `json:"paid"`
}

// HasGuidingSupplier reports whether an external guiding supplier is linked.
func (o *Order) HasGuidingSupplier() bool {
	for _, s := range o.Suppliers {
		if s.Category == SupplierCategoryGuiding {
			return true
		}
	}
	return false
}

// DaysUntilStart returns whole days between now and the start date, and false
// when the order has no start date.
func (o *Order) DaysUntilStart(now time.Time) (int, bool) {
	if o.StartDate == nil {
		return 0, false
	}
	return int(o.StartDate.Sub(now).Hours() / 24), true
}
