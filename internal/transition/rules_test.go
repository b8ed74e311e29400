package transition

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ordermodels "tourops/internal/order/models"
	policymodels "tourops/internal/policy/models"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func defaultThresholds() policymodels.Thresholds {
	return policymodels.DefaultPolicy(orgID).Thresholds
}

func startingIn(days int) *time.Time {
	t := testNow.Add(time.Duration(days)*24*time.Hour + time.Hour)
	return &t
}

func evaluate(key string, o *ordermodels.Order) bool {
	return DefaultRegistry().Evaluate(key, Input{Order: o, Thresholds: defaultThresholds(), Now: testNow})
}

func TestRules(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		order ordermodels.Order
		want  bool
	}{
		{"participants present", KeyParticipants, ordermodels.Order{Details: ordermodels.Details{Participants: []ordermodels.Participant{{Name: "Ana"}}}}, true},
		{"participants missing", KeyParticipants, ordermodels.Order{}, false},
		{"itinerary long enough", KeyItineraryDescription, ordermodels.Order{Description: strings.Repeat("a", MinItineraryLength)}, true},
		{"itinerary too short", KeyItineraryDescription, ordermodels.Order{Description: "  Salvador  "}, false},
		{"sale value set", KeySaleValue, ordermodels.Order{SaleValue: 1}, true},
		{"sale value zero", KeySaleValue, ordermodels.Order{}, false},
		{"estimated cost set", KeyEstimatedCost, ordermodels.Order{EstimatedCost: 1}, true},
		{"margin above minimum", KeyMargin, ordermodels.Order{SaleValue: 1000, EstimatedCost: 800}, true},
		{"margin below minimum", KeyMargin, ordermodels.Order{SaleValue: 1000, EstimatedCost: 900}, false},
		{"margin without sale", KeyMargin, ordermodels.Order{EstimatedCost: 10}, false},
		{"deposit above minimum", KeyDeposit, ordermodels.Order{SaleValue: 1000, ReceivedAmount: 350}, true},
		{"deposit below minimum", KeyDeposit, ordermodels.Order{SaleValue: 1000, ReceivedAmount: 299}, false},
		{"payment registered", KeyPaymentRegistered, ordermodels.Order{Details: ordermodels.Details{Payments: []ordermodels.Payment{{Amount: 10}}}}, true},
		{"no payment", KeyPaymentRegistered, ordermodels.Order{}, false},
		{"suppliers linked", KeySuppliersLinked, ordermodels.Order{Details: ordermodels.Details{Suppliers: []ordermodels.Supplier{{Name: "Hotel"}}}}, true},
		{"lodging confirmed", KeyLodgingBooked, ordermodels.Order{Details: ordermodels.Details{Lodgings: []ordermodels.Lodging{{Confirmed: false}, {Confirmed: true}}}}, true},
		{"lodging unconfirmed", KeyLodgingBooked, ordermodels.Order{Details: ordermodels.Details{Lodgings: []ordermodels.Lodging{{Confirmed: false}}}}, false},
		{"transport confirmed", KeyTransportBooked, ordermodels.Order{Details: ordermodels.Details{Transports: []ordermodels.Transport{{Confirmed: true}}}}, true},
		{"transport missing close to start", KeyTransportBooked, ordermodels.Order{StartDate: startingIn(1)}, false},
		{"activities present", KeyActivities, ordermodels.Order{Details: ordermodels.Details{Activities: []ordermodels.Activity{{Name: "Trilha"}}}}, true},
		{"all documents", KeyParticipantDocuments, ordermodels.Order{Details: ordermodels.Details{Participants: []ordermodels.Participant{{DocumentNumber: "1"}, {DocumentNumber: "2"}}}}, true},
		{"one document missing", KeyParticipantDocuments, ordermodels.Order{Details: ordermodels.Details{Participants: []ordermodels.Participant{{DocumentNumber: "1"}, {DocumentNumber: " "}}}}, false},
		{"documents without participants", KeyParticipantDocuments, ordermodels.Order{}, false},
		{"emergency contacts", KeyEmergencyContacts, ordermodels.Order{Details: ordermodels.Details{Participants: []ordermodels.Participant{{EmergencyContact: "Mãe"}}}}, true},
		{"internal guide", KeyGuideAssigned, ordermodels.Order{StartDate: startingIn(30), Details: ordermodels.Details{Guides: []ordermodels.GuideAssignment{{Name: "Caio"}}}}, true},
		{"guiding supplier", KeyGuideAssigned, ordermodels.Order{StartDate: startingIn(30), Details: ordermodels.Details{Suppliers: []ordermodels.Supplier{{Category: ordermodels.SupplierCategoryGuiding}}}}, true},
		{"no guide with time left", KeyGuideAssigned, ordermodels.Order{StartDate: startingIn(30)}, false},
		{"no guide past lead time", KeyGuideAssigned, ordermodels.Order{StartDate: startingIn(3)}, true},
		{"no guide without start date", KeyGuideAssigned, ordermodels.Order{}, false},
		{"driver assigned", KeyDriverAssigned, ordermodels.Order{Details: ordermodels.Details{Drivers: []ordermodels.DriverAssignment{{Name: "Rui"}}}}, true},
		{"no driver with time left", KeyDriverAssigned, ordermodels.Order{StartDate: startingIn(5)}, false},
		{"no driver past lead time", KeyDriverAssigned, ordermodels.Order{StartDate: startingIn(4)}, true},
		{"no lodging past lead time", KeyLodgingBooked, ordermodels.Order{StartDate: startingIn(14)}, true},
		{"no lodging with time left", KeyLodgingBooked, ordermodels.Order{StartDate: startingIn(15)}, false},
		{"expenses paid", KeyAllExpensesPaid, ordermodels.Order{Details: ordermodels.Details{Expenses: []ordermodels.Expense{{Paid: true}}}}, true},
		{"expense open", KeyAllExpensesPaid, ordermodels.Order{Details: ordermodels.Details{Expenses: []ordermodels.Expense{{Paid: true}, {Paid: false}}}}, false},
		{"no expenses", KeyAllExpensesPaid, ordermodels.Order{}, true},
		{"cost within tolerance", KeyCostWithinTolerance, ordermodels.Order{EstimatedCost: 1000, ActualCost: 1050}, true},
		{"cost over tolerance", KeyCostWithinTolerance, ordermodels.Order{EstimatedCost: 1000, ActualCost: 1101}, false},
		{"fully paid", KeyFullyPaid, ordermodels.Order{SaleValue: 1000, ReceivedAmount: 1000}, true},
		{"partially paid", KeyFullyPaid, ordermodels.Order{SaleValue: 1000, ReceivedAmount: 999}, false},
		{"unknown key", "passport_scanned", ordermodels.Order{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			assert.Equal(t, tt.want, evaluate(tt.key, &o))
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("register replaces a rule", func(t *testing.T) {
		r := DefaultRegistry()
		r.Register(Rule{Key: KeyParticipants, Label: "Grupo", Category: CategoryParticipants, Checkable: CheckFunc(func(Input) bool { return true })})

		rule, ok := r.Lookup(KeyParticipants)
		assert.True(t, ok)
		assert.Equal(t, "Grupo", rule.Label)
		assert.True(t, r.Evaluate(KeyParticipants, Input{Order: &ordermodels.Order{}}))
	})

	t.Run("nil order never completes", func(t *testing.T) {
		assert.False(t, DefaultRegistry().Evaluate(KeyAllExpensesPaid, Input{}))
	})
}
