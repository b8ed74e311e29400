package transition

import (
	"strings"
	"time"
	"unicode/utf8"

	ordermodels "tourops/internal/order/models"
	policymodels "tourops/internal/policy/models"
)

// MinItineraryLength is the description length accepted as an itinerary.
const MinItineraryLength = 50

// Rule categories.
const (
	CategoryParticipants  = "participants"
	CategoryItinerary     = "itinerary"
	CategoryFinancial     = "financial"
	CategorySuppliers     = "suppliers"
	CategoryLogistics     = "logistics"
	CategoryDocumentation = "documentation"
	CategoryTeam          = "team"
	CategoryUnknown       = "unknown"
)

// Field keys.
const (
	KeyParticipants         = "participants"
	KeyItineraryDescription = "itinerary_description"
	KeySaleValue            = "sale_value"
	KeyEstimatedCost        = "estimated_cost"
	KeyMargin               = "margin"
	KeyDeposit              = "deposit"
	KeyPaymentRegistered    = "payment_registered"
	KeySuppliersLinked      = "suppliers_linked"
	KeyLodgingBooked        = "lodging_booked"
	KeyTransportBooked      = "transport_booked"
	KeyActivities           = "activities"
	KeyParticipantDocuments = "participant_documents"
	KeyEmergencyContacts    = "emergency_contacts"
	KeyGuideAssigned        = "guide_assigned"
	KeyDriverAssigned       = "driver_assigned"
	KeyAllExpensesPaid      = "all_expenses_paid"
	KeyCostWithinTolerance  = "cost_within_tolerance"
	KeyFullyPaid            = "fully_paid"
)

// Input is everything a rule may look at. Now is the evaluation instant, so
// a rule is a pure function of its input.
type Input struct {
	Order      *ordermodels.Order
	Thresholds policymodels.Thresholds
	Now        time.Time
}

// Checkable decides whether one checklist item is complete.
type Checkable interface {
	Check(in Input) bool
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(in Input) bool

func (f CheckFunc) Check(in Input) bool { return f(in) }

// Rule binds a field key to its predicate and presentation.
type Rule struct {
	Key       string
	Label     string
	Category  string
	Checkable Checkable
}

// Registry maps field keys to rules.
type Registry struct {
	rules map[string]Rule
}

func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		r.Register(rule)
	}
	return r
}

// Register adds or replaces a rule.
func (r *Registry) Register(rule Rule) {
	r.rules[rule.Key] = rule
}

// Lookup returns the rule for key.
func (r *Registry) Lookup(key string) (Rule, bool) {
	rule, ok := r.rules[key]
	return rule, ok
}

// Evaluate checks one key. Unknown keys are never complete.
func (r *Registry) Evaluate(key string, in Input) bool {
	rule, ok := r.rules[key]
	if !ok || rule.Checkable == nil || in.Order == nil {
		return false
	}
	return rule.Checkable.Check(in)
}

// DefaultRegistry returns the built-in rule set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Rule{KeyParticipants, "Participantes cadastrados", CategoryParticipants, CheckFunc(hasParticipants)},
		Rule{KeyItineraryDescription, "Roteiro descrito", CategoryItinerary, CheckFunc(hasItinerary)},
		Rule{KeySaleValue, "Valor de venda definido", CategoryFinancial, CheckFunc(hasSaleValue)},
		Rule{KeyEstimatedCost, "Custo estimado definido", CategoryFinancial, CheckFunc(hasEstimatedCost)},
		Rule{KeyMargin, "Margem mínima atingida", CategoryFinancial, CheckFunc(meetsMargin)},
		Rule{KeyDeposit, "Sinal mínimo recebido", CategoryFinancial, CheckFunc(meetsDeposit)},
		Rule{KeyPaymentRegistered, "Pagamento registrado", CategoryFinancial, CheckFunc(hasPayment)},
		Rule{KeySuppliersLinked, "Fornecedores vinculados", CategorySuppliers, CheckFunc(hasSuppliers)},
		Rule{KeyLodgingBooked, "Hospedagem confirmada", CategoryLogistics, CheckFunc(lodgingBooked)},
		Rule{KeyTransportBooked, "Transporte confirmado", CategoryLogistics, CheckFunc(transportBooked)},
		Rule{KeyActivities, "Atividades cadastradas", CategoryItinerary, CheckFunc(hasActivities)},
		Rule{KeyParticipantDocuments, "Documentos dos participantes", CategoryDocumentation, CheckFunc(participantDocuments)},
		Rule{KeyEmergencyContacts, "Contatos de emergência", CategoryDocumentation, CheckFunc(emergencyContacts)},
		Rule{KeyGuideAssigned, "Guia designado", CategoryTeam, CheckFunc(guideAssigned)},
		Rule{KeyDriverAssigned, "Motorista designado", CategoryTeam, CheckFunc(driverAssigned)},
		Rule{KeyAllExpensesPaid, "Despesas quitadas", CategoryFinancial, CheckFunc(allExpensesPaid)},
		Rule{KeyCostWithinTolerance, "Custo real dentro da tolerância", CategoryFinancial, CheckFunc(costWithinTolerance)},
		Rule{KeyFullyPaid, "Pagamento integral recebido", CategoryFinancial, CheckFunc(fullyPaid)},
	)
}

func hasParticipants(in Input) bool { return len(in.Order.Participants) > 0 }

func hasItinerary(in Input) bool {
	return utf8.RuneCountInString(strings.TrimSpace(in.Order.Description)) >= MinItineraryLength
}

func hasSaleValue(in Input) bool     { return in.Order.SaleValue > 0 }
func hasEstimatedCost(in Input) bool { return in.Order.EstimatedCost > 0 }

// meetsMargin: (sale - estimated) / sale * 100 >= minimum margin.
func meetsMargin(in Input) bool {
	o := in.Order
	if o.SaleValue <= 0 {
		return false
	}
	margin := (o.SaleValue - o.EstimatedCost) / o.SaleValue * 100
	return margin >= in.Thresholds.Financial.MinMarginPct
}

// meetsDeposit: received / sale * 100 >= minimum deposit.
func meetsDeposit(in Input) bool {
	o := in.Order
	if o.SaleValue <= 0 {
		return false
	}
	return o.ReceivedAmount/o.SaleValue*100 >= in.Thresholds.Financial.MinDepositPct
}

func hasPayment(in Input) bool    { return len(in.Order.Payments) > 0 }
func hasSuppliers(in Input) bool  { return len(in.Order.Suppliers) > 0 }
func hasActivities(in Input) bool { return len(in.Order.Activities) > 0 }

func lodgingBooked(in Input) bool {
	for _, l := range in.Order.Lodgings {
		if l.Confirmed {
			return true
		}
	}
	return deadlinePassed(in, in.Thresholds.Deadlines.MinLodgingLeadDays)
}

func transportBooked(in Input) bool {
	for _, t := range in.Order.Transports {
		if t.Confirmed {
			return true
		}
	}
	return false
}

func participantDocuments(in Input) bool {
	if len(in.Order.Participants) == 0 {
		return false
	}
	for _, p := range in.Order.Participants {
		if strings.TrimSpace(p.DocumentNumber) == "" {
			return false
		}
	}
	return true
}

func emergencyContacts(in Input) bool {
	if len(in.Order.Participants) == 0 {
		return false
	}
	for _, p := range in.Order.Participants {
		if strings.TrimSpace(p.EmergencyContact) == "" {
			return false
		}
	}
	return true
}

// guideAssigned accepts an internal guide or a linked guiding supplier, and
// stops blocking once the guide lead time has run out.
func guideAssigned(in Input) bool {
	if len(in.Order.Guides) > 0 || in.Order.HasGuidingSupplier() {
		return true
	}
	return deadlinePassed(in, in.Thresholds.Deadlines.MinGuideLeadDays)
}

func driverAssigned(in Input) bool {
	if len(in.Order.Drivers) > 0 {
		return true
	}
	return deadlinePassed(in, in.Thresholds.Deadlines.MinDriverLeadDays)
}

func allExpensesPaid(in Input) bool {
	for _, e := range in.Order.Expenses {
		if !e.Paid {
			return false
		}
	}
	return true
}

// costWithinTolerance: actual cost may exceed the estimate by at most the
// policy's overrun tolerance.
func costWithinTolerance(in Input) bool {
	o := in.Order
	if o.EstimatedCost <= 0 {
		return o.ActualCost <= 0
	}
	limit := o.EstimatedCost * (1 + in.Thresholds.Financial.CostOverrunTolerancePct/100)
	return o.ActualCost <= limit
}

func fullyPaid(in Input) bool {
	return in.Order.SaleValue > 0 && in.Order.ReceivedAmount >= in.Order.SaleValue
}

// deadlinePassed reports whether fewer than leadDays remain before the start
// date. Orders without a start date get no relief.
func deadlinePassed(in Input, leadDays int) bool {
	days, ok := in.Order.DaysUntilStart(in.Now)
	return ok && days < leadDays
}
