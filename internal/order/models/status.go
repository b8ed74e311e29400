package models

import (
	"fmt"
)

// Status is the lifecycle state of an operational order.
type Status string

const (
	StatusPlanning              Status = "planning"
	StatusQuoting               Status = "quoting"
	StatusReservationsPending   Status = "reservations_pending"
	StatusReservationsConfirmed Status = "reservations_confirmed"
	StatusDocumentation         Status = "documentation"
	StatusReadyToTravel         Status = "ready_to_travel"
	StatusInProgress            Status = "in_progress"
	StatusCompleted             Status = "completed"
	StatusPostTrip              Status = "post_trip"
	StatusCancelled             Status = "cancelled"
)

var statusLabels = map[Status]string{
	StatusPlanning:              "Planejamento",
	StatusQuoting:               "Cotação",
	StatusReservationsPending:   "Reservas Pendentes",
	StatusReservationsConfirmed: "Reservas Confirmadas",
	StatusDocumentation:         "Documentação",
	StatusReadyToTravel:         "Pronto para Viagem",
	StatusInProgress:            "Em Andamento",
	StatusCompleted:             "Concluída",
	StatusPostTrip:              "Pós-Viagem",
	StatusCancelled:             "Cancelada",
}

var allStatuses = []Status{
	StatusPlanning,
	StatusQuoting,
	StatusReservationsPending,
	StatusReservationsConfirmed,
	StatusDocumentation,
	StatusReadyToTravel,
	StatusInProgress,
	StatusCompleted,
	StatusPostTrip,
	StatusCancelled,
}

// AllStatuses returns the lifecycle states in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus validates a wire value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

func (s Status) IsValid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the operator-facing display name.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

func (s Status) String() string {
	return string(s)
}
