package enums

import "fmt"

// ReservationStatus tracks a reservation from creation to its single
// terminal state.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusExpired   ReservationStatus = "expired"
)

var validReservationStatuses = []ReservationStatus{
	ReservationStatusActive,
	ReservationStatusCommitted,
	ReservationStatusReleased,
	ReservationStatusExpired,
}

// String implements fmt.Stringer.
func (r ReservationStatus) String() string {
	return string(r)
}

// ParseReservationStatus converts raw input into a ReservationStatus.
func ParseReservationStatus(value string) (ReservationStatus, error) {
	for _, candidate := range validReservationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation status %q", value)
}

// IsValid reports whether the value is a known ReservationStatus.
func (r ReservationStatus) IsValid() bool {
	for _, candidate := range validReservationStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the reservation can no longer change state.
func (r ReservationStatus) IsTerminal() bool {
	return r != ReservationStatusActive
}
