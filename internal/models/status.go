package models

import "github.com/pkg/errors"

type DeliveryStatus string

const (
	StatusRegistered     DeliveryStatus = "REGISTERED"
	StatusPickedUp       DeliveryStatus = "PICKED_UP"
	StatusInTransit      DeliveryStatus = "IN_TRANSIT"
	StatusOutForDelivery DeliveryStatus = "OUT_FOR_DELIVERY"
	// StatusInBox: посылка передана в ячейку (custody у локера).
	StatusInBox DeliveryStatus = "IN_BOX"
	// StatusDelivered: получатель подтвердил, что забрал посылку.
	StatusDelivered DeliveryStatus = "DELIVERED"
)

// IN_BOX and DELIVERED share the top rank.
var statusRank = map[DeliveryStatus]int{
	StatusRegistered:     1,
	StatusPickedUp:       2,
	StatusInTransit:      3,
	StatusOutForDelivery: 4,
	StatusInBox:          5,
	StatusDelivered:      5,
}

var statusProgress = map[DeliveryStatus]int{
	StatusRegistered:     10,
	StatusPickedUp:       25,
	StatusInTransit:      50,
	StatusOutForDelivery: 75,
	StatusInBox:          100,
	StatusDelivered:      100,
}

func (s DeliveryStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s DeliveryStatus) String() string { return string(s) }

func ProgressPercent(s DeliveryStatus) int {
	return statusProgress[s]
}

// IsTerminal reports whether the package no longer needs carrier polling.
// IN_BOX is not terminal: the resident still has to pick the parcel up.
func IsTerminal(s DeliveryStatus) bool {
	return s == StatusDelivered
}

// Compare returns -1, 0 or 1 following the delivery progress order.
// Unknown statuses rank below REGISTERED.
func Compare(a, b DeliveryStatus) int {
	ra, rb := statusRank[a], statusRank[b]
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// IsRegression reports a move backwards in the progress order. Carriers do
// report these; they are accepted but worth logging.
func IsRegression(from, to DeliveryStatus) bool {
	return Compare(to, from) < 0
}

// CheckTransition validates a status change. The only rejected move is
// DELIVERED -> IN_BOX: a parcel the resident already picked up cannot go
// back into the locker.
func CheckTransition(from, to DeliveryStatus) error {
	if !to.Valid() {
		return errors.Wrapf(ErrInvalidTransition, "unknown status %q", to)
	}
	if from == StatusDelivered && to == StatusInBox {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}
