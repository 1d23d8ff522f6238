// Package services defines the business logic for consent, the reservation
// queue, notifications, and inbound message routing. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// Most of these are domain outcomes rather than faults: an empty queue or a
// rejected transition is a normal result of racing operators, and handlers
// map them to specific replies or HTTP statuses. Storage faults are returned
// as the raw underlying error.
package services

import "errors"

var (
	// ErrQueueEmpty is returned by CallNext when no ticket is waiting.
	ErrQueueEmpty = errors.New("no waiting tickets")

	// ErrNoActiveTicket is returned when an operation needs the user's
	// active ticket and the user holds none.
	ErrNoActiveTicket = errors.New("no active ticket")

	// ErrInvalidTransition is returned when a ticket is not in a status the
	// requested transition accepts (e.g. finishing a ticket that was never
	// called, or re-calling an already-called ticket).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTicketNotFound indicates that the requested ticket does not exist.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrNotConsented is returned when a queue operation is attempted for a
	// user whose consent flag is false. The inbound router checks consent
	// before dispatching, so this surfaces only on direct misuse.
	ErrNotConsented = errors.New("user has not consented")
)
