// Package services – QueueService
//
// This file implements the reservation state machine and queue-position
// engine. It owns the ticket lifecycle (waiting → called → arrived, with
// waiting/called → cancelled), computes FIFO positions, and enforces the
// one-active-ticket-per-user rule.
//
// Correctness rests on two storage primitives rather than application locks:
//   - the unique index on tickets.active_key rejects a second active ticket
//     for the same user at insert time;
//   - every status transition is a conditional UPDATE guarded by the expected
//     current status (compare-and-set), so racing transitions of the same
//     ticket resolve to exactly one winner.
//
// Positions are best-effort snapshots: a reported position may go stale the
// moment other tickets are created or called. That is accepted for display.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// user and ticket identifiers. A Prometheus gauge tracks waiting depth.
package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/repo"
)

var (
	// queueWaiting gauges the number of tickets currently waiting.
	queueWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_waiting_tickets",
		Help: "Number of tickets currently in waiting status.",
	})

	// queueTransitions counts lifecycle transitions by target status.
	queueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_ticket_transitions_total",
			Help: "Total ticket status transitions by target status.",
		},
		[]string{"to"},
	)
)

func init() {
	prometheus.MustRegister(queueWaiting, queueTransitions)
}

// TicketResult is the outcome of RequestTicket. When Created is false the
// user already held an active ticket and Ticket/Position describe that
// existing ticket (the AlreadyActive outcome — a normal result, not an
// error).
type TicketResult struct {
	Ticket   *domain.Ticket
	Position int64
	Created  bool
}

// QueueService performs ticket state transitions and position computation.
type QueueService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewQueueService constructs a QueueService bound to db.
func NewQueueService(db *gorm.DB) *QueueService {
	return &QueueService{DB: db}
}

// RequestTicket creates a waiting ticket for userID unless the user already
// holds an active one, in which case the existing ticket is returned with
// Created=false. The insert and the duplicate check are both resolved by the
// active_key unique index, so two concurrent requests for the same user
// cannot both create tickets.
func (s *QueueService) RequestTicket(ctx context.Context, userID, message string) (*TicketResult, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "RequestTicket",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	t, err := repo.CreateTicket(ctx, s.DB, userID, message, "")
	if err == nil {
		pos, perr := repo.CountWaitingBefore(ctx, s.DB, t.ID)
		if perr != nil {
			return nil, perr
		}
		s.observeWaiting(ctx)
		queueTransitions.WithLabelValues(domain.StatusWaiting).Inc()
		return &TicketResult{Ticket: t, Position: pos, Created: true}, nil
	}
	if !errors.Is(err, repo.ErrActiveExists) {
		return nil, err
	}

	// AlreadyActive: report the existing ticket and its current position.
	existing, err := repo.ActiveTicket(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// The active ticket was released between insert and lookup;
			// treat as a transient conflict and let the user retry.
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	pos, err := s.PositionOf(ctx, existing)
	if err != nil {
		return nil, err
	}
	return &TicketResult{Ticket: existing, Position: pos, Created: false}, nil
}

// CancelActive cancels the user's single active ticket and returns it.
// Returns ErrNoActiveTicket when the user holds none. The transition is
// guarded by the waiting/called status check, so a ticket concurrently
// marked arrived by the operator cannot be cancelled.
func (s *QueueService) CancelActive(ctx context.Context, userID string) (*domain.Ticket, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "CancelActive",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	active, err := repo.ActiveTicket(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoActiveTicket
		}
		return nil, err
	}

	t, err := repo.TransitionStatus(ctx, s.DB, active.ID,
		[]string{domain.StatusWaiting, domain.StatusCalled}, domain.StatusCancelled)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost the race against an operator transition.
			return nil, ErrNoActiveTicket
		}
		return nil, err
	}
	s.observeWaiting(ctx)
	queueTransitions.WithLabelValues(domain.StatusCancelled).Inc()
	return t, nil
}

// CallNext transitions the waiting ticket with the smallest number to
// called and returns it. Returns ErrQueueEmpty when no ticket is waiting.
// Selection and transition are separate statements, so the CAS may lose to a
// concurrent caller; in that case the next candidate is selected until one
// is claimed or the queue drains.
func (s *QueueService) CallNext(ctx context.Context) (*domain.Ticket, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "CallNext")
	defer span.End()

	for {
		head, err := repo.OldestWaiting(ctx, s.DB)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrQueueEmpty
			}
			return nil, err
		}

		t, err := repo.TransitionStatus(ctx, s.DB, head.ID,
			[]string{domain.StatusWaiting}, domain.StatusCalled)
		if err == nil {
			s.observeWaiting(ctx)
			queueTransitions.WithLabelValues(domain.StatusCalled).Inc()
			return t, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		// Another caller claimed this ticket between SELECT and UPDATE.
	}
}

// CallSpecific transitions the given ticket from waiting to called out of
// FIFO order (operator override). Returns ErrTicketNotFound for unknown
// numbers and ErrInvalidTransition when the ticket is not waiting.
func (s *QueueService) CallSpecific(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "CallSpecific",
		trace.WithAttributes(attribute.Int64("ticket.id", ticketID)),
	)
	defer span.End()

	t, err := s.transitionChecked(ctx, ticketID, []string{domain.StatusWaiting}, domain.StatusCalled)
	if err != nil {
		return nil, err
	}
	s.observeWaiting(ctx)
	queueTransitions.WithLabelValues(domain.StatusCalled).Inc()
	return t, nil
}

// MarkArrived transitions a called ticket to arrived. Returns
// ErrTicketNotFound for unknown numbers and ErrInvalidTransition when the
// ticket is not currently called (including retried operator requests, which
// therefore fail cleanly instead of re-notifying).
func (s *QueueService) MarkArrived(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "MarkArrived",
		trace.WithAttributes(attribute.Int64("ticket.id", ticketID)),
	)
	defer span.End()

	t, err := s.transitionChecked(ctx, ticketID, []string{domain.StatusCalled}, domain.StatusArrived)
	if err != nil {
		return nil, err
	}
	queueTransitions.WithLabelValues(domain.StatusArrived).Inc()
	return t, nil
}

// PositionOf returns the zero-based queue position of a waiting ticket: the
// count of waiting tickets with a strictly smaller number. Once the ticket
// has left waiting the position is defined as 0.
func (s *QueueService) PositionOf(ctx context.Context, t *domain.Ticket) (int64, error) {
	if t.Status != domain.StatusWaiting {
		return 0, nil
	}
	return repo.CountWaitingBefore(ctx, s.DB, t.ID)
}

// transitionChecked applies a guarded transition and maps the ambiguous
// "no rows" outcome to ErrTicketNotFound or ErrInvalidTransition by loading
// the ticket after the failed CAS.
func (s *QueueService) transitionChecked(ctx context.Context, ticketID int64, from []string, to string) (*domain.Ticket, error) {
	t, err := repo.TransitionStatus(ctx, s.DB, ticketID, from, to)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if _, gerr := repo.GetTicket(ctx, s.DB, ticketID); gerr != nil {
		if errors.Is(gerr, repo.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, gerr
	}
	return nil, ErrInvalidTransition
}

// observeWaiting refreshes the waiting-depth gauge. Metric upkeep is
// best-effort; a failed count never fails the operation that triggered it.
func (s *QueueService) observeWaiting(ctx context.Context) {
	if n, err := repo.CountByStatus(ctx, s.DB, domain.StatusWaiting); err == nil {
		queueWaiting.Set(float64(n))
	}
}
