// Package services – NotifyService
//
// This file implements the notification dispatcher: the one-shot outbound
// push that tells a user their ticket has been called. Delivery is
// deliberately decoupled from queue correctness — a ticket stays "called"
// even when the push fails, and the documented recovery path is the operator
// calling out by hand. There is exactly one send attempt per transition and
// no automatic retry.
package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/repo"
)

// Pusher sends a text message to a chat identity. Implementations wrap the
// chat-platform transport; see the messaging package.
type Pusher interface {
	Push(ctx context.Context, userID, text string) error
}

// calledTemplate is the fixed text pushed when a ticket is called.
const calledTemplate = "順番が来ました！催事場へお越しください。決済後に調理を開始します。"

// NotifyService pushes state-change notifications to users.
type NotifyService struct {
	// DB is used only for the best-effort outbound audit log.
	DB *gorm.DB
	// Pusher delivers the message; may be nil in tests or dry runs.
	Pusher Pusher
}

// NewNotifyService constructs a NotifyService.
func NewNotifyService(db *gorm.DB, p Pusher) *NotifyService {
	return &NotifyService{DB: db, Pusher: p}
}

// NotifyCalled pushes the fixed called template to the ticket owner and
// appends the outbound text to the audit log. Both steps are best-effort:
// failures are logged and swallowed so the caller's transition stands.
func (s *NotifyService) NotifyCalled(ctx context.Context, t *domain.Ticket) {
	if s.Pusher == nil {
		log.Warn().Int64("ticket_id", t.ID).Msg("no pusher configured, skipping call notification")
		return
	}
	if err := s.Pusher.Push(ctx, t.UserID, calledTemplate); err != nil {
		log.Error().Err(err).
			Int64("ticket_id", t.ID).
			Str("user_id", t.UserID).
			Msg("call notification failed, ticket stays called")
		return
	}
	if s.DB != nil {
		if err := repo.AppendMessageLog(ctx, s.DB, t.UserID, domain.DirectionOut, "push", calledTemplate); err != nil {
			log.Warn().Err(err).Str("user_id", t.UserID).Msg("audit log write failed")
		}
	}
}
