// Package services – InboundService
//
// This file implements the inbound message router: a small state machine
// evaluated synchronously per message. The flow is fixed:
//
//  1. Register the user if unknown (consent=false).
//  2. Not consented → exactly the consent keyword grants consent; anything
//     else gets the consent-request notice and touches no queue state.
//  3. Consented → the normalized text is matched against the reserve and
//     cancel keywords; anything else gets the help text and mutates nothing.
//  4. The raw inbound text (and the reply) is appended to the audit log on
//     every branch, best-effort.
//
// Matching is exact after normalization: surrounding whitespace is trimmed
// and the text is width-folded so full-width input (ｙｏｙａｋｕ, ～　予約　～
// style spacing) matches the half/full-width keyword form.
//
// Reply texts are fixed templates; only the ticket number and waiting count
// vary. A storage fault on any step other than the audit log aborts the
// message with no reply (manual operator fallback is the recovery path).
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/width"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/repo"
)

// Keywords holds the exact-match command vocabulary. Defaults are Japanese
// to match the venue; deployments can override via configuration.
type Keywords struct {
	Consent string // opt-in keyword, e.g. 同意
	Reserve string // take-a-ticket keyword, e.g. 予約
	Cancel  string // cancel keyword, e.g. キャンセル
}

// DefaultKeywords returns the stock Japanese command vocabulary.
func DefaultKeywords() Keywords {
	return Keywords{Consent: "同意", Reserve: "予約", Cancel: "キャンセル"}
}

// Fixed reply templates. Wording mirrors the stall's existing announcements.
const (
	tmplConsentRequest = "ご利用にはデータ利用への同意が必要です。収集するのはチャットの識別子のみです。同意いただける場合は「同意」と送信してください。"
	tmplConsentGranted = "同意ありがとうございます！「予約」と送信すると整理券を発行します。"
	tmplAccepted       = "予約を受け付けました。番号: #%d / ただいまの待ち: %d組"
	tmplAlreadyQueued  = "すでに予約済みです。番号: #%d / ただいまの待ち: %d組"
	tmplBeingCalled    = "お呼び出し中です。番号: #%d。催事場までお越しください。"
	tmplCancelled      = "予約（#%d）をキャンセルしました。"
	tmplNothingToDo    = "キャンセルできる予約はありません。"
	tmplHelp           = "「予約」で整理券の発行、「キャンセル」で予約の取り消しができます。"
)

// InboundService routes inbound chat text to the consent gate and queue
// engine and produces the reply text.
type InboundService struct {
	// DB is used for the best-effort audit log.
	DB *gorm.DB
	// Consent gates all queue interaction.
	Consent *ConsentService
	// Queue performs ticket operations for consented users.
	Queue *QueueService
	// Keywords is the command vocabulary (DefaultKeywords when zero).
	Keywords Keywords
}

// NewInboundService constructs an InboundService with default keywords.
func NewInboundService(db *gorm.DB, consent *ConsentService, queue *QueueService) *InboundService {
	return &InboundService{DB: db, Consent: consent, Queue: queue, Keywords: DefaultKeywords()}
}

// HandleText processes one inbound text message from userID and returns the
// reply to send. An error means a storage fault occurred and no reply should
// be sent for this message.
func (s *InboundService) HandleText(ctx context.Context, userID, text string) (string, error) {
	s.audit(ctx, userID, domain.DirectionIn, "text", text)

	if err := s.Consent.Register(ctx, userID); err != nil {
		return "", err
	}

	cmd := normalizeCommand(text)
	kw := s.keywords()

	consented, err := s.Consent.IsConsented(ctx, userID)
	if err != nil {
		return "", err
	}

	var reply string
	switch {
	case !consented && cmd == normalizeCommand(kw.Consent):
		if err := s.Consent.Grant(ctx, userID); err != nil {
			return "", err
		}
		reply = tmplConsentGranted
	case !consented:
		reply = tmplConsentRequest
	case cmd == normalizeCommand(kw.Reserve):
		reply, err = s.handleReserve(ctx, userID, text)
	case cmd == normalizeCommand(kw.Cancel):
		reply, err = s.handleCancel(ctx, userID)
	default:
		reply = tmplHelp
	}
	if err != nil {
		return "", err
	}

	s.audit(ctx, userID, domain.DirectionOut, "reply", reply)
	return reply, nil
}

// handleReserve issues a ticket or reports the user's existing active one.
func (s *InboundService) handleReserve(ctx context.Context, userID, raw string) (string, error) {
	res, err := s.Queue.RequestTicket(ctx, userID, strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	switch {
	case res.Created:
		return fmt.Sprintf(tmplAccepted, res.Ticket.ID, res.Position), nil
	case res.Ticket.Status == domain.StatusCalled:
		return fmt.Sprintf(tmplBeingCalled, res.Ticket.ID), nil
	default:
		return fmt.Sprintf(tmplAlreadyQueued, res.Ticket.ID, res.Position), nil
	}
}

// handleCancel cancels the active ticket, if any.
func (s *InboundService) handleCancel(ctx context.Context, userID string) (string, error) {
	t, err := s.Queue.CancelActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveTicket) {
			return tmplNothingToDo, nil
		}
		return "", err
	}
	return fmt.Sprintf(tmplCancelled, t.ID), nil
}

// audit appends a message-log row, logging and swallowing failures so the
// reply path is never blocked by the audit trail.
func (s *InboundService) audit(ctx context.Context, userID, direction, kind, content string) {
	if s.DB == nil {
		return
	}
	if err := repo.AppendMessageLog(ctx, s.DB, userID, direction, kind, content); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("direction", direction).Msg("audit log write failed")
	}
}

// keywords returns the configured vocabulary, falling back to defaults when
// the struct was zero-initialized.
func (s *InboundService) keywords() Keywords {
	kw := s.Keywords
	if kw.Consent == "" {
		kw.Consent = "同意"
	}
	if kw.Reserve == "" {
		kw.Reserve = "予約"
	}
	if kw.Cancel == "" {
		kw.Cancel = "キャンセル"
	}
	return kw
}

// normalizeCommand trims surrounding whitespace and folds character width so
// exact keyword matching tolerates full-width input.
func normalizeCommand(s string) string {
	return strings.TrimSpace(width.Fold.String(s))
}
