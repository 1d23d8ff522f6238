// Webhook HTTP handler.
//
// This file exposes the chat-platform webhook endpoint:
//   - POST /callback
//
// The handler validates the delivery signature against the raw body,
// deduplicates redelivered events, routes each text event through the
// inbound service, and replies with the produced template. It is
// transport-thin: all queue semantics live in the services layer.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/http/middleware"
	"github.com/tbourn/go-queue-backend/internal/messaging"
	"github.com/tbourn/go-queue-backend/internal/repo"
)

// InboundService routes one inbound text message and returns the reply.
//
// Implementations must be safe for concurrent use; an error means a storage
// fault occurred and no reply should be sent for the message.
type InboundService interface {
	HandleText(ctx context.Context, userID, text string) (string, error)
}

// Replier answers a webhook event via its one-time reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// WebhookHandler handles inbound chat-platform deliveries.
type WebhookHandler struct {
	db            *gorm.DB
	inbound       InboundService
	replier       Replier
	channelSecret string
	dedupeTTL     time.Duration
}

// NewWebhookHandler constructs a WebhookHandler. replier may be nil, in
// which case replies are dropped (useful in tests and dry runs).
func NewWebhookHandler(db *gorm.DB, inbound InboundService, replier Replier, channelSecret string, dedupeTTL time.Duration) *WebhookHandler {
	if dedupeTTL <= 0 {
		dedupeTTL = time.Hour
	}
	return &WebhookHandler{
		db:            db,
		inbound:       inbound,
		replier:       replier,
		channelSecret: channelSecret,
		dedupeTTL:     dedupeTTL,
	}
}

// Callback godoc
// @ID          webhookCallback
// @Summary     Chat-platform webhook
// @Description Receives signed webhook deliveries and routes text events to the reservation queue.
// @Tags        Webhook
// @Accept      json
// @Produce     plain
//
// @Param       X-Line-Signature  header  string  true  "HMAC-SHA256 signature of the raw body"
//
// @Success     200  {string}  string  "OK"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad signature or unreadable body"
// @Router      /callback [post]
func (h *WebhookHandler) Callback(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	if !messaging.ValidateSignature(h.channelSecret, raw, c.GetHeader(messaging.SignatureHeader)) {
		fail(c, http.StatusBadRequest, ErrCodeBadSignature, "signature mismatch")
		return
	}

	body, err := messaging.ParseWebhook(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed webhook body")
		return
	}

	ctx := c.Request.Context()
	for i := range body.Events {
		h.handleEvent(ctx, lg, &body.Events[i])
	}

	// The platform only needs an acknowledgement; event-level failures are
	// logged and never surface as a non-2xx (which would trigger redelivery
	// of the whole batch).
	c.String(http.StatusOK, "OK")
}

// handleEvent processes one event end-to-end: dedupe claim, inbound routing,
// reply send. Each step's failure is terminal for this event only.
func (h *WebhookHandler) handleEvent(ctx context.Context, lg *zerolog.Logger, e *messaging.Event) {
	if !e.IsText() {
		// Stickers, follows, etc. — acknowledged but not routed.
		return
	}

	// Claim the event before acting on it so a redelivered batch cannot run
	// the same command twice. A duplicate claim means a prior delivery
	// already handled (or abandoned) this event.
	if key := e.DedupeKey(); key != "" {
		err := repo.MarkEventProcessed(ctx, h.db, key, e.Source.UserID, h.dedupeTTL)
		if errors.Is(err, repo.ErrDuplicateEvent) {
			lg.Warn().Str("event_id", key).Msg("duplicate webhook event skipped")
			return
		}
		if err != nil {
			lg.Error().Err(err).Str("event_id", key).Msg("event dedupe claim failed, event abandoned")
			return
		}
	}

	reply, err := h.inbound.HandleText(ctx, e.Source.UserID, e.Message.Text)
	if err != nil {
		// Storage fault: the operation is abandoned with no reply; recovery
		// is manual operation at the stall.
		lg.Error().Err(err).Str("user_id", e.Source.UserID).Msg("inbound handling failed, no reply sent")
		return
	}

	if h.replier == nil || reply == "" {
		return
	}
	if err := h.replier.Reply(ctx, e.ReplyToken, reply); err != nil {
		lg.Error().Err(err).Str("user_id", e.Source.UserID).Msg("reply send failed")
	}
}
