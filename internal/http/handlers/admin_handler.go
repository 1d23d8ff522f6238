// Operator HTTP handlers.
//
// This file exposes the REST endpoints behind the operator dashboard:
//   - GET  /admin/data         (active tickets, filterable/sortable, ETag)
//   - GET  /admin/type_counts  (active tickets grouped by type tag)
//   - GET  /admin/history      (arrived/cancelled tickets)
//   - GET  /admin/logs         (per-user message audit trail)
//   - POST /admin/call_next    (call the head of the queue)
//   - POST /admin/call/{id}    (call a specific waiting ticket)
//   - POST /admin/finish/{id}  (mark a called ticket arrived)
//
// Handlers are transport-thin: they validate input, call the queue service,
// and translate domain outcomes into HTTP responses. Mutating endpoints are
// idempotent on retry because the underlying transitions are guarded — a
// repeated call on an already-called ticket fails with 409 and does not
// re-notify.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/repo"
	"github.com/tbourn/go-queue-backend/internal/services"
	"github.com/tbourn/go-queue-backend/internal/utils"
)

// QueueService defines the queue operations consumed by operator endpoints.
//
// Implementations must be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueueService interface {
	// CallNext transitions the oldest waiting ticket to called.
	CallNext(ctx context.Context) (*domain.Ticket, error)
	// CallSpecific transitions a given waiting ticket to called.
	CallSpecific(ctx context.Context, ticketID int64) (*domain.Ticket, error)
	// MarkArrived transitions a called ticket to arrived.
	MarkArrived(ctx context.Context, ticketID int64) (*domain.Ticket, error)
}

// Notifier pushes the "you are called" message after a successful call
// transition. Send failures never roll the transition back.
type Notifier interface {
	NotifyCalled(ctx context.Context, t *domain.Ticket)
}

// AdminHandler groups the operator endpoints.
type AdminHandler struct {
	db       *gorm.DB
	queue    QueueService
	notifier Notifier
}

// NewAdminHandler constructs an AdminHandler bound to the given
// dependencies. notifier may be nil to disable call notifications.
func NewAdminHandler(db *gorm.DB, queue QueueService, notifier Notifier) *AdminHandler {
	return &AdminHandler{db: db, queue: queue, notifier: notifier}
}

//
// DTOs
//

// TicketListResponse wraps a ticket listing for the dashboard.
type TicketListResponse struct {
	Rows []domain.Ticket `json:"rows"`
}

// TypeCountEntry is one slice of the active-queue type breakdown.
type TypeCountEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// TypeCountsResponse wraps the type breakdown.
type TypeCountsResponse struct {
	Counts []TypeCountEntry `json:"counts"`
}

// MessageLogResponse wraps a user's audit trail.
type MessageLogResponse struct {
	Logs []domain.MessageLog `json:"logs"`
}

//
// Helpers
//

// ticketID parses and validates the :id path parameter. Malformed
// identifiers are rejected before reaching the queue engine.
func ticketID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ticket id must be a positive integer")
		return 0, false
	}
	return id, true
}

// failQueueErr maps queue service outcomes to HTTP responses.
func failQueueErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "ticket not found")
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, "ticket is not in a callable state")
	case errors.Is(err, services.ErrQueueEmpty):
		fail(c, http.StatusNotFound, ErrCodeQueueEmpty, "no waiting tickets")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// ListActive godoc
// @ID          listActiveTickets
// @Summary     List active tickets
// @Description Returns waiting and called tickets, optionally filtered by type and sorted. Supports weak ETag via If-None-Match.
// @Tags        Operator
// @Produce     json
//
// @Param       type_id     query  string  false  "Filter by type tag"
// @Param       sort_by     query  string  false  "id or created_at"      Enums(id, created_at)
// @Param       sort_order  query  string  false  "asc or desc"           Enums(asc, desc)
//
// @Success     200  {object}  handlers.TicketListResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/data [get]
func (h *AdminHandler) ListActive(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort); dashboards poll this endpoint every few
	// seconds and the queue is idle most of the time.
	if count, maxTS, err := repo.ActiveTicketStats(ctx, h.db); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"active:%d:%d"`, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	rows, err := repo.ListActiveTickets(ctx, h.db,
		c.Query("type_id"), c.Query("sort_by"), c.Query("sort_order"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, TicketListResponse{Rows: rows})
}

// TypeCounts godoc
// @ID          typeCounts
// @Summary     Active ticket counts per type
// @Tags        Operator
// @Produce     json
// @Success     200  {object}  handlers.TypeCountsResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/type_counts [get]
func (h *AdminHandler) TypeCounts(c *gin.Context) {
	counts, err := repo.CountActiveByType(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	out := make([]TypeCountEntry, 0, len(counts))
	for _, tc := range counts {
		out = append(out, TypeCountEntry{Name: tc.TypeID, Count: tc.Count})
	}
	ok(c, http.StatusOK, TypeCountsResponse{Counts: out})
}

// History godoc
// @ID          ticketHistory
// @Summary     List finished tickets
// @Description Returns arrived and cancelled tickets with the same filter/sort parameters as the active listing.
// @Tags        Operator
// @Produce     json
//
// @Param       type_id     query  string  false  "Filter by type tag"
// @Param       sort_by     query  string  false  "id or created_at"  Enums(id, created_at)
// @Param       sort_order  query  string  false  "asc or desc"       Enums(asc, desc)
//
// @Success     200  {object}  handlers.TicketListResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/history [get]
func (h *AdminHandler) History(c *gin.Context) {
	rows, err := repo.ListFinishedTickets(c.Request.Context(), h.db,
		c.Query("type_id"), c.Query("sort_by"), c.Query("sort_order"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, TicketListResponse{Rows: rows})
}

// Logs godoc
// @ID          messageLogs
// @Summary     Per-user message audit trail
// @Tags        Operator
// @Produce     json
//
// @Param       user_id  query  string  true   "Chat identity"
// @Param       limit    query  int     false  "Max records (default 100)"
//
// @Success     200  {object}  handlers.MessageLogResponse
// @Failure     400  {object}  handlers.ErrorResponse "Missing user_id"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/logs [get]
func (h *AdminHandler) Logs(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 100)
	logs, err := repo.ListMessageLog(c.Request.Context(), h.db, userID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, MessageLogResponse{Logs: logs})
}

// CallNext godoc
// @ID          callNext
// @Summary     Call the next waiting ticket
// @Description Transitions the oldest waiting ticket to called and notifies its owner.
// @Tags        Operator
// @Produce     json
// @Success     200  {object}  domain.Ticket
// @Failure     404  {object}  handlers.ErrorResponse "Queue empty"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/call_next [post]
func (h *AdminHandler) CallNext(c *gin.Context) {
	t, err := h.queue.CallNext(c.Request.Context())
	if err != nil {
		failQueueErr(c, err)
		return
	}
	h.notify(c, t)
	ok(c, http.StatusOK, t)
}

// CallTicket godoc
// @ID          callTicket
// @Summary     Call a specific waiting ticket
// @Description Operator override: transitions the given ticket from waiting to called out of FIFO order and notifies its owner. Retried calls on an already-called ticket fail with 409 and do not re-notify.
// @Tags        Operator
// @Produce     json
//
// @Param       id  path  int  true  "Ticket number"
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse "Bad ticket id"
// @Failure     404  {object}  handlers.ErrorResponse "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse "Not waiting"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/call/{id} [post]
func (h *AdminHandler) CallTicket(c *gin.Context) {
	id, okID := ticketID(c)
	if !okID {
		return
	}
	t, err := h.queue.CallSpecific(c.Request.Context(), id)
	if err != nil {
		failQueueErr(c, err)
		return
	}
	h.notify(c, t)
	ok(c, http.StatusOK, t)
}

// FinishTicket godoc
// @ID          finishTicket
// @Summary     Mark a called ticket as arrived
// @Tags        Operator
// @Produce     json
//
// @Param       id  path  int  true  "Ticket number"
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse "Bad ticket id"
// @Failure     404  {object}  handlers.ErrorResponse "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse "Not called"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/finish/{id} [post]
func (h *AdminHandler) FinishTicket(c *gin.Context) {
	id, okID := ticketID(c)
	if !okID {
		return
	}
	t, err := h.queue.MarkArrived(c.Request.Context(), id)
	if err != nil {
		failQueueErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// notify pushes the called notification when a notifier is configured.
func (h *AdminHandler) notify(c *gin.Context, t *domain.Ticket) {
	if h.notifier != nil {
		h.notifier.NotifyCalled(c.Request.Context(), t)
	}
}
