// Package domain defines the persistence models for queue users, tickets,
// and the message audit log. These types are mapped with GORM and form the
// core data layer of the reservation service.
package domain

import "time"

// Ticket lifecycle statuses. Transitions are monotone:
// waiting → called → arrived, with waiting/called → cancelled as the only
// other edge. Arrived and cancelled are terminal.
const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusArrived   = "arrived"
	StatusCancelled = "cancelled"
)

// Message log directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// User represents a chat identity known to the service. Users are created on
// their first inbound message with Consented=false and are never deleted;
// the only mutation is the one-way consent grant.
//
// Fields:
//   - ID: opaque chat-channel user identifier (primary key).
//   - Consented: whether the user has opted in to data collection. No queue
//     operation is permitted while false.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID        string    `json:"id"        gorm:"type:varchar(64);primaryKey"`
	Consented bool      `json:"consented" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Ticket is a numbered reservation in the walk-up queue. The autoincrement
// ID doubles as the FIFO ordering key: a waiting ticket's position is the
// count of waiting tickets with a smaller ID.
//
// ActiveKey enforces the one-active-ticket-per-user invariant at the storage
// layer: it holds the owner's user ID while the ticket is active (waiting or
// called) and NULL afterwards, under a unique index. A second insert for the
// same user while one is active fails with a uniqueness violation instead of
// silently producing two active tickets.
//
// Fields:
//   - ID: monotonically increasing ticket number (primary key, FIFO key).
//   - UserID: owning chat identity; indexed for active-ticket lookup.
//   - Message: free text captured from the reservation request.
//   - TypeID: optional category tag shown on the operator dashboard.
//   - Status: one of waiting/called/arrived/cancelled (DB constraint).
//   - ActiveKey: UserID while active, NULL once terminal.
//   - CalledAt / FinishedAt: set by the corresponding transitions.
type Ticket struct {
	ID         int64      `json:"id"          gorm:"primaryKey;autoIncrement"`
	UserID     string     `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_ticket_user"`
	Message    string     `json:"message"     gorm:"type:text"`
	TypeID     string     `json:"type,omitempty" gorm:"column:type_id;type:varchar(64);index:idx_ticket_type"`
	Status     string     `json:"status"      gorm:"type:varchar(16);not null;index:idx_ticket_status;check:status IN ('waiting','called','arrived','cancelled')"`
	ActiveKey  *string    `json:"-"           gorm:"type:varchar(64);uniqueIndex:ux_ticket_active"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Ticket.
func (Ticket) TableName() string { return "tickets" }

// Active reports whether the ticket currently counts against its owner's
// one-active-ticket allowance.
func (t *Ticket) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusCalled
}

// MessageLog is an append-only audit record of raw inbound and outbound
// message text per user. Writes are best-effort: a failed append never blocks
// the user-visible reply.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: chat identity the message belongs to; indexed with CreatedAt
//     so per-user history reads in append order.
//   - Direction: "in" (received) or "out" (sent).
//   - Kind: coarse classification of the message (e.g. "command", "reply",
//     "push") for operator-side filtering.
//   - Content: the raw message text.
type MessageLog struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_msglog_user,priority:1"`
	Direction string    `json:"direction"  gorm:"type:varchar(8);not null;check:direction IN ('in','out')"`
	Kind      string    `json:"kind"       gorm:"type:varchar(32)"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_msglog_user,priority:2"`
}

// TableName returns the database table name for MessageLog.
func (MessageLog) TableName() string { return "message_logs" }

// WebhookEvent marks a chat-platform event as processed so redelivered
// webhooks (the platform retries on slow responses) are handled at most once.
// Rows expire after a TTL and are pruned opportunistically.
type WebhookEvent struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	EventID   string    `json:"event_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_webhook_event"`
	UserID    string    `json:"user_id"  gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }
