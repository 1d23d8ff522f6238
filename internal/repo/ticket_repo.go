// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Ticket
// model: creation, active-ticket lookup, FIFO selection, position counting,
// and guarded status transitions.
//
// Concurrency model:
//   - Status transitions are compare-and-set: a conditional UPDATE guarded by
//     the expected current status, checked via RowsAffected. Two concurrent
//     transitions of the same ticket cannot both succeed.
//   - The one-active-ticket-per-user rule is backed by the unique index on
//     tickets.active_key; CreateTicket surfaces a violation as ErrActiveExists
//     so callers can fall back to the existing active ticket.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
)

// ErrActiveExists indicates the user already holds an active ticket and the
// insert was rejected by the active_key unique index.
var ErrActiveExists = errors.New("active ticket exists")

// CreateTicket inserts a new waiting ticket for userID. The ticket number is
// assigned by the autoincrement primary key at insert time, which also fixes
// the ticket's FIFO rank. Returns ErrActiveExists when the unique active_key
// index rejects a second active ticket for the same user.
func CreateTicket(ctx context.Context, db *gorm.DB, userID, message, typeID string) (*domain.Ticket, error) {
	key := userID
	t := &domain.Ticket{
		UserID:    userID,
		Message:   message,
		TypeID:    typeID,
		Status:    domain.StatusWaiting,
		ActiveKey: &key,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrActiveExists
		}
		return nil, err
	}
	return t, nil
}

// GetTicket fetches a ticket by number, or ErrNotFound if missing.
func GetTicket(ctx context.Context, db *gorm.DB, id int64) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveTicket returns the user's single waiting-or-called ticket, or
// ErrNotFound when the user holds none. The active_key unique index
// guarantees at most one row can match.
func ActiveTicket(ctx context.Context, db *gorm.DB, userID string) (*domain.Ticket, error) {
	var t domain.Ticket
	err := db.WithContext(ctx).
		Where("active_key = ?", userID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// OldestWaiting returns the waiting ticket with the smallest number, or
// ErrNotFound when the queue is empty.
func OldestWaiting(ctx context.Context, db *gorm.DB) (*domain.Ticket, error) {
	var t domain.Ticket
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusWaiting).
		Order("id asc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountWaitingBefore returns the number of waiting tickets with a number
// strictly smaller than id, i.e. the zero-based queue position of a waiting
// ticket. The count is a best-effort snapshot; concurrent transitions may
// change it immediately after.
func CountWaitingBefore(ctx context.Context, db *gorm.DB, id int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("status = ? AND id < ?", domain.StatusWaiting, id).
		Count(&n).Error
	return n, err
}

// CountByStatus returns the number of tickets currently in the given status.
func CountByStatus(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}

// TransitionStatus moves ticket id from one of fromStatuses to toStatus.
// The UPDATE is guarded by the current status, so it acts as a compare-and-set:
// if the ticket has concurrently left fromStatuses, no row is affected and
// ErrNotFound is returned without modifying anything.
//
// Terminal transitions (arrived, cancelled) clear active_key to release the
// owner's one-active-ticket slot; a call transition stamps called_at and a
// finish stamps finished_at.
func TransitionStatus(ctx context.Context, db *gorm.DB, id int64, fromStatuses []string, toStatus string) (*domain.Ticket, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     toStatus,
		"updated_at": now,
	}
	switch toStatus {
	case domain.StatusCalled:
		updates["called_at"] = now
	case domain.StatusArrived:
		updates["finished_at"] = now
		updates["active_key"] = nil
	case domain.StatusCancelled:
		updates["finished_at"] = now
		updates["active_key"] = nil
	}

	res := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetTicket(ctx, db, id)
}

// Sort allow-lists for operator listings. Anything outside these maps falls
// back to the default ordering so query params cannot inject SQL.
var (
	ticketSortColumns = map[string]string{
		"id":         "id",
		"created_at": "created_at",
	}
	ticketSortOrders = map[string]string{
		"asc":  "asc",
		"desc": "desc",
	}
)

// ticketQuery composes the shared filter/sort clause for operator listings.
func ticketQuery(db *gorm.DB, statuses []string, typeID, sortBy, sortOrder string) *gorm.DB {
	q := db.Model(&domain.Ticket{}).Where("status IN ?", statuses)
	if typeID != "" {
		q = q.Where("type_id = ?", typeID)
	}
	col, ok := ticketSortColumns[sortBy]
	if !ok {
		col = "id"
	}
	ord, ok := ticketSortOrders[strings.ToLower(sortOrder)]
	if !ok {
		ord = "asc"
	}
	return q.Order(col + " " + ord)
}

// ListActiveTickets returns all waiting and called tickets, optionally
// filtered by type tag and sorted by an allow-listed column/order.
func ListActiveTickets(ctx context.Context, db *gorm.DB, typeID, sortBy, sortOrder string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := ticketQuery(db.WithContext(ctx),
		[]string{domain.StatusWaiting, domain.StatusCalled},
		typeID, sortBy, sortOrder).
		Find(&out).Error
	return out, err
}

// ListFinishedTickets returns arrived and cancelled tickets for the operator
// history view, with the same filter/sort parameters as the active listing.
func ListFinishedTickets(ctx context.Context, db *gorm.DB, typeID, sortBy, sortOrder string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := ticketQuery(db.WithContext(ctx),
		[]string{domain.StatusArrived, domain.StatusCancelled},
		typeID, sortBy, sortOrder).
		Find(&out).Error
	return out, err
}

// TypeCount is one row of the active-ticket type breakdown.
type TypeCount struct {
	TypeID string `json:"type"  gorm:"column:type_id"`
	Count  int64  `json:"count" gorm:"column:count"`
}

// CountActiveByType groups active tickets by type tag. Tickets without a tag
// group under the empty string.
func CountActiveByType(ctx context.Context, db *gorm.DB) ([]TypeCount, error) {
	var out []TypeCount
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Select("type_id, COUNT(*) AS count").
		Where("status IN ?", []string{domain.StatusWaiting, domain.StatusCalled}).
		Group("type_id").
		Order("type_id asc").
		Scan(&out).Error
	return out, err
}

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite typically: "UNIQUE constraint failed"
	// Postgres typically: "duplicate key value violates unique constraint"
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
