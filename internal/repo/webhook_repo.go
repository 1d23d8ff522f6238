// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for webhook event
// deduplication: chat platforms redeliver events when the webhook responds
// slowly, and each event must be processed at most once.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
)

// ErrDuplicateEvent indicates the webhook event was already recorded and the
// delivery is a retry.
var ErrDuplicateEvent = errors.New("duplicate webhook event")

// MarkEventProcessed records eventID as handled. It returns ErrDuplicateEvent
// on the unique violation raised by a redelivery, which callers treat as
// "skip, already done". Rows carry an expiry so the table stays small.
func MarkEventProcessed(ctx context.Context, db *gorm.DB, eventID, userID string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.WebhookEvent{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// PruneExpiredEvents deletes dedupe rows whose TTL has passed and returns the
// number of rows removed.
func PruneExpiredEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.WebhookEvent{})
	return res.RowsAffected, res.Error
}
