// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the append-only
// message audit log.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
)

// AppendMessageLog inserts one audit record for userID. The caller decides
// whether a failure matters; the inbound path treats these writes as
// best-effort and never blocks a reply on them.
func AppendMessageLog(ctx context.Context, db *gorm.DB, userID, direction, kind, content string) error {
	rec := &domain.MessageLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Direction: direction,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListMessageLog returns up to limit audit records for userID in append
// order (oldest first). A limit <= 0 returns all records.
func ListMessageLog(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.MessageLog, error) {
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.MessageLog
	err := q.Find(&out).Error
	return out, err
}

// PruneMessageLog deletes audit records older than the cutoff and returns
// the number of rows removed. Used by the retention janitor.
func PruneMessageLog(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.MessageLog{})
	return res.RowsAffected, res.Error
}
