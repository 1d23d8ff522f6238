// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/domain"
)

// ActiveTicketStats returns aggregate metadata for the active queue: the
// number of waiting/called tickets and the maximum UpdatedAt among them.
//
// When the queue is empty, the returned count is 0 and maxUpdatedAt is nil.
// The admin data endpoint uses the pair to build a weak ETag so idle
// dashboard polls can be answered with 304.
func ActiveTicketStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("status IN ?", []string{domain.StatusWaiting, domain.StatusCalled})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
