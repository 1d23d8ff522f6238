// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-queue-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// RegisterUserIfAbsent inserts a User row with Consented=false unless one
// already exists. The insert uses ON CONFLICT DO NOTHING on the identity
// primary key, so concurrent first messages from the same user create at
// most one row without any in-process locking.
func RegisterUserIfAbsent(ctx context.Context, db *gorm.DB, userID string) error {
	u := &domain.User{
		ID:        userID,
		Consented: false,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(u).Error
}

// GetUser fetches a user by chat identity, or ErrNotFound if missing.
func GetUser(ctx context.Context, db *gorm.DB, userID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GrantConsent sets the consent flag for userID. Granting consent to an
// already-consented user is a no-op; the update is idempotent either way.
// Returns ErrNotFound if the user row does not exist.
func GrantConsent(ctx context.Context, db *gorm.DB, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("consented", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the row is missing or consent was already true; distinguish.
		var count int64
		if err := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// IsConsented reports whether userID exists and has granted consent.
// A missing user is reported as not consented, never as an error.
func IsConsented(ctx context.Context, db *gorm.DB, userID string) (bool, error) {
	var u domain.User
	err := db.WithContext(ctx).Select("consented").First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Consented, nil
}
