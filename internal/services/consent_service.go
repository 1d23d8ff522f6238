// Package services – ConsentService
//
// This file implements the consent gate: the rule that no queue-affecting
// command executes until the user has explicitly opted in. Users are
// registered on first contact with consent=false; registration is
// insertion-idempotent under races because the repository uses an
// insert-if-absent upsert on the identity key rather than in-process locking.
//
// A missing user row is always treated as "not consented"; callers should
// register before checking rather than relying on any other default.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/repo"
)

// ConsentRepo defines the repository contract required by ConsentService.
type ConsentRepo interface {
	// RegisterUserIfAbsent creates the user row with consent=false unless it
	// already exists. Safe to call on every inbound message.
	RegisterUserIfAbsent(ctx context.Context, db *gorm.DB, userID string) error

	// GrantConsent flips the consent flag to true (idempotent).
	GrantConsent(ctx context.Context, db *gorm.DB, userID string) error

	// IsConsented reports the consent flag; missing users read as false.
	IsConsented(ctx context.Context, db *gorm.DB, userID string) (bool, error)
}

// ConsentService tracks the per-user consent flag and gates queue access.
// Storage faults are returned to the caller untouched; there is no in-process
// retry or recovery on this path.
type ConsentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo ConsentRepo
}

// NewConsentService constructs a ConsentService bound to db and r.
func NewConsentService(db *gorm.DB, r ConsentRepo) *ConsentService {
	return &ConsentService{DB: db, Repo: r}
}

// Register ensures a user row exists for userID. Idempotent.
func (s *ConsentService) Register(ctx context.Context, userID string) error {
	return s.Repo.RegisterUserIfAbsent(ctx, s.DB, userID)
}

// Grant records the user's opt-in. Granting twice is a no-op.
func (s *ConsentService) Grant(ctx context.Context, userID string) error {
	return s.Repo.GrantConsent(ctx, s.DB, userID)
}

// IsConsented reports whether userID has opted in. Unknown users are not
// consented.
func (s *ConsentService) IsConsented(ctx context.Context, userID string) (bool, error) {
	return s.Repo.IsConsented(ctx, s.DB, userID)
}

// consentRepoShim adapts the repository free functions to ConsentRepo.
type consentRepoShim struct{}

// RegisterUserIfAbsent proxies repo.RegisterUserIfAbsent.
func (consentRepoShim) RegisterUserIfAbsent(ctx context.Context, db *gorm.DB, userID string) error {
	return repo.RegisterUserIfAbsent(ctx, db, userID)
}

// GrantConsent proxies repo.GrantConsent.
func (consentRepoShim) GrantConsent(ctx context.Context, db *gorm.DB, userID string) error {
	return repo.GrantConsent(ctx, db, userID)
}

// IsConsented proxies repo.IsConsented.
func (consentRepoShim) IsConsented(ctx context.Context, db *gorm.DB, userID string) (bool, error) {
	return repo.IsConsented(ctx, db, userID)
}

// DefaultConsentRepo returns the production ConsentRepo backed by the repo
// package free functions.
func DefaultConsentRepo() ConsentRepo { return consentRepoShim{} }
