package service

import (
	"context"

	"go-account-portal/internal/model"
)

// UserStore is the credential store contract the services depend on.
// Implemented by repository.UserRepository; tests substitute in-memory fakes.
type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	UpdateProfile(ctx context.Context, u model.User) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
	UpdateAvatar(ctx context.Context, userID string, avatar []byte) error
	GetAvatar(ctx context.Context, userID string) ([]byte, error)
	SetRole(ctx context.Context, userID string, role string) error
	SetActive(ctx context.Context, userID string, active bool) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, page int, limit int) ([]model.User, model.Meta, error)
}

// SessionStore is the session registry contract. All revocation operations
// are idempotent; Rotate is the only compound transition and must be atomic
// with respect to concurrent bulk revocations for the same user.
type SessionStore interface {
	Create(ctx context.Context, s model.Session) (model.Session, error)
	Validate(ctx context.Context, sessionID string, tokenHash string) (string, error)
	Rotate(ctx context.Context, oldID string, oldHash string, next model.Session) (model.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeForUser(ctx context.Context, userID string, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	RevokeAll(ctx context.Context) error
	ListActiveForUser(ctx context.Context, userID string) ([]model.Session, error)
	CleanExpired(ctx context.Context) (int64, error)
}
