package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-account-portal/internal/model"
)

// SessionRepository is the session registry. A session row is valid while it
// is unrevoked, unexpired, and its token_epoch still matches the owner's
// epoch on the users row. Bulk revocation bumps the user's epoch, which
// invalidates every outstanding session in one write, including a session a
// concurrent rotation is about to commit with the old epoch.
//
// Lock order everywhere is users row first, then sessions rows, so a
// rotation and a revoke-all for the same user serialize instead of
// deadlocking.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create records a new session. The caller supplies the id because the
// refresh token embedding it is signed before the row exists; the row is
// stamped with the owner's current token epoch.
func (r *SessionRepository) Create(ctx context.Context, s model.Session) (model.Session, error) {
	s.CreatedAt = time.Now().UTC()

	err := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, token_epoch, created_at, expires_at)
		 SELECT $2, id, $3, token_epoch, $4, $5 FROM users WHERE id = $1
		 RETURNING token_epoch`,
		s.UserID, s.ID, s.TokenHash, s.CreatedAt, s.ExpiresAt).Scan(&s.TokenEpoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Validate checks that the session identified by sessionID is live and bound
// to the presented refresh token, returning the owning user id. Unknown ids
// map to ErrSessionNotFound; everything else that fails maps to
// ErrSessionRevoked so a replayed rotated token and an epoch-stale token look
// the same to the caller.
func (r *SessionRepository) Validate(ctx context.Context, sessionID string, tokenHash string) (string, error) {
	var (
		userID     string
		storedHash string
		revokedAt  *time.Time
		expiresAt  time.Time
		epoch      int64
		userEpoch  int64
	)

	err := r.pool.QueryRow(ctx,
		`SELECT s.user_id, s.token_hash, s.revoked_at, s.expires_at, s.token_epoch, u.token_epoch
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1`, sessionID).
		Scan(&userID, &storedHash, &revokedAt, &expiresAt, &epoch, &userEpoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", model.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("validate session: %w", err)
	}

	if revokedAt != nil || epoch != userEpoch || !time.Now().UTC().Before(expiresAt) || storedHash != tokenHash {
		return "", model.ErrSessionRevoked
	}
	return userID, nil
}

// Rotate atomically retires the session identified by oldID and records its
// replacement. The old row is locked FOR UPDATE and the owner's epoch is read
// FOR SHARE inside the same transaction: a revoke-all that commits first makes
// the rotation fail with ErrSessionRevoked, and one that blocks on our locks
// bumps the epoch after commit, leaving the replacement stale and therefore
// dead. Either way no session survives a revoke-all.
func (r *SessionRepository) Rotate(ctx context.Context, oldID string, oldHash string, next model.Session) (model.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the user row first to keep lock order consistent with the
	// revoke paths.
	var userEpoch int64
	err = tx.QueryRow(ctx,
		`SELECT token_epoch FROM users WHERE id = $1 FOR SHARE`, next.UserID).Scan(&userEpoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("lock user epoch: %w", err)
	}

	var (
		ownerID    string
		storedHash string
		revokedAt  *time.Time
		expiresAt  time.Time
		epoch      int64
	)
	err = tx.QueryRow(ctx,
		`SELECT user_id, token_hash, revoked_at, expires_at, token_epoch
		 FROM sessions WHERE id = $1 FOR UPDATE`, oldID).
		Scan(&ownerID, &storedHash, &revokedAt, &expiresAt, &epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, model.ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("lock session: %w", err)
	}

	now := time.Now().UTC()
	if ownerID != next.UserID || revokedAt != nil || epoch != userEpoch || !now.Before(expiresAt) || storedHash != oldHash {
		return model.Session{}, model.ErrSessionRevoked
	}

	if _, err = tx.Exec(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1`, oldID, now); err != nil {
		return model.Session{}, fmt.Errorf("revoke rotated session: %w", err)
	}

	next.TokenEpoch = userEpoch
	next.CreatedAt = now
	if _, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, token_epoch, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		next.ID, next.UserID, next.TokenHash, next.TokenEpoch, next.CreatedAt, next.ExpiresAt); err != nil {
		return model.Session{}, fmt.Errorf("insert rotated session: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return model.Session{}, fmt.Errorf("commit rotation: %w", err)
	}
	return next, nil
}

// Revoke marks a single session dead. Already-revoked and unknown sessions
// are treated as success; the end state is identical.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeForUser revokes one session only if it belongs to userID, so users
// cannot kill each other's devices. Unknown or foreign ids report
// ErrSessionNotFound.
func (r *SessionRepository) RevokeForUser(ctx context.Context, userID string, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = $3 WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		sessionID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1 AND user_id = $2)`,
			sessionID, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check session ownership: %w", err)
		}
		if !exists {
			return model.ErrSessionNotFound
		}
		// Already revoked: idempotent success.
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	return r.revokeBulk(ctx,
		`UPDATE users SET token_epoch = token_epoch + 1, updated_at = $2 WHERE id = $1`,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID)
}

func (r *SessionRepository) RevokeAll(ctx context.Context) error {
	return r.revokeBulk(ctx,
		`UPDATE users SET token_epoch = token_epoch + 1, updated_at = $1`,
		`UPDATE sessions SET revoked_at = $1 WHERE revoked_at IS NULL`)
}

func (r *SessionRepository) revokeBulk(ctx context.Context, userSQL string, sessionSQL string, ids ...string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revoke: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	args := make([]any, 0, 2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, now)

	if _, err = tx.Exec(ctx, userSQL, args...); err != nil {
		return fmt.Errorf("bump token epoch: %w", err)
	}
	if _, err = tx.Exec(ctx, sessionSQL, args...); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, s.created_at, s.expires_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.user_id = $1 AND s.revoked_at IS NULL
		   AND s.expires_at > $2 AND s.token_epoch = u.token_epoch
		 ORDER BY s.created_at DESC`,
		userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.Session, 0)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CleanExpired drops rows that can never validate again. Expiry is otherwise
// enforced lazily at refresh time; this is just storage hygiene.
func (r *SessionRepository) CleanExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at <= now() OR revoked_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("clean expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
