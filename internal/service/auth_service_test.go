package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-account-portal/internal/model"
	"go-account-portal/internal/token"
	"go-account-portal/pkg/apierror"
)

// memStore is an in-memory credential store and session registry with the
// same visible semantics as the Postgres repositories, including the token
// epoch rules that make bulk revocation final.
type memStore struct {
	mu       sync.Mutex
	users    map[string]model.User
	sessions map[string]model.Session
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]model.User),
		sessions: make(map[string]model.Session),
	}
}

func (m *memStore) FindByID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (m *memStore) Create(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return model.ErrDuplicateEmail
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *memStore) UpdateProfile(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return model.ErrUserNotFound
	}
	for id, other := range m.users {
		if id != u.ID && strings.EqualFold(other.Email, u.Email) {
			return model.ErrDuplicateEmail
		}
	}
	existing.Email = u.Email
	existing.DisplayName = u.DisplayName
	existing.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = existing
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	m.users[userID] = u
	return nil
}

func (m *memStore) UpdateAvatar(_ context.Context, userID string, avatar []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	now := time.Now().UTC()
	u.Avatar = avatar
	u.AvatarUpdatedAt = &now
	m.users[userID] = u
	return nil
}

func (m *memStore) GetAvatar(_ context.Context, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	if len(u.Avatar) == 0 {
		return nil, model.ErrUserNotFound
	}
	return u.Avatar, nil
}

func (m *memStore) SetRole(_ context.Context, userID string, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Role = role
	m.users[userID] = u
	return nil
}

func (m *memStore) SetActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Active = active
	m.users[userID] = u
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return model.ErrUserNotFound
	}
	delete(m.users, id)
	for sid, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

func (m *memStore) List(_ context.Context, page int, limit int) ([]model.User, model.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, model.Meta{Page: page, Limit: limit, Total: len(users), TotalPages: 1}, nil
}

// Session registry side. The adapter below disambiguates Create, which
// exists on both store contracts with different signatures.

func (m *memStore) createSession(s model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[s.UserID]
	if !ok {
		return model.Session{}, model.ErrUserNotFound
	}
	s.TokenEpoch = u.TokenEpoch
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) Validate(_ context.Context, sessionID string, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", model.ErrSessionNotFound
	}
	u := m.users[s.UserID]
	if !s.Valid(time.Now().UTC(), u.TokenEpoch) || s.TokenHash != tokenHash {
		return "", model.ErrSessionRevoked
	}
	return s.UserID, nil
}

func (m *memStore) Rotate(_ context.Context, oldID string, oldHash string, next model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[next.UserID]
	if !ok {
		return model.Session{}, model.ErrUserNotFound
	}
	old, ok := m.sessions[oldID]
	if !ok {
		return model.Session{}, model.ErrSessionNotFound
	}
	now := time.Now().UTC()
	if old.UserID != next.UserID || !old.Valid(now, u.TokenEpoch) || old.TokenHash != oldHash {
		return model.Session{}, model.ErrSessionRevoked
	}

	old.RevokedAt = &now
	m.sessions[oldID] = old

	next.TokenEpoch = u.TokenEpoch
	next.CreatedAt = now
	m.sessions[next.ID] = next
	return next, nil
}

func (m *memStore) Revoke(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	m.sessions[sessionID] = s
	return nil
}

func (m *memStore) RevokeForUser(_ context.Context, userID string, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return model.ErrSessionNotFound
	}
	if s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
		m.sessions[sessionID] = s
	}
	return nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if ok {
		u.TokenEpoch++
		m.users[userID] = u
	}
	now := time.Now().UTC()
	for id, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			m.sessions[id] = s
		}
	}
	return nil
}

func (m *memStore) RevokeAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, u := range m.users {
		u.TokenEpoch++
		m.users[id] = u
	}
	for id, s := range m.sessions {
		if s.RevokedAt == nil {
			s.RevokedAt = &now
			m.sessions[id] = s
		}
	}
	return nil
}

func (m *memStore) ListActiveForUser(_ context.Context, userID string) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	now := time.Now().UTC()
	active := make([]model.Session, 0)
	for _, s := range m.sessions {
		if s.UserID == userID && s.Valid(now, u.TokenEpoch) {
			active = append(active, s)
		}
	}
	return active, nil
}

func (m *memStore) CleanExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var removed int64
	for id, s := range m.sessions {
		if s.RevokedAt != nil || !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type sessionStoreAdapter struct{ *memStore }

func (a sessionStoreAdapter) Create(ctx context.Context, s model.Session) (model.Session, error) {
	return a.memStore.createSession(s)
}

func newTestAuthService(t *testing.T) (*AuthService, *memStore) {
	t.Helper()
	store := newMemStore()
	issuer, err := token.NewIssuer("0123456789abcdef0123456789abcdef", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	// Low bcrypt cost keeps the suite fast; production cost comes from config.
	svc, err := NewAuthService(store, sessionStoreAdapter{store}, issuer, nil, 4, 8)
	require.NoError(t, err)
	return svc, store
}

func register(t *testing.T, svc *AuthService, email, password string) model.TokenPair {
	t.Helper()
	pair, err := svc.Register(context.Background(), model.RegisterRequest{
		Email:    email,
		Password: password,
	}, model.Actor{IP: "127.0.0.1"})
	require.NoError(t, err)
	return pair
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "alice@example.com", pair.User.Email)
	assert.Equal(t, model.RoleUser, pair.User.Role)

	loginPair, err := svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	}, model.Actor{})
	require.NoError(t, err)
	assert.NotEmpty(t, loginPair.AccessToken)

	claims, err := svc.VerifyAccess(loginPair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pair.User.ID, claims.UserID)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, model.RegisterRequest{Email: "not-an-email", Password: "long enough pw"}, model.Actor{})
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)

	_, err = svc.Register(ctx, model.RegisterRequest{Email: "bob@example.com", Password: "short"}, model.Actor{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	register(t, svc, "alice@example.com", "first password")

	_, err := svc.Register(ctx, model.RegisterRequest{
		Email:    "alice@example.com",
		Password: "second password",
	}, model.Actor{})
	assert.ErrorIs(t, err, model.ErrDuplicateEmail)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	register(t, svc, "alice@example.com", "correct horse battery")

	_, unknownErr := svc.Login(ctx, model.LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever password",
	}, model.Actor{})
	_, wrongErr := svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong password",
	}, model.Actor{})

	assert.ErrorIs(t, unknownErr, model.ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, model.ErrInvalidCredentials)
	assert.Equal(t, unknownErr, wrongErr)
}

func TestLoginDisabledAccount(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")
	require.NoError(t, store.SetActive(ctx, pair.User.ID, false))

	_, err := svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	}, model.Actor{})
	assert.ErrorIs(t, err, model.ErrAccountDisabled)
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	rotated, err := svc.Refresh(ctx, pair.RefreshToken, model.Actor{})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Replaying the consumed token fails closed.
	_, err = svc.Refresh(ctx, pair.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)

	// The replacement still works.
	again, err := svc.Refresh(ctx, rotated.RefreshToken, model.Actor{})
	require.NoError(t, err)
	assert.NotEmpty(t, again.AccessToken)
}

func TestRefreshRejectsGarbageAndAccessTokens(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	_, err := svc.Refresh(ctx, "not-a-token", model.Actor{})
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	// An access token is the wrong kind even though the signature checks out.
	_, err = svc.Refresh(ctx, pair.AccessToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestRefreshDisabledAccount(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")
	require.NoError(t, store.SetActive(ctx, pair.User.ID, false))

	_, err := svc.Refresh(ctx, pair.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrAccountDisabled)
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	first := register(t, svc, "alice@example.com", "correct horse battery")
	second, err := svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	}, model.Actor{})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, first.RefreshToken, model.Actor{}))

	_, err = svc.Refresh(ctx, first.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)

	// The sibling session is untouched.
	_, err = svc.Refresh(ctx, second.RefreshToken, model.Actor{})
	assert.NoError(t, err)

	// Logging out an already-dead session still succeeds.
	assert.NoError(t, svc.Logout(ctx, first.RefreshToken, model.Actor{}))
}

func TestLogoutAllKillsEverySession(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	alice := register(t, svc, "alice@example.com", "correct horse battery")
	bob := register(t, svc, "bob@example.com", "another strong one")

	require.NoError(t, svc.LogoutAll(ctx, model.Actor{}))

	_, err := svc.Refresh(ctx, alice.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)
	_, err = svc.Refresh(ctx, bob.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)
}

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	first := register(t, svc, "alice@example.com", "correct horse battery")
	second, err := svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	}, model.Actor{})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, first.User.ID, model.ChangePasswordRequest{
		CurrentPassword: "wrong password",
		NewPassword:     "brand new password",
	}, model.Actor{})
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, first.User.ID, model.ChangePasswordRequest{
		CurrentPassword: "correct horse battery",
		NewPassword:     "brand new password",
	}, model.Actor{})
	require.NoError(t, err)

	// Every outstanding session is dead.
	_, err = svc.Refresh(ctx, first.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)
	_, err = svc.Refresh(ctx, second.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)

	_, err = svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	}, model.Actor{})
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "brand new password",
	}, model.Actor{})
	assert.NoError(t, err)
}

func TestBulkRevokeOutlivesInFlightRotation(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	// A rotation that lands after the revoke-all must not resurrect the
	// session: the epoch check kills it.
	require.NoError(t, store.RevokeAllForUser(ctx, pair.User.ID))

	_, err := svc.Refresh(ctx, pair.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)

	sessions, err := svc.Sessions(ctx, pair.User.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRevokeSessionOwnership(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	alice := register(t, svc, "alice@example.com", "correct horse battery")
	bob := register(t, svc, "bob@example.com", "another strong one")

	aliceSessions, err := svc.Sessions(ctx, alice.User.ID)
	require.NoError(t, err)
	require.Len(t, aliceSessions, 1)

	// Bob cannot revoke Alice's session and cannot tell it exists.
	err = svc.RevokeSession(ctx, bob.User.ID, aliceSessions[0].ID, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	require.NoError(t, svc.RevokeSession(ctx, alice.User.ID, aliceSessions[0].ID, model.Actor{}))
	// Idempotent.
	assert.NoError(t, svc.RevokeSession(ctx, alice.User.ID, aliceSessions[0].ID, model.Actor{}))

	_, err = svc.Refresh(ctx, alice.RefreshToken, model.Actor{})
	assert.ErrorIs(t, err, model.ErrSessionRevoked)
}

func TestSessionsListsActiveOnly(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")
	_, err := svc.Login(ctx, model.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	}, model.Actor{})
	require.NoError(t, err)

	sessions, err := svc.Sessions(ctx, pair.User.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken, model.Actor{}))

	sessions, err = svc.Sessions(ctx, pair.User.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	alice := register(t, svc, "alice@example.com", "correct horse battery")
	register(t, svc, "bob@example.com", "another strong one")

	name := "Alice A."
	updated, err := svc.UpdateProfile(ctx, alice.User.ID, model.UpdateProfileRequest{
		DisplayName: &name,
	}, model.Actor{})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", updated.DisplayName)
	assert.Equal(t, "alice@example.com", updated.Email)

	taken := "bob@example.com"
	_, err = svc.UpdateProfile(ctx, alice.User.ID, model.UpdateProfileRequest{
		Email: &taken,
	}, model.Actor{})
	assert.ErrorIs(t, err, model.ErrDuplicateEmail)

	// Re-asserting your own email is not a conflict.
	own := "alice@example.com"
	_, err = svc.UpdateProfile(ctx, alice.User.ID, model.UpdateProfileRequest{
		Email: &own,
	}, model.Actor{})
	assert.NoError(t, err)
}
