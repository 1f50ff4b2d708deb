package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-account-portal/internal/event"
	"go-account-portal/internal/model"
	"go-account-portal/internal/token"
	"go-account-portal/pkg/apierror"
)

const (
	defaultBcryptCost     = 12
	defaultMinPasswordLen = 8
)

// AuthService orchestrates the credential store, token issuer, and session
// registry. It owns every auth state transition; handlers only translate
// HTTP to and from these methods.
type AuthService struct {
	users          UserStore
	sessions       SessionStore
	issuer         *token.Issuer
	bus            event.Bus
	bcryptCost     int
	minPasswordLen int
	dummyHash      []byte
}

func NewAuthService(users UserStore, sessions SessionStore, issuer *token.Issuer, bus event.Bus, bcryptCost int, minPasswordLen int) (*AuthService, error) {
	if bcryptCost <= 0 {
		bcryptCost = defaultBcryptCost
	}
	if minPasswordLen <= 0 {
		minPasswordLen = defaultMinPasswordLen
	}

	// Hashed once up front so login can burn a comparable amount of time on
	// unknown emails, keeping the two invalid-credential paths close in timing.
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:          users,
		sessions:       sessions,
		issuer:         issuer,
		bus:            bus,
		bcryptCost:     bcryptCost,
		minPasswordLen: minPasswordLen,
		dummyHash:      dummyHash,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest, actor model.Actor) (model.TokenPair, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.checkPassword(req.Password); err != nil {
		return model.TokenPair{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Role:         model.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return model.TokenPair{}, err
	}

	pair, err := s.issueSession(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	actor.ID, actor.Email = user.ID, user.Email
	s.publish(event.TypeUserRegistered, actor, model.AuditStatusOK, user.ID, "")
	return pair, nil
}

// Login authenticates email+password and mints a fresh session. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest, actor model.Actor) (model.TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			s.publish(event.TypeLoginFailed, actor, model.AuditStatusFailed, "", "unknown email")
			return model.TokenPair{}, model.ErrInvalidCredentials
		}
		return model.TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		actor.ID, actor.Email = user.ID, user.Email
		s.publish(event.TypeLoginFailed, actor, model.AuditStatusFailed, user.ID, "wrong password")
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	if !user.Active {
		return model.TokenPair{}, model.ErrAccountDisabled
	}

	pair, err := s.issueSession(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	actor.ID, actor.Email, actor.Role = user.ID, user.Email, user.Role
	s.publish(event.TypeUserLoggedIn, actor, model.AuditStatusOK, user.ID, "")
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the session:
// the presented token's session is revoked in the same transaction that
// records its replacement. A second exchange of the same token fails with
// ErrSessionRevoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, actor model.Actor) (model.TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return model.TokenPair{}, model.ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.TokenPair{}, model.ErrSessionRevoked
		}
		return model.TokenPair{}, err
	}
	if !user.Active {
		return model.TokenPair{}, model.ErrAccountDisabled
	}

	next := model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(s.issuer.RefreshTTL()),
	}
	pair, err := s.issuer.Issue(user, next.ID)
	if err != nil {
		return model.TokenPair{}, err
	}
	next.TokenHash = token.Hash(pair.RefreshToken)

	if _, err := s.sessions.Rotate(ctx, claims.SessionID, token.Hash(refreshToken), next); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return model.TokenPair{}, model.ErrSessionRevoked
		}
		return model.TokenPair{}, err
	}

	actor.ID, actor.Email, actor.Role = user.ID, user.Email, user.Role
	s.publish(event.TypeTokensRefreshed, actor, model.AuditStatusOK, next.ID, "")
	return pair, nil
}

// Logout revokes the session bound to the presented refresh token. Revoking
// an already-dead session succeeds; the end state is the same.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, actor model.Actor) error {
	claims, err := s.issuer.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return model.ErrInvalidToken
	}

	if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil {
		return err
	}

	s.publish(event.TypeUserLoggedOut, actor, model.AuditStatusOK, claims.SessionID, "")
	return nil
}

// LogoutAll revokes every session for every user. Admin-gated at the router.
func (s *AuthService) LogoutAll(ctx context.Context, actor model.Actor) error {
	if err := s.sessions.RevokeAll(ctx); err != nil {
		return err
	}
	s.publish(event.TypeLogoutAll, actor, model.AuditStatusOK, "", "")
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every outstanding session for the user. All devices re-login.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest, actor model.Actor) error {
	if err := s.checkPassword(req.NewPassword); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return model.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}

	s.publish(event.TypePasswordChanged, actor, model.AuditStatusOK, userID, "")
	return nil
}

// UpdateProfile applies partial updates: only fields present in the request
// are touched. Taking an email owned by another account fails with
// ErrDuplicateEmail.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req model.UpdateProfileRequest, actor model.Actor) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.PublicUser{}, err
	}

	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return model.PublicUser{}, err
		}
		if !strings.EqualFold(email, user.Email) {
			if other, err := s.users.FindByEmail(ctx, email); err == nil && other.ID != user.ID {
				return model.PublicUser{}, model.ErrDuplicateEmail
			} else if err != nil && !errors.Is(err, model.ErrUserNotFound) {
				return model.PublicUser{}, err
			}
		}
		user.Email = email
	}
	if req.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*req.DisplayName)
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return model.PublicUser{}, err
	}

	user.UpdatedAt = time.Now().UTC()
	s.publish(event.TypeProfileUpdated, actor, model.AuditStatusOK, userID, "")
	return user.Public(), nil
}

func (s *AuthService) GetUserByID(ctx context.Context, userID string) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.PublicUser{}, err
	}
	return user.Public(), nil
}

// Sessions lists the caller's active sessions, newest first.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]model.Session, error) {
	return s.sessions.ListActiveForUser(ctx, userID)
}

// RevokeSession kills one of the caller's own sessions. Sessions belonging
// to other users are reported as not found.
func (s *AuthService) RevokeSession(ctx context.Context, userID string, sessionID string, actor model.Actor) error {
	if err := s.sessions.RevokeForUser(ctx, userID, sessionID); err != nil {
		return err
	}
	s.publish(event.TypeSessionRevoked, actor, model.AuditStatusOK, sessionID, "")
	return nil
}

// VerifyAccess validates an access token for request authentication.
func (s *AuthService) VerifyAccess(tokenString string) (*model.AuthClaims, error) {
	return s.issuer.Verify(tokenString, token.KindAccess)
}

func (s *AuthService) issueSession(ctx context.Context, user model.User) (model.TokenPair, error) {
	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(s.issuer.RefreshTTL()),
	}

	pair, err := s.issuer.Issue(user, session.ID)
	if err != nil {
		return model.TokenPair{}, err
	}
	session.TokenHash = token.Hash(pair.RefreshToken)

	if _, err := s.sessions.Create(ctx, session); err != nil {
		return model.TokenPair{}, err
	}
	return pair, nil
}

func (s *AuthService) publish(t event.Type, actor model.Actor, status string, target string, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:       t,
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		ActorIP:    actor.IP,
		Target:     target,
		Status:     status,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	})
}

func (s *AuthService) checkPassword(password string) error {
	if len(password) < s.minPasswordLen {
		return apierror.New("BAD_REQUEST",
			fmt.Sprintf("password must be at least %d characters", s.minPasswordLen),
			"password", http.StatusBadRequest)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", apierror.New("BAD_REQUEST", "email is required", "email", http.StatusBadRequest)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apierror.New("BAD_REQUEST", "email is not valid", "email", http.StatusBadRequest)
	}
	return email, nil
}
