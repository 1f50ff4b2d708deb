package service

import (
	"context"
	"net/http"
	"time"

	"go-account-portal/internal/event"
	"go-account-portal/internal/model"
	"go-account-portal/pkg/apierror"
)

// AccountService carries the admin-side user management: listing, role and
// active-flag changes, and deletion. Role changes happen only here, never
// through the self-service profile path.
type AccountService struct {
	users    UserStore
	sessions SessionStore
	bus      event.Bus
}

func NewAccountService(users UserStore, sessions SessionStore, bus event.Bus) *AccountService {
	return &AccountService{users: users, sessions: sessions, bus: bus}
}

func (s *AccountService) ListUsers(ctx context.Context, page int, limit int) ([]model.PublicUser, model.Meta, error) {
	users, meta, err := s.users.List(ctx, page, limit)
	if err != nil {
		return nil, model.Meta{}, err
	}

	out := make([]model.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, meta, nil
}

func (s *AccountService) GetUser(ctx context.Context, id string) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.PublicUser{}, err
	}
	return user.Public(), nil
}

func (s *AccountService) SetRole(ctx context.Context, id string, role string, actor model.Actor) error {
	if role != model.RoleUser && role != model.RoleAdmin {
		return apierror.New("BAD_REQUEST", "invalid role", role, http.StatusBadRequest)
	}

	if err := s.users.SetRole(ctx, id, role); err != nil {
		return err
	}

	s.publish(event.TypeRoleChanged, actor, id, role)
	return nil
}

// SetActive toggles the account flag. Disabling also revokes every session
// for the user so outstanding refresh tokens die with the account.
func (s *AccountService) SetActive(ctx context.Context, id string, active bool, actor model.Actor) error {
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return err
	}

	eventType := event.TypeUserEnabled
	if !active {
		eventType = event.TypeUserDisabled
		if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
			return err
		}
	}

	s.publish(eventType, actor, id, "")
	return nil
}

// DeleteUser removes the account; the sessions table cascades on the
// foreign key, so the registry needs no separate cleanup.
func (s *AccountService) DeleteUser(ctx context.Context, id string, actor model.Actor) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(event.TypeUserDeleted, actor, id, "")
	return nil
}

func (s *AccountService) publish(t event.Type, actor model.Actor, target string, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:       t,
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		ActorIP:    actor.IP,
		Target:     target,
		Status:     model.AuditStatusOK,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	})
}
