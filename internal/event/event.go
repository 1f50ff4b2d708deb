package event

import "time"

type Type string

// Auth lifecycle events published by the service layer. The audit recorder
// persists them verbatim, so these strings double as audit action names.
const (
	TypeUserRegistered  Type = "auth.register"
	TypeUserLoggedIn    Type = "auth.login"
	TypeLoginFailed     Type = "auth.login_failed"
	TypeTokensRefreshed Type = "auth.refresh"
	TypeUserLoggedOut   Type = "auth.logout"
	TypeLogoutAll       Type = "auth.logout_all"
	TypePasswordChanged Type = "auth.password_changed"
	TypeProfileUpdated  Type = "auth.profile_updated"
	TypeSessionRevoked  Type = "session.revoked"
	TypeUserDisabled    Type = "user.disabled"
	TypeUserEnabled     Type = "user.enabled"
	TypeUserDeleted     Type = "user.deleted"
	TypeRoleChanged     Type = "user.role_changed"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorEmail string    `json:"actor_email,omitempty"`
	ActorIP    string    `json:"actor_ip,omitempty"`
	Target     string    `json:"target,omitempty"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func())
}
