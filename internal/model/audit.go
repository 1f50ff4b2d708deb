package model

import "time"

const (
	AuditStatusOK     = "ok"
	AuditStatusFailed = "failed"
)

// Actor identifies who performed an operation, built by handlers from the
// request and its verified claims.
type Actor struct {
	ID    string
	Email string
	Role  string
	IP    string
}

// AuditEntry is one persisted record of an auth-relevant action. Action
// values come from the event package's type constants.
type AuditEntry struct {
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorEmail string    `json:"actor_email,omitempty"`
	ActorIP    string    `json:"actor_ip,omitempty"`
	Status     string    `json:"status"`
	Target     string    `json:"target,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

type AuditQuery struct {
	Action  string
	ActorID string
	Status  string
	From    string
	To      string
	Page    int
	Limit   int
}
