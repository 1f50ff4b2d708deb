package service

import (
	"context"
	"log/slog"

	"go-account-portal/internal/event"
	"go-account-portal/internal/model"
)

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuditService persists auth events published on the bus and serves the
// admin audit queries.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Run consumes events until ctx is cancelled. Intended to run in its own
// goroutine; a failed insert is logged, never retried, and never blocks the
// request path that published the event.
func (s *AuditService) Run(ctx context.Context, bus event.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := s.Record(ctx, e); err != nil {
				slog.Error("audit record failed", "type", string(e.Type), "error", err)
			}
		}
	}
}

func (s *AuditService) Record(ctx context.Context, e event.Event) error {
	return s.store.Log(ctx, model.AuditEntry{
		Action:     string(e.Type),
		OccurredAt: e.Timestamp,
		ActorID:    e.ActorID,
		ActorEmail: e.ActorEmail,
		ActorIP:    e.ActorIP,
		Status:     e.Status,
		Target:     e.Target,
		Detail:     e.Detail,
	})
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return s.store.Query(ctx, query)
}
