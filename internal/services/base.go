package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/metrics"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps is what every service is built from.
type Deps struct {
	Store     repositories.Store
	Publisher events.Publisher
	Config    *config.Config
	Log       *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type base struct {
	store     repositories.Store
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func newBase(d Deps) base {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return base{store: d.Store, publisher: d.Publisher, cfg: d.Config, log: log, now: now}
}

// txScope is the repositories of one transaction plus the events to publish
// once it commits.
type txScope struct {
	repositories.Repos
	pending []events.Event
}

func (t *txScope) emit(e events.Event) {
	t.pending = append(t.pending, e)
}

// inTx runs fn in a transaction and publishes collected events after commit.
// Nothing is published when fn fails.
func (b *base) inTx(ctx context.Context, fn func(tx *txScope) error) error {
	var scope *txScope
	err := b.store.Tx(ctx, func(r repositories.Repos) error {
		scope = &txScope{Repos: r}
		return fn(scope)
	})
	if err != nil {
		return err
	}
	if b.publisher == nil {
		return nil
	}
	for _, e := range scope.pending {
		if err := b.publisher.Publish(ctx, events.JobStream, e); err != nil {
			b.log.Warn("failed to publish event", zap.String("type", e.Type), zap.Error(err))
		}
	}
	return nil
}

func actorType(a models.Actor) string {
	switch {
	case a.UserID == uuid.Nil:
		return models.AuditActorSystem
	case a.IsAdmin():
		return models.AuditActorAdmin
	}
	return models.AuditActorUser
}

func actorRef(a models.Actor) *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

func audit(ctx context.Context, tx *txScope, log *zap.Logger, actor models.Actor, action, entityType string, entityID uuid.UUID, meta map[string]any) {
	err := tx.Audit().Log(ctx, models.AuditLog{
		ActorUserID: actorRef(actor),
		ActorType:   actorType(actor),
		Action:      action,
		EntityType:  entityType,
		EntityID:    &entityID,
		Meta:        meta,
	})
	if err != nil {
		log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// jobRecipients lists the users who follow a job on the live feed.
func jobRecipients(ctx context.Context, tx *txScope, job *models.Job) []string {
	seen := map[uuid.UUID]bool{job.LeaderID: true}
	out := []string{job.LeaderID.String()}
	if job.SelectedWorkerID != nil && !seen[*job.SelectedWorkerID] {
		seen[*job.SelectedWorkerID] = true
		out = append(out, job.SelectedWorkerID.String())
	}
	totals, err := tx.Contributions().TotalsByContributor(ctx, job.ID)
	if err != nil {
		return out
	}
	for _, t := range totals {
		if !seen[t.UserID] {
			seen[t.UserID] = true
			out = append(out, t.UserID.String())
		}
	}
	return out
}

// transition validates and writes a status change with audit logging.
// The job must have been read with GetForUpdate in the same transaction.
func (b *base) transition(ctx context.Context, tx *txScope, job *models.Job, to models.JobStatus, actor models.Actor) error {
	from := job.Status
	if !models.CanTransition(job.ExecutionMode, from, to) {
		return conflictErr("cannot move job from %s to %s", from, to)
	}
	job.Status = to
	if err := b.saveJob(ctx, tx, job, from); err != nil {
		return err
	}

	audit(ctx, tx, b.log, actor, fmt.Sprintf("job_status_%s_to_%s", from, to), models.AuditEntityJob, job.ID,
		map[string]any{"old_status": from, "new_status": to})

	tx.emit(events.Event{
		Type: events.EventJobStatusChanged,
		Payload: map[string]any{
			"job_id":     job.ID.String(),
			"old_status": from,
			"new_status": to,
		},
		Recipients: jobRecipients(ctx, tx, job),
	})
	metrics.JobTransitions.WithLabelValues(string(to)).Inc()

	b.log.Info("job status changed",
		zap.String("job_id", job.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actorType(actor)),
	)
	return nil
}

// saveJob persists the job if its stored status is still expected.
func (b *base) saveJob(ctx context.Context, tx *txScope, job *models.Job, expected models.JobStatus) error {
	if err := tx.Jobs().Update(ctx, job, expected); err != nil {
		if errors.Is(err, repositories.ErrStale) {
			return conflictErr("job was modified concurrently, retry")
		}
		return err
	}
	return nil
}

func (b *base) lockJob(ctx context.Context, tx *txScope, id uuid.UUID) (*models.Job, error) {
	job, err := tx.Jobs().GetForUpdate(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "job")
	}
	return job, nil
}

func canManage(actor models.Actor, job *models.Job) bool {
	return actor.IsAdmin() || job.IsLeader(actor.UserID)
}
