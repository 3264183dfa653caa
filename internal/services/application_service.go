package services

import (
	"context"
	"errors"
	"strings"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/rbac"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApplicationService handles worker bids and the selection of one worker.
type ApplicationService struct {
	base
}

func NewApplicationService(d Deps) *ApplicationService {
	return &ApplicationService{base: newBase(d)}
}

func (s *ApplicationService) Create(ctx context.Context, actor models.Actor, jobID uuid.UUID, bid decimal.Decimal, message string) (*models.WorkerApplication, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermApplyForJob) {
		return nil, forbiddenErr("only workers can apply for jobs")
	}
	if err := validateAmount(bid, decimal.Zero); err != nil {
		return nil, validationErr("bid %s", err.Error())
	}

	var app *models.WorkerApplication
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := tx.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return mapNotFound(err, "job")
		}
		if job.ExecutionMode != models.ExecutionModeWorker {
			return conflictErr("job is executed by its leader and takes no applications")
		}
		if job.IsLeader(actor.UserID) {
			return forbiddenErr("the job leader cannot apply to their own job")
		}
		if job.Status != models.JobStatusFundingComplete {
			return conflictErr("job is not accepting applications in status %s", job.Status)
		}
		if bid.GreaterThan(job.WalletBalance) {
			return validationErr("bid exceeds the funded budget of %s", job.WalletBalance.StringFixed(2))
		}
		if _, err := tx.Applications().GetByJobAndWorker(ctx, jobID, actor.UserID); err == nil {
			return conflictErr("already applied")
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		if err := tx.Users().Ensure(ctx, actor.UserID, actor.Role); err != nil {
			return err
		}

		app = &models.WorkerApplication{
			JobID:     jobID,
			WorkerID:  actor.UserID,
			BidAmount: bid,
			Message:   strings.TrimSpace(message),
			Status:    models.ApplicationStatusPending,
		}
		if err := tx.Applications().Create(ctx, app); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return conflictErr("already applied")
			}
			return err
		}
		audit(ctx, tx, s.log, actor, "application_created", models.AuditEntityJob, jobID, map[string]any{
			"application_id": app.ID.String(),
			"bid_amount":     bid.StringFixed(2),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *ApplicationService) ListByJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) ([]models.WorkerApplication, error) {
	var out []models.WorkerApplication
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := tx.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return mapNotFound(err, "job")
		}
		out, err = tx.Applications().ListByJob(ctx, jobID)
		if err != nil {
			return err
		}
		if canManage(actor, job) {
			return nil
		}
		// workers only see their own bid
		own := out[:0]
		for _, a := range out {
			if a.WorkerID == actor.UserID {
				own = append(own, a)
			}
		}
		out = own
		return nil
	})
	return out, err
}

// UpdateStatus accepts or rejects an application. Accepting selects the
// worker for the job and rejects every other pending bid. An admin may
// accept a different application after a worker was already selected.
func (s *ApplicationService) UpdateStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.ApplicationStatus) (*models.WorkerApplication, error) {
	var app *models.WorkerApplication
	err := s.inTx(ctx, func(tx *txScope) error {
		probe, err := tx.Applications().GetByID(ctx, id)
		if err != nil {
			return mapNotFound(err, "application")
		}
		job, err := s.lockJob(ctx, tx, probe.JobID)
		if err != nil {
			return err
		}
		// re-read under the job lock
		if app, err = tx.Applications().GetByID(ctx, id); err != nil {
			return mapNotFound(err, "application")
		}
		if !canManage(actor, job) {
			return forbiddenErr("only the job leader or an admin can decide applications")
		}

		switch status {
		case models.ApplicationStatusAccepted:
			return s.accept(ctx, tx, actor, job, app)
		case models.ApplicationStatusRejected:
			if app.Status != models.ApplicationStatusPending {
				return conflictErr("application is already %s", app.Status)
			}
			if err := tx.Applications().UpdateStatus(ctx, app.ID, status); err != nil {
				return err
			}
			app.Status = status
			audit(ctx, tx, s.log, actor, "application_rejected", models.AuditEntityJob, job.ID,
				map[string]any{"application_id": app.ID.String()})
			return nil
		}
		return validationErr("status must be %s or %s", models.ApplicationStatusAccepted, models.ApplicationStatusRejected)
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *ApplicationService) accept(ctx context.Context, tx *txScope, actor models.Actor, job *models.Job, app *models.WorkerApplication) error {
	if job.ExecutionMode != models.ExecutionModeWorker {
		return conflictErr("job is executed by its leader")
	}
	if app.WorkerID == job.LeaderID {
		return forbiddenErr("the leader cannot select themselves")
	}
	if app.Status == models.ApplicationStatusAccepted {
		return conflictErr("application is already accepted")
	}

	current, err := tx.Applications().GetAccepted(ctx, job.ID)
	switch {
	case err == nil:
		if !rbac.HasPermission(actor.Role, rbac.PermReassignWorker) {
			return conflictErr("a worker has already been selected")
		}
	case errors.Is(err, repositories.ErrNotFound):
		current = nil
	default:
		return err
	}

	reassign := current != nil
	if reassign {
		if job.Status != models.JobStatusWorkerSelected && job.Status != models.JobStatusFundingComplete {
			return conflictErr("worker cannot be reassigned in status %s", job.Status)
		}
	} else {
		if job.Status != models.JobStatusFundingComplete {
			return conflictErr("job is not selecting a worker in status %s", job.Status)
		}
		if app.Status != models.ApplicationStatusPending {
			return conflictErr("application is already %s", app.Status)
		}
	}

	if reassign {
		if err := tx.Applications().UpdateStatus(ctx, current.ID, models.ApplicationStatusRejected); err != nil {
			return err
		}
	}
	if err := tx.Applications().UpdateStatus(ctx, app.ID, models.ApplicationStatusAccepted); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return conflictErr("a worker has already been selected")
		}
		return err
	}
	app.Status = models.ApplicationStatusAccepted

	rejected, err := tx.Applications().RejectPending(ctx, job.ID, app.ID)
	if err != nil {
		return err
	}

	workerID := app.WorkerID
	job.SelectedWorkerID = &workerID
	if job.Status == models.JobStatusWorkerSelected {
		if err := s.saveJob(ctx, tx, job, job.Status); err != nil {
			return err
		}
		audit(ctx, tx, s.log, actor, "worker_reassigned", models.AuditEntityJob, job.ID, map[string]any{
			"application_id": app.ID.String(),
			"worker_id":      workerID.String(),
		})
	} else if err := s.transition(ctx, tx, job, models.JobStatusWorkerSelected, actor); err != nil {
		return err
	}

	s.log.Info("worker selected",
		zap.String("job_id", job.ID.String()),
		zap.String("worker_id", workerID.String()),
		zap.Int64("auto_rejected", rejected),
		zap.Bool("reassigned", reassign),
	)
	return nil
}
