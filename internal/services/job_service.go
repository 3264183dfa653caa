package services

import (
	"context"
	"errors"
	"strings"

	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/rbac"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobService owns the job state machine and its settlement side effects.
type JobService struct {
	base
	wallets *WalletService
}

func NewJobService(d Deps, wallets *WalletService) *JobService {
	return &JobService{base: newBase(d), wallets: wallets}
}

func (s *JobService) feePercent(mode models.ExecutionMode) decimal.Decimal {
	if mode == models.ExecutionModeLeader {
		return s.cfg.PlatformFeePercentLeader
	}
	return s.cfg.PlatformFeePercentWorker
}

type CreateJobInput struct {
	Title         string
	Description   string
	Location      string
	TargetAmount  decimal.Decimal
	ExecutionMode models.ExecutionMode
	IsPrivate     bool
}

func (s *JobService) Create(ctx context.Context, actor models.Actor, in CreateJobInput) (*models.Job, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermCreateJob) {
		return nil, forbiddenErr("only leaders can create jobs")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationErr("title is required")
	}
	if err := validateAmount(in.TargetAmount, s.cfg.MaxContributionAmount); err != nil {
		return nil, validationErr("target %s", err.Error())
	}
	mode := in.ExecutionMode
	if mode == "" {
		mode = models.ExecutionModeWorker
	}
	if !mode.IsValid() {
		return nil, validationErr("invalid execution mode %q", mode)
	}

	job := &models.Job{
		Title:              title,
		Description:        in.Description,
		Location:           in.Location,
		IsPrivate:          in.IsPrivate,
		TargetAmount:       in.TargetAmount,
		CollectedAmount:    decimal.Zero,
		ExecutionMode:      mode,
		Status:             models.JobStatusFundingOpen,
		PlatformFeePercent: s.feePercent(mode),
		LeaderID:           actor.UserID,
	}
	job.RecomputeWallet()

	err := s.inTx(ctx, func(tx *txScope) error {
		if err := tx.Users().Ensure(ctx, actor.UserID, actor.Role); err != nil {
			return err
		}
		if err := tx.Jobs().Create(ctx, job); err != nil {
			return err
		}
		audit(ctx, tx, s.log, actor, "job_created", models.AuditEntityJob, job.ID, map[string]any{
			"target_amount":  job.TargetAmount.StringFixed(2),
			"execution_mode": job.ExecutionMode,
		})
		tx.emit(events.Event{
			Type: events.EventJobCreated,
			Payload: map[string]any{
				"job_id": job.ID.String(),
				"title":  job.Title,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.String("leader_id", actor.UserID.String()),
		zap.String("mode", string(mode)),
	)
	return job, nil
}

// canView hides private jobs from everyone who is not involved in them.
func canView(ctx context.Context, tx *txScope, actor models.Actor, job *models.Job) (bool, error) {
	if !job.IsPrivate || rbac.HasPermission(actor.Role, rbac.PermViewPrivateJobs) ||
		job.IsLeader(actor.UserID) || job.IsSelectedWorker(actor.UserID) {
		return true, nil
	}
	return tx.Contributions().HasSuccessful(ctx, job.ID, actor.UserID)
}

// finalizeDue runs finalization for a job whose review window has lapsed.
// Failures are logged only; the next read or sweep retries.
func (s *JobService) finalizeDue(ctx context.Context, job *models.Job) bool {
	if job.Status != models.JobStatusUnderReview || !job.ReviewExpired(s.now()) {
		return false
	}
	if _, err := s.FinalizeReviewIfEligible(ctx, job.ID); err != nil {
		s.log.Warn("finalize on read failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return false
	}
	return true
}

// Get returns a job, finalizing it first when its review window is over.
func (s *JobService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Job, error) {
	var job *models.Job
	read := func() error {
		return s.inTx(ctx, func(tx *txScope) error {
			var err error
			job, err = tx.Jobs().GetByID(ctx, id)
			if err != nil {
				return mapNotFound(err, "job")
			}
			ok, err := canView(ctx, tx, actor, job)
			if err != nil {
				return err
			}
			if !ok {
				return notFoundErr("job not found")
			}
			return nil
		})
	}
	if err := read(); err != nil {
		return nil, err
	}
	if s.finalizeDue(ctx, job) {
		if err := read(); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// List returns jobs matching f. Expired reviews among them are finalized
// before the page is returned.
func (s *JobService) List(ctx context.Context, actor models.Actor, f repositories.JobFilter) ([]models.Job, error) {
	var jobs []models.Job
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		jobs, err = tx.Jobs().List(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Job, 0, len(jobs))
	err = s.inTx(ctx, func(tx *txScope) error {
		for i := range jobs {
			ok, err := canView(ctx, tx, actor, &jobs[i])
			if err != nil {
				return err
			}
			if ok {
				out = append(out, jobs[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range out {
		if !s.finalizeDue(ctx, &out[i]) {
			continue
		}
		_ = s.inTx(ctx, func(tx *txScope) error {
			fresh, err := tx.Jobs().GetByID(ctx, out[i].ID)
			if err == nil {
				out[i] = *fresh
			}
			return err
		})
	}
	return out, nil
}

// Events returns the audit trail of a job, newest first.
func (s *JobService) Events(ctx context.Context, actor models.Actor, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := tx.Jobs().GetByID(ctx, id)
		if err != nil {
			return mapNotFound(err, "job")
		}
		ok, err := canView(ctx, tx, actor, job)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundErr("job not found")
		}
		logs, err = tx.Audit().GetByEntity(ctx, models.AuditEntityJob, id, limit, offset)
		return err
	})
	return logs, err
}

// UpdateJobInput carries a partial update. Field edits, mode change and the
// status change are applied in that order within one transaction.
type UpdateJobInput struct {
	Title          *string
	Description    *string
	Location       *string
	TargetAmount   *decimal.Decimal
	IsPrivate      *bool
	ExecutionMode  *models.ExecutionMode
	Status         *models.JobStatus
	SubmissionNote *string
}

func (in UpdateJobInput) hasEdits() bool {
	return in.Title != nil || in.Description != nil || in.Location != nil ||
		in.TargetAmount != nil || in.IsPrivate != nil
}

func (s *JobService) Update(ctx context.Context, actor models.Actor, id uuid.UUID, in UpdateJobInput) (*models.Job, error) {
	var job *models.Job
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		job, err = s.lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		expected := job.Status
		changed := false

		if in.hasEdits() {
			if err := s.applyEdits(job, actor, in); err != nil {
				return err
			}
			changed = true
		}
		if in.ExecutionMode != nil && *in.ExecutionMode != job.ExecutionMode {
			if err := s.applyMode(job, actor, *in.ExecutionMode); err != nil {
				return err
			}
			changed = true
		}
		if changed {
			if err := s.saveJob(ctx, tx, job, expected); err != nil {
				return err
			}
			audit(ctx, tx, s.log, actor, "job_updated", models.AuditEntityJob, job.ID, map[string]any{
				"target_amount":  job.TargetAmount.StringFixed(2),
				"execution_mode": job.ExecutionMode,
			})
			if in.Status == nil && job.Status == models.JobStatusFundingOpen && job.IsFunded() {
				if err := s.advanceFunded(ctx, tx, job, actor); err != nil {
					return err
				}
			}
		}

		if in.Status != nil {
			return s.applyStatus(ctx, tx, job, actor, *in.Status, in.SubmissionNote)
		}
		if !changed {
			return validationErr("nothing to update")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobService) applyEdits(job *models.Job, actor models.Actor, in UpdateJobInput) error {
	if !canManage(actor, job) {
		return forbiddenErr("only the job leader or an admin can edit the job")
	}
	if job.SelectedWorkerID != nil ||
		(job.Status != models.JobStatusFundingOpen && job.Status != models.JobStatusFundingComplete) {
		return conflictErr("job can no longer be edited in status %s", job.Status)
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return validationErr("title is required")
		}
		job.Title = title
	}
	if in.Description != nil {
		job.Description = *in.Description
	}
	if in.Location != nil {
		job.Location = *in.Location
	}
	if in.IsPrivate != nil {
		job.IsPrivate = *in.IsPrivate
	}
	if in.TargetAmount != nil {
		if err := validateAmount(*in.TargetAmount, s.cfg.MaxContributionAmount); err != nil {
			return validationErr("target %s", err.Error())
		}
		job.TargetAmount = *in.TargetAmount
	}
	return nil
}

func (s *JobService) applyMode(job *models.Job, actor models.Actor, mode models.ExecutionMode) error {
	if !mode.IsValid() {
		return validationErr("invalid execution mode %q", mode)
	}
	if !canManage(actor, job) {
		return forbiddenErr("only the job leader or an admin can change the execution mode")
	}
	if job.Status != models.JobStatusFundingOpen {
		return conflictErr("execution mode can only change while funding is open")
	}
	job.ExecutionMode = mode
	job.PlatformFeePercent = s.feePercent(mode)
	job.RecomputeWallet()
	return nil
}

// advanceFunded moves a job whose target is reached to the mode's funded
// status. Leader-executed jobs skip worker selection and start staging
// refunds right away.
func (s *JobService) advanceFunded(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor) error {
	to := models.FundedStatus(job.ExecutionMode)
	if to == models.JobStatusInProgress {
		if err := s.stageRefunds(ctx, tx, job); err != nil {
			return err
		}
	}
	return s.transition(ctx, tx, job, to, actor)
}

func (s *JobService) applyStatus(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor, to models.JobStatus, note *string) error {
	if !to.IsValid() {
		return validationErr("invalid status %q", to)
	}
	switch to {
	case models.JobStatusFundingComplete:
		if !canManage(actor, job) {
			return forbiddenErr("only the job leader or an admin can close funding")
		}
		if job.Status != models.JobStatusFundingOpen {
			return conflictErr("funding already closed")
		}
		if !job.IsFunded() {
			return conflictErr("target amount not reached: collected %s of %s",
				job.CollectedAmount.StringFixed(2), job.TargetAmount.StringFixed(2))
		}
		return s.transition(ctx, tx, job, to, actor)

	case models.JobStatusWorkerSelected:
		return conflictErr("select a worker by accepting an application")

	case models.JobStatusInProgress:
		return s.start(ctx, tx, job, actor)

	case models.JobStatusAwaitingVerification:
		return s.requestVerification(ctx, tx, job, actor, note)

	case models.JobStatusUnderReview:
		return s.startReview(ctx, tx, job, actor)

	case models.JobStatusDisputed:
		return conflictErr("raise a dispute to contest the work")
	case models.JobStatusCompleted:
		return conflictErr("jobs complete when their review window ends")
	case models.JobStatusCancelled:
		return conflictErr("jobs are cancelled through dispute adjudication")
	}
	return validationErr("invalid status %q", to)
}

func (s *JobService) start(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor) error {
	if job.ExecutionMode == models.ExecutionModeWorker {
		if !job.IsSelectedWorker(actor.UserID) {
			return forbiddenErr("only the selected worker can start the job")
		}
		if job.Status != models.JobStatusWorkerSelected {
			return conflictErr("job must be in %s to start, is %s", models.JobStatusWorkerSelected, job.Status)
		}
		return s.transition(ctx, tx, job, models.JobStatusInProgress, actor)
	}

	if !canManage(actor, job) {
		return forbiddenErr("only the job leader or an admin can start the job")
	}
	switch {
	case job.Status == models.JobStatusFundingComplete:
	case job.Status == models.JobStatusFundingOpen && job.IsFunded():
	default:
		return conflictErr("job cannot start from %s", job.Status)
	}
	if err := s.stageRefunds(ctx, tx, job); err != nil {
		return err
	}
	return s.transition(ctx, tx, job, models.JobStatusInProgress, actor)
}

func (s *JobService) requestVerification(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor, note *string) error {
	if job.Status != models.JobStatusInProgress {
		return conflictErr("job must be in %s to request verification, is %s", models.JobStatusInProgress, job.Status)
	}
	if job.ExecutionMode == models.ExecutionModeWorker {
		if !job.IsSelectedWorker(actor.UserID) {
			return forbiddenErr("only the selected worker can submit the job for verification")
		}
		if _, err := tx.Proofs().GetByJob(ctx, job.ID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return conflictErr("upload proof before requesting verification")
			}
			return err
		}
	} else if !canManage(actor, job) {
		return forbiddenErr("only the job leader or an admin can submit the job for verification")
	}
	if note != nil {
		job.Metadata.SubmissionNote = strings.TrimSpace(*note)
	}
	return s.transition(ctx, tx, job, models.JobStatusAwaitingVerification, actor)
}

// startReview opens (or restarts) the review window.
func (s *JobService) startReview(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor) error {
	if !canManage(actor, job) {
		return forbiddenErr("only the job leader or an admin can start the review")
	}
	switch job.Status {
	case models.JobStatusAwaitingVerification:
	case models.JobStatusUnderReview:
		// an expired window is settled by finalize, never restarted
		if job.ReviewExpired(s.now()) {
			return conflictErr("review window has ended, the job is due for settlement")
		}
	case models.JobStatusInProgress:
		if job.ExecutionMode != models.ExecutionModeLeader {
			return conflictErr("work must be submitted for verification before review")
		}
	default:
		return conflictErr("job cannot enter review from %s", job.Status)
	}

	window := s.cfg.WorkerReviewWindow
	if job.ExecutionMode == models.ExecutionModeWorker {
		if _, err := tx.Proofs().GetByJob(ctx, job.ID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return conflictErr("proof of work is required before review")
			}
			return err
		}
	} else {
		window = s.cfg.LeaderReviewWindow
		if err := s.stageRefunds(ctx, tx, job); err != nil {
			return err
		}
	}
	deadline := s.now().Add(window)
	job.ReviewDeadline = &deadline
	return s.transition(ctx, tx, job, models.JobStatusUnderReview, actor)
}
