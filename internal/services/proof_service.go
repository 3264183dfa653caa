package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
)

// ProofService stores the before/after evidence of a job. Photo values are
// opaque URLs; their content is never inspected.
type ProofService struct {
	base
}

func NewProofService(d Deps) *ProofService {
	return &ProofService{base: newBase(d)}
}

type ProofInput struct {
	BeforePhoto   string
	AfterPhoto    string
	DisposalPhoto string
	CapturedAt    *time.Time
	Note          string
}

// executor reports whether actor is the one doing the work on job.
func executor(actor models.Actor, job *models.Job) bool {
	if job.ExecutionMode == models.ExecutionModeLeader {
		return job.IsLeader(actor.UserID)
	}
	return job.IsSelectedWorker(actor.UserID)
}

func (s *ProofService) SubmitProof(ctx context.Context, actor models.Actor, jobID uuid.UUID, in ProofInput) (*models.JobProof, error) {
	before := strings.TrimSpace(in.BeforePhoto)
	after := strings.TrimSpace(in.AfterPhoto)
	if before == "" || after == "" {
		return nil, validationErr("before and after photos are required")
	}
	captured := s.now()
	if in.CapturedAt != nil {
		captured = *in.CapturedAt
	}

	var proof *models.JobProof
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !executor(actor, job) {
			return forbiddenErr("only the person executing the job can upload proof")
		}
		if job.Status != models.JobStatusInProgress {
			return conflictErr("proof can only be uploaded while the job is in progress")
		}

		proof = &models.JobProof{
			JobID:         jobID,
			SubmittedBy:   actor.UserID,
			BeforePhoto:   before,
			AfterPhoto:    after,
			DisposalPhoto: strings.TrimSpace(in.DisposalPhoto),
			CapturedAt:    captured,
			Metadata:      models.ProofMetadata{SubmissionNote: strings.TrimSpace(in.Note)},
		}
		if err := tx.Proofs().Create(ctx, proof); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return conflictErr("proof already submitted for this job")
			}
			return err
		}
		if err := tx.Proofs().DeleteDraft(ctx, jobID); err != nil {
			return err
		}
		audit(ctx, tx, s.log, actor, "proof_submitted", models.AuditEntityJob, jobID,
			map[string]any{"proof_id": proof.ID.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// SaveDraft keeps a scratch copy until the real proof is uploaded.
func (s *ProofService) SaveDraft(ctx context.Context, actor models.Actor, jobID uuid.UUID, in ProofInput) (*models.JobProofDraft, error) {
	var draft *models.JobProofDraft
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := tx.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return mapNotFound(err, "job")
		}
		if !executor(actor, job) {
			return forbiddenErr("only the person executing the job can save a proof draft")
		}
		if job.Status != models.JobStatusInProgress && job.Status != models.JobStatusWorkerSelected {
			return conflictErr("proof drafts are not accepted in status %s", job.Status)
		}
		if _, err := tx.Proofs().GetByJob(ctx, jobID); err == nil {
			return conflictErr("proof already submitted for this job")
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		draft = &models.JobProofDraft{
			JobID:         jobID,
			UserID:        actor.UserID,
			BeforePhoto:   strings.TrimSpace(in.BeforePhoto),
			AfterPhoto:    strings.TrimSpace(in.AfterPhoto),
			DisposalPhoto: strings.TrimSpace(in.DisposalPhoto),
			Notes:         strings.TrimSpace(in.Note),
		}
		return tx.Proofs().UpsertDraft(ctx, draft)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *ProofService) GetProof(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.JobProof, error) {
	var proof *models.JobProof
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := tx.Jobs().GetByID(ctx, jobID)
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
		proof, err = tx.Proofs().GetByJob(ctx, jobID)
		return mapNotFound(err, "proof")
	})
	return proof, err
}

func (s *ProofService) GetDraft(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.JobProofDraft, error) {
	var draft *models.JobProofDraft
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := tx.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return mapNotFound(err, "job")
		}
		if !executor(actor, job) && !canManage(actor, job) {
			return forbiddenErr("proof drafts are private to the job's executor")
		}
		draft, err = tx.Proofs().GetDraft(ctx, jobID)
		return mapNotFound(err, "proof draft")
	})
	return draft, err
}
