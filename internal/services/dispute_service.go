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
	"go.uber.org/zap"
)

// DisputeService lets contributors contest work during the review window
// and lets admins adjudicate. Details are kept on the dispute row and
// mirrored into the job proof's metadata; reads merge both copies.
type DisputeService struct {
	base
	jobs *JobService
}

func NewDisputeService(d Deps, jobs *JobService) *DisputeService {
	return &DisputeService{base: newBase(d), jobs: jobs}
}

// mirror copies the dispute details into the proof metadata. The mirror is
// best effort: a job without proof, or a failed write, only logs.
func (s *DisputeService) mirror(ctx context.Context, tx *txScope, d *models.Dispute) {
	err := savepoint(ctx, tx, func(sub *txScope) error {
		proof, err := sub.Proofs().GetByJob(ctx, d.JobID)
		if err != nil {
			return err
		}
		md := proof.Metadata
		if md.DisputeDetails == nil {
			md.DisputeDetails = map[uuid.UUID]models.DisputeDetails{}
		}
		md.DisputeDetails[d.ID] = d.Details
		return sub.Proofs().UpdateMetadata(ctx, d.JobID, md)
	})
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		s.log.Warn("failed to mirror dispute details",
			zap.String("dispute_id", d.ID.String()),
			zap.Error(err),
		)
	}
}

// withMirror merges the proof-metadata copy into a dispute read from its
// own table.
func withMirror(ctx context.Context, tx *txScope, d *models.Dispute) error {
	proof, err := tx.Proofs().GetByJob(ctx, d.JobID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m, ok := proof.Metadata.DisputeDetails[d.ID]; ok {
		d.Details = models.MergeDisputeDetails(&d.Details, &m)
	}
	return nil
}

type RaiseDisputeInput struct {
	Reason   string
	Evidence []string
}

func (s *DisputeService) Raise(ctx context.Context, actor models.Actor, jobID uuid.UUID, in RaiseDisputeInput) (*models.Dispute, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, validationErr("reason is required")
	}

	var d *models.Dispute
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		funded, err := tx.Contributions().HasSuccessful(ctx, jobID, actor.UserID)
		if err != nil {
			return err
		}
		if !funded {
			return forbiddenErr("only contributors to the job can raise a dispute")
		}
		if job.Status != models.JobStatusUnderReview || job.ReviewExpired(s.now()) {
			return conflictErr("disputes can only be raised during the review window")
		}

		var evidence []string
		for _, e := range in.Evidence {
			if e = strings.TrimSpace(e); e != "" {
				evidence = append(evidence, e)
			}
		}
		d = &models.Dispute{
			JobID:      jobID,
			RaisedByID: actor.UserID,
			Reason:     reason,
			Status:     models.DisputeStatusOpen,
			Details:    models.DisputeDetails{Evidence: evidence},
		}
		if err := tx.Disputes().Create(ctx, d); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return conflictErr("you already raised a dispute for this job")
			}
			return err
		}
		s.mirror(ctx, tx, d)

		if job.ExecutionMode == models.ExecutionModeLeader {
			job.FundsFrozen = true
		}
		if err := s.transition(ctx, tx, job, models.JobStatusDisputed, actor); err != nil {
			return err
		}
		audit(ctx, tx, s.log, actor, "dispute_raised", models.AuditEntityDispute, d.ID,
			map[string]any{"job_id": jobID.String(), "reason": reason})
		tx.emit(events.Event{
			Type: events.EventDisputeRaised,
			Payload: map[string]any{
				"dispute_id": d.ID.String(),
				"job_id":     jobID.String(),
			},
			Recipients: jobRecipients(ctx, tx, job),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

type disputeParty int

const (
	partyWorker disputeParty = iota
	partyLeader
)

func (s *DisputeService) appendEntry(ctx context.Context, actor models.Actor, disputeID uuid.UUID, message string, party disputeParty) (*models.Dispute, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, validationErr("message is required")
	}

	var d *models.Dispute
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		d, err = tx.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return mapNotFound(err, "dispute")
		}
		if d.Status != models.DisputeStatusOpen {
			return conflictErr("dispute not open")
		}
		job, err := tx.Jobs().GetByID(ctx, d.JobID)
		if err != nil {
			return mapNotFound(err, "job")
		}
		if err := withMirror(ctx, tx, d); err != nil {
			return err
		}

		entry := models.DisputeEntry{AuthorID: actor.UserID, Message: message, CreatedAt: s.now()}
		action := ""
		switch party {
		case partyWorker:
			if !executor(actor, job) || job.ExecutionMode != models.ExecutionModeWorker {
				return forbiddenErr("only the selected worker can respond to this dispute")
			}
			d.Details.WorkerResponses = append(d.Details.WorkerResponses, entry)
			action = "dispute_worker_response"
		case partyLeader:
			if !job.IsLeader(actor.UserID) {
				return forbiddenErr("only the job leader can clarify this dispute")
			}
			d.Details.LeaderClarifications = append(d.Details.LeaderClarifications, entry)
			action = "dispute_leader_clarification"
		}

		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}
		s.mirror(ctx, tx, d)
		audit(ctx, tx, s.log, actor, action, models.AuditEntityDispute, d.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DisputeService) AddWorkerResponse(ctx context.Context, actor models.Actor, disputeID uuid.UUID, message string) (*models.Dispute, error) {
	return s.appendEntry(ctx, actor, disputeID, message, partyWorker)
}

func (s *DisputeService) AddLeaderClarification(ctx context.Context, actor models.Actor, disputeID uuid.UUID, message string) (*models.Dispute, error) {
	return s.appendEntry(ctx, actor, disputeID, message, partyLeader)
}

// Decide records the admin ruling. APPROVE_WORK dismisses the claim and lets
// the job proceed (worker jobs are paid at once, leader jobs return to
// review); REJECT_WORK upholds it and cancels the job with full refunds.
func (s *DisputeService) Decide(ctx context.Context, actor models.Actor, disputeID uuid.UUID, decision models.AdminDecision, note string) (*models.Dispute, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermDecideDispute) {
		return nil, forbiddenErr("admin access required")
	}
	if !decision.IsValid() {
		return nil, validationErr("decision must be %s or %s", models.AdminDecisionApproveWork, models.AdminDecisionRejectWork)
	}

	var d *models.Dispute
	err := s.inTx(ctx, func(tx *txScope) error {
		probe, err := tx.Disputes().GetByID(ctx, disputeID)
		if err != nil {
			return mapNotFound(err, "dispute")
		}
		// job before dispute, the same order Raise takes its locks in
		job, err := s.lockJob(ctx, tx, probe.JobID)
		if err != nil {
			return err
		}
		if d, err = tx.Disputes().GetForUpdate(ctx, disputeID); err != nil {
			return mapNotFound(err, "dispute")
		}
		if d.Status != models.DisputeStatusOpen {
			return conflictErr("dispute not open")
		}
		if job.Status != models.JobStatusDisputed && job.Status != models.JobStatusUnderReview {
			return conflictErr("job is not under review or disputed, is %s", job.Status)
		}
		if err := withMirror(ctx, tx, d); err != nil {
			return err
		}

		d.Details.AdminDecision = &models.DecisionRecord{
			AdminID:   actor.UserID,
			Decision:  decision,
			Note:      strings.TrimSpace(note),
			DecidedAt: s.now(),
		}
		if decision == models.AdminDecisionApproveWork {
			d.Status = models.DisputeStatusRejected
		} else {
			d.Status = models.DisputeStatusResolved
		}
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}
		s.mirror(ctx, tx, d)

		switch {
		case decision == models.AdminDecisionRejectWork:
			err = s.jobs.cancel(ctx, tx, job, actor)
		case job.ExecutionMode == models.ExecutionModeWorker:
			err = s.jobs.complete(ctx, tx, job, actor)
		default:
			job.FundsFrozen = false
			if job.Status == models.JobStatusDisputed {
				err = s.transition(ctx, tx, job, models.JobStatusUnderReview, actor)
			} else {
				err = s.saveJob(ctx, tx, job, job.Status)
			}
		}
		if err != nil {
			return err
		}

		audit(ctx, tx, s.log, actor, "dispute_decided", models.AuditEntityDispute, d.ID, map[string]any{
			"job_id":   job.ID.String(),
			"decision": decision,
		})
		tx.emit(events.Event{
			Type: events.EventDisputeDecided,
			Payload: map[string]any{
				"dispute_id": d.ID.String(),
				"job_id":     job.ID.String(),
				"decision":   decision,
			},
			Recipients: append(jobRecipients(ctx, tx, job), d.RaisedByID.String()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("dispute decided",
		zap.String("dispute_id", disputeID.String()),
		zap.String("decision", string(decision)),
	)
	return d, nil
}

// List returns disputes with merged details. Non-admins only see disputes
// on jobs they lead, work on, or raised themselves.
func (s *DisputeService) List(ctx context.Context, actor models.Actor, f repositories.DisputeFilter) ([]models.Dispute, error) {
	var out []models.Dispute
	err := s.inTx(ctx, func(tx *txScope) error {
		if !actor.IsAdmin() && f.JobID == nil {
			f.RaisedByID = &actor.UserID
		}
		list, err := tx.Disputes().List(ctx, f)
		if err != nil {
			return err
		}
		for i := range list {
			if !actor.IsAdmin() && list[i].RaisedByID != actor.UserID {
				job, err := tx.Jobs().GetByID(ctx, list[i].JobID)
				if err != nil {
					return err
				}
				if !job.IsLeader(actor.UserID) && !job.IsSelectedWorker(actor.UserID) {
					continue
				}
			}
			if err := withMirror(ctx, tx, &list[i]); err != nil {
				return err
			}
			out = append(out, list[i])
		}
		return nil
	})
	return out, err
}

func (s *DisputeService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Dispute, error) {
	var d *models.Dispute
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		d, err = tx.Disputes().GetByID(ctx, id)
		if err != nil {
			return mapNotFound(err, "dispute")
		}
		if !actor.IsAdmin() && d.RaisedByID != actor.UserID {
			job, err := tx.Jobs().GetByID(ctx, d.JobID)
			if err != nil {
				return mapNotFound(err, "job")
			}
			if !job.IsLeader(actor.UserID) && !job.IsSelectedWorker(actor.UserID) {
				return notFoundErr("dispute not found")
			}
		}
		return withMirror(ctx, tx, d)
	})
	return d, err
}
