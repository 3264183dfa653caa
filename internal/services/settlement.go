package services

import (
	"context"
	"errors"

	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/metrics"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type FinalizeOutcome string

const (
	FinalizeNoop      FinalizeOutcome = "noop"
	FinalizeDisputed  FinalizeOutcome = "disputed"
	FinalizeCompleted FinalizeOutcome = "completed"
	FinalizeFailed    FinalizeOutcome = "failed"
)

// savepoint runs fn so that its failure rolls back only its own writes.
func savepoint(ctx context.Context, tx *txScope, fn func(sub *txScope) error) error {
	var sub *txScope
	err := tx.Savepoint(ctx, func(r repositories.Repos) error {
		sub = &txScope{Repos: r}
		return fn(sub)
	})
	if err == nil && sub != nil {
		tx.pending = append(tx.pending, sub.pending...)
	}
	return err
}

func contributorIDs(totals []models.ContributorTotal) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(totals))
	for _, t := range totals {
		ids = append(ids, t.UserID)
	}
	return ids
}

// stageRefunds brings each contributor's staged refund in line with the
// pool left after expenses. Only the difference to what is already staged
// is frozen or withdrawn, so calling it repeatedly never double counts.
func (s *JobService) stageRefunds(ctx context.Context, tx *txScope, job *models.Job) error {
	totals, err := tx.Contributions().TotalsByContributor(ctx, job.ID)
	if err != nil {
		return err
	}
	spent, err := tx.Expenses().SumByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	remaining := models.Round2(job.WalletBalance.Sub(spent))
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if err := lockWallets(ctx, tx, contributorIDs(totals)...); err != nil {
		return err
	}

	details := make([]models.RefundDetail, 0, len(totals))
	for _, t := range totals {
		target := models.ProportionalShare(t.Amount, remaining, job.CollectedAmount)
		d := models.RefundDetail{
			UserID:      t.UserID,
			Contributed: t.Amount,
			Staged:      job.Metadata.StagedFor(t.UserID),
		}
		delta := target.Sub(d.Staged)
		if !delta.IsZero() {
			err := savepoint(ctx, tx, func(sub *txScope) error {
				if delta.IsPositive() {
					_, err := s.wallets.addToFrozen(ctx, sub, t.UserID, delta,
						"refund staged for job", models.TransactionTypeRefund, job.ID)
					return err
				}
				return s.wallets.unstage(ctx, sub, t.UserID, delta.Neg(), job.ID)
			})
			if err != nil {
				s.log.Error("failed to stage refund",
					zap.String("job_id", job.ID.String()),
					zap.String("user_id", t.UserID.String()),
					zap.String("delta", delta.StringFixed(2)),
					zap.Error(err),
				)
			} else {
				d.Staged = target
			}
		}
		details = append(details, d)
	}

	now := s.now()
	job.Metadata.RefundDetails = details
	job.Metadata.TotalSpent = &spent
	job.Metadata.RemainingBalance = &remaining
	job.Metadata.RefundStagedAt = &now
	return nil
}

// FinalizeReviewIfEligible settles a job whose review window has lapsed.
// It is safe to call any number of times from any process: the job row lock
// plus the status check let exactly one caller perform the settlement.
func (s *JobService) FinalizeReviewIfEligible(ctx context.Context, jobID uuid.UUID) (FinalizeOutcome, error) {
	outcome := FinalizeNoop
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusUnderReview || !job.ReviewExpired(s.now()) {
			return nil
		}

		open, err := tx.Disputes().CountOpen(ctx, job.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			if job.ExecutionMode == models.ExecutionModeLeader {
				job.FundsFrozen = true
			}
			if err := s.transition(ctx, tx, job, models.JobStatusDisputed, models.SystemActor); err != nil {
				return err
			}
			outcome = FinalizeDisputed
			return nil
		}

		if err := s.complete(ctx, tx, job, models.SystemActor); err != nil {
			return err
		}
		outcome = FinalizeCompleted
		return nil
	})
	if err != nil {
		metrics.Finalizations.WithLabelValues(string(FinalizeFailed)).Inc()
		s.log.Error("finalize failed, job left unchanged",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
		return FinalizeFailed, err
	}
	metrics.Finalizations.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// complete runs the mode's settlement and marks the job COMPLETED. Any
// error aborts the whole transaction so the job is never completed without
// its payout or refunds.
func (s *JobService) complete(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor) error {
	totals, err := tx.Contributions().TotalsByContributor(ctx, job.ID)
	if err != nil {
		return err
	}
	payee := job.LeaderID
	var app *models.WorkerApplication
	if job.ExecutionMode == models.ExecutionModeWorker {
		app, err = tx.Applications().GetAccepted(ctx, job.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return internalErr("job %s has no accepted application", job.ID)
			}
			return err
		}
		if !job.IsSelectedWorker(app.WorkerID) {
			return internalErr("accepted application of job %s does not match the selected worker", job.ID)
		}
		payee = app.WorkerID
	}
	if err := lockWallets(ctx, tx, append(contributorIDs(totals), payee)...); err != nil {
		return err
	}

	var settled map[string]any
	if app != nil {
		settled, err = s.payWorker(ctx, tx, job, app)
	} else {
		settled, err = s.reimburseLeader(ctx, tx, job)
	}
	if err != nil {
		return err
	}
	s.settleWalletContributions(ctx, tx, job, totals)

	if err := s.transition(ctx, tx, job, models.JobStatusCompleted, actor); err != nil {
		return err
	}
	settled["job_id"] = job.ID.String()
	settled["execution_mode"] = job.ExecutionMode
	tx.emit(events.Event{
		Type:       events.EventJobSettled,
		Payload:    settled,
		Recipients: jobRecipients(ctx, tx, job),
	})
	return nil
}

func (s *JobService) payWorker(ctx context.Context, tx *txScope, job *models.Job, app *models.WorkerApplication) (map[string]any, error) {
	payout, fee := models.WorkerPayout(app.BidAmount, s.cfg.WorkerPayoutFeePercent)
	if payout.IsPositive() {
		_, applied, err := s.wallets.credit(ctx, tx, app.WorkerID, payout, models.TransactionTypeDeposit,
			"job-payout:"+job.ID.String(), "payout for completed job", job.ID)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, internalErr("payout for job %s was already recorded", job.ID)
		}
		if err := tx.Users().AddEarnings(ctx, app.WorkerID, payout); err != nil {
			return nil, err
		}
	}

	job.Metadata.Payout = &models.PayoutSnapshot{
		WorkerID:  app.WorkerID,
		BidAmount: app.BidAmount,
		Fee:       fee,
		Amount:    payout,
		PaidAt:    s.now(),
	}
	s.log.Info("worker paid",
		zap.String("job_id", job.ID.String()),
		zap.String("worker_id", app.WorkerID.String()),
		zap.String("bid", app.BidAmount.StringFixed(2)),
		zap.String("payout", payout.StringFixed(2)),
	)
	return map[string]any{
		"worker_id": app.WorkerID.String(),
		"payout":    payout.StringFixed(2),
		"fee":       fee.StringFixed(2),
	}, nil
}

// reimburseLeader releases the staged refunds to contributors and pays the
// leader back what was spent. A refund that fails for one contributor is
// logged and does not block the others.
func (s *JobService) reimburseLeader(ctx context.Context, tx *txScope, job *models.Job) (map[string]any, error) {
	if err := s.stageRefunds(ctx, tx, job); err != nil {
		return nil, err
	}
	spent := decimal.Zero
	if job.Metadata.TotalSpent != nil {
		spent = *job.Metadata.TotalSpent
	}

	refunded := decimal.Zero
	for i := range job.Metadata.RefundDetails {
		d := &job.Metadata.RefundDetails[i]
		if d.Released || !d.Staged.IsPositive() {
			continue
		}
		err := savepoint(ctx, tx, func(sub *txScope) error {
			_, err := s.wallets.unfreeze(ctx, sub, d.UserID, d.Staged, job.ID, "refund of unspent job funds")
			return err
		})
		if err != nil {
			s.log.Error("failed to release refund",
				zap.String("job_id", job.ID.String()),
				zap.String("user_id", d.UserID.String()),
				zap.String("amount", d.Staged.StringFixed(2)),
				zap.Error(err),
			)
			continue
		}
		d.Released = true
		refunded = refunded.Add(d.Staged)
	}

	if spent.IsPositive() {
		_, applied, err := s.wallets.credit(ctx, tx, job.LeaderID, spent, models.TransactionTypeDeposit,
			"job-reimbursement:"+job.ID.String(), "reimbursement of job expenses", job.ID)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, internalErr("reimbursement for job %s was already recorded", job.ID)
		}
		if err := tx.Users().AddEarnings(ctx, job.LeaderID, spent); err != nil {
			return nil, err
		}
	}

	now := s.now()
	job.WalletBalance = decimal.Zero
	job.Metadata.RefundProcessedAt = &now

	s.log.Info("leader job settled",
		zap.String("job_id", job.ID.String()),
		zap.String("spent", spent.StringFixed(2)),
		zap.String("refunded", refunded.StringFixed(2)),
	)
	return map[string]any{
		"leader_id":      job.LeaderID.String(),
		"reimbursed":     spent.StringFixed(2),
		"refunded_total": refunded.StringFixed(2),
	}, nil
}

// settleWalletContributions consumes the frozen funds that wallet-funded
// contributions earmarked for this job.
func (s *JobService) settleWalletContributions(ctx context.Context, tx *txScope, job *models.Job, totals []models.ContributorTotal) {
	for _, t := range totals {
		if !t.WalletAmount.IsPositive() {
			continue
		}
		err := savepoint(ctx, tx, func(sub *txScope) error {
			return s.wallets.settleFrozen(ctx, sub, t.UserID, t.WalletAmount, job.ID)
		})
		if err != nil {
			s.log.Error("failed to settle wallet contribution",
				zap.String("job_id", job.ID.String()),
				zap.String("user_id", t.UserID.String()),
				zap.Error(err),
			)
		}
	}
}

// cancel refunds every contribution of the job and marks it CANCELLED.
// Wallet-funded contributions are unfrozen, external ones are credited to
// the contributor's wallet.
func (s *JobService) cancel(ctx context.Context, tx *txScope, job *models.Job, actor models.Actor) error {
	totals, err := tx.Contributions().TotalsByContributor(ctx, job.ID)
	if err != nil {
		return err
	}
	if err := lockWallets(ctx, tx, contributorIDs(totals)...); err != nil {
		return err
	}

	for i := range job.Metadata.RefundDetails {
		d := &job.Metadata.RefundDetails[i]
		if d.Released || !d.Staged.IsPositive() {
			continue
		}
		err := savepoint(ctx, tx, func(sub *txScope) error {
			return s.wallets.unstage(ctx, sub, d.UserID, d.Staged, job.ID)
		})
		if err != nil {
			s.log.Error("failed to withdraw staged refund",
				zap.String("job_id", job.ID.String()),
				zap.String("user_id", d.UserID.String()),
				zap.Error(err),
			)
			continue
		}
		d.Staged = decimal.Zero
	}

	marked, err := tx.Contributions().MarkRefunded(ctx, job.ID)
	if err != nil {
		return err
	}
	refunded := decimal.Zero
	for _, c := range marked {
		err := savepoint(ctx, tx, func(sub *txScope) error {
			if c.Source == models.ContributionSourceWallet {
				_, err := s.wallets.unfreeze(ctx, sub, c.UserID, c.Amount, job.ID, "contribution refunded")
				return err
			}
			_, _, err := s.wallets.credit(ctx, sub, c.UserID, c.Amount, models.TransactionTypeRefund,
				"contribution-refund:"+c.ID.String(), "contribution refunded", job.ID)
			return err
		})
		if err != nil {
			s.log.Error("failed to refund contribution",
				zap.String("job_id", job.ID.String()),
				zap.String("contribution_id", c.ID.String()),
				zap.String("user_id", c.UserID.String()),
				zap.Error(err),
			)
			continue
		}
		refunded = refunded.Add(c.Amount)
	}

	now := s.now()
	if job.ExecutionMode == models.ExecutionModeLeader {
		job.FundsFrozen = true
	}
	job.WalletBalance = decimal.Zero
	job.Metadata.CancelledAt = &now
	job.Metadata.RefundProcessedAt = &now
	if err := s.transition(ctx, tx, job, models.JobStatusCancelled, actor); err != nil {
		return err
	}
	tx.emit(events.Event{
		Type: events.EventJobSettled,
		Payload: map[string]any{
			"job_id":         job.ID.String(),
			"cancelled":      true,
			"refunded_total": refunded.StringFixed(2),
		},
		Recipients: jobRecipients(ctx, tx, job),
	})
	s.log.Info("job cancelled and refunded",
		zap.String("job_id", job.ID.String()),
		zap.Int("contributions", len(marked)),
		zap.String("refunded", refunded.StringFixed(2)),
	)
	return nil
}
