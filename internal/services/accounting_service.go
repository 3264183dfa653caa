package services

import (
	"context"
	"strings"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountingService records money flowing into jobs (contributions) and out
// of leader-executed jobs (expenses).
type AccountingService struct {
	base
	jobs    *JobService
	wallets *WalletService
}

func NewAccountingService(d Deps, jobs *JobService, wallets *WalletService) *AccountingService {
	return &AccountingService{base: newBase(d), jobs: jobs, wallets: wallets}
}

func (s *AccountingService) ensureAccepting(job *models.Job) error {
	if job.Status != models.JobStatusFundingOpen {
		return conflictErr("funding already closed")
	}
	return nil
}

// record appends a successful contribution, bumps the job's collected
// amount and advances the job when its target is reached. The job must be
// locked by the caller.
func (s *AccountingService) record(ctx context.Context, tx *txScope, actor models.Actor, job *models.Job,
	amount decimal.Decimal, source models.ContributionSource, ref string) (*models.Contribution, error) {
	c := &models.Contribution{
		JobID:            job.ID,
		UserID:           actor.UserID,
		Amount:           amount,
		PaymentStatus:    models.PaymentStatusSuccess,
		Source:           source,
		PaymentReference: ref,
	}
	if err := tx.Contributions().Create(ctx, c); err != nil {
		return nil, err
	}

	job.CollectedAmount = job.CollectedAmount.Add(amount)
	job.RecomputeWallet()

	if job.IsFunded() {
		if err := s.jobs.advanceFunded(ctx, tx, job, actor); err != nil {
			return nil, err
		}
	} else if err := s.saveJob(ctx, tx, job, models.JobStatusFundingOpen); err != nil {
		return nil, err
	}

	audit(ctx, tx, s.log, actor, "contribution_received", models.AuditEntityJob, job.ID, map[string]any{
		"contribution_id": c.ID.String(),
		"amount":          amount.StringFixed(2),
		"source":          source,
	})
	return c, nil
}

// CreateContribution records an externally paid contribution.
func (s *AccountingService) CreateContribution(ctx context.Context, actor models.Actor, jobID uuid.UUID, amount decimal.Decimal, paymentRef string) (*models.Contribution, error) {
	if err := validateAmount(amount, s.cfg.MaxContributionAmount); err != nil {
		return nil, err
	}
	var c *models.Contribution
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := s.ensureAccepting(job); err != nil {
			return err
		}
		if err := tx.Users().Ensure(ctx, actor.UserID, actor.Role); err != nil {
			return err
		}
		c, err = s.record(ctx, tx, actor, job, amount, models.ContributionSourceExternal, strings.TrimSpace(paymentRef))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("contribution recorded",
		zap.String("job_id", jobID.String()),
		zap.String("user_id", actor.UserID.String()),
		zap.String("amount", amount.StringFixed(2)),
	)
	return c, nil
}

// ContributeFromWallet funds a job from the caller's wallet. The amount is
// frozen, not spent, until the job settles.
func (s *AccountingService) ContributeFromWallet(ctx context.Context, actor models.Actor, jobID uuid.UUID, amount decimal.Decimal) (*models.Contribution, *models.Wallet, error) {
	if err := validateAmount(amount, s.cfg.MaxContributionAmount); err != nil {
		return nil, nil, err
	}
	var (
		c *models.Contribution
		w *models.Wallet
	)
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := s.ensureAccepting(job); err != nil {
			return err
		}
		if err := tx.Users().Ensure(ctx, actor.UserID, actor.Role); err != nil {
			return err
		}
		if _, err := s.wallets.freeze(ctx, tx, actor.UserID, job.ID, amount); err != nil {
			return err
		}
		if c, err = s.record(ctx, tx, actor, job, amount, models.ContributionSourceWallet, ""); err != nil {
			return err
		}
		w, err = tx.Wallets().GetOrCreate(ctx, actor.UserID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return c, w, nil
}

// ContributionFilter selects contributions by job or by user. Without a job
// the caller sees only their own contributions unless they are an admin.
type ContributionFilter struct {
	JobID  *uuid.UUID
	UserID *uuid.UUID
}

func (s *AccountingService) ListContributions(ctx context.Context, actor models.Actor, f ContributionFilter) ([]models.Contribution, error) {
	var out []models.Contribution
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		if f.JobID != nil {
			job, err := tx.Jobs().GetByID(ctx, *f.JobID)
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
			out, err = tx.Contributions().ListByJob(ctx, *f.JobID)
			if err != nil || f.UserID == nil {
				return err
			}
			filtered := out[:0]
			for _, c := range out {
				if c.UserID == *f.UserID {
					filtered = append(filtered, c)
				}
			}
			out = filtered
			return nil
		}

		userID := actor.UserID
		if f.UserID != nil && *f.UserID != actor.UserID {
			if !actor.IsAdmin() {
				return forbiddenErr("cannot list another user's contributions")
			}
			userID = *f.UserID
		}
		out, err = tx.Contributions().ListByUser(ctx, userID)
		return err
	})
	return out, err
}

type ExpenseInput struct {
	Amount      decimal.Decimal
	Description string
	ProofURL    string
}

// CreateJobExpense records money the leader spent on a leader-executed job.
func (s *AccountingService) CreateJobExpense(ctx context.Context, actor models.Actor, jobID uuid.UUID, in ExpenseInput) (*models.JobExpense, error) {
	if err := validateAmount(in.Amount, decimal.Zero); err != nil {
		return nil, err
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, validationErr("description is required")
	}

	var e *models.JobExpense
	err := s.inTx(ctx, func(tx *txScope) error {
		job, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !job.IsLeader(actor.UserID) {
			return forbiddenErr("only the job leader can record expenses")
		}
		if job.ExecutionMode != models.ExecutionModeLeader {
			return conflictErr("expenses are only recorded for leader-executed jobs")
		}
		if job.Status != models.JobStatusInProgress {
			return conflictErr("expenses can only be recorded while the job is in progress")
		}
		if job.FundsFrozen {
			return conflictErr("job funds are frozen")
		}

		spent, err := tx.Expenses().SumByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		available := job.WalletBalance.Sub(spent)
		if in.Amount.GreaterThan(available) {
			return validationErr("expense exceeds remaining balance of %s", available.StringFixed(2))
		}

		e = &models.JobExpense{
			JobID:       job.ID,
			LeaderID:    actor.UserID,
			Amount:      in.Amount,
			Description: desc,
			ProofURL:    strings.TrimSpace(in.ProofURL),
		}
		if err := tx.Expenses().Create(ctx, e); err != nil {
			return err
		}
		if err := s.jobs.stageRefunds(ctx, tx, job); err != nil {
			return err
		}
		if err := s.saveJob(ctx, tx, job, models.JobStatusInProgress); err != nil {
			return err
		}
		audit(ctx, tx, s.log, actor, "job_expense_recorded", models.AuditEntityJob, job.ID, map[string]any{
			"expense_id": e.ID.String(),
			"amount":     in.Amount.StringFixed(2),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetLedger derives the money view of a job from its expense rows.
func (s *AccountingService) GetLedger(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.JobLedger, error) {
	var ledger *models.JobLedger
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
		expenses, err := tx.Expenses().ListByJob(ctx, jobID)
		if err != nil {
			return err
		}
		spent := decimal.Zero
		for _, e := range expenses {
			spent = spent.Add(e.Amount)
		}
		if expenses == nil {
			expenses = []models.JobExpense{}
		}
		pool := job.WalletBalance
		if job.Status.IsTerminal() {
			// the pool is emptied at settlement; report what it was
			_, pool = models.ComputeFeeAndWallet(job.CollectedAmount, job.PlatformFeePercent)
		}
		ledger = &models.JobLedger{
			TotalRaised:        job.CollectedAmount,
			TotalSpent:         spent,
			RemainingBalance:   models.Round2(pool.Sub(spent)),
			PlatformFeePercent: job.PlatformFeePercent,
			PlatformFeeAmount:  job.PlatformFeeAmount,
			Transactions:       expenses,
		}
		return nil
	})
	return ledger, err
}
