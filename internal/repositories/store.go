package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrStale is returned by conditional updates when the row no longer
	// matches the state the caller read.
	ErrStale = errors.New("record changed concurrently")
)

// Store is the durable state shared by the API and worker processes.
type Store interface {
	// Tx runs fn inside one transaction. Returning an error rolls back every
	// write made through r.
	Tx(ctx context.Context, fn func(r Repos) error) error
}

// Repos groups the repositories bound to one transaction.
type Repos interface {
	Users() UserRepository
	Jobs() JobRepository
	Contributions() ContributionRepository
	Applications() ApplicationRepository
	Proofs() ProofRepository
	Disputes() DisputeRepository
	Expenses() ExpenseRepository
	Wallets() WalletRepository
	Withdrawals() WithdrawalRepository
	Audit() AuditRepository

	// Savepoint runs fn so that its failure undoes only its own writes and
	// leaves the enclosing transaction usable.
	Savepoint(ctx context.Context, fn func(r Repos) error) error
}

type UserRepository interface {
	Ensure(ctx context.Context, id uuid.UUID, role models.Role) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// AddEarnings creates the user as a MEMBER when unknown.
	AddEarnings(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

type JobFilter struct {
	Status        *models.JobStatus
	LeaderID      *uuid.UUID
	ContributorID *uuid.UUID
	Limit         int
	Offset        int
}

type JobRepository interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// GetForUpdate reads the job and holds its row lock until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// Update writes j only while the stored status still equals expected.
	Update(ctx context.Context, j *models.Job, expected models.JobStatus) error
	List(ctx context.Context, f JobFilter) ([]models.Job, error)
	ListExpiredReviews(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type ContributionRepository interface {
	Create(ctx context.Context, c *models.Contribution) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Contribution, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Contribution, error)
	SumSuccessful(ctx context.Context, jobID uuid.UUID) (decimal.Decimal, error)
	// TotalsByContributor sums successful contributions per user, ordered by user id.
	TotalsByContributor(ctx context.Context, jobID uuid.UUID) ([]models.ContributorTotal, error)
	HasSuccessful(ctx context.Context, jobID, userID uuid.UUID) (bool, error)
	// MarkRefunded flags every successful, not yet refunded contribution of the
	// job and returns the rows it flagged.
	MarkRefunded(ctx context.Context, jobID uuid.UUID) ([]models.Contribution, error)
}

type ApplicationRepository interface {
	Create(ctx context.Context, a *models.WorkerApplication) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkerApplication, error)
	GetByJobAndWorker(ctx context.Context, jobID, workerID uuid.UUID) (*models.WorkerApplication, error)
	GetAccepted(ctx context.Context, jobID uuid.UUID) (*models.WorkerApplication, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.WorkerApplication, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ApplicationStatus) error
	RejectPending(ctx context.Context, jobID, exceptID uuid.UUID) (int64, error)
}

type ProofRepository interface {
	Create(ctx context.Context, p *models.JobProof) error
	GetByJob(ctx context.Context, jobID uuid.UUID) (*models.JobProof, error)
	UpdateMetadata(ctx context.Context, jobID uuid.UUID, md models.ProofMetadata) error
	UpsertDraft(ctx context.Context, d *models.JobProofDraft) error
	GetDraft(ctx context.Context, jobID uuid.UUID) (*models.JobProofDraft, error)
	DeleteDraft(ctx context.Context, jobID uuid.UUID) error
}

type DisputeFilter struct {
	JobID      *uuid.UUID
	RaisedByID *uuid.UUID
	Status     *models.DisputeStatus
	Limit      int
	Offset     int
}

type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	List(ctx context.Context, f DisputeFilter) ([]models.Dispute, error)
	Update(ctx context.Context, d *models.Dispute) error
	CountOpen(ctx context.Context, jobID uuid.UUID) (int, error)
}

type ExpenseRepository interface {
	Create(ctx context.Context, e *models.JobExpense) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobExpense, error)
	SumByJob(ctx context.Context, jobID uuid.UUID) (decimal.Decimal, error)
}

type TransactionFilter struct {
	JobID  *uuid.UUID
	Type   *models.TransactionType
	Limit  int
	Offset int
}

type WalletRepository interface {
	// GetOrCreate returns the user's wallet, creating an empty one first if needed.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	// GetForUpdate is GetOrCreate plus a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Update(ctx context.Context, w *models.Wallet) error
	// AppendTransaction records an audit row. A DEPOSIT reusing an existing
	// (user, reference) pair fails with ErrDuplicate.
	AppendTransaction(ctx context.Context, t *models.WalletTransaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, f TransactionFilter) ([]models.WalletTransaction, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.WithdrawalRequest) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	Update(ctx context.Context, w *models.WithdrawalRequest) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error)
}

type AuditRepository interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
