package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// ContributionSource tells where the money came from, which decides how a
// cancelled job gives it back.
type ContributionSource string

const (
	ContributionSourceExternal ContributionSource = "EXTERNAL"
	ContributionSourceWallet   ContributionSource = "WALLET"
)

type Contribution struct {
	ID               uuid.UUID          `json:"id"`
	JobID            uuid.UUID          `json:"job_id"`
	UserID           uuid.UUID          `json:"user_id"`
	Amount           decimal.Decimal    `json:"amount"`
	PaymentStatus    PaymentStatus      `json:"payment_status"`
	Source           ContributionSource `json:"source"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	Refunded         bool               `json:"refunded"`
	CreatedAt        time.Time          `json:"created_at"`
}

// ContributorTotal aggregates a user's successful contributions to one job.
type ContributorTotal struct {
	UserID       uuid.UUID       `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	WalletAmount decimal.Decimal `json:"wallet_amount"`
}

type JobExpense struct {
	ID          uuid.UUID       `json:"id"`
	JobID       uuid.UUID       `json:"job_id"`
	LeaderID    uuid.UUID       `json:"leader_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ProofURL    string          `json:"proof_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// JobLedger is the derived, read-only money view of a job.
type JobLedger struct {
	TotalRaised        decimal.Decimal `json:"total_raised"`
	TotalSpent         decimal.Decimal `json:"total_spent"`
	RemainingBalance   decimal.Decimal `json:"remaining_balance"`
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`
	PlatformFeeAmount  decimal.Decimal `json:"platform_fee_amount"`
	Transactions       []JobExpense    `json:"transactions"`
}
