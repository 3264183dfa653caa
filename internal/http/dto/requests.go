package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type DevTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Jobs

type CreateJobRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Location      string          `json:"location"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	ExecutionMode string          `json:"execution_mode"`
	IsPrivate     bool            `json:"is_private"`
}

// UpdateJobRequest is a partial update; absent fields are left alone.
type UpdateJobRequest struct {
	Title          *string          `json:"title,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Location       *string          `json:"location,omitempty"`
	TargetAmount   *decimal.Decimal `json:"target_amount,omitempty"`
	IsPrivate      *bool            `json:"is_private,omitempty"`
	ExecutionMode  *string          `json:"execution_mode,omitempty"`
	Status         *string          `json:"status,omitempty"`
	SubmissionNote *string          `json:"submission_note,omitempty"`
}

type CreateExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ProofURL    string          `json:"proof_url,omitempty"`
}

// Contributions

type CreateContributionRequest struct {
	JobID            string          `json:"job_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
}

type WalletContributeRequest struct {
	JobID  string          `json:"job_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Applications

type CreateApplicationRequest struct {
	JobID     string          `json:"job_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
	Message   string          `json:"message,omitempty"`
}

type UpdateApplicationRequest struct {
	Status string `json:"status"`
}

// Proofs

type ProofRequest struct {
	BeforePhoto   string     `json:"before_photo"`
	AfterPhoto    string     `json:"after_photo"`
	DisposalPhoto string     `json:"disposal_photo,omitempty"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
	Note          string     `json:"note,omitempty"`
}

// Disputes

type RaiseDisputeRequest struct {
	JobID    string   `json:"job_id"`
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence,omitempty"`
}

type DisputeMessageRequest struct {
	Message string `json:"message"`
}

type AdminDecisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

// Wallet

type AddMoneyRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	BankAccount string          `json:"bank_account"`
}

type ProcessWithdrawalRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}
