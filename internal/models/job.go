package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type JobStatus string

// Job statuses
const (
	JobStatusFundingOpen          JobStatus = "FUNDING_OPEN"
	JobStatusFundingComplete      JobStatus = "FUNDING_COMPLETE"
	JobStatusWorkerSelected       JobStatus = "WORKER_SELECTED"
	JobStatusInProgress           JobStatus = "IN_PROGRESS"
	JobStatusAwaitingVerification JobStatus = "AWAITING_VERIFICATION"
	JobStatusUnderReview          JobStatus = "UNDER_REVIEW"
	JobStatusDisputed             JobStatus = "DISPUTED"
	JobStatusCompleted            JobStatus = "COMPLETED"
	JobStatusCancelled            JobStatus = "CANCELLED"
)

var AllJobStatuses = []JobStatus{
	JobStatusFundingOpen, JobStatusFundingComplete, JobStatusWorkerSelected,
	JobStatusInProgress, JobStatusAwaitingVerification, JobStatusUnderReview,
	JobStatusDisputed, JobStatusCompleted, JobStatusCancelled,
}

var legacyJobStatuses = map[string]JobStatus{
	"CREATED":          JobStatusFundingOpen,
	"FUNDING":          JobStatusFundingOpen,
	"FUNDED":           JobStatusFundingComplete,
	"LEADER_EXECUTING": JobStatusInProgress,
	"REVIEW_WINDOW":    JobStatusUnderReview,
	"CLOSED":           JobStatusCompleted,
}

// NormalizeStatus maps legacy status names onto the canonical set. Unknown
// values are returned unchanged and fail IsValid.
func NormalizeStatus(s string) JobStatus {
	if st, ok := legacyJobStatuses[s]; ok {
		return st
	}
	return JobStatus(s)
}

func (s JobStatus) IsValid() bool {
	for _, st := range AllJobStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

type ExecutionMode string

const (
	ExecutionModeWorker ExecutionMode = "WORKER_EXECUTION"
	ExecutionModeLeader ExecutionMode = "LEADER_EXECUTION"
)

func (m ExecutionMode) IsValid() bool {
	return m == ExecutionModeWorker || m == ExecutionModeLeader
}

// jobTransitions lists every edge of the job state machine. Edges that only
// exist for one execution mode are narrowed further in CanTransition.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusFundingOpen:          {JobStatusFundingComplete, JobStatusInProgress},
	JobStatusFundingComplete:      {JobStatusWorkerSelected, JobStatusInProgress},
	JobStatusWorkerSelected:       {JobStatusInProgress},
	JobStatusInProgress:           {JobStatusAwaitingVerification, JobStatusUnderReview},
	JobStatusAwaitingVerification: {JobStatusUnderReview},
	JobStatusUnderReview:          {JobStatusUnderReview, JobStatusDisputed, JobStatusCompleted, JobStatusCancelled},
	JobStatusDisputed:             {JobStatusUnderReview, JobStatusCompleted, JobStatusCancelled},
	JobStatusCompleted:            {},
	JobStatusCancelled:            {},
}

// CanTransition reports whether a job in the given mode may move from one
// status to another.
func CanTransition(mode ExecutionMode, from, to JobStatus) bool {
	allowed, ok := jobTransitions[from]
	if !ok {
		return false
	}
	found := false
	for _, s := range allowed {
		if s == to {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	switch {
	case from == JobStatusFundingOpen && to == JobStatusInProgress:
		return mode == ExecutionModeLeader
	case from == JobStatusFundingComplete && to == JobStatusInProgress:
		return mode == ExecutionModeLeader
	case from == JobStatusFundingComplete && to == JobStatusWorkerSelected:
		return mode == ExecutionModeWorker
	case from == JobStatusWorkerSelected:
		return mode == ExecutionModeWorker
	case from == JobStatusInProgress && to == JobStatusUnderReview:
		return mode == ExecutionModeLeader
	}
	return true
}

// FundedStatus is where a job goes once its target is reached.
func FundedStatus(mode ExecutionMode) JobStatus {
	if mode == ExecutionModeLeader {
		return JobStatusInProgress
	}
	return JobStatusFundingComplete
}

type Job struct {
	ID                 uuid.UUID       `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Location           string          `json:"location"`
	IsPrivate          bool            `json:"is_private"`
	TargetAmount       decimal.Decimal `json:"target_amount"`
	CollectedAmount    decimal.Decimal `json:"collected_amount"`
	ExecutionMode      ExecutionMode   `json:"execution_mode"`
	Status             JobStatus       `json:"status"`
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`
	PlatformFeeAmount  decimal.Decimal `json:"platform_fee_amount"`
	WalletBalance      decimal.Decimal `json:"wallet_balance"`
	FundsFrozen        bool            `json:"funds_frozen"`
	LeaderID           uuid.UUID       `json:"leader_id"`
	SelectedWorkerID   *uuid.UUID      `json:"selected_worker_id,omitempty"`
	ReviewDeadline     *time.Time      `json:"review_deadline,omitempty"`
	Metadata           JobMetadata     `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// RecomputeWallet refreshes the fee and escrow pool from the collected amount.
func (j *Job) RecomputeWallet() {
	j.PlatformFeeAmount, j.WalletBalance = ComputeFeeAndWallet(j.CollectedAmount, j.PlatformFeePercent)
}

func (j *Job) IsFunded() bool {
	return j.CollectedAmount.GreaterThanOrEqual(j.TargetAmount)
}

func (j *Job) IsLeader(userID uuid.UUID) bool {
	return j.LeaderID == userID
}

func (j *Job) IsSelectedWorker(userID uuid.UUID) bool {
	return j.SelectedWorkerID != nil && *j.SelectedWorkerID == userID
}

// ReviewExpired reports whether the review window has lapsed at now.
func (j *Job) ReviewExpired(now time.Time) bool {
	return j.ReviewDeadline != nil && !now.Before(*j.ReviewDeadline)
}

// JobMetadata persists settlement snapshots alongside the job row.
type JobMetadata struct {
	SubmissionNote    string           `json:"submission_note,omitempty"`
	RefundDetails     []RefundDetail   `json:"refund_details,omitempty"`
	TotalSpent        *decimal.Decimal `json:"total_spent,omitempty"`
	RemainingBalance  *decimal.Decimal `json:"remaining_balance,omitempty"`
	RefundStagedAt    *time.Time       `json:"refund_staged_at,omitempty"`
	RefundProcessedAt *time.Time       `json:"refund_processed_at,omitempty"`
	Payout            *PayoutSnapshot  `json:"payout,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
}

// RefundDetail is one contributor's share of the leftover escrow pool.
type RefundDetail struct {
	UserID      uuid.UUID       `json:"user_id"`
	Contributed decimal.Decimal `json:"contributed"`
	Staged      decimal.Decimal `json:"staged"`
	Released    bool            `json:"released"`
}

type PayoutSnapshot struct {
	WorkerID  uuid.UUID       `json:"worker_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
	Fee       decimal.Decimal `json:"fee"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    time.Time       `json:"paid_at"`
}

// StagedFor returns the amount currently staged for a contributor.
func (m *JobMetadata) StagedFor(userID uuid.UUID) decimal.Decimal {
	for _, d := range m.RefundDetails {
		if d.UserID == userID {
			return d.Staged
		}
	}
	return decimal.Zero
}
