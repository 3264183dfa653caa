package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	UserID           uuid.UUID       `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	FrozenBalance    decimal.Decimal `json:"frozen_balance"`
	TotalDeposited   decimal.Decimal `json:"total_deposited"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TotalRefunded    decimal.Decimal `json:"total_refunded"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDeposit      TransactionType = "DEPOSIT"
	TransactionTypeContribution TransactionType = "CONTRIBUTION"
	TransactionTypeRefund       TransactionType = "REFUND"
	TransactionTypeWithdrawal   TransactionType = "WITHDRAWAL"
	TransactionTypeFee          TransactionType = "FEE"
	TransactionTypeBonus        TransactionType = "BONUS"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusSuccess   TransactionStatus = "SUCCESS"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

type WalletTransaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Description string            `json:"description,omitempty"`
	JobID       *uuid.UUID        `json:"job_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "PENDING"
	WithdrawalStatusApproved   WithdrawalStatus = "APPROVED"
	WithdrawalStatusProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalStatusPaid       WithdrawalStatus = "PAID"
	WithdrawalStatusFailed     WithdrawalStatus = "FAILED"
	WithdrawalStatusRejected   WithdrawalStatus = "REJECTED"
)

var ValidWithdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:    {WithdrawalStatusApproved, WithdrawalStatusRejected},
	WithdrawalStatusApproved:   {WithdrawalStatusProcessing, WithdrawalStatusRejected},
	WithdrawalStatusProcessing: {WithdrawalStatusPaid, WithdrawalStatusFailed},
	WithdrawalStatusPaid:       {},
	WithdrawalStatusFailed:     {},
	WithdrawalStatusRejected:   {},
}

func IsValidWithdrawalTransition(from, to WithdrawalStatus) bool {
	for _, s := range ValidWithdrawalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReturnsFunds reports whether reaching this status gives the money back to
// the wallet.
func (s WithdrawalStatus) ReturnsFunds() bool {
	return s == WithdrawalStatusRejected || s == WithdrawalStatusFailed
}

type WithdrawalRequest struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      WithdrawalStatus `json:"status"`
	BankAccount string           `json:"bank_account"`
	AdminNote   string           `json:"admin_note,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}
