package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/metrics"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/rbac"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService is the per-user ledger. Exported methods run in their own
// transaction; the lower-case variants run inside a caller's transaction so
// job settlement can combine them atomically.
type WalletService struct {
	base
}

func NewWalletService(d Deps) *WalletService {
	return &WalletService{base: newBase(d)}
}

// validateAmount requires a positive amount with at most two decimals and,
// when max is positive, not above max.
func validateAmount(amount, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationErr("amount must be positive")
	}
	if !amount.Equal(models.Round2(amount)) {
		return validationErr("amount must have at most two decimal places")
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return validationErr("amount exceeds maximum of %s", max.StringFixed(2))
	}
	return nil
}

// lockWallets takes the wallet row locks of all users in id order so that
// concurrent settlements never wait on each other in a cycle.
func lockWallets(ctx context.Context, tx *txScope, ids ...uuid.UUID) error {
	uniq := map[uuid.UUID]bool{}
	var sorted []uuid.UUID
	for _, id := range ids {
		if id == uuid.Nil || uniq[id] {
			continue
		}
		uniq[id] = true
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	for _, id := range sorted {
		if _, err := tx.Wallets().GetForUpdate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// apply writes the wallet and its transaction row. The transaction is
// appended inside a savepoint so a duplicate reference leaves tx usable.
func (s *WalletService) apply(ctx context.Context, tx *txScope, w *models.Wallet, t *models.WalletTransaction) error {
	err := tx.Savepoint(ctx, func(r repositories.Repos) error {
		return r.Wallets().AppendTransaction(ctx, t)
	})
	if err != nil {
		return err
	}
	if err := tx.Wallets().Update(ctx, w); err != nil {
		return err
	}
	metrics.WalletMutations.WithLabelValues(string(t.Type)).Inc()
	return nil
}

func jobRef(jobID uuid.UUID) *uuid.UUID {
	if jobID == uuid.Nil {
		return nil
	}
	return &jobID
}

// credit adds to available balance. DEPOSIT counts toward totalDeposited,
// REFUND toward totalRefunded. A DEPOSIT whose reference was already used
// is skipped and reported with applied=false.
func (s *WalletService) credit(ctx context.Context, tx *txScope, userID uuid.UUID, amount decimal.Decimal,
	txType models.TransactionType, ref, desc string, jobID uuid.UUID) (w *models.Wallet, applied bool, err error) {
	if !amount.IsPositive() {
		return nil, false, validationErr("amount must be positive")
	}
	w, err = tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	before := *w

	w.AvailableBalance = w.AvailableBalance.Add(amount)
	switch txType {
	case models.TransactionTypeDeposit, models.TransactionTypeBonus:
		w.TotalDeposited = w.TotalDeposited.Add(amount)
	case models.TransactionTypeRefund:
		w.TotalRefunded = w.TotalRefunded.Add(amount)
	}

	err = s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      models.TransactionStatusSuccess,
		ReferenceID: ref,
		Description: desc,
		JobID:       jobRef(jobID),
	})
	if errors.Is(err, repositories.ErrDuplicate) {
		return &before, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// freeze moves amount from available to frozen for a wallet-funded
// contribution.
func (s *WalletService) freeze(ctx context.Context, tx *txScope, userID, jobID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.AvailableBalance.LessThan(amount) {
		return nil, &InsufficientBalanceError{Available: w.AvailableBalance, Required: amount}
	}
	w.AvailableBalance = w.AvailableBalance.Sub(amount)
	w.FrozenBalance = w.FrozenBalance.Add(amount)

	err = s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        models.TransactionTypeContribution,
		Amount:      amount,
		Status:      models.TransactionStatusPending,
		Description: "funds frozen for job contribution",
		JobID:       jobRef(jobID),
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// addToFrozen raises frozen balance only. Staged refunds are money owed back
// to the user, so available is left alone.
func (s *WalletService) addToFrozen(ctx context.Context, tx *txScope, userID uuid.UUID, amount decimal.Decimal,
	note string, txType models.TransactionType, jobID uuid.UUID) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, validationErr("amount must be positive")
	}
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	w.FrozenBalance = w.FrozenBalance.Add(amount)

	err = s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      models.TransactionStatusPending,
		Description: note,
		JobID:       jobRef(jobID),
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// debitFrozen takes up to amount out of frozen balance. When frozen is short
// it is clamped at zero and the shortfall logged, never failed.
func (s *WalletService) debitFrozen(w *models.Wallet, amount decimal.Decimal, op string) decimal.Decimal {
	if w.FrozenBalance.LessThan(amount) {
		s.log.Warn("frozen balance short, clamping",
			zap.String("op", op),
			zap.String("user_id", w.UserID.String()),
			zap.String("frozen", w.FrozenBalance.StringFixed(2)),
			zap.String("requested", amount.StringFixed(2)),
		)
		amount = w.FrozenBalance
	}
	w.FrozenBalance = w.FrozenBalance.Sub(amount)
	return amount
}

// unfreeze releases frozen funds to available and counts them as refunded.
// It returns the amount actually released.
func (s *WalletService) unfreeze(ctx context.Context, tx *txScope, userID uuid.UUID, amount decimal.Decimal, jobID uuid.UUID, desc string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	released := s.debitFrozen(w, amount, "unfreeze")
	if !released.IsPositive() {
		return decimal.Zero, nil
	}
	w.AvailableBalance = w.AvailableBalance.Add(released)
	w.TotalRefunded = w.TotalRefunded.Add(released)

	err = s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        models.TransactionTypeRefund,
		Amount:      released,
		Status:      models.TransactionStatusSuccess,
		Description: desc,
		JobID:       jobRef(jobID),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return released, nil
}

// unstage withdraws a previously staged refund from frozen balance.
func (s *WalletService) unstage(ctx context.Context, tx *txScope, userID uuid.UUID, amount decimal.Decimal, jobID uuid.UUID) error {
	if !amount.IsPositive() {
		return nil
	}
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	taken := s.debitFrozen(w, amount, "unstage")
	if !taken.IsPositive() {
		return nil
	}
	return s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        models.TransactionTypeRefund,
		Amount:      taken,
		Status:      models.TransactionStatusCancelled,
		Description: "staged refund withdrawn",
		JobID:       jobRef(jobID),
	})
}

// settleFrozen consumes frozen contribution funds once the job they backed
// has completed.
func (s *WalletService) settleFrozen(ctx context.Context, tx *txScope, userID uuid.UUID, amount decimal.Decimal, jobID uuid.UUID) error {
	if !amount.IsPositive() {
		return nil
	}
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	spent := s.debitFrozen(w, amount, "settle")
	if !spent.IsPositive() {
		return nil
	}
	w.TotalSpent = w.TotalSpent.Add(spent)
	return s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        models.TransactionTypeContribution,
		Amount:      spent,
		Status:      models.TransactionStatusSuccess,
		Description: "contribution settled",
		JobID:       jobRef(jobID),
	})
}

func (s *WalletService) deduct(ctx context.Context, tx *txScope, userID uuid.UUID, amount decimal.Decimal,
	txType models.TransactionType, ref, desc string) (*models.Wallet, error) {
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.AvailableBalance.LessThan(amount) {
		return nil, &InsufficientBalanceError{Available: w.AvailableBalance, Required: amount}
	}
	w.AvailableBalance = w.AvailableBalance.Sub(amount)
	w.TotalSpent = w.TotalSpent.Add(amount)

	err = s.apply(ctx, tx, w, &models.WalletTransaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      models.TransactionStatusSuccess,
		ReferenceID: ref,
		Description: desc,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// --- Public ledger operations ---

func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w *models.Wallet
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		w, err = tx.Wallets().GetOrCreate(ctx, userID)
		return err
	})
	return w, err
}

// AddMoney credits an externally verified payment. Replaying the same
// externalRef leaves the wallet unchanged.
func (s *WalletService) AddMoney(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, externalRef string) (*models.Wallet, bool, error) {
	if err := validateAmount(amount, decimal.Zero); err != nil {
		return nil, false, err
	}
	var (
		w       *models.Wallet
		applied bool
	)
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		w, applied, err = s.credit(ctx, tx, userID, amount, models.TransactionTypeDeposit, externalRef, "wallet top-up", uuid.Nil)
		if err != nil {
			return err
		}
		if applied {
			tx.emit(events.Event{
				Type:       events.EventWalletCredited,
				Payload:    map[string]any{"user_id": userID.String(), "amount": amount.StringFixed(2)},
				Recipients: []string{userID.String()},
			})
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.log.Info("wallet credited",
			zap.String("user_id", userID.String()),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("ref", externalRef),
		)
	}
	return w, applied, nil
}

func (s *WalletService) FreezeWalletFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, jobID uuid.UUID) (*models.Wallet, error) {
	if err := validateAmount(amount, decimal.Zero); err != nil {
		return nil, err
	}
	var w *models.Wallet
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		w, err = s.freeze(ctx, tx, userID, jobID, amount)
		return err
	})
	return w, err
}

func (s *WalletService) AddToFrozen(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, note string, txType models.TransactionType) (*models.Wallet, error) {
	if err := validateAmount(amount, decimal.Zero); err != nil {
		return nil, err
	}
	var w *models.Wallet
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		w, err = s.addToFrozen(ctx, tx, userID, amount, note, txType, uuid.Nil)
		return err
	})
	return w, err
}

func (s *WalletService) UnfreezeWalletFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	var w *models.Wallet
	err := s.inTx(ctx, func(tx *txScope) error {
		if _, err := s.unfreeze(ctx, tx, userID, amount, uuid.Nil, "funds released"); err != nil {
			return err
		}
		var err error
		w, err = tx.Wallets().GetOrCreate(ctx, userID)
		return err
	})
	return w, err
}

func (s *WalletService) DeductFromWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal,
	txType models.TransactionType, ref, desc string) (*models.Wallet, error) {
	if err := validateAmount(amount, decimal.Zero); err != nil {
		return nil, err
	}
	var w *models.Wallet
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		w, err = s.deduct(ctx, tx, userID, amount, txType, ref, desc)
		return err
	})
	return w, err
}

func (s *WalletService) ListTransactions(ctx context.Context, userID uuid.UUID, f repositories.TransactionFilter) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		out, err = tx.Wallets().ListTransactions(ctx, userID, f)
		return err
	})
	return out, err
}

// --- Withdrawals ---

func (s *WalletService) RequestWithdrawal(ctx context.Context, actor models.Actor, amount decimal.Decimal, bankAccount string) (*models.WithdrawalRequest, error) {
	if err := validateAmount(amount, s.cfg.MaxWithdrawalAmount); err != nil {
		return nil, err
	}
	if amount.LessThan(s.cfg.MinWithdrawalAmount) {
		return nil, validationErr("minimum withdrawal is %s", s.cfg.MinWithdrawalAmount.StringFixed(2))
	}
	bankAccount = strings.TrimSpace(bankAccount)
	if bankAccount == "" {
		return nil, validationErr("bank account is required")
	}

	req := &models.WithdrawalRequest{
		UserID:      actor.UserID,
		Amount:      amount,
		Status:      models.WithdrawalStatusPending,
		BankAccount: bankAccount,
	}
	err := s.inTx(ctx, func(tx *txScope) error {
		if err := tx.Withdrawals().Create(ctx, req); err != nil {
			return err
		}
		if _, err := s.deduct(ctx, tx, actor.UserID, amount, models.TransactionTypeWithdrawal,
			"withdrawal:"+req.ID.String(), "withdrawal requested"); err != nil {
			return err
		}
		audit(ctx, tx, s.log, actor, "withdrawal_requested", models.AuditEntityWithdrawal, req.ID,
			map[string]any{"amount": amount.StringFixed(2)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListWithdrawals returns the caller's own requests, or for admins every
// request in the given status.
func (s *WalletService) ListWithdrawals(ctx context.Context, actor models.Actor, status *models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error) {
	var out []models.WithdrawalRequest
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		if rbac.HasPermission(actor.Role, rbac.PermListAllWithdrawals) && status != nil {
			out, err = tx.Withdrawals().ListByStatus(ctx, *status, limit, offset)
		} else {
			out, err = tx.Withdrawals().ListByUser(ctx, actor.UserID, limit, offset)
		}
		return err
	})
	return out, err
}

// ProcessWithdrawal moves a request along its admin workflow. Rejected or
// failed payouts give the money back to the wallet.
func (s *WalletService) ProcessWithdrawal(ctx context.Context, actor models.Actor, id uuid.UUID, to models.WithdrawalStatus, note string) (*models.WithdrawalRequest, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermProcessWithdrawal) {
		return nil, forbiddenErr("admin access required")
	}
	var req *models.WithdrawalRequest
	err := s.inTx(ctx, func(tx *txScope) error {
		var err error
		req, err = tx.Withdrawals().GetForUpdate(ctx, id)
		if err != nil {
			return mapNotFound(err, "withdrawal request")
		}
		if !models.IsValidWithdrawalTransition(req.Status, to) {
			return conflictErr("cannot move withdrawal from %s to %s", req.Status, to)
		}
		from := req.Status
		req.Status = to
		if note != "" {
			req.AdminNote = note
		}
		if to == models.WithdrawalStatusPaid || to.ReturnsFunds() {
			now := s.now()
			req.ProcessedAt = &now
		}
		if err := tx.Withdrawals().Update(ctx, req); err != nil {
			return err
		}

		if to.ReturnsFunds() {
			w, err := tx.Wallets().GetForUpdate(ctx, req.UserID)
			if err != nil {
				return err
			}
			w.AvailableBalance = w.AvailableBalance.Add(req.Amount)
			w.TotalSpent = w.TotalSpent.Sub(req.Amount)
			if w.TotalSpent.IsNegative() {
				w.TotalSpent = decimal.Zero
			}
			err = s.apply(ctx, tx, w, &models.WalletTransaction{
				UserID:      req.UserID,
				Type:        models.TransactionTypeRefund,
				Amount:      req.Amount,
				Status:      models.TransactionStatusSuccess,
				ReferenceID: "withdrawal:" + req.ID.String(),
				Description: fmt.Sprintf("withdrawal %s", strings.ToLower(string(to))),
			})
			if err != nil {
				return err
			}
		}

		audit(ctx, tx, s.log, actor, fmt.Sprintf("withdrawal_%s_to_%s", from, to), models.AuditEntityWithdrawal, req.ID,
			map[string]any{"note": note})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// --- Payment gateway ---

// PaymentNotification is the already-verified body of a gateway callback.
type PaymentNotification struct {
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
}

// ParseOrderID extracts the user id from "wallet_<userId>_<nonce>".
func ParseOrderID(orderID string) (uuid.UUID, error) {
	parts := strings.SplitN(orderID, "_", 3)
	if len(parts) != 3 || parts[0] != "wallet" || parts[2] == "" {
		return uuid.Nil, validationErr("malformed order id %q", orderID)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, validationErr("malformed order id %q", orderID)
	}
	return id, nil
}

// HandlePaymentWebhook credits the wallet named by the order id. Each
// payment id is applied at most once.
func (s *WalletService) HandlePaymentWebhook(ctx context.Context, n PaymentNotification) (bool, error) {
	userID, err := ParseOrderID(n.OrderID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(n.PaymentID) == "" {
		return false, validationErr("payment_id is required")
	}
	_, applied, err := s.AddMoney(ctx, userID, n.Amount, "payment:"+n.PaymentID)
	if err != nil {
		return false, err
	}
	if !applied {
		s.log.Info("payment webhook replayed", zap.String("payment_id", n.PaymentID))
	}
	return applied, nil
}
