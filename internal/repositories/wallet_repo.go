package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type WalletRepo struct {
	q querier
}

const walletColumns = `user_id, available_balance, frozen_balance, total_deposited, total_spent, total_refunded, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.AvailableBalance, &w.FrozenBalance, &w.TotalDeposited,
		&w.TotalSpent, &w.TotalRefunded, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &w, nil
}

func (r *WalletRepo) ensure(ctx context.Context, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (r *WalletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return scanWallet(r.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

func (r *WalletRepo) GetForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return scanWallet(r.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

func (r *WalletRepo) Update(ctx context.Context, w *models.Wallet) error {
	err := r.q.QueryRow(ctx, `
		UPDATE wallets SET
			available_balance = $1, frozen_balance = $2, total_deposited = $3,
			total_spent = $4, total_refunded = $5, updated_at = now()
		WHERE user_id = $6
		RETURNING updated_at
	`, w.AvailableBalance, w.FrozenBalance, w.TotalDeposited, w.TotalSpent, w.TotalRefunded, w.UserID,
	).Scan(&w.UpdatedAt)
	return mapErr(err)
}

// --- Transactions ---

func (r *WalletRepo) AppendTransaction(ctx context.Context, t *models.WalletTransaction) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO wallet_transactions (user_id, type, amount, status, reference_id, description, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, t.UserID, t.Type, t.Amount, t.Status, t.ReferenceID, t.Description, t.JobID).Scan(&t.ID, &t.CreatedAt))
}

func (r *WalletRepo) ListTransactions(ctx context.Context, userID uuid.UUID, f TransactionFilter) ([]models.WalletTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, status, reference_id, description, job_id, created_at
		FROM wallet_transactions`
	args := []any{userID}
	argIdx := 2
	where := []string{"user_id = $1"}

	if f.JobID != nil {
		where = append(where, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, *f.JobID)
		argIdx++
	}
	if f.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *f.Type)
		argIdx++
	}
	query += " WHERE " + strings.Join(where, " AND ")
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.ReferenceID,
			&t.Description, &t.JobID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
