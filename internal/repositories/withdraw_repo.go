package repositories

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type WithdrawRepo struct {
	q querier
}

const withdrawalColumns = `id, user_id, amount, status, bank_account, admin_note, created_at, updated_at, processed_at`

func scanWithdrawal(row pgx.Row) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Status, &w.BankAccount, &w.AdminNote,
		&w.CreatedAt, &w.UpdatedAt, &w.ProcessedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &w, nil
}

func (r *WithdrawRepo) Create(ctx context.Context, w *models.WithdrawalRequest) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (user_id, amount, status, bank_account)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, w.UserID, w.Amount, w.Status, w.BankAccount).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt))
}

func (r *WithdrawRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(r.q.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
}

func (r *WithdrawRepo) Update(ctx context.Context, w *models.WithdrawalRequest) error {
	return mapErr(r.q.QueryRow(ctx, `
		UPDATE withdrawal_requests SET
			status = $1, admin_note = $2, processed_at = $3, updated_at = now()
		WHERE id = $4
		RETURNING updated_at
	`, w.Status, w.AdminNote, w.ProcessedAt, w.ID).Scan(&w.UpdatedAt))
}

func (r *WithdrawRepo) list(ctx context.Context, where string, arg any, limit, offset int) ([]models.WithdrawalRequest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE `+where+` = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, arg, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *WithdrawRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WithdrawalRequest, error) {
	return r.list(ctx, "user_id", userID, limit, offset)
}

func (r *WithdrawRepo) ListByStatus(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error) {
	return r.list(ctx, "status", status, limit, offset)
}
