package repositories

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type ContributionRepo struct {
	q querier
}

const contributionColumns = `id, job_id, user_id, amount, payment_status, source, payment_reference, refunded, created_at`

func scanContributions(rows pgx.Rows) ([]models.Contribution, error) {
	defer rows.Close()
	var out []models.Contribution
	for rows.Next() {
		var c models.Contribution
		if err := rows.Scan(&c.ID, &c.JobID, &c.UserID, &c.Amount, &c.PaymentStatus,
			&c.Source, &c.PaymentReference, &c.Refunded, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ContributionRepo) Create(ctx context.Context, c *models.Contribution) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO contributions (job_id, user_id, amount, payment_status, source, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, c.JobID, c.UserID, c.Amount, c.PaymentStatus, c.Source, c.PaymentReference).Scan(&c.ID, &c.CreatedAt))
}

func (r *ContributionRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Contribution, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return scanContributions(rows)
}

func (r *ContributionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Contribution, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE user_id = $1 ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanContributions(rows)
}

func (r *ContributionRepo) SumSuccessful(ctx context.Context, jobID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM contributions
		WHERE job_id = $1 AND payment_status = $2
	`, jobID, models.PaymentStatusSuccess).Scan(&sum)
	return sum, err
}

func (r *ContributionRepo) TotalsByContributor(ctx context.Context, jobID uuid.UUID) ([]models.ContributorTotal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id,
		       SUM(amount),
		       COALESCE(SUM(amount) FILTER (WHERE source = $3), 0)
		FROM contributions
		WHERE job_id = $1 AND payment_status = $2
		GROUP BY user_id
		ORDER BY user_id
	`, jobID, models.PaymentStatusSuccess, models.ContributionSourceWallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ContributorTotal
	for rows.Next() {
		var t models.ContributorTotal
		if err := rows.Scan(&t.UserID, &t.Amount, &t.WalletAmount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *ContributionRepo) HasSuccessful(ctx context.Context, jobID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contributions
			WHERE job_id = $1 AND user_id = $2 AND payment_status = $3
		)
	`, jobID, userID, models.PaymentStatusSuccess).Scan(&ok)
	return ok, err
}

func (r *ContributionRepo) MarkRefunded(ctx context.Context, jobID uuid.UUID) ([]models.Contribution, error) {
	rows, err := r.q.Query(ctx, `
		UPDATE contributions SET refunded = true
		WHERE job_id = $1 AND payment_status = $2 AND refunded = false
		RETURNING `+contributionColumns,
		jobID, models.PaymentStatusSuccess)
	if err != nil {
		return nil, err
	}
	return scanContributions(rows)
}
