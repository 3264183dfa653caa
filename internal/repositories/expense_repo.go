package repositories

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ExpenseRepo struct {
	q querier
}

func (r *ExpenseRepo) Create(ctx context.Context, e *models.JobExpense) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO job_expenses (job_id, leader_id, amount, description, proof_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, e.JobID, e.LeaderID, e.Amount, e.Description, e.ProofURL).Scan(&e.ID, &e.CreatedAt))
}

func (r *ExpenseRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobExpense, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, job_id, leader_id, amount, description, proof_url, created_at
		FROM job_expenses WHERE job_id = $1
		ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.JobExpense
	for rows.Next() {
		var e models.JobExpense
		if err := rows.Scan(&e.ID, &e.JobID, &e.LeaderID, &e.Amount, &e.Description, &e.ProofURL, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExpenseRepo) SumByJob(ctx context.Context, jobID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM job_expenses WHERE job_id = $1`, jobID).Scan(&sum)
	return sum, err
}
