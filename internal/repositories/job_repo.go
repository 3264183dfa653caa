package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type JobRepo struct {
	q querier
}

const jobColumns = `
	j.id, j.title, j.description, j.location, j.is_private,
	j.target_amount, j.collected_amount, j.execution_mode, j.status,
	j.platform_fee_percent, j.platform_fee_amount, j.wallet_balance, j.funds_frozen,
	j.leader_id, j.selected_worker_id, j.review_deadline, j.metadata,
	j.created_at, j.updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var status string
	err := row.Scan(&j.ID, &j.Title, &j.Description, &j.Location, &j.IsPrivate,
		&j.TargetAmount, &j.CollectedAmount, &j.ExecutionMode, &status,
		&j.PlatformFeePercent, &j.PlatformFeeAmount, &j.WalletBalance, &j.FundsFrozen,
		&j.LeaderID, &j.SelectedWorkerID, &j.ReviewDeadline, &j.Metadata,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	j.Status = models.NormalizeStatus(status)
	return &j, nil
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO jobs (title, description, location, is_private, target_amount, collected_amount,
		                  execution_mode, status, platform_fee_percent, platform_fee_amount, wallet_balance,
		                  funds_frozen, leader_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`, j.Title, j.Description, j.Location, j.IsPrivate, j.TargetAmount, j.CollectedAmount,
		j.ExecutionMode, j.Status, j.PlatformFeePercent, j.PlatformFeeAmount, j.WalletBalance,
		j.FundsFrozen, j.LeaderID, j.Metadata,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt))
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1`, id))
}

func (r *JobRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1 FOR UPDATE`, id))
}

func (r *JobRepo) Update(ctx context.Context, j *models.Job, expected models.JobStatus) error {
	var updatedAt time.Time
	err := r.q.QueryRow(ctx, `
		UPDATE jobs SET
			title = $1, description = $2, location = $3, is_private = $4,
			target_amount = $5, collected_amount = $6, execution_mode = $7, status = $8,
			platform_fee_percent = $9, platform_fee_amount = $10, wallet_balance = $11,
			funds_frozen = $12, selected_worker_id = $13, review_deadline = $14, metadata = $15,
			updated_at = now()
		WHERE id = $16 AND status = $17
		RETURNING updated_at
	`, j.Title, j.Description, j.Location, j.IsPrivate,
		j.TargetAmount, j.CollectedAmount, j.ExecutionMode, j.Status,
		j.PlatformFeePercent, j.PlatformFeeAmount, j.WalletBalance,
		j.FundsFrozen, j.SelectedWorkerID, j.ReviewDeadline, j.Metadata,
		j.ID, expected,
	).Scan(&updatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrStale
		}
		return mapErr(err)
	}
	j.UpdatedAt = updatedAt
	return nil
}

func (r *JobRepo) List(ctx context.Context, f JobFilter) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs j`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("j.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.LeaderID != nil {
		where = append(where, fmt.Sprintf("j.leader_id = $%d", argIdx))
		args = append(args, *f.LeaderID)
		argIdx++
	}
	if f.ContributorID != nil {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM contributions c WHERE c.job_id = j.id AND c.user_id = $%d)", argIdx))
		args = append(args, *f.ContributorID)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY j.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) ListExpiredReviews(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT id FROM jobs
		WHERE status = $1 AND review_deadline IS NOT NULL AND review_deadline <= $2
		ORDER BY review_deadline, id
		LIMIT $3
	`, models.JobStatusUnderReview, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
