package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type DisputeRepo struct {
	q querier
}

const disputeColumns = `id, job_id, raised_by_id, reason, status, details, created_at, updated_at`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.JobID, &d.RaisedByID, &d.Reason, &d.Status, &d.Details, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO disputes (job_id, raised_by_id, reason, status, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, d.JobID, d.RaisedByID, d.Reason, d.Status, d.Details).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt))
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (r *DisputeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
}

func (r *DisputeRepo) List(ctx context.Context, f DisputeFilter) ([]models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.JobID != nil {
		where = append(where, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, *f.JobID)
		argIdx++
	}
	if f.RaisedByID != nil {
		where = append(where, fmt.Sprintf("raised_by_id = $%d", argIdx))
		args = append(args, *f.RaisedByID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DisputeRepo) Update(ctx context.Context, d *models.Dispute) error {
	err := r.q.QueryRow(ctx, `
		UPDATE disputes SET status = $1, details = $2, updated_at = now()
		WHERE id = $3
		RETURNING updated_at
	`, d.Status, d.Details, d.ID).Scan(&d.UpdatedAt)
	return mapErr(err)
}

func (r *DisputeRepo) CountOpen(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM disputes WHERE job_id = $1 AND status = $2
	`, jobID, models.DisputeStatusOpen).Scan(&n)
	return n, err
}
