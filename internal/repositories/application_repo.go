package repositories

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ApplicationRepo struct {
	q querier
}

const applicationColumns = `id, job_id, worker_id, bid_amount, message, status, created_at, updated_at`

func scanApplication(row pgx.Row) (*models.WorkerApplication, error) {
	var a models.WorkerApplication
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.BidAmount, &a.Message, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *ApplicationRepo) Create(ctx context.Context, a *models.WorkerApplication) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO worker_applications (job_id, worker_id, bid_amount, message, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, a.JobID, a.WorkerID, a.BidAmount, a.Message, a.Status).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt))
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkerApplication, error) {
	return scanApplication(r.q.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM worker_applications WHERE id = $1`, id))
}

func (r *ApplicationRepo) GetByJobAndWorker(ctx context.Context, jobID, workerID uuid.UUID) (*models.WorkerApplication, error) {
	return scanApplication(r.q.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM worker_applications WHERE job_id = $1 AND worker_id = $2`, jobID, workerID))
}

func (r *ApplicationRepo) GetAccepted(ctx context.Context, jobID uuid.UUID) (*models.WorkerApplication, error) {
	return scanApplication(r.q.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM worker_applications WHERE job_id = $1 AND status = $2`,
		jobID, models.ApplicationStatusAccepted))
}

func (r *ApplicationRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.WorkerApplication, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+applicationColumns+` FROM worker_applications
		WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WorkerApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *ApplicationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ApplicationStatus) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE worker_applications SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectPending rejects every other pending application of the job.
func (r *ApplicationRepo) RejectPending(ctx context.Context, jobID, exceptID uuid.UUID) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE worker_applications SET status = $1, updated_at = now()
		WHERE job_id = $2 AND id <> $3 AND status = $4
	`, models.ApplicationStatusRejected, jobID, exceptID, models.ApplicationStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
