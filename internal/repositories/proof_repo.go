package repositories

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
)

type ProofRepo struct {
	q querier
}

func (r *ProofRepo) Create(ctx context.Context, p *models.JobProof) error {
	return mapErr(r.q.QueryRow(ctx, `
		INSERT INTO job_proofs (job_id, submitted_by, before_photo, after_photo, disposal_photo, captured_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, p.JobID, p.SubmittedBy, p.BeforePhoto, p.AfterPhoto, p.DisposalPhoto, p.CapturedAt, p.Metadata,
	).Scan(&p.ID, &p.CreatedAt))
}

func (r *ProofRepo) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.JobProof, error) {
	var p models.JobProof
	err := r.q.QueryRow(ctx, `
		SELECT id, job_id, submitted_by, before_photo, after_photo, disposal_photo, captured_at, metadata, created_at
		FROM job_proofs WHERE job_id = $1
	`, jobID).Scan(&p.ID, &p.JobID, &p.SubmittedBy, &p.BeforePhoto, &p.AfterPhoto, &p.DisposalPhoto,
		&p.CapturedAt, &p.Metadata, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *ProofRepo) UpdateMetadata(ctx context.Context, jobID uuid.UUID, md models.ProofMetadata) error {
	tag, err := r.q.Exec(ctx, `UPDATE job_proofs SET metadata = $1 WHERE job_id = $2`, md, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Drafts ---

func (r *ProofRepo) UpsertDraft(ctx context.Context, d *models.JobProofDraft) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO job_proof_drafts (job_id, user_id, before_photo, after_photo, disposal_photo, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			before_photo = EXCLUDED.before_photo,
			after_photo = EXCLUDED.after_photo,
			disposal_photo = EXCLUDED.disposal_photo,
			notes = EXCLUDED.notes,
			updated_at = now()
		RETURNING updated_at
	`, d.JobID, d.UserID, d.BeforePhoto, d.AfterPhoto, d.DisposalPhoto, d.Notes).Scan(&d.UpdatedAt)
}

func (r *ProofRepo) GetDraft(ctx context.Context, jobID uuid.UUID) (*models.JobProofDraft, error) {
	var d models.JobProofDraft
	err := r.q.QueryRow(ctx, `
		SELECT job_id, user_id, before_photo, after_photo, disposal_photo, notes, updated_at
		FROM job_proof_drafts WHERE job_id = $1
	`, jobID).Scan(&d.JobID, &d.UserID, &d.BeforePhoto, &d.AfterPhoto, &d.DisposalPhoto, &d.Notes, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (r *ProofRepo) DeleteDraft(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `DELETE FROM job_proof_drafts WHERE job_id = $1`, jobID)
	return err
}
