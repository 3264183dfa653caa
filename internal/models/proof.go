package models

import (
	"time"

	"github.com/google/uuid"
)

type JobProof struct {
	ID            uuid.UUID     `json:"id"`
	JobID         uuid.UUID     `json:"job_id"`
	SubmittedBy   uuid.UUID     `json:"submitted_by"`
	BeforePhoto   string        `json:"before_photo"`
	AfterPhoto    string        `json:"after_photo"`
	DisposalPhoto string        `json:"disposal_photo,omitempty"`
	CapturedAt    time.Time     `json:"captured_at"`
	Metadata      ProofMetadata `json:"metadata"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ProofMetadata holds worker notes and the mirrored copy of dispute details.
type ProofMetadata struct {
	SubmissionNote string                       `json:"submission_note,omitempty"`
	DisputeDetails map[uuid.UUID]DisputeDetails `json:"dispute_details,omitempty"`
}

// JobProofDraft is scratch space until the real proof is uploaded.
type JobProofDraft struct {
	JobID         uuid.UUID `json:"job_id"`
	UserID        uuid.UUID `json:"user_id"`
	BeforePhoto   string    `json:"before_photo,omitempty"`
	AfterPhoto    string    `json:"after_photo,omitempty"`
	DisposalPhoto string    `json:"disposal_photo,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
