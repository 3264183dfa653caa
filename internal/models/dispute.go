package models

import (
	"time"

	"github.com/google/uuid"
)

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "OPEN"
	DisputeStatusResolved DisputeStatus = "RESOLVED"
	DisputeStatusRejected DisputeStatus = "REJECTED"
)

type AdminDecision string

const (
	AdminDecisionApproveWork AdminDecision = "APPROVE_WORK"
	AdminDecisionRejectWork  AdminDecision = "REJECT_WORK"
)

func (d AdminDecision) IsValid() bool {
	return d == AdminDecisionApproveWork || d == AdminDecisionRejectWork
}

type Dispute struct {
	ID         uuid.UUID      `json:"id"`
	JobID      uuid.UUID      `json:"job_id"`
	RaisedByID uuid.UUID      `json:"raised_by_id"`
	Reason     string         `json:"reason"`
	Status     DisputeStatus  `json:"status"`
	Details    DisputeDetails `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type DisputeDetails struct {
	Evidence             []string        `json:"evidence,omitempty"`
	WorkerResponses      []DisputeEntry  `json:"worker_responses,omitempty"`
	LeaderClarifications []DisputeEntry  `json:"leader_clarifications,omitempty"`
	AdminDecision        *DecisionRecord `json:"admin_decision,omitempty"`
}

// IsEmpty is true when nothing beyond the raise itself was recorded.
func (d DisputeDetails) IsEmpty() bool {
	return len(d.Evidence) == 0 && len(d.WorkerResponses) == 0 &&
		len(d.LeaderClarifications) == 0 && d.AdminDecision == nil
}

type DisputeEntry struct {
	AuthorID  uuid.UUID `json:"author_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type DecisionRecord struct {
	AdminID   uuid.UUID     `json:"admin_id"`
	Decision  AdminDecision `json:"decision"`
	Note      string        `json:"note,omitempty"`
	DecidedAt time.Time     `json:"decided_at"`
}

// MergeDisputeDetails prefers the dedicated record and falls back to the
// mirror kept in proof metadata. Append-only lists are taken from whichever
// side holds more entries, since either copy may lag behind after a partial
// write.
func MergeDisputeDetails(primary *DisputeDetails, mirror *DisputeDetails) DisputeDetails {
	switch {
	case primary == nil && mirror == nil:
		return DisputeDetails{}
	case primary == nil:
		return *mirror
	case mirror == nil:
		return *primary
	}

	out := *primary
	if len(mirror.Evidence) > len(out.Evidence) {
		out.Evidence = mirror.Evidence
	}
	if len(mirror.WorkerResponses) > len(out.WorkerResponses) {
		out.WorkerResponses = mirror.WorkerResponses
	}
	if len(mirror.LeaderClarifications) > len(out.LeaderClarifications) {
		out.LeaderClarifications = mirror.LeaderClarifications
	}
	if out.AdminDecision == nil {
		out.AdminDecision = mirror.AdminDecision
	}
	return out
}
