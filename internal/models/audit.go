package models

import (
	"time"

	"github.com/google/uuid"
)

// Entities an audit entry can point at. Contributions, applications, proofs
// and expenses are logged against their job so the job trail is complete.
const (
	AuditEntityJob        = "job"
	AuditEntityDispute    = "dispute"
	AuditEntityWithdrawal = "withdrawal"
)

// Actor kinds recorded on audit entries. Sweeper-driven settlement has no
// user and is logged as system.
const (
	AuditActorUser   = "user"
	AuditActorAdmin  = "admin"
	AuditActorSystem = "system"
)

// AuditLog is one append-only entry: a job status change, a contribution,
// a dispute decision, a withdrawal decision.
type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
