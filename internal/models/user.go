package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleMember      Role = "MEMBER"
	RoleLeader      Role = "LEADER"
	RoleWorker      Role = "WORKER"
	RoleContributor Role = "CONTRIBUTOR"
	RoleAdmin       Role = "ADMIN"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleLeader, RoleWorker, RoleContributor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the already-authenticated caller of a service operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SystemActor is used for transitions triggered by the sweeper or by reads.
var SystemActor = Actor{Role: "SYSTEM"}

type User struct {
	ID            uuid.UUID       `json:"id"`
	Role          Role            `json:"role"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
