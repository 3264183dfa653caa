package rbac

import "github.com/civic-cleanup/escrow/internal/models"

// Permission constants
const (
	PermCreateJob          = "create_job"
	PermApplyForJob        = "apply_for_job"
	PermDecideDispute      = "decide_dispute"
	PermProcessWithdrawal  = "process_withdrawal"
	PermReassignWorker     = "reassign_worker"
	PermViewPrivateJobs    = "view_private_jobs"
	PermListAllWithdrawals = "list_all_withdrawals"
)

// RolePermissions defines what each platform role can do beyond acting on
// its own jobs, bids and wallet.
var RolePermissions = map[models.Role][]string{
	models.RoleLeader: {
		PermCreateJob,
	},
	models.RoleWorker: {
		PermApplyForJob,
	},
	models.RoleAdmin: {
		PermCreateJob, PermDecideDispute, PermProcessWithdrawal,
		PermReassignWorker, PermViewPrivateJobs, PermListAllWithdrawals,
		// Admin CANNOT: PermApplyForJob
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role models.Role, permission string) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports whether the permission moves money outside
// the normal job settlement.
func IsFinancialOperation(permission string) bool {
	return permission == PermProcessWithdrawal
}
