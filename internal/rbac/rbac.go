package rbac

// Role constants
const (
	RoleOperator = "operator"
	RoleOracle   = "oracle"
	RoleDonor    = "donor"
)

// Permission constants
const (
	PermCreateEscrow     = "create_escrow"
	PermViewEscrow       = "view_escrow"
	PermCancelEscrow     = "cancel_escrow"
	PermSubmitVerdict    = "submit_verdict"
	PermRunDistribution  = "run_distribution"
	PermManageRecipients = "manage_recipients"
	PermScoreRecipients  = "score_recipients"
	PermViewRecipients   = "view_recipients"
	PermDonate           = "donate"
	PermViewDonors       = "view_donors"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleOperator: {
		PermCreateEscrow, PermViewEscrow, PermCancelEscrow, PermRunDistribution,
		PermManageRecipients, PermViewRecipients, PermDonate, PermViewDonors,
	},
	RoleOracle: {
		PermViewEscrow, PermSubmitVerdict, PermScoreRecipients, PermViewRecipients,
		PermViewDonors,
		// Oracle CANNOT move funds: no create, cancel or distribution
	},
	RoleDonor: {
		PermViewRecipients, PermViewDonors,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports whether permission moves funds.
func IsFinancialOperation(permission string) bool {
	switch permission {
	case PermCreateEscrow, PermCancelEscrow, PermRunDistribution, PermDonate:
		return true
	}
	return false
}
