package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{RoleOperator, PermCreateEscrow, true},
		{RoleOperator, PermSubmitVerdict, false},
		{RoleOracle, PermSubmitVerdict, true},
		{RoleOracle, PermRunDistribution, false},
		{RoleOracle, PermCancelEscrow, false},
		{RoleDonor, PermViewDonors, true},
		{RoleDonor, PermDonate, false},
		{"stranger", PermViewRecipients, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestOracleHoldsNoFinancialPermission(t *testing.T) {
	for _, p := range RolePermissions[RoleOracle] {
		if IsFinancialOperation(p) {
			t.Errorf("oracle holds financial permission %s", p)
		}
	}
}
