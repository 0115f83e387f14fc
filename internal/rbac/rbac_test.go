package rbac

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

var (
	seller    = common.HexToAddress("0xa1")
	buyer     = common.HexToAddress("0xb1")
	inspector = common.HexToAddress("0xc1")
	lender    = common.HexToAddress("0xd1")
	roles     = models.Roles{Seller: seller, Inspector: inspector, Lender: lender}
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		expected   bool
	}{
		{RoleSeller, PermList, true},
		{RoleSeller, PermFinalize, true},
		{RoleSeller, PermDepositEarnest, false},
		{RoleBuyer, PermDepositEarnest, true},
		{RoleBuyer, PermFinalize, false},
		{RoleInspector, PermInspect, true},
		{RoleInspector, PermApproveSale, false},
		{RoleLender, PermFundLoan, true},
		{RoleOwner, PermMakePayment, true},
		{"nobody", PermList, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.permission); got != tt.expected {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.permission, got, tt.expected)
			}
		})
	}
}

func TestRolesFor(t *testing.T) {
	open := &models.Listing{Seller: seller, Buyer: buyer, IsListed: true, RemainingBalance: new(big.Int)}
	closed := open.Clone()
	closed.IsListed = false
	closed.CurrentOwner = &buyer

	assert.Equal(t, []string{RoleSeller}, RolesFor(roles, nil, seller))
	assert.Equal(t, []string{RoleBuyer}, RolesFor(roles, open, buyer))
	assert.Equal(t, []string{RoleBuyer, RoleOwner}, RolesFor(roles, closed, buyer))
	assert.Empty(t, RolesFor(roles, open, common.HexToAddress("0xe1")))
	assert.Empty(t, RolesFor(models.Roles{}, nil, common.Address{}))

	assert.True(t, Can(RolesFor(roles, closed, buyer), PermMakePayment))
	assert.False(t, Can(RolesFor(roles, open, buyer), PermMakePayment))
}

func TestPermissionsDeduplicates(t *testing.T) {
	perms := Permissions([]string{RoleSeller, RoleBuyer, RoleLender})
	n := 0
	for _, p := range perms {
		if p == PermApproveSale {
			n++
		}
	}
	assert.Equal(t, 1, n)
}
