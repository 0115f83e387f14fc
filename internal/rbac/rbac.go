package rbac

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/realestate-escrow/backend/internal/models"
)

// Role constants
const (
	RoleSeller    = "seller"
	RoleBuyer     = "buyer"
	RoleInspector = "inspector"
	RoleLender    = "lender"
	RoleOwner     = "owner" // current owner after finalization
)

// Permission constants
const (
	PermList             = "list"
	PermRegisterProperty = "register_property"
	PermDepositEarnest   = "deposit_earnest"
	PermInspect          = "inspect"
	PermApproveSale      = "approve_sale"
	PermFundLoan         = "fund_loan"
	PermFinalize         = "finalize"
	PermMakePayment      = "make_payment"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleSeller: {
		PermList, PermRegisterProperty, PermApproveSale, PermFinalize,
	},
	RoleBuyer: {
		PermDepositEarnest, PermApproveSale,
	},
	RoleInspector: {
		PermInspect,
	},
	RoleLender: {
		PermApproveSale, PermFundLoan,
	},
	RoleOwner: {
		PermMakePayment,
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

// RolesFor returns every role caller holds. listing may be nil, in which case
// only the process-wide roles are considered.
func RolesFor(roles models.Roles, listing *models.Listing, caller common.Address) []string {
	if caller == (common.Address{}) {
		return nil
	}
	var out []string
	if caller == roles.Seller {
		out = append(out, RoleSeller)
	}
	if caller == roles.Inspector {
		out = append(out, RoleInspector)
	}
	if caller == roles.Lender {
		out = append(out, RoleLender)
	}
	if listing != nil {
		if caller == listing.Buyer {
			out = append(out, RoleBuyer)
		}
		if !listing.IsListed && caller == listing.Owner() {
			out = append(out, RoleOwner)
		}
	}
	return out
}

// Permissions returns the union of permissions of roles, without duplicates.
func Permissions(roles []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range roles {
		for _, p := range RolePermissions[r] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Can reports whether any of roles grants permission.
func Can(roles []string, permission string) bool {
	for _, r := range roles {
		if HasPermission(r, permission) {
			return true
		}
	}
	return false
}
