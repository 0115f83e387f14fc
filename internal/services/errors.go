package services

import "errors"

// Failure kinds of the escrow lifecycle. Every rejection wraps exactly one of
// these, so callers match with errors.Is.
var (
	ErrUnauthorized        = errors.New("caller is not authorized for this operation")
	ErrAlreadyListed       = errors.New("token is already listed")
	ErrInvalidTerms        = errors.New("invalid listing terms")
	ErrNotInspected        = errors.New("inspection has not passed")
	ErrIncompleteApprovals = errors.New("buyer, seller and lender approvals are required")
	ErrInsufficientEscrow  = errors.New("funds held in escrow do not cover the purchase price")
	ErrNotFinalized        = errors.New("sale is not finalized")
	ErrOverPayment         = errors.New("payment exceeds the remaining balance")
	ErrUnknownToken        = errors.New("unknown token")
	ErrListingClosed       = errors.New("listing is closed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInspectionLocked    = errors.New("inspection result is frozen once an approval exists")
	ErrConcurrentUpdate    = errors.New("listing was modified concurrently, retry")
)

var rejections = []error{
	ErrUnauthorized, ErrAlreadyListed, ErrInvalidTerms, ErrNotInspected,
	ErrIncompleteApprovals, ErrInsufficientEscrow, ErrNotFinalized, ErrOverPayment,
	ErrUnknownToken, ErrListingClosed, ErrInvalidAmount, ErrInspectionLocked,
}

// IsRejection reports whether err is a business rule rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
