package yield

import (
	"math/big"

	"nftyield/crypto"
)

// LendingAdapter is the external lending-market collaborator. Every call may
// fail; callers must treat failures as fatal to the triggering operation.
// Payout may legitimately return less than requested, which is a first-class
// partial-fill outcome rather than an error.
type LendingAdapter interface {
	Deposit(amount *big.Int) error
	Withdraw(amount *big.Int) error
	TotalAssets() (*big.Int, error)
	TotalPrincipal() (*big.Int, error)
	Payout(amount *big.Int, recipient crypto.Address) (*big.Int, error)
}
