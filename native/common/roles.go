package common

// Role names the capabilities recognised by the engines. Role storage and
// grant mechanics live outside this module; engines only ask the oracle.
type Role string

const (
	// RoleAdmin may whitelist collections and mutate share/beta parameters.
	RoleAdmin Role = "admin"
	// RoleEpochOperator may start, end and fail epochs.
	RoleEpochOperator Role = "epoch-operator"
	// RoleBatchSigner is the expected signer of balance-update batches.
	RoleBatchSigner Role = "batch-signer"
	// RoleTreasury may sweep accumulated rounding dust.
	RoleTreasury Role = "treasury"
)

// Authorizer is the external authorization oracle. Implementations answer
// "may this principal perform this role-gated action now?".
type Authorizer interface {
	HasRole(role Role, addr []byte) bool
}

// Authorize checks the role against the oracle, treating a nil oracle as
// fully open. Engines return ErrUnauthorized verbatim so callers can match it.
func Authorize(a Authorizer, role Role, addr []byte) error {
	if a == nil {
		return nil
	}
	if !a.HasRole(role, addr) {
		return ErrUnauthorized
	}
	return nil
}
