package subsidy

import (
	"math/big"

	"lukechampine.com/blake3"

	"nftyield/crypto"
)

// ClaimRecord tracks the cumulative subsidy already paid to a recipient
// under one vault's distribution. Records survive root rotations: a new
// root only raises entitlements, so the running total keeps incremental
// payouts exact.
type ClaimRecord struct {
	Vault    string
	User     crypto.Address
	Claimed  *big.Int
	Checksum [32]byte
}

// Seal stamps the record with its integrity checksum.
func (r *ClaimRecord) Seal() {
	r.Checksum = r.digest()
}

// Verify reports whether the stored checksum matches the record contents.
func (r *ClaimRecord) Verify() bool {
	return r.Checksum == r.digest()
}

func (r *ClaimRecord) digest() [32]byte {
	claimed := r.Claimed
	if claimed == nil {
		claimed = big.NewInt(0)
	}
	preimage := make([]byte, 0, 64)
	preimage = append(preimage, []byte(r.Vault)...)
	preimage = append(preimage, 0)
	preimage = append(preimage, r.User.Bytes()...)
	preimage = append(preimage, 0)
	preimage = append(preimage, claimed.Bytes()...)
	return blake3.Sum256(preimage)
}

// Clone produces a deep copy of the record.
func (r *ClaimRecord) Clone() *ClaimRecord {
	if r == nil {
		return nil
	}
	clone := &ClaimRecord{
		Vault:    r.Vault,
		User:     r.User,
		Checksum: r.Checksum,
	}
	if r.Claimed != nil {
		clone.Claimed = new(big.Int).Set(r.Claimed)
	} else {
		clone.Claimed = big.NewInt(0)
	}
	return clone
}
