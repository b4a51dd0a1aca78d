package state

import (
	"encoding/binary"

	"nftyield/crypto"
)

// Key layout. Every record lives under an ASCII namespace so a raw dump of
// the database stays inspectable. Addresses are the raw 20-byte payload;
// the bech32 prefix is re-attached on load from the namespace itself.
const (
	keyGlobalIndex     = "yield/index"
	keySignerNonce     = "rewards/nonce"
	keyDustBucket      = "rewards/dust"
	keySlotCount       = "rewards/slots/count"
	keyCurrentEpoch    = "epoch/current"
	prefixCollection   = "vault/collection/"
	prefixEpochApplied = "vault/epoch-applied/"
	prefixCheckpoint   = "rewards/checkpoint/"
	prefixSnapshots    = "rewards/snapshots/"
	prefixSlotByAddr   = "rewards/slots/addr/"
	prefixSlotByID     = "rewards/slots/id/"
	prefixActiveSlots  = "rewards/active/"
	prefixEpoch        = "epoch/record/"
	prefixSubsidyRoot  = "subsidy/root/"
	prefixSubsidyClaim = "subsidy/claim/"
)

func collectionKey(collection crypto.Address) []byte {
	return append([]byte(prefixCollection), collection.Bytes()...)
}

func epochAppliedKey(epochID uint64, collection crypto.Address) []byte {
	key := append([]byte(prefixEpochApplied), uint64Key(epochID)...)
	key = append(key, '/')
	return append(key, collection.Bytes()...)
}

func checkpointKey(user, collection crypto.Address) []byte {
	return positionedKey(prefixCheckpoint, user, collection)
}

func snapshotsKey(user, collection crypto.Address) []byte {
	return positionedKey(prefixSnapshots, user, collection)
}

func positionedKey(prefix string, user, collection crypto.Address) []byte {
	key := append([]byte(prefix), user.Bytes()...)
	key = append(key, '/')
	return append(key, collection.Bytes()...)
}

func slotByAddrKey(collection crypto.Address) []byte {
	return append([]byte(prefixSlotByAddr), collection.Bytes()...)
}

func slotByIDKey(slot uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], slot)
	return append([]byte(prefixSlotByID), buf[:]...)
}

func activeSlotsKey(user crypto.Address) []byte {
	return append([]byte(prefixActiveSlots), user.Bytes()...)
}

func epochKey(id uint64) []byte {
	return append([]byte(prefixEpoch), uint64Key(id)...)
}

func subsidyRootKey(vaultID string) []byte {
	return append([]byte(prefixSubsidyRoot), vaultID...)
}

func subsidyClaimKey(vaultID string, user crypto.Address) []byte {
	key := append([]byte(prefixSubsidyClaim), vaultID...)
	key = append(key, '/')
	return append(key, user.Bytes()...)
}

func uint64Key(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
