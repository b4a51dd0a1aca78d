package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftyield/core/types"
	"nftyield/crypto"
	"nftyield/native/epoch"
	"nftyield/native/rewards"
	"nftyield/native/subsidy"
	"nftyield/native/vault"
	"nftyield/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func addr(prefix crypto.AddressPrefix, seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(prefix, raw)
}

func TestGlobalIndexRoundTrip(t *testing.T) {
	m := newTestManager(t)

	// Missing index reads as zero, letting the engines prime it.
	got, err := m.GetGlobalIndex()
	require.NoError(t, err)
	require.Zero(t, got.Sign())

	value := new(big.Int).SetUint64(1_100_000_000_000_000_000)
	require.NoError(t, m.PutGlobalIndex(value))
	got, err = m.GetGlobalIndex()
	require.NoError(t, err)
	require.Zero(t, got.Cmp(value))
}

func TestCollectionRoundTrip(t *testing.T) {
	m := newTestManager(t)
	collection := addr(crypto.CollectionPrefix, 0x10)

	missing, err := m.GetCollection(collection)
	require.NoError(t, err)
	require.Nil(t, missing)

	cp := &vault.CollectionCheckpoint{
		Collection:       collection,
		LastIndex:        big.NewInt(42),
		Principal:        big.NewInt(1_000),
		AccruedRemainder: big.NewInt(3),
		LastUpdateBlock:  77,
		YieldShareBps:    5_000,
		RewardShareBps:   2_000,
		Beta:             big.NewInt(9),
	}
	require.NoError(t, m.PutCollection(cp))

	loaded, err := m.GetCollection(collection)
	require.NoError(t, err)
	require.True(t, loaded.Collection.Equal(collection))
	require.Zero(t, loaded.Principal.Cmp(cp.Principal))
	require.Equal(t, cp.YieldShareBps, loaded.YieldShareBps)
	require.Equal(t, cp.RewardShareBps, loaded.RewardShareBps)
	require.Zero(t, loaded.Beta.Cmp(cp.Beta))
}

func TestEpochYieldAppliedFlag(t *testing.T) {
	m := newTestManager(t)
	collection := addr(crypto.CollectionPrefix, 0x11)

	applied, err := m.EpochYieldApplied(3, collection)
	require.NoError(t, err)
	require.False(t, applied)

	require.NoError(t, m.MarkEpochYieldApplied(3, collection))
	applied, err = m.EpochYieldApplied(3, collection)
	require.NoError(t, err)
	require.True(t, applied)

	// Neighbouring epoch and collection stay unset.
	applied, err = m.EpochYieldApplied(4, collection)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestUserCheckpointRoundTrip(t *testing.T) {
	m := newTestManager(t)
	user := addr(crypto.UserPrefix, 0x01)
	collection := addr(crypto.CollectionPrefix, 0x02)

	cp := &rewards.UserCheckpoint{
		User:             user,
		Collection:       collection,
		LastIndex:        big.NewInt(1_000),
		Balance:          big.NewInt(555),
		NftBalance:       7,
		AccruedRemainder: big.NewInt(12),
		LastUpdateBlock:  88,
		LastSyncedNonce:  9,
	}
	require.NoError(t, m.PutUserCheckpoint(cp))

	loaded, err := m.GetUserCheckpoint(user, collection)
	require.NoError(t, err)
	require.True(t, loaded.User.Equal(user))
	require.True(t, loaded.Collection.Equal(collection))
	require.Zero(t, loaded.Balance.Cmp(cp.Balance))
	require.Equal(t, cp.NftBalance, loaded.NftBalance)
	require.Equal(t, cp.LastSyncedNonce, loaded.LastSyncedNonce)
}

func TestSnapshotsRoundTrip(t *testing.T) {
	m := newTestManager(t)
	user := addr(crypto.UserPrefix, 0x03)
	collection := addr(crypto.CollectionPrefix, 0x04)

	snaps := []rewards.Snapshot{
		{BlockNumber: 1, NftBalance: 1, Balance: big.NewInt(100), IndexAtStart: big.NewInt(10)},
		{BlockNumber: 2, NftBalance: 2, Balance: big.NewInt(200), IndexAtStart: big.NewInt(20)},
	}
	require.NoError(t, m.PutSnapshots(user, collection, snaps))

	loaded, err := m.GetSnapshots(user, collection)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, uint64(2), loaded[1].BlockNumber)
	require.Zero(t, loaded[1].Balance.Cmp(big.NewInt(200)))

	require.NoError(t, m.DeleteSnapshots(user, collection))
	loaded, err = m.GetSnapshots(user, collection)
	require.NoError(t, err)
	require.Empty(t, loaded)

	// Deleting again is a no-op, not an error.
	require.NoError(t, m.DeleteSnapshots(user, collection))
}

func TestSignerNonceAndDust(t *testing.T) {
	m := newTestManager(t)

	nonce, err := m.SignerNonce()
	require.NoError(t, err)
	require.Zero(t, nonce)
	require.NoError(t, m.SetSignerNonce(41))
	nonce, err = m.SignerNonce()
	require.NoError(t, err)
	require.EqualValues(t, 41, nonce)

	dust, err := m.DustBucket()
	require.NoError(t, err)
	require.Zero(t, dust.Sign())
	require.NoError(t, m.SetDustBucket(big.NewInt(17)))
	dust, err = m.DustBucket()
	require.NoError(t, err)
	require.EqualValues(t, 17, dust.Int64())
}

func TestCollectionSlotsStable(t *testing.T) {
	m := newTestManager(t)
	first := addr(crypto.CollectionPrefix, 0x20)
	second := addr(crypto.CollectionPrefix, 0x21)

	slotA, err := m.AssignCollectionSlot(first)
	require.NoError(t, err)
	slotB, err := m.AssignCollectionSlot(second)
	require.NoError(t, err)
	require.EqualValues(t, 0, slotA)
	require.EqualValues(t, 1, slotB)

	// Re-assignment returns the existing slot.
	again, err := m.AssignCollectionSlot(first)
	require.NoError(t, err)
	require.Equal(t, slotA, again)

	resolved, ok, err := m.CollectionBySlot(slotB)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, resolved.Equal(second))

	_, ok, err = m.CollectionBySlot(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActiveSlotsRoundTrip(t *testing.T) {
	m := newTestManager(t)
	user := addr(crypto.UserPrefix, 0x30)

	words, err := m.ActiveSlots(user)
	require.NoError(t, err)
	require.Empty(t, words)

	require.NoError(t, m.SetActiveSlots(user, []uint64{0b1010, 1}))
	words, err = m.ActiveSlots(user)
	require.NoError(t, err)
	require.Equal(t, []uint64{0b1010, 1}, words)

	// Writing an empty set removes the record.
	require.NoError(t, m.SetActiveSlots(user, nil))
	words, err = m.ActiveSlots(user)
	require.NoError(t, err)
	require.Empty(t, words)
}

func TestEpochRoundTrip(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CurrentEpochID()
	require.NoError(t, err)
	require.Zero(t, id)

	ep := &epoch.Epoch{
		ID:                        5,
		StartTime:                 1_700_000_000,
		EndTime:                   1_700_604_800,
		TotalYieldAvailable:       big.NewInt(12_345),
		TotalSubsidiesDistributed: big.NewInt(678),
		Status:                    epoch.StatusCompleted,
		FailureReason:             "",
		Allocations: []epoch.VaultAllocation{
			{VaultID: "vault-a", Amount: big.NewInt(10_000)},
			{VaultID: "vault-b", Amount: big.NewInt(2_345)},
		},
	}
	require.NoError(t, m.PutEpoch(ep))
	require.NoError(t, m.SetCurrentEpochID(5))

	id, err = m.CurrentEpochID()
	require.NoError(t, err)
	require.EqualValues(t, 5, id)

	loaded, err := m.GetEpoch(5)
	require.NoError(t, err)
	require.Equal(t, epoch.StatusCompleted, loaded.Status)
	require.Zero(t, loaded.TotalYieldAvailable.Cmp(ep.TotalYieldAvailable))
	require.Len(t, loaded.Allocations, 2)
	require.Zero(t, loaded.Allocation("vault-b").Cmp(big.NewInt(2_345)))

	missing, err := m.GetEpoch(6)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSubsidyRootAndClaims(t *testing.T) {
	m := newTestManager(t)
	user := addr(crypto.UserPrefix, 0x40)

	_, ok, err := m.SubsidyRoot("vault-a")
	require.NoError(t, err)
	require.False(t, ok)

	root := [32]byte{0xDE, 0xAD}
	require.NoError(t, m.SetSubsidyRoot("vault-a", root))
	loaded, ok, err := m.SubsidyRoot("vault-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root, loaded)

	record := &subsidy.ClaimRecord{Vault: "vault-a", User: user, Claimed: big.NewInt(900)}
	record.Seal()
	require.NoError(t, m.PutClaimRecord(record))

	got, err := m.ClaimRecord("vault-a", user)
	require.NoError(t, err)
	require.True(t, got.User.Equal(user))
	require.Zero(t, got.Claimed.Cmp(big.NewInt(900)))
	require.True(t, got.Verify())
}

func TestEventsDrain(t *testing.T) {
	m := newTestManager(t)
	m.AppendEvent(&types.Event{Type: "a"})
	m.AppendEvent(&types.Event{Type: "b"})
	m.AppendEvent(nil)

	events := m.DrainEvents()
	require.Len(t, events, 2)
	require.Equal(t, "a", events[0].Type)

	require.Empty(t, m.DrainEvents())
}
