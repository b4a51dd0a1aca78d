package state

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"nftyield/core/types"
	"nftyield/crypto"
	"nftyield/native/epoch"
	"nftyield/native/rewards"
	"nftyield/native/subsidy"
	"nftyield/native/vault"
	"nftyield/storage"
)

// Manager persists engine state to a storage.Database using RLP encoding.
// One Manager backs all engines; they share the global index and the event
// stream. Events are buffered in memory until drained by the host.
type Manager struct {
	db storage.Database

	mu     sync.Mutex
	events []types.Event
}

// NewManager wraps the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// AppendEvent records an engine event on the in-memory stream.
func (m *Manager) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt)
}

// DrainEvents returns the buffered events and clears the stream.
func (m *Manager) DrainEvents() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}

// --- shared global index ---

func (m *Manager) GetGlobalIndex() (*big.Int, error) {
	return m.getBig([]byte(keyGlobalIndex))
}

func (m *Manager) PutGlobalIndex(value *big.Int) error {
	return m.putBig([]byte(keyGlobalIndex), value)
}

// --- vault collections ---

// storedCollection mirrors vault.CollectionCheckpoint with the address
// flattened to raw bytes so the record is RLP-encodable.
type storedCollection struct {
	Collection       []byte
	LastIndex        *big.Int
	Principal        *big.Int
	AccruedRemainder *big.Int
	LastUpdateBlock  uint64
	YieldShareBps    uint64
	RewardShareBps   uint64
	Beta             *big.Int
}

func (m *Manager) GetCollection(collection crypto.Address) (*vault.CollectionCheckpoint, error) {
	var stored storedCollection
	ok, err := m.get(collectionKey(collection), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.CollectionCheckpoint{
		Collection:       crypto.NewAddress(crypto.CollectionPrefix, stored.Collection),
		LastIndex:        stored.LastIndex,
		Principal:        stored.Principal,
		AccruedRemainder: stored.AccruedRemainder,
		LastUpdateBlock:  stored.LastUpdateBlock,
		YieldShareBps:    stored.YieldShareBps,
		RewardShareBps:   stored.RewardShareBps,
		Beta:             stored.Beta,
	}, nil
}

func (m *Manager) PutCollection(cp *vault.CollectionCheckpoint) error {
	if cp == nil {
		return fmt.Errorf("state: nil collection checkpoint")
	}
	return m.put(collectionKey(cp.Collection), &storedCollection{
		Collection:       cp.Collection.Bytes(),
		LastIndex:        cp.LastIndex,
		Principal:        cp.Principal,
		AccruedRemainder: cp.AccruedRemainder,
		LastUpdateBlock:  cp.LastUpdateBlock,
		YieldShareBps:    cp.YieldShareBps,
		RewardShareBps:   cp.RewardShareBps,
		Beta:             cp.Beta,
	})
}

func (m *Manager) EpochYieldApplied(epochID uint64, collection crypto.Address) (bool, error) {
	return m.db.Has(epochAppliedKey(epochID, collection))
}

func (m *Manager) MarkEpochYieldApplied(epochID uint64, collection crypto.Address) error {
	return m.db.Put(epochAppliedKey(epochID, collection), []byte{1})
}

// --- rewards checkpoints and segments ---

type storedCheckpoint struct {
	User             []byte
	Collection       []byte
	LastIndex        *big.Int
	Balance          *big.Int
	NftBalance       uint64
	AccruedRemainder *big.Int
	LastUpdateBlock  uint64
	LastSyncedNonce  uint64
}

func (m *Manager) GetUserCheckpoint(user, collection crypto.Address) (*rewards.UserCheckpoint, error) {
	var stored storedCheckpoint
	ok, err := m.get(checkpointKey(user, collection), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &rewards.UserCheckpoint{
		User:             crypto.NewAddress(crypto.UserPrefix, stored.User),
		Collection:       crypto.NewAddress(crypto.CollectionPrefix, stored.Collection),
		LastIndex:        stored.LastIndex,
		Balance:          stored.Balance,
		NftBalance:       stored.NftBalance,
		AccruedRemainder: stored.AccruedRemainder,
		LastUpdateBlock:  stored.LastUpdateBlock,
		LastSyncedNonce:  stored.LastSyncedNonce,
	}, nil
}

func (m *Manager) PutUserCheckpoint(cp *rewards.UserCheckpoint) error {
	if cp == nil {
		return fmt.Errorf("state: nil user checkpoint")
	}
	return m.put(checkpointKey(cp.User, cp.Collection), &storedCheckpoint{
		User:             cp.User.Bytes(),
		Collection:       cp.Collection.Bytes(),
		LastIndex:        cp.LastIndex,
		Balance:          cp.Balance,
		NftBalance:       cp.NftBalance,
		AccruedRemainder: cp.AccruedRemainder,
		LastUpdateBlock:  cp.LastUpdateBlock,
		LastSyncedNonce:  cp.LastSyncedNonce,
	})
}

type storedSnapshot struct {
	BlockNumber  uint64
	NftBalance   uint64
	Balance      *big.Int
	IndexAtStart *big.Int
}

func (m *Manager) GetSnapshots(user, collection crypto.Address) ([]rewards.Snapshot, error) {
	var stored []storedSnapshot
	ok, err := m.get(snapshotsKey(user, collection), &stored)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]rewards.Snapshot, len(stored))
	for i, s := range stored {
		out[i] = rewards.Snapshot{
			BlockNumber:  s.BlockNumber,
			NftBalance:   s.NftBalance,
			Balance:      s.Balance,
			IndexAtStart: s.IndexAtStart,
		}
	}
	return out, nil
}

func (m *Manager) PutSnapshots(user, collection crypto.Address, snaps []rewards.Snapshot) error {
	stored := make([]storedSnapshot, len(snaps))
	for i, s := range snaps {
		stored[i] = storedSnapshot{
			BlockNumber:  s.BlockNumber,
			NftBalance:   s.NftBalance,
			Balance:      s.Balance,
			IndexAtStart: s.IndexAtStart,
		}
	}
	return m.put(snapshotsKey(user, collection), stored)
}

func (m *Manager) DeleteSnapshots(user, collection crypto.Address) error {
	err := m.db.Delete(snapshotsKey(user, collection))
	if err != nil && storage.IsNotFound(err) {
		return nil
	}
	return err
}

// --- rewards signer nonce, slots, dust ---

func (m *Manager) SignerNonce() (uint64, error) {
	return m.getUint64([]byte(keySignerNonce))
}

func (m *Manager) SetSignerNonce(nonce uint64) error {
	return m.put([]byte(keySignerNonce), nonce)
}

// AssignCollectionSlot returns the collection's stable slot, allocating the
// next free one on first sight.
func (m *Manager) AssignCollectionSlot(collection crypto.Address) (uint32, error) {
	var slot uint32
	ok, err := m.get(slotByAddrKey(collection), &slot)
	if err != nil {
		return 0, err
	}
	if ok {
		return slot, nil
	}
	count, err := m.getUint64([]byte(keySlotCount))
	if err != nil {
		return 0, err
	}
	slot = uint32(count)
	if err := m.put(slotByAddrKey(collection), slot); err != nil {
		return 0, err
	}
	if err := m.put(slotByIDKey(slot), collection.Bytes()); err != nil {
		return 0, err
	}
	if err := m.put([]byte(keySlotCount), count+1); err != nil {
		return 0, err
	}
	return slot, nil
}

func (m *Manager) CollectionBySlot(slot uint32) (crypto.Address, bool, error) {
	var raw []byte
	ok, err := m.get(slotByIDKey(slot), &raw)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return crypto.NewAddress(crypto.CollectionPrefix, raw), true, nil
}

func (m *Manager) ActiveSlots(user crypto.Address) ([]uint64, error) {
	var words []uint64
	if _, err := m.get(activeSlotsKey(user), &words); err != nil {
		return nil, err
	}
	return words, nil
}

func (m *Manager) SetActiveSlots(user crypto.Address, words []uint64) error {
	if len(words) == 0 {
		err := m.db.Delete(activeSlotsKey(user))
		if err != nil && storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	return m.put(activeSlotsKey(user), words)
}

func (m *Manager) DustBucket() (*big.Int, error) {
	return m.getBig([]byte(keyDustBucket))
}

func (m *Manager) SetDustBucket(amount *big.Int) error {
	return m.putBig([]byte(keyDustBucket), amount)
}

// --- epoch lifecycle ---

func (m *Manager) CurrentEpochID() (uint64, error) {
	return m.getUint64([]byte(keyCurrentEpoch))
}

func (m *Manager) SetCurrentEpochID(id uint64) error {
	return m.put([]byte(keyCurrentEpoch), id)
}

func (m *Manager) GetEpoch(id uint64) (*epoch.Epoch, error) {
	var stored epoch.Epoch
	ok, err := m.get(epochKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &stored, nil
}

func (m *Manager) PutEpoch(ep *epoch.Epoch) error {
	if ep == nil {
		return fmt.Errorf("state: nil epoch")
	}
	return m.put(epochKey(ep.ID), ep)
}

// --- subsidy distribution ---

func (m *Manager) SubsidyRoot(vaultID string) ([32]byte, bool, error) {
	var root [32]byte
	ok, err := m.get(subsidyRootKey(vaultID), &root)
	return root, ok, err
}

func (m *Manager) SetSubsidyRoot(vaultID string, root [32]byte) error {
	return m.put(subsidyRootKey(vaultID), root)
}

type storedClaimRecord struct {
	Vault    string
	User     []byte
	Claimed  *big.Int
	Checksum [32]byte
}

func (m *Manager) ClaimRecord(vaultID string, user crypto.Address) (*subsidy.ClaimRecord, error) {
	var stored storedClaimRecord
	ok, err := m.get(subsidyClaimKey(vaultID, user), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &subsidy.ClaimRecord{
		Vault:    stored.Vault,
		User:     crypto.NewAddress(crypto.UserPrefix, stored.User),
		Claimed:  stored.Claimed,
		Checksum: stored.Checksum,
	}, nil
}

func (m *Manager) PutClaimRecord(record *subsidy.ClaimRecord) error {
	if record == nil {
		return fmt.Errorf("state: nil claim record")
	}
	return m.put(subsidyClaimKey(record.Vault, record.User), &storedClaimRecord{
		Vault:    record.Vault,
		User:     record.User.Bytes(),
		Claimed:  record.Claimed,
		Checksum: record.Checksum,
	})
}

// --- codec helpers ---

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

// get decodes the record at key into out. The second return reports whether
// the key existed.
func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) getBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.get(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) putBig(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	return m.put(key, value)
}

func (m *Manager) getUint64(key []byte) (uint64, error) {
	var value uint64
	if _, err := m.get(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}
