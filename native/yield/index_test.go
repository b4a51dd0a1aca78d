package yield

import (
	"math/big"
	"testing"

	"nftyield/crypto"
)

func testAddress(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.UserPrefix, raw)
}

func TestNewIndexStartsAtWad(t *testing.T) {
	idx := NewIndex()
	if idx.Current().Cmp(Wad()) != 0 {
		t.Fatalf("expected fresh index at 1 wad, got %s", idx.Current())
	}
}

func TestIndexRefreshRatchets(t *testing.T) {
	idx := NewIndex()
	higher := new(big.Int).Add(Wad(), big.NewInt(500))
	if got := idx.Refresh(higher); got.Cmp(higher) != 0 {
		t.Fatalf("expected index to advance to %s, got %s", higher, got)
	}
	// A lower observation must be ignored.
	lower := new(big.Int).Sub(higher, big.NewInt(100))
	if got := idx.Refresh(lower); got.Cmp(higher) != 0 {
		t.Fatalf("index regressed to %s", got)
	}
	if got := idx.Refresh(nil); got.Cmp(higher) != 0 {
		t.Fatalf("nil observation moved index to %s", got)
	}
}

func TestIndexFromValueClampsSubWad(t *testing.T) {
	idx := IndexFromValue(big.NewInt(12345))
	if idx.Current().Cmp(Wad()) != 0 {
		t.Fatalf("expected sub-wad value clamped to 1 wad, got %s", idx.Current())
	}
}

func TestObservedRatio(t *testing.T) {
	principal := new(big.Int).Mul(big.NewInt(1_000), Wad())
	assets := new(big.Int).Mul(big.NewInt(1_100), Wad())
	ratio := ObservedRatio(assets, principal)
	want := new(big.Int).Div(new(big.Int).Mul(big.NewInt(11), Wad()), big.NewInt(10))
	if ratio.Cmp(want) != 0 {
		t.Fatalf("expected ratio %s, got %s", want, ratio)
	}
	if got := ObservedRatio(assets, big.NewInt(0)); got.Cmp(Wad()) != 0 {
		t.Fatalf("expected 1 wad for empty market, got %s", got)
	}
}

func TestLedgerAdapterPartialPayout(t *testing.T) {
	ledger := NewLedgerAdapter()
	if err := ledger.Deposit(big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	recipient := testAddress(0x01)
	paid, err := ledger.Payout(big.NewInt(250), recipient)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if paid.Int64() != 100 {
		t.Fatalf("expected partial fill of 100, got %s", paid)
	}
	if got := ledger.PaidTo(recipient); got.Int64() != 100 {
		t.Fatalf("expected cumulative payout 100, got %s", got)
	}
	assets, err := ledger.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if assets.Sign() != 0 {
		t.Fatalf("expected drained pool, got %s", assets)
	}
}
