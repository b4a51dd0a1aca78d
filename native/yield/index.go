package yield

import "math/big"

// Index is the monotonic global accumulator representing cumulative value per
// unit of principal, scaled by 1e18. A freshly constructed index starts at
// exactly one wad.
type Index struct {
	value *big.Int
}

// NewIndex returns an index primed at 1e18.
func NewIndex() *Index {
	return &Index{value: new(big.Int).Set(wad)}
}

// IndexFromValue restores an index from a persisted value. Values below one
// wad are clamped up so a corrupted store can never produce a sub-unit index.
func IndexFromValue(value *big.Int) *Index {
	idx := NewIndex()
	if value != nil && value.Cmp(wad) > 0 {
		idx.value = new(big.Int).Set(value)
	}
	return idx
}

// Current returns the current index value.
func (i *Index) Current() *big.Int {
	if i == nil || i.value == nil {
		return Wad()
	}
	return new(big.Int).Set(i.value)
}

// Refresh ratchets the index to max(current, observed) and returns the new
// value. An observed ratio below the stored value is ignored outright; the
// index never decreases even when the external market reports a transient
// underflow.
func (i *Index) Refresh(observed *big.Int) *big.Int {
	if i == nil {
		return Wad()
	}
	if observed != nil && observed.Cmp(i.value) > 0 {
		i.value = new(big.Int).Set(observed)
	}
	return i.Current()
}

// ObservedRatio derives the wad-scaled value-per-principal ratio from the
// lending market totals. A zero principal reports one wad so an empty market
// never moves the index.
func ObservedRatio(totalAssets, totalPrincipal *big.Int) *big.Int {
	if totalAssets == nil || totalPrincipal == nil || totalPrincipal.Sign() == 0 {
		return Wad()
	}
	return MulDiv(totalAssets, wad, totalPrincipal)
}
