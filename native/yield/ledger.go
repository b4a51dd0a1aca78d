package yield

import (
	"errors"
	"math/big"
	"sync"

	"nftyield/crypto"
)

var errLedgerAmount = errors.New("yield ledger: amount must be positive")

// LedgerAdapter is an in-process lending market used for local runs and
// tests. It tracks principal and assets directly; yield appears by crediting
// assets. Payouts are filled from assets, partially when the pool runs
// short.
type LedgerAdapter struct {
	mu        sync.Mutex
	principal *big.Int
	assets    *big.Int
	payouts   map[string]*big.Int
}

// NewLedgerAdapter constructs an empty ledger market.
func NewLedgerAdapter() *LedgerAdapter {
	return &LedgerAdapter{
		principal: big.NewInt(0),
		assets:    big.NewInt(0),
		payouts:   make(map[string]*big.Int),
	}
}

func (l *LedgerAdapter) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errLedgerAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.principal.Add(l.principal, amount)
	l.assets.Add(l.assets, amount)
	return nil
}

func (l *LedgerAdapter) Withdraw(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errLedgerAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Cmp(l.assets) > 0 {
		return errors.New("yield ledger: insufficient assets")
	}
	l.assets.Sub(l.assets, amount)
	if amount.Cmp(l.principal) <= 0 {
		l.principal.Sub(l.principal, amount)
	} else {
		l.principal.SetInt64(0)
	}
	return nil
}

func (l *LedgerAdapter) TotalAssets() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.assets), nil
}

func (l *LedgerAdapter) TotalPrincipal() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.principal), nil
}

// Payout transfers up to amount to the recipient, bounded by the available
// assets. The delivered amount is returned.
func (l *LedgerAdapter) Payout(amount *big.Int, recipient crypto.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errLedgerAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	paid := new(big.Int).Set(amount)
	if paid.Cmp(l.assets) > 0 {
		paid.Set(l.assets)
	}
	l.assets.Sub(l.assets, paid)
	key := recipient.String()
	prior, ok := l.payouts[key]
	if !ok {
		prior = big.NewInt(0)
		l.payouts[key] = prior
	}
	prior.Add(prior, paid)
	return paid, nil
}

// CreditYield adds externally-earned yield to the pool without touching
// principal.
func (l *LedgerAdapter) CreditYield(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errLedgerAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets.Add(l.assets, amount)
	return nil
}

// PaidTo reports the cumulative amount delivered to a recipient.
func (l *LedgerAdapter) PaidTo(recipient crypto.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.payouts[recipient.String()]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}
