package types

import "math/big"

// Account tracks the spendable token balances held by an address. Balances are
// keyed by asset symbol and denominated in the asset's base units.
type Account struct {
	Address  string              `json:"address"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an empty account for the supplied address.
func NewAccount(address string) *Account {
	return &Account{Address: address, Balances: make(map[string]*big.Int)}
}

// Balance returns the balance held for the asset, treating missing entries as
// zero. The returned value is a copy.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[asset]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Credit increases the balance held for the asset.
func (a *Account) Credit(asset string, amount *big.Int) {
	if a == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[asset] = new(big.Int).Add(a.Balance(asset), amount)
}

// Debit decreases the balance held for the asset. Callers must check the
// balance first; Debit does not go negative and reports whether the full
// amount was applied.
func (a *Account) Debit(asset string, amount *big.Int) bool {
	if a == nil || amount == nil || amount.Sign() <= 0 {
		return false
	}
	current := a.Balance(asset)
	if current.Cmp(amount) < 0 {
		return false
	}
	remaining := new(big.Int).Sub(current, amount)
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if remaining.Sign() == 0 {
		delete(a.Balances, asset)
	} else {
		a.Balances[asset] = remaining
	}
	return true
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := NewAccount(a.Address)
	for asset, bal := range a.Balances {
		if bal != nil {
			clone.Balances[asset] = new(big.Int).Set(bal)
		}
	}
	return clone
}
