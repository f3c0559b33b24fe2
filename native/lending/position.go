package lending

import "math/big"

// Position rebasing follows the snapshot scheme: every touch converts the
// stored principal into its current balance at the live index, applies the
// delta, and re-bases the snapshot to that index. All intermediates are
// math/big so 64-bit balances cannot overflow mid-computation.

func (p *Position) increaseSupply(amount, supplyIndex *big.Int) {
	current := p.SupplyBalance(supplyIndex)
	p.SupplyPrincipal = new(big.Int).Add(current, amount)
	p.SupplySnapshot = new(big.Int).Set(supplyIndex)
}

func (p *Position) decreaseSupply(amount, supplyIndex *big.Int) error {
	current := p.SupplyBalance(supplyIndex)
	if amount.Cmp(current) > 0 {
		return ErrInsufficientBalance
	}
	p.SupplyPrincipal = new(big.Int).Sub(current, amount)
	p.SupplySnapshot = new(big.Int).Set(supplyIndex)
	return nil
}

func (p *Position) increaseBorrow(amount, borrowIndex *big.Int) {
	current := p.BorrowBalance(borrowIndex)
	p.BorrowPrincipal = new(big.Int).Add(current, amount)
	p.BorrowSnapshot = new(big.Int).Set(borrowIndex)
}

func (p *Position) decreaseBorrow(amount, borrowIndex *big.Int) error {
	current := p.BorrowBalance(borrowIndex)
	if amount.Cmp(current) > 0 {
		return ErrInsufficientBalance
	}
	p.BorrowPrincipal = new(big.Int).Sub(current, amount)
	p.BorrowSnapshot = new(big.Int).Set(borrowIndex)
	return nil
}
