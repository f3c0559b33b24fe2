package lending

import "math/big"

// Market captures the aggregate accounting state for a single asset reserve.
// Amounts are denominated in the asset's base units; indexes are ray-scaled
// (1e27 = 1.0) and never decrease.
type Market struct {
	// Asset is the symbol identifying the reserve, e.g. "USDC".
	Asset string `json:"asset"`
	// TotalSupplied is the aggregate liquidity deposited by suppliers,
	// including interest credited to them on accrual.
	TotalSupplied *big.Int `json:"totalSupplied"`
	// TotalBorrowed tracks outstanding debt across all accounts, including
	// accrued interest.
	TotalBorrowed *big.Int `json:"totalBorrowed"`
	// SupplyIndex is the cumulative interest index applied to supplier
	// balances.
	SupplyIndex *big.Int `json:"supplyIndex"`
	// BorrowIndex is the cumulative interest index applied to borrower debt.
	BorrowIndex *big.Int `json:"borrowIndex"`
	// LastUpdateTime records the unix timestamp when indexes were last
	// refreshed.
	LastUpdateTime uint64 `json:"lastUpdateTime"`
	// Model selects the interest rate curve for the reserve.
	Model *InterestModel `json:"-"`
	// Risk holds the per-asset collateral and liquidation parameters.
	Risk RiskParameters `json:"risk"`
	// Caps throttles borrow growth for the reserve.
	Caps BorrowCaps `json:"caps"`
}

// AvailableLiquidity returns the un-borrowed liquidity in the reserve, floored
// at zero.
func (m *Market) AvailableLiquidity() *big.Int {
	if m == nil || m.TotalSupplied == nil {
		return big.NewInt(0)
	}
	borrowed := m.TotalBorrowed
	if borrowed == nil {
		borrowed = big.NewInt(0)
	}
	liquidity := new(big.Int).Sub(m.TotalSupplied, borrowed)
	if liquidity.Sign() < 0 {
		return big.NewInt(0)
	}
	return liquidity
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := &Market{
		Asset:          m.Asset,
		LastUpdateTime: m.LastUpdateTime,
		Model:          m.Model.Clone(),
		Risk:           m.Risk,
		Caps:           m.Caps.Clone(),
	}
	if m.TotalSupplied != nil {
		clone.TotalSupplied = new(big.Int).Set(m.TotalSupplied)
	}
	if m.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(m.TotalBorrowed)
	}
	if m.SupplyIndex != nil {
		clone.SupplyIndex = new(big.Int).Set(m.SupplyIndex)
	}
	if m.BorrowIndex != nil {
		clone.BorrowIndex = new(big.Int).Set(m.BorrowIndex)
	}
	return clone
}

// RiskParameters groups the per-asset safety limits governing lending
// activity. All ratios are expressed in basis points for deterministic
// accounting.
type RiskParameters struct {
	// CollateralFactorBps is the loan-to-value ratio applied when counting
	// deposits of this asset as collateral.
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	// LiquidationThresholdBps is the LTV where positions become eligible for
	// liquidation. Must be >= CollateralFactorBps.
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	// LiquidationBonusBps is the extra collateral awarded to liquidators.
	LiquidationBonusBps uint64 `json:"liquidationBonusBps"`
	// CloseFactorBps bounds the share of a debt position a liquidator may
	// repay in one call.
	CloseFactorBps uint64 `json:"closeFactorBps"`
	// ReserveFactorBps is the share of borrow interest retained by the
	// protocol.
	ReserveFactorBps uint64 `json:"reserveFactorBps"`
}

// Validate reports whether the risk parameters are internally consistent.
func (r RiskParameters) Validate() error {
	if r.CollateralFactorBps > 10_000 || r.LiquidationThresholdBps > 10_000 ||
		r.CloseFactorBps > 10_000 || r.ReserveFactorBps > 10_000 {
		return ErrInvalidRiskParams
	}
	if r.LiquidationThresholdBps < r.CollateralFactorBps {
		return ErrInvalidRiskParams
	}
	return nil
}

// BorrowCaps captures the throttles applied to a reserve to limit borrow
// growth. Zero values disable the corresponding cap.
type BorrowCaps struct {
	// Total constrains the aggregate outstanding borrow exposure.
	Total *big.Int `json:"total,omitempty"`
	// UtilisationBps bounds the post-borrow utilisation relative to supplied
	// liquidity.
	UtilisationBps uint64 `json:"utilisationBps,omitempty"`
}

// Clone returns a deep copy of the borrow caps.
func (c BorrowCaps) Clone() BorrowCaps {
	clone := BorrowCaps{UtilisationBps: c.UtilisationBps}
	if c.Total != nil {
		clone.Total = new(big.Int).Set(c.Total)
	}
	return clone
}

// Position maintains the lending state for one (user, asset) pair. A position
// carries both the supply and borrow side; each side stores a principal
// together with the ray index snapshot taken when the principal was last
// rebased. The current balance is principal * currentIndex / snapshot.
type Position struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
	// SupplyPrincipal is the supply-side balance at the last rebase.
	SupplyPrincipal *big.Int `json:"supplyPrincipal"`
	// SupplySnapshot is the supply index at the last supply-side rebase.
	SupplySnapshot *big.Int `json:"supplySnapshot"`
	// BorrowPrincipal is the borrow-side balance at the last rebase.
	BorrowPrincipal *big.Int `json:"borrowPrincipal"`
	// BorrowSnapshot is the borrow index at the last borrow-side rebase.
	BorrowSnapshot *big.Int `json:"borrowSnapshot"`
	// CollateralEnabled marks whether the supply side counts toward the
	// user's collateral power.
	CollateralEnabled bool `json:"collateralEnabled"`
}

// SupplyBalance converts the supply principal into its current balance.
func (p *Position) SupplyBalance(supplyIndex *big.Int) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return balanceFromPrincipal(p.SupplyPrincipal, supplyIndex, p.SupplySnapshot)
}

// BorrowBalance converts the borrow principal into its current balance.
func (p *Position) BorrowBalance(borrowIndex *big.Int) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return balanceFromPrincipal(p.BorrowPrincipal, borrowIndex, p.BorrowSnapshot)
}

// Empty reports whether both sides of the position carry no balance.
func (p *Position) Empty() bool {
	if p == nil {
		return true
	}
	supplyEmpty := p.SupplyPrincipal == nil || p.SupplyPrincipal.Sign() == 0
	borrowEmpty := p.BorrowPrincipal == nil || p.BorrowPrincipal.Sign() == 0
	return supplyEmpty && borrowEmpty
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{User: p.User, Asset: p.Asset, CollateralEnabled: p.CollateralEnabled}
	if p.SupplyPrincipal != nil {
		clone.SupplyPrincipal = new(big.Int).Set(p.SupplyPrincipal)
	}
	if p.SupplySnapshot != nil {
		clone.SupplySnapshot = new(big.Int).Set(p.SupplySnapshot)
	}
	if p.BorrowPrincipal != nil {
		clone.BorrowPrincipal = new(big.Int).Set(p.BorrowPrincipal)
	}
	if p.BorrowSnapshot != nil {
		clone.BorrowSnapshot = new(big.Int).Set(p.BorrowSnapshot)
	}
	return clone
}

// FeeAccrual captures the in-flight protocol fee totals for a reserve,
// denominated in the reserve asset.
type FeeAccrual struct {
	Asset        string   `json:"asset"`
	ProtocolFees *big.Int `json:"protocolFees"`
}

// Clone returns a deep copy of the fee accrual record.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	clone := &FeeAccrual{Asset: f.Asset}
	if f.ProtocolFees != nil {
		clone.ProtocolFees = new(big.Int).Set(f.ProtocolFees)
	}
	return clone
}

// CollateralRouting configures how seized collateral is split during a
// liquidation. The remainder after the protocol share always goes to the
// liquidator.
type CollateralRouting struct {
	// ProtocolBps is the share of seized collateral credited to the protocol
	// treasury's supply position.
	ProtocolBps uint64 `json:"protocolBps"`
	// ProtocolTarget is the address receiving the protocol share.
	ProtocolTarget string `json:"protocolTarget"`
}

// LiquidationEvent records one executed liquidation for observability.
type LiquidationEvent struct {
	ID               string   `json:"id"`
	Liquidator       string   `json:"liquidator"`
	Borrower         string   `json:"borrower"`
	DebtAsset        string   `json:"debtAsset"`
	CollateralAsset  string   `json:"collateralAsset"`
	DebtRepaid       *big.Int `json:"debtRepaid"`
	CollateralSeized *big.Int `json:"collateralSeized"`
	// HealthFactorAfter is the borrower's wad-scaled health factor after the
	// liquidation settled.
	HealthFactorAfter *big.Int `json:"healthFactorAfter"`
	Timestamp         uint64   `json:"timestamp"`
}

// ReserveData is the read-only reserve summary returned to callers. Rates and
// utilisation are wad-scaled (1e18 = 1.0 / 100%).
type ReserveData struct {
	Asset         string   `json:"asset"`
	TotalSupplied *big.Int `json:"totalSupplied"`
	TotalBorrowed *big.Int `json:"totalBorrowed"`
	Utilisation   *big.Int `json:"utilisation"`
	BorrowRate    *big.Int `json:"borrowRate"`
	SupplyRate    *big.Int `json:"supplyRate"`
}

// AccountData aggregates a user's cross-asset standing. Values are wad-scaled
// amounts in the quote currency; HealthFactor is wad-scaled where 1e18 = 1.0.
type AccountData struct {
	User            string   `json:"user"`
	CollateralValue *big.Int `json:"collateralValue"`
	DebtValue       *big.Int `json:"debtValue"`
	HealthFactor    *big.Int `json:"healthFactor"`
	AvailableBorrow *big.Int `json:"availableBorrow"`
}
