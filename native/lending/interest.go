package lending

import "math/big"

// InterestModel encapsulates the parameters that shape how borrow rates react
// to market utilisation. All rates are annual and expressed as decimals, e.g.
// a 2% base rate is 0.02 and an 80% kink utilisation is 0.8.
type InterestModel struct {
	// BaseRate is the minimum borrow rate applied when utilisation is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow rate increase across the utilisation range up to
	// the kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional rate increase applied when utilisation
	// exceeds the kink point.
	Slope2 *big.Rat
	// Kink represents the utilisation ratio where the borrow rate slope
	// changes to encourage liquidity.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from floating point inputs.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	if m.BaseRate != nil {
		clone.BaseRate.Set(m.BaseRate)
	}
	if m.Slope1 != nil {
		clone.Slope1.Set(m.Slope1)
	}
	if m.Slope2 != nil {
		clone.Slope2.Set(m.Slope2)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Utilisation computes the pool utilisation ratio U = totalBorrowed /
// totalSupplied, clamped to [0, 1]. When no liquidity exists the utilisation
// is defined as zero rather than an error.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() <= 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() <= 0 {
		return new(big.Rat)
	}
	u := new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
	one := big.NewRat(1, 1)
	if u.Cmp(one) > 0 {
		return one
	}
	return u
}

// BorrowRate derives the annual borrow rate for the supplied utilisation using
// the kinked curve. A kink of zero places the whole range on slope2; a kink of
// one places it on slope1. Neither divides by zero.
func (m *InterestModel) BorrowRate(utilisation *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	one := big.NewRat(1, 1)

	if kink.Sign() == 0 {
		// Entirely in the slope2 regime.
		return rate.Add(rate, new(big.Rat).Mul(slope2, utilisation))
	}
	if utilisation.Cmp(kink) <= 0 {
		// Linear region before the kink: base + (U/kink)*slope1.
		fraction := new(big.Rat).Quo(cloneRat(utilisation), kink)
		return rate.Add(rate, new(big.Rat).Mul(slope1, fraction))
	}

	// Full slope1 at the kink, then slope2 over the excess range.
	rate.Add(rate, slope1)
	remaining := new(big.Rat).Sub(one, kink)
	if remaining.Sign() <= 0 {
		return rate
	}
	excess := new(big.Rat).Sub(cloneRat(utilisation), kink)
	excess.Quo(excess, remaining)
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// SupplyRate derives the annual supply rate from the borrow rate, utilisation
// and the reserve factor (basis points) retained by the protocol.
func (m *InterestModel) SupplyRate(utilisation *big.Rat, reserveFactorBps uint64) *big.Rat {
	if m == nil || utilisation == nil || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	borrowRate := m.BorrowRate(utilisation)
	if borrowRate.Sign() == 0 {
		return new(big.Rat)
	}
	oneMinusReserve := new(big.Rat).Sub(big.NewRat(1, 1), bpsToRat(reserveFactorBps))
	if oneMinusReserve.Sign() < 0 {
		oneMinusReserve.SetInt64(0)
	}
	supplyRate := new(big.Rat).Mul(borrowRate, utilisation)
	supplyRate.Mul(supplyRate, oneMinusReserve)
	return supplyRate
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a reasonable starting configuration featuring a
// kinked rate curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
