package lending

import (
	"fmt"
	"math/big"
)

// MaxHealthFactor is the wad-scaled sentinel reported for accounts with no
// outstanding debt.
var MaxHealthFactor = new(big.Int).Mul(wad, big.NewInt(1_000_000_000))

type (
	marketSet   map[string]*Market
	positionSet map[string]*Position
)

// standing aggregates a user's cross-asset risk figures in the quote currency.
// Values are exact rationals; conversion to wad happens only at the reporting
// boundary.
type standing struct {
	collateral *big.Rat
	debt       *big.Rat
}

// healthFactor returns the ratio of risk-adjusted collateral to debt. Accounts
// with no debt are reported as maximally healthy.
func (s standing) healthFactor() *big.Rat {
	if s.debt == nil || s.debt.Sign() == 0 {
		return new(big.Rat).SetInt(MaxHealthFactor)
	}
	if s.collateral == nil || s.collateral.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).Quo(s.collateral, s.debt)
}

// wadHealthFactor converts the ratio into the wad-scaled representation used
// on the wire, capped at MaxHealthFactor.
func (s standing) wadHealthFactor() *big.Int {
	hf := ratToWad(s.healthFactor())
	if hf.Cmp(MaxHealthFactor) > 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	return hf
}

// accountStanding values the user's positions across every market they touch.
// Markets and positions supplied as overrides stand in for the persisted
// records, letting callers evaluate a projected state before committing it.
// Markets loaded here are accrued in memory only.
func (e *Engine) accountStanding(user string, markets marketSet, positions positionSet) (standing, error) {
	result := standing{collateral: new(big.Rat), debt: new(big.Rat)}
	if e.prices == nil {
		return standing{}, fmt.Errorf("lending engine: price oracle not configured")
	}

	persisted, err := e.state.ListUserPositions(user)
	if err != nil {
		return standing{}, err
	}
	merged := make(positionSet, len(persisted)+len(positions))
	for _, position := range persisted {
		merged[position.Asset] = position
	}
	for asset, position := range positions {
		merged[asset] = position
	}

	now := e.clock()
	for asset, position := range merged {
		market := markets[asset]
		if market == nil {
			market, err = e.loadMarket(asset)
			if err != nil {
				return standing{}, err
			}
			e.accrueInterest(market, nil, now)
		}

		supply := position.SupplyBalance(market.SupplyIndex)
		debt := position.BorrowBalance(market.BorrowIndex)
		if supply.Sign() == 0 && debt.Sign() == 0 {
			continue
		}

		quote, err := e.prices.GetPrice(asset)
		if err != nil {
			return standing{}, err
		}
		price := quote.Rate

		if supply.Sign() > 0 && position.CollateralEnabled && market.Risk.CollateralFactorBps > 0 {
			value := new(big.Rat).SetInt(supply)
			value.Mul(value, price)
			value.Mul(value, bpsToRat(market.Risk.CollateralFactorBps))
			result.collateral.Add(result.collateral, value)
		}
		if debt.Sign() > 0 {
			value := new(big.Rat).SetInt(debt)
			value.Mul(value, price)
			result.debt.Add(result.debt, value)
		}
	}
	return result, nil
}

// HealthFactor reports the user's current wad-scaled health factor without
// mutating state.
func (e *Engine) HealthFactor(user string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	result, err := e.accountStanding(user, nil, nil)
	if err != nil {
		return nil, err
	}
	return result.wadHealthFactor(), nil
}

// AccountData summarises the user's cross-asset standing in the quote
// currency. Collateral, debt and borrow headroom are wad-scaled values.
func (e *Engine) AccountData(user string) (*AccountData, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	result, err := e.accountStanding(user, nil, nil)
	if err != nil {
		return nil, err
	}
	available := new(big.Rat).Sub(result.collateral, result.debt)
	if available.Sign() < 0 {
		available = new(big.Rat)
	}
	return &AccountData{
		User:            user,
		CollateralValue: ratToWad(result.collateral),
		DebtValue:       ratToWad(result.debt),
		HealthFactor:    result.wadHealthFactor(),
		AvailableBorrow: ratToWad(available),
	}, nil
}
