package lending

import (
	"math/big"

	"github.com/google/uuid"

	"lendpool/core/types"
	nativecommon "lendpool/native/common"
)

// Liquidate lets the liquidator repay part of the borrower's debt in
// debtAsset and seize a discounted amount of the borrower's collateralAsset
// supply in exchange. The repayment is capped by the debt market's close
// factor; the seizure applies the collateral market's liquidation bonus.
// Either everything settles or nothing does.
func (e *Engine) Liquidate(liquidator, borrower, debtAsset, collateralAsset string, repayAmount *big.Int) (*LiquidationEvent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, FlowLiquidate); err != nil {
		return nil, err
	}
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	debtMarket, err := e.loadMarket(debtAsset)
	if err != nil {
		return nil, err
	}
	debtFees, debtFeesChanged, err := e.accrueWithFees(debtMarket)
	if err != nil {
		return nil, err
	}

	sameAsset := debtMarket.Asset == normaliseAsset(collateralAsset)
	collateralMarket := debtMarket
	var collateralFees *FeeAccrual
	collateralFeesChanged := false
	if !sameAsset {
		collateralMarket, err = e.loadMarket(collateralAsset)
		if err != nil {
			return nil, err
		}
		collateralFees, collateralFeesChanged, err = e.accrueWithFees(collateralMarket)
		if err != nil {
			return nil, err
		}
	}

	overrides := marketSet{debtMarket.Asset: debtMarket, collateralMarket.Asset: collateralMarket}
	before, err := e.accountStanding(borrower, overrides, nil)
	if err != nil {
		return nil, err
	}
	if before.healthFactor().Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, ErrNotLiquidatable
	}

	debtPosition, err := e.loadOrNewPosition(borrower, debtMarket.Asset)
	if err != nil {
		return nil, err
	}
	debtBalance := debtPosition.BorrowBalance(debtMarket.BorrowIndex)
	if debtBalance.Sign() == 0 {
		return nil, ErrNoDebt
	}

	maxRepay := new(big.Int).Mul(debtBalance, new(big.Int).SetUint64(debtMarket.Risk.CloseFactorBps))
	maxRepay.Quo(maxRepay, basisPoints)
	repaid := minBig(repayAmount, maxRepay)
	if repaid.Sign() == 0 {
		return nil, ErrZeroLiquidation
	}

	debtQuote, err := e.prices.GetPrice(debtMarket.Asset)
	if err != nil {
		return nil, err
	}
	collateralQuote := debtQuote
	if !sameAsset {
		collateralQuote, err = e.prices.GetPrice(collateralMarket.Asset)
		if err != nil {
			return nil, err
		}
	}

	// seized = repaid * debtPrice * (1 + bonus) / collateralPrice, truncated.
	bonus := new(big.Rat).Add(big.NewRat(1, 1), bpsToRat(collateralMarket.Risk.LiquidationBonusBps))
	seizedValue := new(big.Rat).SetInt(repaid)
	seizedValue.Mul(seizedValue, debtQuote.Rate)
	seizedValue.Mul(seizedValue, bonus)
	seizedValue.Quo(seizedValue, collateralQuote.Rate)
	seized := new(big.Int).Quo(seizedValue.Num(), seizedValue.Denom())
	if seized.Sign() == 0 {
		return nil, ErrZeroLiquidation
	}

	collateralPosition := debtPosition
	if !sameAsset {
		collateralPosition, err = e.loadOrNewPosition(borrower, collateralMarket.Asset)
		if err != nil {
			return nil, err
		}
	}
	if collateralPosition.SupplyBalance(collateralMarket.SupplyIndex).Cmp(seized) < 0 {
		return nil, ErrInsufficientCollateral
	}

	liquidatorAcc, err := e.loadAccount(liquidator)
	if err != nil {
		return nil, err
	}
	if liquidatorAcc.Balance(debtMarket.Asset).Cmp(repaid) < 0 {
		return nil, ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	// Settle the debt leg.
	liquidatorAcc.Debit(debtMarket.Asset, repaid)
	moduleAcc.Credit(debtMarket.Asset, repaid)
	if err := debtPosition.decreaseBorrow(repaid, debtMarket.BorrowIndex); err != nil {
		return nil, err
	}
	debtMarket.TotalBorrowed = new(big.Int).Sub(debtMarket.TotalBorrowed, repaid)
	if debtMarket.TotalBorrowed.Sign() < 0 {
		debtMarket.TotalBorrowed = big.NewInt(0)
	}

	// Move the seized collateral. The liquidity never leaves the pool; the
	// supply claim is reassigned from the borrower to the liquidator (and,
	// when routing is configured, partly to the protocol treasury).
	if err := collateralPosition.decreaseSupply(seized, collateralMarket.SupplyIndex); err != nil {
		return nil, ErrInsufficientCollateral
	}

	protocolShare := big.NewInt(0)
	if e.routing.ProtocolBps > 0 && e.routing.ProtocolTarget != "" {
		protocolShare = new(big.Int).Mul(seized, new(big.Int).SetUint64(e.routing.ProtocolBps))
		protocolShare.Quo(protocolShare, basisPoints)
	}
	liquidatorShare := new(big.Int).Sub(seized, protocolShare)

	positions := []*Position{debtPosition}
	if !sameAsset {
		positions = append(positions, collateralPosition)
	}
	if liquidatorShare.Sign() > 0 {
		liquidatorPosition, err := e.loadOrNewPosition(liquidator, collateralMarket.Asset)
		if err != nil {
			return nil, err
		}
		liquidatorPosition.increaseSupply(liquidatorShare, collateralMarket.SupplyIndex)
		positions = append(positions, liquidatorPosition)
	}
	if protocolShare.Sign() > 0 {
		protocolPosition, err := e.loadOrNewPosition(e.routing.ProtocolTarget, collateralMarket.Asset)
		if err != nil {
			return nil, err
		}
		protocolPosition.increaseSupply(protocolShare, collateralMarket.SupplyIndex)
		positions = append(positions, protocolPosition)
	}

	afterPositions := positionSet{debtPosition.Asset: debtPosition}
	afterPositions[collateralPosition.Asset] = collateralPosition
	after, err := e.accountStanding(borrower, overrides, afterPositions)
	if err != nil {
		return nil, err
	}

	event := &LiquidationEvent{
		ID:                uuid.NewString(),
		Liquidator:        liquidator,
		Borrower:          borrower,
		DebtAsset:         debtMarket.Asset,
		CollateralAsset:   collateralMarket.Asset,
		DebtRepaid:        repaid,
		CollateralSeized:  seized,
		HealthFactorAfter: after.wadHealthFactor(),
		Timestamp:         e.clock(),
	}

	markets := []*Market{debtMarket}
	if !sameAsset {
		markets = append(markets, collateralMarket)
	}
	set := commitSet{
		accounts:    []*types.Account{liquidatorAcc, moduleAcc},
		positions:   positions,
		markets:     markets,
		fees:        debtFees,
		feesChanged: debtFeesChanged,
		events:      []*LiquidationEvent{event},
	}
	if err := e.commit(set); err != nil {
		return nil, err
	}
	if collateralFeesChanged && collateralFees != nil {
		if err := e.state.PutFeeAccrual(collateralFees); err != nil {
			return nil, err
		}
	}
	return event, nil
}
