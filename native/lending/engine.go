package lending

import (
	"math/big"
	"strings"
	"time"

	"lendpool/core/types"
	nativecommon "lendpool/native/common"
	"lendpool/native/oracle"
)

// Flow identifiers used with the pause guard.
const (
	FlowSupply    = "lending.supply"
	FlowWithdraw  = "lending.withdraw"
	FlowBorrow    = "lending.borrow"
	FlowRepay     = "lending.repay"
	FlowLiquidate = "lending.liquidate"
)

// engineState is the persistence surface the engine mutates. Each operation
// touches only the markets, positions and accounts involved in that call; the
// per-asset Market is the only intentional serialization point shared between
// users of the same reserve.
type engineState interface {
	GetMarket(asset string) (*Market, error)
	PutMarket(market *Market) error
	ListMarkets() ([]*Market, error)
	GetPosition(user, asset string) (*Position, error)
	PutPosition(position *Position) error
	DeletePosition(user, asset string) error
	ListUserPositions(user string) ([]*Position, error)
	GetAccount(address string) (*types.Account, error)
	PutAccount(account *types.Account) error
	GetFeeAccrual(asset string) (*FeeAccrual, error)
	PutFeeAccrual(fees *FeeAccrual) error
	AppendLiquidation(event *LiquidationEvent) error
}

// Engine orchestrates the state transitions for the lending pool. Every
// public operation accrues interest on the touched reserves first, performs
// all validation before any mutation, then commits the staged copies. A
// failure anywhere aborts with no observable state change; the engine itself
// holds no locks and runs each operation to completion synchronously, leaving
// retry and scheduling semantics to the caller.
type Engine struct {
	state         engineState
	prices        oracle.PriceOracle
	moduleAddress string
	admin         string
	routing       CollateralRouting
	pauses        nativecommon.PauseView
	clock         func() uint64
}

// NewEngine constructs a lending engine. moduleAddr is the vault account that
// custodies pooled liquidity; admin gates privileged configuration changes.
func NewEngine(moduleAddr, admin string) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		admin:         admin,
		clock:         func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the price collaborator consulted for health checks and
// liquidation pricing.
func (e *Engine) SetOracle(prices oracle.PriceOracle) {
	if e == nil {
		return
	}
	e.prices = prices
}

// SetPauses installs the pause view guarding individual flows.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetCollateralRouting configures how seized collateral is split during
// liquidations.
func (e *Engine) SetCollateralRouting(routing CollateralRouting) {
	if e == nil {
		return
	}
	e.routing = routing
}

// SetClock overrides the time source used for accrual. Tests use this to pin
// elapsed time.
func (e *Engine) SetClock(clock func() uint64) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// CreateMarket initialises a reserve for the asset. Only the admin may create
// markets.
func (e *Engine) CreateMarket(caller, asset string, model *InterestModel, risk RiskParameters, caps BorrowCaps) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != e.admin {
		return nil, ErrNotAuthorized
	}
	symbol := normaliseAsset(asset)
	if symbol == "" {
		return nil, ErrMarketNotFound
	}
	if err := risk.Validate(); err != nil {
		return nil, err
	}
	if existing, err := e.state.GetMarket(symbol); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrMarketExists
	}
	if model == nil {
		model = DefaultInterestModel
	}
	market := &Market{
		Asset:          symbol,
		TotalSupplied:  big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		SupplyIndex:    new(big.Int).Set(ray),
		BorrowIndex:    new(big.Int).Set(ray),
		LastUpdateTime: e.clock(),
		Model:          model.Clone(),
		Risk:           risk,
		Caps:           caps.Clone(),
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return market.Clone(), nil
}

// SetRiskParameters replaces the risk configuration of an existing market.
func (e *Engine) SetRiskParameters(caller, asset string, risk RiskParameters) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.admin {
		return ErrNotAuthorized
	}
	if err := risk.Validate(); err != nil {
		return err
	}
	market, err := e.loadMarket(asset)
	if err != nil {
		return err
	}
	fees, feesChanged, err := e.accrueWithFees(market)
	if err != nil {
		return err
	}
	market.Risk = risk
	return e.commit(commitSet{markets: []*Market{market}, fees: fees, feesChanged: feesChanged})
}

// Deposit moves amount of asset from the user into the pool and credits the
// user's supply position at the current supply index.
func (e *Engine) Deposit(user, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, FlowSupply); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	market, err := e.loadMarket(asset)
	if err != nil {
		return err
	}
	fees, feesChanged, err := e.accrueWithFees(market)
	if err != nil {
		return err
	}

	userAcc, err := e.loadAccount(user)
	if err != nil {
		return err
	}
	if userAcc.Balance(market.Asset).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	position, err := e.loadOrNewPosition(user, market.Asset)
	if err != nil {
		return err
	}

	// All checks passed; stage the mutation.
	userAcc.Debit(market.Asset, amount)
	moduleAcc.Credit(market.Asset, amount)
	position.increaseSupply(amount, market.SupplyIndex)
	market.TotalSupplied = new(big.Int).Add(market.TotalSupplied, amount)

	return e.commit(commitSet{
		accounts:    []*types.Account{userAcc, moduleAcc},
		positions:   []*Position{position},
		markets:     []*Market{market},
		fees:        fees,
		feesChanged: feesChanged,
	})
}

// Withdraw redeems amount of the user's supply balance back to their account.
// The withdrawal is rejected when it would leave outstanding debt
// undercollateralised.
func (e *Engine) Withdraw(user, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, FlowWithdraw); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	market, err := e.loadMarket(asset)
	if err != nil {
		return err
	}
	fees, feesChanged, err := e.accrueWithFees(market)
	if err != nil {
		return err
	}

	position, err := e.loadOrNewPosition(user, market.Asset)
	if err != nil {
		return err
	}
	if position.SupplyBalance(market.SupplyIndex).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if market.AvailableLiquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	if err := position.decreaseSupply(amount, market.SupplyIndex); err != nil {
		return err
	}

	// The reduced position must keep the account healthy.
	standing, err := e.accountStanding(user, marketSet{market.Asset: market}, positionSet{market.Asset: position})
	if err != nil {
		return err
	}
	if standing.debt.Sign() > 0 && standing.healthFactor().Cmp(big.NewRat(1, 1)) < 0 {
		return ErrHealthCheckFailed
	}

	userAcc, err := e.loadAccount(user)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if !moduleAcc.Debit(market.Asset, amount) {
		return ErrInsufficientLiquidity
	}
	userAcc.Credit(market.Asset, amount)
	market.TotalSupplied = new(big.Int).Sub(market.TotalSupplied, amount)

	return e.commit(commitSet{
		accounts:    []*types.Account{userAcc, moduleAcc},
		positions:   []*Position{position},
		markets:     []*Market{market},
		fees:        fees,
		feesChanged: feesChanged,
	})
}

// Borrow draws amount of asset from the pool against the user's collateral.
func (e *Engine) Borrow(user, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, FlowBorrow); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	market, err := e.loadMarket(asset)
	if err != nil {
		return err
	}
	fees, feesChanged, err := e.accrueWithFees(market)
	if err != nil {
		return err
	}

	if market.AvailableLiquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.checkBorrowCaps(market, amount); err != nil {
		return err
	}

	position, err := e.loadOrNewPosition(user, market.Asset)
	if err != nil {
		return err
	}
	position.increaseBorrow(amount, market.BorrowIndex)

	// Health check with the projected debt.
	standing, err := e.accountStanding(user, marketSet{market.Asset: market}, positionSet{market.Asset: position})
	if err != nil {
		return err
	}
	if standing.healthFactor().Cmp(big.NewRat(1, 1)) < 0 {
		return ErrHealthCheckFailed
	}

	userAcc, err := e.loadAccount(user)
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if !moduleAcc.Debit(market.Asset, amount) {
		return ErrInsufficientLiquidity
	}
	userAcc.Credit(market.Asset, amount)
	market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, amount)

	return e.commit(commitSet{
		accounts:    []*types.Account{userAcc, moduleAcc},
		positions:   []*Position{position},
		markets:     []*Market{market},
		fees:        fees,
		feesChanged: feesChanged,
	})
}

// Repay pays down the user's debt and returns the amount actually applied,
// which is capped at the outstanding balance.
func (e *Engine) Repay(user, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, FlowRepay); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, err
	}
	fees, feesChanged, err := e.accrueWithFees(market)
	if err != nil {
		return nil, err
	}

	position, err := e.loadOrNewPosition(user, market.Asset)
	if err != nil {
		return nil, err
	}
	debt := position.BorrowBalance(market.BorrowIndex)
	if debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	repay := minBig(amount, debt)

	userAcc, err := e.loadAccount(user)
	if err != nil {
		return nil, err
	}
	if userAcc.Balance(market.Asset).Cmp(repay) < 0 {
		return nil, ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	userAcc.Debit(market.Asset, repay)
	moduleAcc.Credit(market.Asset, repay)
	if err := position.decreaseBorrow(repay, market.BorrowIndex); err != nil {
		return nil, err
	}
	market.TotalBorrowed = new(big.Int).Sub(market.TotalBorrowed, repay)
	if market.TotalBorrowed.Sign() < 0 {
		market.TotalBorrowed = big.NewInt(0)
	}

	if err := e.commit(commitSet{
		accounts:    []*types.Account{userAcc, moduleAcc},
		positions:   []*Position{position},
		markets:     []*Market{market},
		fees:        fees,
		feesChanged: feesChanged,
	}); err != nil {
		return nil, err
	}
	return repay, nil
}

// SetCollateralEnabled toggles whether the user's deposits of the asset count
// toward their collateral power. Disabling is rejected when it would leave
// debt undercollateralised.
func (e *Engine) SetCollateralEnabled(user, asset string, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	market, err := e.loadMarket(asset)
	if err != nil {
		return err
	}
	fees, feesChanged, err := e.accrueWithFees(market)
	if err != nil {
		return err
	}

	position, err := e.loadOrNewPosition(user, market.Asset)
	if err != nil {
		return err
	}
	position.CollateralEnabled = enabled

	if !enabled {
		standing, err := e.accountStanding(user, marketSet{market.Asset: market}, positionSet{market.Asset: position})
		if err != nil {
			return err
		}
		if standing.debt.Sign() > 0 && standing.healthFactor().Cmp(big.NewRat(1, 1)) < 0 {
			return ErrHealthCheckFailed
		}
	}
	return e.commit(commitSet{
		positions:   []*Position{position},
		markets:     []*Market{market},
		fees:        fees,
		feesChanged: feesChanged,
	})
}

// WithdrawProtocolFees transfers accrued reserve-factor fees to the recipient.
// Only the admin may withdraw fees.
func (e *Engine) WithdrawProtocolFees(caller, asset, recipient string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != e.admin {
		return nil, ErrNotAuthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, err
	}
	fees, _, err := e.accrueWithFees(market)
	if err != nil {
		return nil, err
	}
	if fees.ProtocolFees == nil || fees.ProtocolFees.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	recipientAcc, err := e.loadAccount(recipient)
	if err != nil {
		return nil, err
	}
	if !moduleAcc.Debit(market.Asset, amount) {
		return nil, ErrInsufficientLiquidity
	}
	recipientAcc.Credit(market.Asset, amount)
	fees.ProtocolFees = new(big.Int).Sub(fees.ProtocolFees, amount)
	market.TotalSupplied = new(big.Int).Sub(market.TotalSupplied, amount)

	if err := e.commit(commitSet{
		accounts:    []*types.Account{moduleAcc, recipientAcc},
		markets:     []*Market{market},
		fees:        fees,
		feesChanged: true,
	}); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// ReserveData summarises the reserve after an in-memory accrual at the current
// time. The persisted state is not modified.
func (e *Engine) ReserveData(asset string) (*ReserveData, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.loadMarket(asset)
	if err != nil {
		return nil, err
	}
	e.accrueInterest(market, nil, e.clock())

	utilisation := market.Model.Utilisation(market.TotalBorrowed, market.TotalSupplied)
	borrowRate := market.Model.BorrowRate(utilisation)
	supplyRate := market.Model.SupplyRate(utilisation, market.Risk.ReserveFactorBps)
	return &ReserveData{
		Asset:         market.Asset,
		TotalSupplied: new(big.Int).Set(market.TotalSupplied),
		TotalBorrowed: new(big.Int).Set(market.TotalBorrowed),
		Utilisation:   ratToWad(utilisation),
		BorrowRate:    ratToWad(borrowRate),
		SupplyRate:    ratToWad(supplyRate),
	}, nil
}

// ListMarkets returns the configured reserves.
func (e *Engine) ListMarkets() ([]*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	markets, err := e.state.ListMarkets()
	if err != nil {
		return nil, err
	}
	out := make([]*Market, 0, len(markets))
	for _, market := range markets {
		out = append(out, market.Clone())
	}
	return out, nil
}

// --- internal helpers ---

// accrueWithFees advances the market indexes to the current time and returns
// the fee accrual record, which absorbs the reserve-factor share of interest.
func (e *Engine) accrueWithFees(market *Market) (*FeeAccrual, bool, error) {
	fees, err := e.loadFeeAccrual(market.Asset)
	if err != nil {
		return nil, false, err
	}
	changed := e.accrueInterest(market, fees, e.clock())
	return fees, changed, nil
}

// accrueInterest applies linear compounding for the elapsed time since the
// market's last update. Calling it again with the same timestamp is a no-op,
// and indexes never decrease. When fees is non-nil the reserve-factor share of
// borrow interest is credited to it; the method reports whether fees changed.
func (e *Engine) accrueInterest(market *Market, fees *FeeAccrual, now uint64) bool {
	if market == nil {
		return false
	}
	if market.SupplyIndex == nil || market.SupplyIndex.Sign() == 0 {
		market.SupplyIndex = new(big.Int).Set(ray)
	}
	if market.BorrowIndex == nil || market.BorrowIndex.Sign() == 0 {
		market.BorrowIndex = new(big.Int).Set(ray)
	}
	if now <= market.LastUpdateTime {
		return false
	}
	elapsed := now - market.LastUpdateTime
	market.LastUpdateTime = now

	if market.TotalBorrowed == nil || market.TotalBorrowed.Sign() == 0 || market.Model == nil {
		return false
	}

	utilisation := market.Model.Utilisation(market.TotalBorrowed, market.TotalSupplied)
	borrowRate := market.Model.BorrowRate(utilisation)
	if borrowRate.Sign() == 0 {
		return false
	}
	supplyRate := market.Model.SupplyRate(utilisation, market.Risk.ReserveFactorBps)

	market.BorrowIndex = rayMul(market.BorrowIndex, rateFactor(borrowRate, elapsed))
	market.SupplyIndex = rayMul(market.SupplyIndex, rateFactor(supplyRate, elapsed))

	interest := computeInterest(market.TotalBorrowed, borrowRate, elapsed)
	if interest.Sign() == 0 {
		return false
	}
	market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, interest)
	market.TotalSupplied = new(big.Int).Add(market.TotalSupplied, interest)

	feesChanged := false
	if fees != nil && market.Risk.ReserveFactorBps > 0 {
		reserveShare := new(big.Int).Mul(interest, new(big.Int).SetUint64(market.Risk.ReserveFactorBps))
		reserveShare.Quo(reserveShare, basisPoints)
		if reserveShare.Sign() > 0 {
			fees.ProtocolFees = new(big.Int).Add(fees.ProtocolFees, reserveShare)
			feesChanged = true
		}
	}
	return feesChanged
}

func (e *Engine) checkBorrowCaps(market *Market, amount *big.Int) error {
	projected := new(big.Int).Add(market.TotalBorrowed, amount)
	if market.Caps.Total != nil && market.Caps.Total.Sign() > 0 && projected.Cmp(market.Caps.Total) > 0 {
		return ErrBorrowCapExceeded
	}
	if market.Caps.UtilisationBps > 0 && market.TotalSupplied.Sign() > 0 {
		// projected / supplied > capBps / 10000
		lhs := new(big.Int).Mul(projected, basisPoints)
		rhs := new(big.Int).Mul(market.TotalSupplied, new(big.Int).SetUint64(market.Caps.UtilisationBps))
		if lhs.Cmp(rhs) > 0 {
			return ErrBorrowCapExceeded
		}
	}
	return nil
}

func (e *Engine) loadMarket(asset string) (*Market, error) {
	symbol := normaliseAsset(asset)
	if symbol == "" {
		return nil, ErrMarketNotFound
	}
	market, err := e.state.GetMarket(symbol)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	clone := market.Clone()
	if clone.TotalSupplied == nil {
		clone.TotalSupplied = big.NewInt(0)
	}
	if clone.TotalBorrowed == nil {
		clone.TotalBorrowed = big.NewInt(0)
	}
	if clone.SupplyIndex == nil || clone.SupplyIndex.Sign() == 0 {
		clone.SupplyIndex = new(big.Int).Set(ray)
	}
	if clone.BorrowIndex == nil || clone.BorrowIndex.Sign() == 0 {
		clone.BorrowIndex = new(big.Int).Set(ray)
	}
	return clone, nil
}

func (e *Engine) loadAccount(address string) (*types.Account, error) {
	account, err := e.state.GetAccount(address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return types.NewAccount(address), nil
	}
	return account.Clone(), nil
}

func (e *Engine) loadOrNewPosition(user, asset string) (*Position, error) {
	position, err := e.state.GetPosition(user, asset)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return &Position{
			User:              user,
			Asset:             asset,
			SupplyPrincipal:   big.NewInt(0),
			SupplySnapshot:    new(big.Int).Set(ray),
			BorrowPrincipal:   big.NewInt(0),
			BorrowSnapshot:    new(big.Int).Set(ray),
			CollateralEnabled: true,
		}, nil
	}
	return position.Clone(), nil
}

func (e *Engine) loadFeeAccrual(asset string) (*FeeAccrual, error) {
	fees, err := e.state.GetFeeAccrual(asset)
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{Asset: asset}
	} else {
		fees = fees.Clone()
	}
	if fees.ProtocolFees == nil {
		fees.ProtocolFees = big.NewInt(0)
	}
	return fees, nil
}

// commitSet carries the staged copies an operation produced. Commit runs only
// after every precondition has passed, keeping the all-or-nothing contract.
type commitSet struct {
	accounts    []*types.Account
	positions   []*Position
	markets     []*Market
	fees        *FeeAccrual
	feesChanged bool
	events      []*LiquidationEvent
}

func (e *Engine) commit(set commitSet) error {
	for _, account := range set.accounts {
		if err := e.state.PutAccount(account); err != nil {
			return err
		}
	}
	for _, position := range set.positions {
		if position.Empty() {
			if err := e.state.DeletePosition(position.User, position.Asset); err != nil {
				return err
			}
			continue
		}
		if err := e.state.PutPosition(position); err != nil {
			return err
		}
	}
	for _, market := range set.markets {
		if err := e.state.PutMarket(market); err != nil {
			return err
		}
	}
	if set.feesChanged && set.fees != nil {
		if err := e.state.PutFeeAccrual(set.fees); err != nil {
			return err
		}
	}
	for _, event := range set.events {
		if err := e.state.AppendLiquidation(event); err != nil {
			return err
		}
	}
	return nil
}

func normaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
