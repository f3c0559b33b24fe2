package lending

import (
	"math/big"
	"time"

	"lendpool/core/types"
	"lendpool/native/oracle"
)

const (
	testModuleAddr = "pool-vault"
	testAdminAddr  = "pool-admin"
)

type mockEngineState struct {
	markets      map[string]*Market
	positions    map[string]*Position
	accounts     map[string]*types.Account
	fees         map[string]*FeeAccrual
	liquidations []*LiquidationEvent
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		markets:   make(map[string]*Market),
		positions: make(map[string]*Position),
		accounts:  make(map[string]*types.Account),
		fees:      make(map[string]*FeeAccrual),
	}
}

func positionKey(user, asset string) string {
	return user + "/" + asset
}

func (m *mockEngineState) GetMarket(asset string) (*Market, error) {
	return m.markets[asset], nil
}

func (m *mockEngineState) PutMarket(market *Market) error {
	m.markets[market.Asset] = market
	return nil
}

func (m *mockEngineState) ListMarkets() ([]*Market, error) {
	out := make([]*Market, 0, len(m.markets))
	for _, market := range m.markets {
		out = append(out, market)
	}
	return out, nil
}

func (m *mockEngineState) GetPosition(user, asset string) (*Position, error) {
	return m.positions[positionKey(user, asset)], nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	m.positions[positionKey(position.User, position.Asset)] = position
	return nil
}

func (m *mockEngineState) DeletePosition(user, asset string) error {
	delete(m.positions, positionKey(user, asset))
	return nil
}

func (m *mockEngineState) ListUserPositions(user string) ([]*Position, error) {
	out := make([]*Position, 0)
	for _, position := range m.positions {
		if position.User == user {
			out = append(out, position)
		}
	}
	return out, nil
}

func (m *mockEngineState) GetAccount(address string) (*types.Account, error) {
	return m.accounts[address], nil
}

func (m *mockEngineState) PutAccount(account *types.Account) error {
	m.accounts[account.Address] = account
	return nil
}

func (m *mockEngineState) GetFeeAccrual(asset string) (*FeeAccrual, error) {
	return m.fees[asset], nil
}

func (m *mockEngineState) PutFeeAccrual(fees *FeeAccrual) error {
	m.fees[fees.Asset] = fees
	return nil
}

func (m *mockEngineState) AppendLiquidation(event *LiquidationEvent) error {
	m.liquidations = append(m.liquidations, event)
	return nil
}

func (m *mockEngineState) balance(address, asset string) *big.Int {
	account := m.accounts[address]
	if account == nil {
		return big.NewInt(0)
	}
	return account.Balance(asset)
}

// newTestEngine wires an engine to a mock state, a manual oracle and a
// controllable clock. The returned now pointer advances time for accrual
// tests.
func newTestEngine() (*Engine, *mockEngineState, *oracle.ManualOracle, *uint64) {
	engine := NewEngine(testModuleAddr, testAdminAddr)
	state := newMockEngineState()
	prices := oracle.NewManualOracle()
	now := new(uint64)
	*now = 1_700_000_000
	engine.SetState(state)
	engine.SetOracle(prices)
	engine.SetClock(func() uint64 { return *now })
	return engine, state, prices, now
}

// flatRateModel fixes the borrow rate at num/den across every utilisation by
// using only the base rate term.
func flatRateModel(num, den int64) *InterestModel {
	return &InterestModel{
		BaseRate: big.NewRat(num, den),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     big.NewRat(1, 1),
	}
}

func seedMarket(state *mockEngineState, asset string, model *InterestModel, risk RiskParameters, now uint64) *Market {
	market := &Market{
		Asset:          asset,
		TotalSupplied:  big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		SupplyIndex:    new(big.Int).Set(ray),
		BorrowIndex:    new(big.Int).Set(ray),
		LastUpdateTime: now,
		Model:          model,
		Risk:           risk,
	}
	state.markets[asset] = market
	return market
}

func fundAccount(state *mockEngineState, address, asset string, amount *big.Int) {
	account := state.accounts[address]
	if account == nil {
		account = types.NewAccount(address)
		state.accounts[address] = account
	}
	account.Credit(asset, amount)
}

func setPrice(prices *oracle.ManualOracle, asset string, num, den int64) {
	prices.Set(asset, big.NewRat(num, den), time.Unix(1_700_000_000, 0))
}
