package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lendpool/core/types"
	"lendpool/native/lending"
	"lendpool/storage"
)

const (
	marketPrefix      = "lending/market/"
	positionPrefix    = "lending/position/"
	accountPrefix     = "lending/account/"
	feePrefix         = "lending/fees/"
	liquidationPrefix = "lending/liquidation/"
)

// Manager persists the lending engine's state as JSON records in a key-value
// store. Interest models carry big.Rat parameters that do not survive JSON, so
// the manager re-attaches them from an in-memory registry populated at boot.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	models  map[string]*lending.InterestModel
	seq     uint64
	seqInit bool
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:     db,
		models: make(map[string]*lending.InterestModel),
	}
}

// RegisterInterestModel binds the rate curve attached to markets of the asset
// when they are loaded. Models registered later replace earlier ones.
func (m *Manager) RegisterInterestModel(asset string, model *lending.InterestModel) {
	if m == nil || model == nil {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return
	}
	m.mu.Lock()
	m.models[symbol] = model.Clone()
	m.mu.Unlock()
}

func (m *Manager) modelFor(asset string) *lending.InterestModel {
	m.mu.RLock()
	model := m.models[asset]
	m.mu.RUnlock()
	if model == nil {
		return lending.DefaultInterestModel.Clone()
	}
	return model.Clone()
}

func (m *Manager) getJSON(key string, out interface{}) (bool, error) {
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put([]byte(key), raw)
}

// GetMarket loads the market record for the asset, nil when absent.
func (m *Manager) GetMarket(asset string) (*lending.Market, error) {
	var market lending.Market
	found, err := m.getJSON(marketPrefix+asset, &market)
	if err != nil || !found {
		return nil, err
	}
	market.Model = m.modelFor(market.Asset)
	return &market, nil
}

// PutMarket stores the market record. The interest model is registered so the
// next load re-attaches it.
func (m *Manager) PutMarket(market *lending.Market) error {
	if market == nil {
		return fmt.Errorf("state: nil market")
	}
	if market.Model != nil {
		m.RegisterInterestModel(market.Asset, market.Model)
	}
	return m.putJSON(marketPrefix+market.Asset, market)
}

// ListMarkets returns every stored market.
func (m *Manager) ListMarkets() ([]*lending.Market, error) {
	keys, err := m.db.KeysWithPrefix([]byte(marketPrefix))
	if err != nil {
		return nil, err
	}
	markets := make([]*lending.Market, 0, len(keys))
	for _, key := range keys {
		asset := strings.TrimPrefix(string(key), marketPrefix)
		market, err := m.GetMarket(asset)
		if err != nil {
			return nil, err
		}
		if market != nil {
			markets = append(markets, market)
		}
	}
	return markets, nil
}

func positionKey(user, asset string) string {
	return positionPrefix + user + "/" + asset
}

// GetPosition loads the (user, asset) position, nil when absent.
func (m *Manager) GetPosition(user, asset string) (*lending.Position, error) {
	var position lending.Position
	found, err := m.getJSON(positionKey(user, asset), &position)
	if err != nil || !found {
		return nil, err
	}
	return &position, nil
}

// PutPosition stores the position record.
func (m *Manager) PutPosition(position *lending.Position) error {
	if position == nil {
		return fmt.Errorf("state: nil position")
	}
	return m.putJSON(positionKey(position.User, position.Asset), position)
}

// DeletePosition removes the (user, asset) position.
func (m *Manager) DeletePosition(user, asset string) error {
	return m.db.Delete([]byte(positionKey(user, asset)))
}

// ListUserPositions returns every position held by the user.
func (m *Manager) ListUserPositions(user string) ([]*lending.Position, error) {
	keys, err := m.db.KeysWithPrefix([]byte(positionPrefix + user + "/"))
	if err != nil {
		return nil, err
	}
	positions := make([]*lending.Position, 0, len(keys))
	for _, key := range keys {
		var position lending.Position
		found, err := m.getJSON(string(key), &position)
		if err != nil {
			return nil, err
		}
		if found {
			positions = append(positions, &position)
		}
	}
	return positions, nil
}

// GetAccount loads the ledger account, nil when absent.
func (m *Manager) GetAccount(address string) (*types.Account, error) {
	var account types.Account
	found, err := m.getJSON(accountPrefix+address, &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

// PutAccount stores the ledger account.
func (m *Manager) PutAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.putJSON(accountPrefix+account.Address, account)
}

// GetFeeAccrual loads the fee record for the asset, nil when absent.
func (m *Manager) GetFeeAccrual(asset string) (*lending.FeeAccrual, error) {
	var fees lending.FeeAccrual
	found, err := m.getJSON(feePrefix+asset, &fees)
	if err != nil || !found {
		return nil, err
	}
	return &fees, nil
}

// PutFeeAccrual stores the fee record.
func (m *Manager) PutFeeAccrual(fees *lending.FeeAccrual) error {
	if fees == nil {
		return fmt.Errorf("state: nil fee accrual")
	}
	return m.putJSON(feePrefix+fees.Asset, fees)
}

// AppendLiquidation stores the liquidation event under a monotonically
// increasing sequence so listings come back in execution order.
func (m *Manager) AppendLiquidation(event *lending.LiquidationEvent) error {
	if event == nil {
		return fmt.Errorf("state: nil liquidation event")
	}
	m.mu.Lock()
	if !m.seqInit {
		if err := m.recoverSequenceLocked(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	key := fmt.Sprintf("%s%020d/%s", liquidationPrefix, seq, event.ID)
	return m.putJSON(key, event)
}

// recoverSequenceLocked restores the append counter from stored keys after a
// restart. Keys are zero-padded so the lexicographically last key carries the
// highest sequence.
func (m *Manager) recoverSequenceLocked() error {
	keys, err := m.db.KeysWithPrefix([]byte(liquidationPrefix))
	if err != nil {
		return err
	}
	var max uint64
	for _, key := range keys {
		trimmed := strings.TrimPrefix(string(key), liquidationPrefix)
		var seq uint64
		if _, err := fmt.Sscanf(trimmed, "%020d/", &seq); err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	m.seq = max
	m.seqInit = true
	return nil
}

// ListLiquidations returns recorded liquidations in execution order, capped at
// limit when limit is positive.
func (m *Manager) ListLiquidations(limit int) ([]*lending.LiquidationEvent, error) {
	keys, err := m.db.KeysWithPrefix([]byte(liquidationPrefix))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	events := make([]*lending.LiquidationEvent, 0, len(keys))
	for _, key := range keys {
		var event lending.LiquidationEvent
		found, err := m.getJSON(string(key), &event)
		if err != nil {
			return nil, err
		}
		if found {
			events = append(events, &event)
		}
	}
	return events, nil
}
