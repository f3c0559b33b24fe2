package state

import (
	"math/big"
	"testing"

	"lendpool/core/types"
	"lendpool/native/lending"
	"lendpool/storage"
)

func newRay() *big.Int {
	r, _ := new(big.Int).SetString("1000000000000000000000000000", 10)
	return r
}

func testMarket(asset string) *lending.Market {
	return &lending.Market{
		Asset:          asset,
		TotalSupplied:  big.NewInt(1000),
		TotalBorrowed:  big.NewInt(400),
		SupplyIndex:    newRay(),
		BorrowIndex:    newRay(),
		LastUpdateTime: 1_700_000_000,
		Model:          lending.NewInterestModel(0.02, 0.1, 0.5, 0.8),
		Risk:           lending.RiskParameters{CollateralFactorBps: 7500, LiquidationThresholdBps: 8000},
	}
}

func TestManagerMarketRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	if err := manager.PutMarket(testMarket("USDC")); err != nil {
		t.Fatalf("put market: %v", err)
	}

	loaded, err := manager.GetMarket("USDC")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if loaded == nil {
		t.Fatalf("market missing")
	}
	if loaded.TotalSupplied.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected supplied: %s", loaded.TotalSupplied)
	}
	if loaded.Risk.CollateralFactorBps != 7500 {
		t.Fatalf("risk parameters lost: %+v", loaded.Risk)
	}
	// The interest model does not survive JSON; the registry re-attaches it.
	if loaded.Model == nil {
		t.Fatalf("interest model not re-attached")
	}
	if loaded.Model.BaseRate.Cmp(lending.NewInterestModel(0.02, 0.1, 0.5, 0.8).BaseRate) != 0 {
		t.Fatalf("unexpected base rate: %s", loaded.Model.BaseRate.RatString())
	}

	missing, err := manager.GetMarket("DOGE")
	if err != nil {
		t.Fatalf("get missing market: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing market")
	}

	if err := manager.PutMarket(testMarket("ETH")); err != nil {
		t.Fatalf("put second market: %v", err)
	}
	markets, err := manager.ListMarkets()
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
}

func TestManagerPositionLifecycle(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	for _, asset := range []string{"USDC", "ETH"} {
		position := &lending.Position{
			User:              "alice",
			Asset:             asset,
			SupplyPrincipal:   big.NewInt(500),
			SupplySnapshot:    newRay(),
			BorrowPrincipal:   big.NewInt(0),
			BorrowSnapshot:    newRay(),
			CollateralEnabled: true,
		}
		if err := manager.PutPosition(position); err != nil {
			t.Fatalf("put position: %v", err)
		}
	}

	positions, err := manager.ListUserPositions("alice")
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}

	// A different user with a prefix-sharing name must not leak in.
	other, err := manager.ListUserPositions("ali")
	if err != nil {
		t.Fatalf("list other positions: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("prefix leak across users: %d", len(other))
	}

	if err := manager.DeletePosition("alice", "USDC"); err != nil {
		t.Fatalf("delete position: %v", err)
	}
	position, err := manager.GetPosition("alice", "USDC")
	if err != nil {
		t.Fatalf("get deleted position: %v", err)
	}
	if position != nil {
		t.Fatalf("position not deleted")
	}
}

func TestManagerAccountsAndFees(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	account := types.NewAccount("alice")
	account.Credit("USDC", big.NewInt(250))
	if err := manager.PutAccount(account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := manager.GetAccount("alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded == nil || loaded.Balance("USDC").Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("account round trip failed: %+v", loaded)
	}

	fees := &lending.FeeAccrual{Asset: "USDC", ProtocolFees: big.NewInt(42)}
	if err := manager.PutFeeAccrual(fees); err != nil {
		t.Fatalf("put fees: %v", err)
	}
	loadedFees, err := manager.GetFeeAccrual("USDC")
	if err != nil {
		t.Fatalf("get fees: %v", err)
	}
	if loadedFees == nil || loadedFees.ProtocolFees.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fees round trip failed: %+v", loadedFees)
	}
}

func TestManagerLiquidationLogOrderAndRecovery(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	for i, id := range []string{"first", "second", "third"} {
		event := &lending.LiquidationEvent{
			ID:         id,
			Borrower:   "alice",
			DebtRepaid: big.NewInt(int64(100 * (i + 1))),
		}
		if err := manager.AppendLiquidation(event); err != nil {
			t.Fatalf("append liquidation: %v", err)
		}
	}

	events, err := manager.ListLiquidations(0)
	if err != nil {
		t.Fatalf("list liquidations: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].ID != "first" || events[2].ID != "third" {
		t.Fatalf("events out of order: %s, %s", events[0].ID, events[2].ID)
	}

	limited, err := manager.ListLiquidations(2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[1].ID != "third" {
		t.Fatalf("limit did not keep the newest events")
	}

	// A fresh manager over the same database continues the sequence instead
	// of overwriting earlier entries.
	restarted := NewManager(db)
	if err := restarted.AppendLiquidation(&lending.LiquidationEvent{ID: "fourth"}); err != nil {
		t.Fatalf("append after restart: %v", err)
	}
	events, err = restarted.ListLiquidations(0)
	if err != nil {
		t.Fatalf("list after restart: %v", err)
	}
	if len(events) != 4 || events[3].ID != "fourth" {
		t.Fatalf("sequence not recovered after restart: %d events", len(events))
	}
}
