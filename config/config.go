package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lendpool/native/lending"
)

// Config is the protocol configuration for the lending pool, loaded from TOML.
// It binds the pool accounts, the per-asset markets with their rate curves and
// risk limits, and the oracle policy.
type Config struct {
	Pool    PoolConfig     `toml:"Pool"`
	Oracle  OracleConfig   `toml:"Oracle"`
	Pauses  PausesConfig   `toml:"Pauses"`
	Markets []MarketConfig `toml:"Markets"`
}

// PoolConfig names the accounts operating the pool.
type PoolConfig struct {
	// ModuleAddress custodies the pooled liquidity.
	ModuleAddress string `toml:"ModuleAddress"`
	// AdminAddress gates market creation and parameter changes.
	AdminAddress string `toml:"AdminAddress"`
	// TreasuryAddress receives the protocol share of seized collateral.
	TreasuryAddress string `toml:"TreasuryAddress"`
	// ProtocolShareBps is the treasury cut of every seizure, in basis
	// points. Zero disables routing.
	ProtocolShareBps uint64 `toml:"ProtocolShareBps"`
}

// OracleConfig shapes the price aggregation policy.
type OracleConfig struct {
	// Priority orders the registered oracle sources.
	Priority []string `toml:"Priority"`
	// MaxAgeSeconds rejects quotes older than this window. Zero disables
	// the staleness check.
	MaxAgeSeconds uint64 `toml:"MaxAgeSeconds"`
	// MaxDeviationBps rejects quotes that moved further than this from the
	// last accepted sample. Zero disables the check.
	MaxDeviationBps uint64 `toml:"MaxDeviationBps"`
}

// MaxAge returns the freshness window as a duration.
func (o OracleConfig) MaxAge() time.Duration {
	return time.Duration(o.MaxAgeSeconds) * time.Second
}

// PausesConfig halts individual flows at boot.
type PausesConfig struct {
	Supply    bool `toml:"Supply"`
	Withdraw  bool `toml:"Withdraw"`
	Borrow    bool `toml:"Borrow"`
	Repay     bool `toml:"Repay"`
	Liquidate bool `toml:"Liquidate"`
}

// MarketConfig declares one asset reserve.
type MarketConfig struct {
	Asset string `toml:"Asset"`

	// Annual rate curve parameters as decimals, e.g. 0.02 for 2%.
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`

	CollateralFactorBps     uint64 `toml:"CollateralFactorBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	CloseFactorBps          uint64 `toml:"CloseFactorBps"`
	ReserveFactorBps        uint64 `toml:"ReserveFactorBps"`

	// BorrowCap bounds total outstanding debt in base units; empty
	// disables the cap.
	BorrowCap string `toml:"BorrowCap"`
	// UtilisationCapBps bounds post-borrow utilisation; zero disables.
	UtilisationCapBps uint64 `toml:"UtilisationCapBps"`
}

// Model builds the interest model declared by the market block.
func (m MarketConfig) Model() *lending.InterestModel {
	return lending.NewInterestModel(m.BaseRate, m.Slope1, m.Slope2, m.Kink)
}

// Risk builds the risk parameter set declared by the market block.
func (m MarketConfig) Risk() lending.RiskParameters {
	return lending.RiskParameters{
		CollateralFactorBps:     m.CollateralFactorBps,
		LiquidationThresholdBps: m.LiquidationThresholdBps,
		LiquidationBonusBps:     m.LiquidationBonusBps,
		CloseFactorBps:          m.CloseFactorBps,
		ReserveFactorBps:        m.ReserveFactorBps,
	}
}

// Caps builds the borrow caps declared by the market block.
func (m MarketConfig) Caps() (lending.BorrowCaps, error) {
	caps := lending.BorrowCaps{UtilisationBps: m.UtilisationCapBps}
	trimmed := strings.TrimSpace(m.BorrowCap)
	if trimmed == "" {
		return caps, nil
	}
	total, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || total.Sign() < 0 {
		return caps, fmt.Errorf("config: market %s: invalid borrow cap %q", m.Asset, m.BorrowCap)
	}
	caps.Total = total
	return caps, nil
}

// Flows converts the pause block into the engine's flow map.
func (p PausesConfig) Flows() map[string]bool {
	return map[string]bool{
		lending.FlowSupply:    p.Supply,
		lending.FlowWithdraw:  p.Withdraw,
		lending.FlowBorrow:    p.Borrow,
		lending.FlowRepay:     p.Repay,
		lending.FlowLiquidate: p.Liquidate,
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pool.ModuleAddress) == "" {
		return fmt.Errorf("config: Pool.ModuleAddress required")
	}
	if strings.TrimSpace(c.Pool.AdminAddress) == "" {
		return fmt.Errorf("config: Pool.AdminAddress required")
	}
	if c.Pool.ProtocolShareBps > 10_000 {
		return fmt.Errorf("config: Pool.ProtocolShareBps above 10000")
	}
	if c.Pool.ProtocolShareBps > 0 && strings.TrimSpace(c.Pool.TreasuryAddress) == "" {
		return fmt.Errorf("config: Pool.TreasuryAddress required when ProtocolShareBps is set")
	}
	if c.Oracle.MaxDeviationBps > 10_000 {
		return fmt.Errorf("config: Oracle.MaxDeviationBps above 10000")
	}

	seen := make(map[string]struct{}, len(c.Markets))
	for i, market := range c.Markets {
		asset := strings.ToUpper(strings.TrimSpace(market.Asset))
		if asset == "" {
			return fmt.Errorf("config: market %d: asset required", i)
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("config: market %s declared twice", asset)
		}
		seen[asset] = struct{}{}

		if market.BaseRate < 0 || market.Slope1 < 0 || market.Slope2 < 0 {
			return fmt.Errorf("config: market %s: negative rate parameter", asset)
		}
		if market.Kink < 0 || market.Kink > 1 {
			return fmt.Errorf("config: market %s: kink outside [0, 1]", asset)
		}
		if err := market.Risk().Validate(); err != nil {
			return fmt.Errorf("config: market %s: %w", asset, err)
		}
		if _, err := market.Caps(); err != nil {
			return err
		}
	}
	return nil
}
