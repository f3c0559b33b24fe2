package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lendpool/native/lending"
)

const sampleConfig = `
[Pool]
ModuleAddress = "pool-vault"
AdminAddress = "pool-admin"
TreasuryAddress = "pool-treasury"
ProtocolShareBps = 500

[Oracle]
Priority = ["chainlink", "manual"]
MaxAgeSeconds = 300
MaxDeviationBps = 1000

[Pauses]
Borrow = true

[[Markets]]
Asset = "usdc"
BaseRate = 0.0
Slope1 = 0.04
Slope2 = 0.6
Kink = 0.8
CollateralFactorBps = 8000
LiquidationThresholdBps = 8500
LiquidationBonusBps = 500
CloseFactorBps = 5000
ReserveFactorBps = 1000
BorrowCap = "1000000"
UtilisationCapBps = 9500

[[Markets]]
Asset = "ETH"
BaseRate = 0.02
Slope1 = 0.15
Slope2 = 0.6
Kink = 0.8
CollateralFactorBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 1000
CloseFactorBps = 5000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lendpool.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "pool-vault", cfg.Pool.ModuleAddress)
	require.Equal(t, uint64(500), cfg.Pool.ProtocolShareBps)
	require.Equal(t, []string{"chainlink", "manual"}, cfg.Oracle.Priority)
	require.Equal(t, uint64(300), cfg.Oracle.MaxAgeSeconds)

	flows := cfg.Pauses.Flows()
	require.True(t, flows[lending.FlowBorrow])
	require.False(t, flows[lending.FlowSupply])

	require.Len(t, cfg.Markets, 2)
	usdc := cfg.Markets[0]
	require.Equal(t, lending.RiskParameters{
		CollateralFactorBps:     8000,
		LiquidationThresholdBps: 8500,
		LiquidationBonusBps:     500,
		CloseFactorBps:          5000,
		ReserveFactorBps:        1000,
	}, usdc.Risk())

	caps, err := usdc.Caps()
	require.NoError(t, err)
	require.Equal(t, 0, caps.Total.Cmp(big.NewInt(1_000_000)))
	require.Equal(t, uint64(9500), caps.UtilisationBps)

	model := usdc.Model()
	require.NotNil(t, model)
	require.Equal(t, 0, model.BaseRate.Sign())
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "missing module address",
			body: `
[Pool]
AdminAddress = "pool-admin"
`,
		},
		{
			name: "duplicate market",
			body: `
[Pool]
ModuleAddress = "pool-vault"
AdminAddress = "pool-admin"

[[Markets]]
Asset = "USDC"
Kink = 0.8

[[Markets]]
Asset = "usdc"
Kink = 0.8
`,
		},
		{
			name: "threshold below collateral factor",
			body: `
[Pool]
ModuleAddress = "pool-vault"
AdminAddress = "pool-admin"

[[Markets]]
Asset = "USDC"
Kink = 0.8
CollateralFactorBps = 9000
LiquidationThresholdBps = 8000
`,
		},
		{
			name: "bad borrow cap",
			body: `
[Pool]
ModuleAddress = "pool-vault"
AdminAddress = "pool-admin"

[[Markets]]
Asset = "USDC"
Kink = 0.8
BorrowCap = "not-a-number"
`,
		},
		{
			name: "treasury required with protocol share",
			body: `
[Pool]
ModuleAddress = "pool-vault"
AdminAddress = "pool-admin"
ProtocolShareBps = 100
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}
