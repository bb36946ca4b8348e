package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const minimalYaml = `
rpc_endpoints:
  - https://bsc-dataseed.binance.org
router_address: "0x10ED43C718714eb63d5aA57B78B54704E256024E"
wnative_address: "0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
dry_run: true
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYaml))
	require.NoError(t, err)

	require.True(t, cfg.SlippagePct.Equal(decimal.NewFromInt(3)))
	require.True(t, cfg.StopLossPct.Equal(decimal.NewFromInt(7)))
	require.True(t, cfg.TakeProfitPct.Equal(decimal.NewFromInt(5)))
	require.True(t, cfg.SellStage1Fraction.Equal(decimal.NewFromFloat(0.6)))
	require.True(t, cfg.GasLimitMultiplier.Equal(decimal.NewFromFloat(1.2)))
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 3*time.Second, cfg.TickInterval)
	require.True(t, cfg.DryRun)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(minimalYaml + `
spend_amount: "0.05"
pnl_threshold_pct: "4"
trailing_gap_pct: "2.5"
tick_interval: 10s
`))
	require.NoError(t, err)
	require.True(t, cfg.SpendAmount.Equal(decimal.NewFromFloat(0.05)))
	require.True(t, cfg.PnlThresholdPct.Equal(decimal.NewFromInt(4)))
	require.True(t, cfg.TrailingGapPct.Equal(decimal.NewFromFloat(2.5)))
	require.Equal(t, 10*time.Second, cfg.TickInterval)
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := []string{
		"spend_amount: \"0\"",
		"spend_amount: \"abc\"",
		"slippage_pct: \"100\"",
		"stop_loss_pct: \"-1\"",
		"sell_stage1_fraction: \"1.5\"",
		"gas_limit_multiplier: \"0.9\"",
	}
	for _, c := range cases {
		_, err := Parse([]byte(minimalYaml + c + "\n"))
		require.Error(t, err, "expected rejection for %q", c)
	}
}

func TestValidateRequiresSignerOutsideDryRun(t *testing.T) {
	yml := `
rpc_endpoints:
  - https://bsc-dataseed.binance.org
router_address: "0x10ED43C718714eb63d5aA57B78B54704E256024E"
wnative_address: "0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
dry_run: false
`
	_, err := Parse([]byte(yml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "private_key")
}

func TestValidateRequiresEndpoints(t *testing.T) {
	_, err := Parse([]byte(`
router_address: "0x1"
wnative_address: "0x2"
dry_run: true
`))
	require.Error(t, err)
}
