package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration of the whole engine, constructed
// once at process start and passed explicitly to every component.
// Amounts and prices are in the native asset (BNB) unless noted.
type Config struct {
	// Chain access.
	RPCEndpoints   []string
	PrivateKey     string
	RouterAddress  string
	WNativeAddress string

	// Buy pipeline.
	SpendAmount     decimal.Decimal // native asset spent per buy
	SlippagePct     decimal.Decimal
	PnlThresholdPct decimal.Decimal // below this estimated PnL a buy needs approval
	FeeCap          decimal.Decimal // estimated gas fee above this needs approval

	// Exit policy.
	TakeProfitPct      decimal.Decimal
	TrailingGapPct     decimal.Decimal
	StopLossPct        decimal.Decimal
	SellStage1Fraction decimal.Decimal // share of balance sold on the first exit
	SellStage2Fraction decimal.Decimal // share of the remainder on the second exit
	MinSellUnits       decimal.Decimal
	MinSellValue       decimal.Decimal

	// Discovery filter.
	MinLiquidity decimal.Decimal
	MinVolume    decimal.Decimal
	MinBuys      int64

	// Gas.
	GasLimitMultiplier decimal.Decimal // safety margin on estimated gas limit
	BaseFeeMultiplier  decimal.Decimal // dynamic fee mode: maxFee = baseFee*mult + tip
	PriorityFeeWei     int64           // dynamic fee mode tip, 0 = ask the node
	GasPriceWei        int64           // legacy mode override, 0 = ask the node

	// Loops and timeouts.
	PollInterval   time.Duration // supervisor action-ledger scan
	TickInterval   time.Duration // per-position price check
	ReceiptTimeout time.Duration
	RPCTimeout     time.Duration

	// Safety.
	DryRun  bool
	BuyFuse bool // one-shot: block all buys after the first real fill

	// Storage.
	DatabasePath string
	JournalDir   string

	// Collaborators.
	DiscoveryURL    string
	SecurityURL     string
	PriceURL        string
	TelegramToken   string
	TelegramChatID  string
	DiscoveryPeriod time.Duration
}

type configTmp struct {
	RPCEndpoints   []string `yaml:"rpc_endpoints"`
	PrivateKey     string   `yaml:"private_key"`
	RouterAddress  string   `yaml:"router_address"`
	WNativeAddress string   `yaml:"wnative_address"`

	SpendAmount     string `yaml:"spend_amount"`
	SlippagePct     string `yaml:"slippage_pct"`
	PnlThresholdPct string `yaml:"pnl_threshold_pct"`
	FeeCap          string `yaml:"fee_cap"`

	TakeProfitPct      string `yaml:"take_profit_pct"`
	TrailingGapPct     string `yaml:"trailing_gap_pct"`
	StopLossPct        string `yaml:"stop_loss_pct"`
	SellStage1Fraction string `yaml:"sell_stage1_fraction"`
	SellStage2Fraction string `yaml:"sell_stage2_fraction"`
	MinSellUnits       string `yaml:"min_sell_units"`
	MinSellValue       string `yaml:"min_sell_value"`

	MinLiquidity string `yaml:"min_liquidity"`
	MinVolume    string `yaml:"min_volume"`
	MinBuys      int64  `yaml:"min_buys"`

	GasLimitMultiplier string `yaml:"gas_limit_multiplier"`
	BaseFeeMultiplier  string `yaml:"base_fee_multiplier"`
	PriorityFeeWei     int64  `yaml:"priority_fee_wei"`
	GasPriceWei        int64  `yaml:"gas_price_wei"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout"`

	DryRun  bool `yaml:"dry_run"`
	BuyFuse bool `yaml:"buy_fuse"`

	DatabasePath string `yaml:"database_path"`
	JournalDir   string `yaml:"journal_dir"`

	DiscoveryURL    string        `yaml:"discovery_url"`
	SecurityURL     string        `yaml:"security_url"`
	PriceURL        string        `yaml:"price_url"`
	TelegramToken   string        `yaml:"telegram_token"`
	TelegramChatID  string        `yaml:"telegram_chat_id"`
	DiscoveryPeriod time.Duration `yaml:"discovery_period"`
}

// Get reads the configuration from the yaml file pointed at by -config.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()
	return FromFile(*path)
}

// FromFile loads and validates a configuration file.
func FromFile(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(f)
}

// Parse decodes yaml bytes into a validated Config.
func Parse(raw []byte) (Config, error) {
	var tmp configTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	cfg := Config{
		RPCEndpoints:    tmp.RPCEndpoints,
		PrivateKey:      tmp.PrivateKey,
		RouterAddress:   tmp.RouterAddress,
		WNativeAddress:  tmp.WNativeAddress,
		MinBuys:         tmp.MinBuys,
		PriorityFeeWei:  tmp.PriorityFeeWei,
		GasPriceWei:     tmp.GasPriceWei,
		PollInterval:    tmp.PollInterval,
		TickInterval:    tmp.TickInterval,
		ReceiptTimeout:  tmp.ReceiptTimeout,
		RPCTimeout:      tmp.RPCTimeout,
		DryRun:          tmp.DryRun,
		BuyFuse:         tmp.BuyFuse,
		DatabasePath:    tmp.DatabasePath,
		JournalDir:      tmp.JournalDir,
		DiscoveryURL:    tmp.DiscoveryURL,
		SecurityURL:     tmp.SecurityURL,
		PriceURL:        tmp.PriceURL,
		TelegramToken:   tmp.TelegramToken,
		TelegramChatID:  tmp.TelegramChatID,
		DiscoveryPeriod: tmp.DiscoveryPeriod,
	}

	fields := []struct {
		name string
		raw  string
		dflt string
		dst  *decimal.Decimal
	}{
		{"spend_amount", tmp.SpendAmount, "0.01", &cfg.SpendAmount},
		{"slippage_pct", tmp.SlippagePct, "3", &cfg.SlippagePct},
		{"pnl_threshold_pct", tmp.PnlThresholdPct, "2", &cfg.PnlThresholdPct},
		{"fee_cap", tmp.FeeCap, "0.005", &cfg.FeeCap},
		{"take_profit_pct", tmp.TakeProfitPct, "5", &cfg.TakeProfitPct},
		{"trailing_gap_pct", tmp.TrailingGapPct, "3", &cfg.TrailingGapPct},
		{"stop_loss_pct", tmp.StopLossPct, "7", &cfg.StopLossPct},
		{"sell_stage1_fraction", tmp.SellStage1Fraction, "0.6", &cfg.SellStage1Fraction},
		{"sell_stage2_fraction", tmp.SellStage2Fraction, "1", &cfg.SellStage2Fraction},
		{"min_sell_units", tmp.MinSellUnits, "0", &cfg.MinSellUnits},
		{"min_sell_value", tmp.MinSellValue, "0", &cfg.MinSellValue},
		{"min_liquidity", tmp.MinLiquidity, "2000", &cfg.MinLiquidity},
		{"min_volume", tmp.MinVolume, "1000", &cfg.MinVolume},
		{"gas_limit_multiplier", tmp.GasLimitMultiplier, "1.2", &cfg.GasLimitMultiplier},
		{"base_fee_multiplier", tmp.BaseFeeMultiplier, "2", &cfg.BaseFeeMultiplier},
	}
	for _, f := range fields {
		raw := f.raw
		if raw == "" {
			raw = f.dflt
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect %q param in yaml config", f.name)
		}
		*f.dst = d
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 3 * time.Second
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 3 * time.Minute
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 30 * time.Second
	}
	if cfg.DiscoveryPeriod == 0 {
		cfg.DiscoveryPeriod = 30 * time.Second
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./data/sniper.db"
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = "./wal/journal"
	}
	if cfg.MinBuys == 0 {
		cfg.MinBuys = 2
	}
}

// Validate checks the whole configuration before any trading logic runs.
func (c Config) Validate() error {
	if len(c.RPCEndpoints) == 0 {
		return errors.New("at least one rpc endpoint is required")
	}
	if c.RouterAddress == "" {
		return errors.New("router_address is required")
	}
	if c.WNativeAddress == "" {
		return errors.New("wnative_address is required")
	}
	if !c.DryRun && c.PrivateKey == "" {
		return errors.New("private_key is required unless dry_run is set")
	}
	if c.SpendAmount.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("spend_amount must be positive, got %s", c.SpendAmount)
	}
	if c.SlippagePct.IsNegative() || c.SlippagePct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return errors.Errorf("slippage_pct must be in [0, 100), got %s", c.SlippagePct)
	}
	if c.FeeCap.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("fee_cap must be positive, got %s", c.FeeCap)
	}
	for name, pct := range map[string]decimal.Decimal{
		"take_profit_pct":  c.TakeProfitPct,
		"trailing_gap_pct": c.TrailingGapPct,
		"stop_loss_pct":    c.StopLossPct,
	} {
		if pct.IsNegative() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return errors.Errorf("%s must be in [0, 100), got %s", name, pct)
		}
	}
	one := decimal.NewFromInt(1)
	if c.SellStage1Fraction.LessThanOrEqual(decimal.Zero) || c.SellStage1Fraction.GreaterThan(one) {
		return errors.Errorf("sell_stage1_fraction must be in (0, 1], got %s", c.SellStage1Fraction)
	}
	if c.SellStage2Fraction.LessThanOrEqual(decimal.Zero) || c.SellStage2Fraction.GreaterThan(one) {
		return errors.Errorf("sell_stage2_fraction must be in (0, 1], got %s", c.SellStage2Fraction)
	}
	if c.MinSellUnits.IsNegative() || c.MinSellValue.IsNegative() {
		return errors.New("min sell floors must be non-negative")
	}
	if c.MinLiquidity.IsNegative() || c.MinVolume.IsNegative() {
		return errors.New("discovery thresholds must be non-negative")
	}
	if c.GasLimitMultiplier.LessThan(one) {
		return errors.Errorf("gas_limit_multiplier must be >= 1, got %s", c.GasLimitMultiplier)
	}
	if c.BaseFeeMultiplier.LessThan(one) {
		return errors.Errorf("base_fee_multiplier must be >= 1, got %s", c.BaseFeeMultiplier)
	}
	if c.PriorityFeeWei < 0 || c.GasPriceWei < 0 {
		return errors.New("gas price overrides must be non-negative")
	}
	if c.PollInterval <= 0 || c.TickInterval <= 0 || c.ReceiptTimeout <= 0 || c.RPCTimeout <= 0 {
		return errors.New("intervals and timeouts must be positive")
	}
	return nil
}
