package ledger

import "github.com/shopspring/decimal"

type actionModel struct {
	PairAddress string `gorm:"column:pair_address;primaryKey"`
	Type        string `gorm:"column:type"`
	State       string `gorm:"column:state"`
	Reason      string `gorm:"column:reason"`
	CreatedAt   int64  `gorm:"column:created_at"`
	NotifiedAt  *int64 `gorm:"column:notified_at"`
}

func (actionModel) TableName() string { return "actions" }

type historyModel struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	PairAddress  string `gorm:"column:pair_address;index"`
	TokenAddress string `gorm:"column:token_address"`
	Symbol       string `gorm:"column:symbol"`
	Name         string `gorm:"column:name"`

	BuyEntryPrice    decimal.Decimal     `gorm:"column:buy_entry_price"`
	BuyPriceWithFees decimal.Decimal     `gorm:"column:buy_price_with_fees"`
	BuyRealPrice     decimal.NullDecimal `gorm:"column:buy_real_price"`
	BuyAmount        decimal.NullDecimal `gorm:"column:buy_amount"`
	BuyDate          int64               `gorm:"column:buy_date"`
	BuyTxHash        string              `gorm:"column:buy_tx_hash"`

	SellEntryPrice    decimal.NullDecimal `gorm:"column:sell_entry_price"`
	SellPriceWithFees decimal.NullDecimal `gorm:"column:sell_price_with_fees"`
	SellRealPrice     decimal.NullDecimal `gorm:"column:sell_real_price"`
	SellAmount        decimal.NullDecimal `gorm:"column:sell_amount"`
	SellDate          *int64              `gorm:"column:sell_date"`

	Pnl          decimal.NullDecimal `gorm:"column:pnl"`
	NativeProfit decimal.NullDecimal `gorm:"column:native_profit"`
}

func (historyModel) TableName() string { return "history" }

type monitorModel struct {
	PairAddress      string              `gorm:"column:pair_address;primaryKey"`
	Symbol           string              `gorm:"column:symbol"`
	Price            decimal.Decimal     `gorm:"column:price"`
	EntryPrice       decimal.Decimal     `gorm:"column:entry_price"`
	BuyPriceWithFees decimal.Decimal     `gorm:"column:buy_price_with_fees"`
	Pnl              decimal.NullDecimal `gorm:"column:pnl"`
	UpdatedAt        int64               `gorm:"column:updated_at"`
	HistoryID        *int64              `gorm:"column:history_id"`
}

func (monitorModel) TableName() string { return "monitor_state" }

type tokenModel struct {
	PairAddress  string          `gorm:"column:pair_address;primaryKey"`
	Address      string          `gorm:"column:address"`
	Symbol       string          `gorm:"column:symbol"`
	Name         string          `gorm:"column:name"`
	PriceNative  decimal.Decimal `gorm:"column:price_native"`
	Liquidity    decimal.Decimal `gorm:"column:liquidity"`
	Volume       decimal.Decimal `gorm:"column:volume"`
	Buys         int64           `gorm:"column:buys"`
	AgeTimestamp int64           `gorm:"column:age_timestamp"`
	Status       string          `gorm:"column:status;index"`

	BuyTaxPct      decimal.Decimal `gorm:"column:buy_tax_pct"`
	SellTaxPct     decimal.Decimal `gorm:"column:sell_tax_pct"`
	TransferTaxPct decimal.Decimal `gorm:"column:transfer_tax_pct"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (tokenModel) TableName() string { return "tokens" }

type metaModel struct {
	K string `gorm:"column:k;primaryKey"`
	V string `gorm:"column:v"`
}

func (metaModel) TableName() string { return "meta" }
