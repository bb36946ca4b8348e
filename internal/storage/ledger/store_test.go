package ledger

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/sniper/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestActionLifecycle(t *testing.T) {
	st := openTestStore(t)
	actions := st.Actions()
	pair := "0xpair1"

	require.NoError(t, actions.Register(pair, domain.ActionBuy, "PNL_BELOW_THRESHOLD"))

	got, err := actions.Get(pair)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, domain.ActionPending, got.State)
	require.Equal(t, "PNL_BELOW_THRESHOLD", got.Reason)
	require.Nil(t, got.NotifiedAt)

	require.NoError(t, actions.MarkNotified(pair))
	got, err = actions.Get(pair)
	require.NoError(t, err)
	require.NotNil(t, got.NotifiedAt)

	require.NoError(t, actions.Authorize(pair))
	got, err = actions.Get(pair)
	require.NoError(t, err)
	require.Equal(t, domain.ActionApproved, got.State)

	// terminal states reject further transitions
	require.ErrorIs(t, actions.Authorize(pair), ErrNotPending)
	require.ErrorIs(t, actions.Cancel(pair), ErrNotPending)
}

func TestActionRegisterResetsTerminalState(t *testing.T) {
	st := openTestStore(t)
	actions := st.Actions()
	pair := "0xpair2"

	require.NoError(t, actions.Register(pair, domain.ActionBuy, "FEE_HIGH"))
	require.NoError(t, actions.MarkNotified(pair))
	require.NoError(t, actions.Cancel(pair))

	// re-registering the same pair goes back to pending with a fresh
	// notification marker, not a second row
	require.NoError(t, actions.Register(pair, domain.ActionBuy, "PNL_BELOW_THRESHOLD"))

	got, err := actions.Get(pair)
	require.NoError(t, err)
	require.Equal(t, domain.ActionPending, got.State)
	require.Equal(t, "PNL_BELOW_THRESHOLD", got.Reason)
	require.Nil(t, got.NotifiedAt)

	pending, err := actions.ListByState(domain.ActionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestHistoryOrderingInvariant(t *testing.T) {
	st := openTestStore(t)
	history := st.History()

	id, err := history.CreateBuy("0xpair3", "0xtoken3", "TKN", "Token", "0xbuytx",
		decimal.RequireFromString("0.001"), decimal.RequireFromString("0.00101"))
	require.NoError(t, err)

	// sell before the buy fill is recorded must be refused
	err = history.FinalizeSell(id,
		decimal.RequireFromString("0.0011"), decimal.RequireFromString("0.0011"),
		decimal.RequireFromString("0.0011"), decimal.RequireFromString("600"),
		decimal.RequireFromString("5"), decimal.RequireFromString("0.06"))
	require.ErrorIs(t, err, ErrBuyNotFilled)

	require.NoError(t, history.SetBuyFill(id,
		decimal.RequireFromString("0.00101"), decimal.RequireFromString("1000")))

	err = history.FinalizeSell(id,
		decimal.RequireFromString("0.0011"), decimal.RequireFromString("0.0011"),
		decimal.RequireFromString("0.0011"), decimal.RequireFromString("1000"),
		decimal.RequireFromString("8.91"), decimal.RequireFromString("0.09"))
	require.NoError(t, err)

	// closed cycles never mutate again
	err = history.FinalizeSell(id,
		decimal.RequireFromString("0.0012"), decimal.RequireFromString("0.0012"),
		decimal.RequireFromString("0.0012"), decimal.RequireFromString("1000"),
		decimal.RequireFromString("18"), decimal.RequireFromString("0.19"))
	require.ErrorIs(t, err, ErrCycleClosed)

	entry, err := history.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.False(t, entry.Open())
	require.True(t, entry.SellRealPrice.Valid)
	require.Equal(t, "0.0011", entry.SellRealPrice.Decimal.String())
	require.Equal(t, "0xbuytx", entry.BuyTxHash)
}

func TestHistorySummary(t *testing.T) {
	st := openTestStore(t)
	history := st.History()

	fill := func(pair string, buyReal, sellReal, units string) {
		id, err := history.CreateBuy(pair, "0xtok", "TKN", "Token", "",
			decimal.RequireFromString(buyReal), decimal.RequireFromString(buyReal))
		require.NoError(t, err)
		require.NoError(t, history.SetBuyFill(id,
			decimal.RequireFromString(buyReal), decimal.RequireFromString(units)))
		b := decimal.RequireFromString(buyReal)
		sr := decimal.RequireFromString(sellReal)
		u := decimal.RequireFromString(units)
		pnl, profit := domain.CyclePnl(b, sr, u)
		require.NoError(t, history.FinalizeSell(id, sr, sr, sr, u, pnl, profit))
	}

	// +10% on 100 units and -5% on 300 units: weighted avg is
	// (10*100 - 5*300) / 400 = -1.25
	fill("0xA", "1.0", "1.1", "100")
	fill("0xB", "2.0", "1.9", "300")

	sum, err := history.Summary()
	require.NoError(t, err)
	require.Equal(t, 2, sum.ClosedCycles)
	require.True(t, sum.AvgWeightedPnl.Equal(decimal.RequireFromString("-1.25")),
		"got %s", sum.AvgWeightedPnl)
	// 0.1*100 - 0.1*300 = -20
	require.True(t, sum.NativeProfitTotal.Equal(decimal.RequireFromString("-20")),
		"got %s", sum.NativeProfitTotal)
}

func TestMonitorHistoryLink(t *testing.T) {
	st := openTestStore(t)
	monitor := st.Monitor()
	pair := "0xpair4"

	require.NoError(t, monitor.SaveState(pair, "TKN",
		decimal.RequireFromString("0.001"),
		decimal.RequireFromString("0.001"),
		decimal.RequireFromString("0.00101")))

	got, err := monitor.HistoryID(pair)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, monitor.SetHistoryID(pair, 42))

	// ticks keep the snapshot fresh without dropping the link
	require.NoError(t, monitor.SaveState(pair, "TKN",
		decimal.RequireFromString("0.0012"),
		decimal.RequireFromString("0.001"),
		decimal.RequireFromString("0.00101")))

	got, err = monitor.HistoryID(pair)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.EqualValues(t, 42, *got)

	open, err := monitor.PairsWithOpenTrade()
	require.NoError(t, err)
	require.Equal(t, []string{pair}, open)

	require.NoError(t, monitor.ClearHistoryID(pair))
	got, err = monitor.HistoryID(pair)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTokenCatalog(t *testing.T) {
	st := openTestStore(t)
	tokens := st.Tokens()

	tok := domain.Token{
		PairAddress: "0xpair5",
		Address:     "0xtoken5",
		Symbol:      "TKN",
		Name:        "Token",
		PriceNative: decimal.RequireFromString("0.001"),
		Liquidity:   decimal.RequireFromString("50000"),
		Volume:      decimal.RequireFromString("12000"),
		Buys:        40,
		Status:      domain.TokenDiscovered,
	}
	require.NoError(t, tokens.Save(tok))
	require.NoError(t, tokens.UpdateStatus(tok.PairAddress, domain.TokenCandidate))

	// feed refresh updates market data but leaves the lifecycle alone
	tok.PriceNative = decimal.RequireFromString("0.0012")
	require.NoError(t, tokens.Save(tok))

	got, err := tokens.ByPair(tok.PairAddress)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, domain.TokenCandidate, got.Status)
	require.True(t, got.PriceNative.Equal(decimal.RequireFromString("0.0012")))

	require.NoError(t, tokens.UpdateTaxes(tok.PairAddress,
		decimal.RequireFromString("1"),
		decimal.RequireFromString("2"),
		decimal.RequireFromString("0.5")))
	got, err = tokens.ByPair(tok.PairAddress)
	require.NoError(t, err)
	require.True(t, got.SellTaxPct.Equal(decimal.RequireFromString("2")))

	listed, err := tokens.ListByStatus(domain.TokenCandidate)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestMetaRoundTrip(t *testing.T) {
	st := openTestStore(t)
	meta := st.Meta()

	v, err := meta.Get("fuse")
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, meta.Set("fuse", "1"))
	require.NoError(t, meta.Set("fuse", "2"))

	v, err = meta.Get("fuse")
	require.NoError(t, err)
	require.Equal(t, "2", v)
}
