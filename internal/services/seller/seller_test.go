package seller

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/chain"
)

var (
	wallet  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	wnative = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	router  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000c1")

	oneNativeWei = decimal.NewFromInt(1).Shift(18).BigInt()
)

type fakeChain struct {
	expectedOut   *big.Int
	minOut        *big.Int // defaults to expectedOut when nil
	allowance     *big.Int
	balanceBefore *big.Int
	balanceAfter  *big.Int
	sendHashes    []common.Hash
	receipt       *types.Receipt

	balanceCalls int
	approves     int
	sells        int
}

func (f *fakeChain) Quote(_ context.Context, _ []common.Address, amountIn *big.Int, _ decimal.Decimal) (*big.Int, *big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 || f.expectedOut == nil || f.expectedOut.Sign() <= 0 {
		return new(big.Int), new(big.Int), nil
	}
	if f.minOut != nil {
		return f.minOut, f.expectedOut, nil
	}
	return f.expectedOut, f.expectedOut, nil
}

func (f *fakeChain) TokenDecimals(context.Context, common.Address) (uint8, error) { return 18, nil }

func (f *fakeChain) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(1000), oneNativeWei), nil
}

func (f *fakeChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeChain) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	f.balanceCalls++
	if f.balanceCalls == 1 {
		return f.balanceBefore, nil
	}
	return f.balanceAfter, nil
}

func (f *fakeChain) BuildApproveTx(_ context.Context, _ common.Address, raw *big.Int) (*chain.UnsignedTx, error) {
	f.approves++
	return &chain.UnsignedTx{Value: new(big.Int), Gas: 50_000}, nil
}

func (f *fakeChain) BuildSellTx(_ context.Context, _ common.Address, raw, _ *big.Int) (*chain.UnsignedTx, error) {
	f.sells++
	return &chain.UnsignedTx{Value: new(big.Int), Gas: 200_000}, nil
}

func (f *fakeChain) SignAndSend(context.Context, *chain.UnsignedTx) (common.Hash, error) {
	h := f.sendHashes[0]
	if len(f.sendHashes) > 1 {
		f.sendHashes = f.sendHashes[1:]
	}
	return h, nil
}

func (f *fakeChain) WaitForReceipt(context.Context, common.Hash, time.Duration) (*types.Receipt, error) {
	return f.receipt, nil
}

func (f *fakeChain) Account() common.Address { return wallet }
func (f *fakeChain) WNative() common.Address { return wnative }
func (f *fakeChain) Router() common.Address  { return router }

func testConfig() config.Config {
	return config.Config{
		SlippagePct:    decimal.NewFromInt(3),
		ReceiptTimeout: time.Minute,
	}
}

func TestSellReconcilesFromBalanceDelta(t *testing.T) {
	gasWei := decimal.RequireFromString("0.01").Shift(18).BigInt()
	// 0.5 native gross arrives, minus the 0.01 gas the wallet paid
	after := new(big.Int).Add(big.NewInt(0), decimal.RequireFromString("10.49").Shift(18).BigInt())

	fake := &fakeChain{
		expectedOut:   decimal.RequireFromString("0.5").Shift(18).BigInt(),
		allowance:     new(big.Int).Mul(big.NewInt(10_000), oneNativeWei),
		balanceBefore: decimal.NewFromInt(10).Shift(18).BigInt(),
		balanceAfter:  after,
		sendHashes:    []common.Hash{common.HexToHash("0xbeef")},
		receipt: &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			GasUsed:           200_000,
			EffectiveGasPrice: new(big.Int).Div(gasWei, big.NewInt(200_000)),
		},
	}
	s := New(testConfig(), fake, zap.NewNop())

	fill, err := s.Sell(context.Background(), token, decimal.NewFromInt(500))
	require.NoError(t, err)
	require.Equal(t, 0, fake.approves, "sufficient allowance skips the approve")
	require.Equal(t, 1, fake.sells)
	// gross adds the gas back: (10.49 - 10) + 0.01 = 0.5
	require.True(t, fill.GrossNative.Equal(decimal.RequireFromString("0.5")), "got %s", fill.GrossNative)
	require.True(t, fill.UnitPrice.Equal(decimal.RequireFromString("0.001")), "got %s", fill.UnitPrice)
	require.True(t, fill.GasCost.Equal(decimal.RequireFromString("0.01")), "got %s", fill.GasCost)
}

func TestSellTopsUpAllowanceFirst(t *testing.T) {
	fake := &fakeChain{
		expectedOut:   decimal.RequireFromString("0.5").Shift(18).BigInt(),
		allowance:     new(big.Int), // nothing granted yet
		balanceBefore: decimal.NewFromInt(10).Shift(18).BigInt(),
		balanceAfter:  decimal.RequireFromString("10.5").Shift(18).BigInt(),
		sendHashes:    []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")},
		receipt: &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			GasUsed:           0,
			EffectiveGasPrice: new(big.Int),
		},
	}
	s := New(testConfig(), fake, zap.NewNop())

	_, err := s.Sell(context.Background(), token, decimal.NewFromInt(500))
	require.NoError(t, err)
	require.Equal(t, 1, fake.approves)
	require.Equal(t, 1, fake.sells)
}

func TestSellDryRunUsesExpectedProceeds(t *testing.T) {
	fake := &fakeChain{
		expectedOut: decimal.RequireFromString("0.5").Shift(18).BigInt(),
		allowance:   new(big.Int),
		sendHashes:  []common.Hash{chain.DryRunTxHash},
	}
	cfg := testConfig()
	cfg.DryRun = true
	s := New(cfg, fake, zap.NewNop())

	fill, err := s.Sell(context.Background(), token, decimal.NewFromInt(500))
	require.NoError(t, err)
	require.Equal(t, chain.DryRunTxHash, fill.TxHash)
	require.True(t, fill.GrossNative.Equal(decimal.RequireFromString("0.5")))
	require.Zero(t, fake.balanceCalls, "dry run never reads balances")
}

func TestSellRejectsInvalidQuote(t *testing.T) {
	fake := &fakeChain{expectedOut: new(big.Int)}
	s := New(testConfig(), fake, zap.NewNop())

	_, err := s.Sell(context.Background(), token, decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrInvalidQuote)

	_, err = s.Sell(context.Background(), token, decimal.Zero)
	require.Error(t, err)
}

// A positive expected output with a minimum-out floored to zero would send
// the swap unbounded; it must abort before any allowance or broadcast.
func TestSellRejectsZeroMinimumOut(t *testing.T) {
	fake := &fakeChain{
		expectedOut: big.NewInt(1),
		minOut:      new(big.Int),
	}
	s := New(testConfig(), fake, zap.NewNop())

	_, err := s.Sell(context.Background(), token, decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrInvalidQuote)
	require.Zero(t, fake.approves)
	require.Zero(t, fake.sells)
}
