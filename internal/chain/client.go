// Package chain wraps the JSON-RPC endpoints behind one client: quotes,
// fee-model detection, transaction building/signing, receipt waiting and
// fill reconciliation. The client is the single chokepoint for the signing
// account's nonce, so concurrent buy/sell/approve flows never collide.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/pkg/retrier"
)

// Settings is the chain-facing slice of the application configuration.
type Settings struct {
	Endpoints          []string
	PrivateKey         string
	RouterAddress      string
	WNativeAddress     string
	GasLimitMultiplier decimal.Decimal
	BaseFeeMultiplier  decimal.Decimal
	PriorityFeeWei     int64
	GasPriceWei        int64
	RPCTimeout         time.Duration
	DryRun             bool
}

// Client talks to one EVM chain through a rotating set of RPC endpoints.
type Client struct {
	cfg     Settings
	log     *zap.Logger
	router  common.Address
	wnative common.Address
	chainID *big.Int
	mode    feeMode

	key     *ecdsa.PrivateKey
	account common.Address

	mu  sync.RWMutex // guards eth and endpoint index
	eth *ethclient.Client
	idx int

	sendMu sync.Mutex // serializes nonce assignment and broadcast

	retrier *retrier.Retrier
}

// Dial connects to the first reachable endpoint, derives the signing account
// and detects the fee mode once for the client's lifetime.
func Dial(ctx context.Context, cfg Settings, log *zap.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no rpc endpoints configured")
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		router:  common.HexToAddress(cfg.RouterAddress),
		wnative: common.HexToAddress(cfg.WNativeAddress),
	}
	c.retrier = retrier.New(
		retrier.WithMaxRetries(len(cfg.Endpoints)*2),
		retrier.WithInitialInterval(500*time.Millisecond),
		retrier.WithOnRetry(func(attempt int, err error) {
			c.rotate(attempt, err)
		}),
	)

	if cfg.PrivateKey != "" {
		keyHex := strings.TrimPrefix(strings.TrimPrefix(cfg.PrivateKey, "0x"), "0X")
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, errors.Wrap(err, "parse private key")
		}
		c.key = key
		c.account = crypto.PubkeyToAddress(key.PublicKey)
	}

	if err := c.dialCurrent(ctx); err != nil {
		return nil, err
	}

	var err error
	c.chainID, err = c.eth.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch chain id")
	}

	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch latest header")
	}
	if head.BaseFee != nil {
		c.mode = feeModeDynamic
	} else {
		c.mode = feeModeLegacy
	}

	log.Info("chain client connected",
		zap.String("endpoint", cfg.Endpoints[0]),
		zap.String("chain_id", c.chainID.String()),
		zap.String("fee_mode", c.mode.String()),
		zap.Bool("dry_run", cfg.DryRun))

	return c, nil
}

// Account returns the signing account's address.
func (c *Client) Account() common.Address { return c.account }

// WNative returns the wrapped native asset address used in swap paths.
func (c *Client) WNative() common.Address { return c.wnative }

// Router returns the swap router address, the spender of sell approvals.
func (c *Client) Router() common.Address { return c.router }

func (c *Client) dialCurrent(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	url := c.cfg.Endpoints[c.idx]
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return errors.Wrapf(err, "dial %s", url)
	}
	if c.eth != nil {
		c.eth.Close()
	}
	c.eth = eth
	return nil
}

// rotate switches to the next configured endpoint and reconnects. Invoked
// between retry attempts; failures here are tolerated because the next
// attempt re-enters through client() anyway.
func (c *Client) rotate(attempt int, cause error) {
	c.mu.Lock()
	c.idx = (c.idx + 1) % len(c.cfg.Endpoints)
	url := c.cfg.Endpoints[c.idx]
	c.mu.Unlock()

	c.log.Warn("rpc call failed, rotating endpoint",
		zap.Int("attempt", attempt),
		zap.String("next", url),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RPCTimeout)
	defer cancel()
	if err := c.dialCurrent(ctx); err != nil {
		c.log.Warn("endpoint reconnect failed", zap.String("endpoint", url), zap.Error(err))
	}
}

func (c *Client) client() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eth
}

// withRetry runs fn with bounded retries and endpoint rotation. Exhausted
// retries surface as ErrChainUnavailable so callers can tell a transient
// outage from a trading condition.
func withRetry[T any](c *Client, ctx context.Context, fn func(ctx context.Context, eth *ethclient.Client) (T, error)) (T, error) {
	out, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()
		return fn(callCtx, c.client())
	})
	if err != nil && ctx.Err() == nil {
		return out, errors.Wrap(ErrChainUnavailable, err.Error())
	}
	return out, err
}

func (c *Client) header(ctx context.Context) (*types.Header, error) {
	return withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (*types.Header, error) {
		return eth.HeaderByNumber(ctx, nil)
	})
}

func (c *Client) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (*big.Int, error) {
		return eth.SuggestGasPrice(ctx)
	})
}

func (c *Client) suggestTip(ctx context.Context) (*big.Int, error) {
	return withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (*big.Int, error) {
		return eth.SuggestGasTipCap(ctx)
	})
}

func (c *Client) callContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) ([]byte, error) {
		return eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
}

// NativeBalance returns the wei balance of the address.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return withRetry(c, ctx, func(ctx context.Context, eth *ethclient.Client) (*big.Int, error) {
		return eth.BalanceAt(ctx, addr, nil)
	})
}

// TokenDecimals reads the ERC-20 decimals of a token contract.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, errors.Wrap(err, "pack decimals")
	}
	out, err := c.callContract(ctx, token, data)
	if err != nil {
		return 0, err
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, errors.Wrap(err, "unpack decimals")
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, errors.Errorf("unexpected decimals type %T", vals[0])
	}
	return dec, nil
}

// TokenBalance reads the raw ERC-20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, errors.Wrap(err, "pack balanceOf")
	}
	out, err := c.callContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return nil, errors.Wrap(err, "unpack balanceOf")
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected balance type %T", vals[0])
	}
	return bal, nil
}

// Allowance reads the raw ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, errors.Wrap(err, "pack allowance")
	}
	out, err := c.callContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) != 1 {
		return nil, errors.Wrap(err, "unpack allowance")
	}
	allowance, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected allowance type %T", vals[0])
	}
	return allowance, nil
}

// Quote simulates the router output for amountIn over path and applies the
// slippage bound. It fails closed: a missing pool, a reverting call or a
// non-positive input yields a zero minimum-out and callers must check for
// it before proceeding.
func (c *Client) Quote(ctx context.Context, path []common.Address, amountIn *big.Int, slippagePct decimal.Decimal) (amountOutMin, expectedOut *big.Int, err error) {
	zero := new(big.Int)
	if amountIn == nil || amountIn.Sign() <= 0 || len(path) < 2 {
		return zero, zero, nil
	}

	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return zero, zero, errors.Wrap(err, "pack getAmountsOut")
	}

	out, err := c.callContract(ctx, c.router, data)
	if err != nil {
		if isRevert(err) {
			// No pool for this path. Never return a usable-looking value.
			c.log.Debug("quote reverted, no pool for path", zap.Error(err))
			return zero, zero, nil
		}
		return zero, zero, err
	}

	vals, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil || len(vals) != 1 {
		return zero, zero, errors.Wrap(err, "unpack getAmountsOut")
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return zero, zero, errors.Errorf("unexpected amounts type %T", vals[0])
	}

	expectedOut = amounts[len(amounts)-1]
	if expectedOut.Sign() <= 0 {
		return zero, zero, nil
	}

	hundred := decimal.NewFromInt(100)
	factor := hundred.Sub(slippagePct).Div(hundred)
	amountOutMin = decimal.NewFromBigInt(expectedOut, 0).Mul(factor).Floor().BigInt()
	return amountOutMin, expectedOut, nil
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "revert") ||
		strings.Contains(msg, "insufficient_") // router INSUFFICIENT_LIQUIDITY et al.
}
