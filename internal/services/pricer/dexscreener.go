// Package pricer reads the live native-denominated pair price from the
// DexScreener public API.
package pricer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.dexscreener.com/latest/dex/pairs/bsc"

// Pricer fetches the current price of a pair.
type Pricer struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Pricer {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Pricer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 8 * time.Second},
		log:     log,
	}
}

// Price returns the pair's priceNative. A missing pair or an unparseable
// price is an error; the monitor skips the tick rather than act on zero.
func (p *Pricer) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s", p.baseURL, pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build price request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query price feed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "read price response")
	}
	if resp.StatusCode/100 != 2 {
		return decimal.Zero, errors.Errorf("price feed status %d", resp.StatusCode)
	}

	raw := gjson.GetBytes(body, "pair.priceNative").String()
	if raw == "" {
		return decimal.Zero, errors.Errorf("no price for pair %s", pair)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse price %q for pair %s", raw, pair)
	}
	return price, nil
}
