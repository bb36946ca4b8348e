// Package security wraps the GoPlus token-security oracle. A honeypot
// verdict is a hard reject upstream; taxes feed the unit-cost estimate.
package security

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/internal/domain"
)

const defaultBaseURL = "https://api.gopluslabs.io/api/v1/token_security/56"

// Oracle queries token security data over HTTP.
type Oracle struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Oracle {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// CheckToken fetches the security report for a token contract. GoPlus keys
// the result by the lowercased contract address and reports taxes as
// fractions; they are converted to percent here.
func (o *Oracle) CheckToken(ctx context.Context, tokenAddress string) (domain.SecurityReport, error) {
	url := fmt.Sprintf("%s?contract_addresses=%s", o.baseURL, tokenAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.SecurityReport{}, errors.Wrap(err, "build security request")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return domain.SecurityReport{}, errors.Wrap(err, "query security oracle")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SecurityReport{}, errors.Wrap(err, "read security response")
	}
	if resp.StatusCode/100 != 2 {
		return domain.SecurityReport{}, errors.Errorf("security oracle status %d", resp.StatusCode)
	}

	result := gjson.GetBytes(body, "result."+strings.ToLower(tokenAddress))
	if !result.Exists() {
		return domain.SecurityReport{}, errors.Errorf("no security data for %s", tokenAddress)
	}

	report := domain.SecurityReport{
		IsHoneypot:     result.Get("is_honeypot").String() == "1",
		BuyTaxPct:      fractionToPct(result.Get("buy_tax")),
		SellTaxPct:     fractionToPct(result.Get("sell_tax")),
		TransferTaxPct: fractionToPct(result.Get("transfer_tax")),
	}
	o.log.Debug("security report",
		zap.String("token", tokenAddress),
		zap.Bool("honeypot", report.IsHoneypot),
		zap.String("buy_tax_pct", report.BuyTaxPct.String()),
		zap.String("sell_tax_pct", report.SellTaxPct.String()))
	return report, nil
}

func fractionToPct(v gjson.Result) decimal.Decimal {
	if !v.Exists() || v.String() == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d.Mul(decimal.NewFromInt(100))
}
