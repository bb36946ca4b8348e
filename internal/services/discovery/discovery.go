// Package discovery polls the candidate feed, filters new tokens through
// the security oracle and market thresholds, and hands survivors to the
// buy pipeline.
package discovery

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/domain"
	"github.com/vadiminshakov/sniper/internal/services/buyer"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

type securityOracle interface {
	CheckToken(ctx context.Context, tokenAddress string) (domain.SecurityReport, error)
}

type proposer interface {
	Propose(ctx context.Context, token domain.Token) (buyer.Result, error)
}

// Service is the discovery loop. Each poll fetches the feed, re-validates
// every candidate (feed data is untrusted) and walks new pairs through the
// lifecycle: discovered -> honeypot | excluded | candidate -> following.
type Service struct {
	cfg     config.Config
	log     *zap.Logger
	client  *http.Client
	tokens  *ledger.TokenStore
	oracle  securityOracle
	buyer   proposer
	journal *journal.Journal
}

func New(cfg config.Config, store *ledger.Store, oracle securityOracle,
	buy proposer, jrnl *journal.Journal, log *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		client:  &http.Client{Timeout: 15 * time.Second},
		tokens:  store.Tokens(),
		oracle:  oracle,
		buyer:   buy,
		journal: jrnl,
	}
}

// Run polls the feed until the context ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.DiscoveryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				s.log.Warn("discovery poll failed", zap.Error(err))
			}
		}
	}
}

// Poll fetches the feed once and processes every new candidate.
func (s *Service) Poll(ctx context.Context) error {
	tokens, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	for _, token := range tokens {
		if err := s.process(ctx, token); err != nil {
			s.log.Warn("candidate processing failed",
				zap.String("pair", token.PairAddress), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) fetch(ctx context.Context) ([]domain.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.DiscoveryURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build discovery request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "query discovery feed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read discovery response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("discovery feed status %d", resp.StatusCode)
	}

	parsed := gjson.ParseBytes(body)
	list := parsed
	if !parsed.IsArray() {
		list = parsed.Get("pairs")
	}
	if !list.IsArray() {
		return nil, errors.New("discovery feed returned no pair list")
	}

	var out []domain.Token
	for _, item := range list.Array() {
		token := domain.Token{
			PairAddress:  item.Get("pairId").String(),
			Address:      item.Get("tokenAddress").String(),
			Symbol:       item.Get("symbol").String(),
			Name:         item.Get("name").String(),
			PriceNative:  toDecimal(item.Get("nativePrice")),
			Liquidity:    toDecimal(item.Get("liquidity")),
			Volume:       toDecimal(item.Get("volume")),
			Buys:         item.Get("buys").Int(),
			AgeTimestamp: item.Get("ageTimestamp").Int(),
			Status:       domain.TokenDiscovered,
		}
		if err := token.Validate(); err != nil {
			s.log.Debug("feed candidate rejected", zap.Error(err))
			continue
		}
		out = append(out, token)
	}
	return out, nil
}

// process runs one candidate through security and market filters; pairs
// past the candidate state are only refreshed, never re-proposed. A pair
// still in candidate means an earlier propose failed transiently, so it
// goes through the pipeline again.
func (s *Service) process(ctx context.Context, token domain.Token) error {
	known, err := s.tokens.ByPair(token.PairAddress)
	if err != nil {
		return err
	}
	if known != nil && known.Status != domain.TokenDiscovered && known.Status != domain.TokenCandidate {
		return s.tokens.Save(token)
	}
	if err := s.tokens.Save(token); err != nil {
		return err
	}

	report, err := s.oracle.CheckToken(ctx, token.Address)
	if err != nil {
		return errors.Wrap(err, "security check")
	}
	if report.IsHoneypot {
		// Hard reject: never escalated to approval, only recorded.
		if err := s.tokens.UpdateStatus(token.PairAddress, domain.TokenHoneypot); err != nil {
			return err
		}
		s.record(token.PairAddress, "REJECTED", "HONEYPOT")
		s.log.Info("honeypot rejected",
			zap.String("pair", token.PairAddress), zap.String("symbol", token.Symbol))
		return nil
	}
	if err := s.tokens.UpdateTaxes(token.PairAddress,
		report.BuyTaxPct, report.SellTaxPct, report.TransferTaxPct); err != nil {
		return err
	}
	token.BuyTaxPct = report.BuyTaxPct
	token.SellTaxPct = report.SellTaxPct
	token.TransferTaxPct = report.TransferTaxPct

	if token.Liquidity.LessThan(s.cfg.MinLiquidity) ||
		token.Volume.LessThan(s.cfg.MinVolume) ||
		token.Buys < s.cfg.MinBuys {
		if err := s.tokens.UpdateStatus(token.PairAddress, domain.TokenExcluded); err != nil {
			return err
		}
		s.record(token.PairAddress, "REJECTED", "BELOW_MARKET_THRESHOLDS")
		return nil
	}

	if err := s.tokens.UpdateStatus(token.PairAddress, domain.TokenCandidate); err != nil {
		return err
	}

	res, err := s.buyer.Propose(ctx, token)
	if err != nil {
		return errors.Wrap(err, "propose buy")
	}
	switch res.Outcome {
	case buyer.OutcomeOpened, buyer.OutcomePendingApproval:
		if err := s.tokens.UpdateStatus(token.PairAddress, domain.TokenFollowing); err != nil {
			return err
		}
	case buyer.OutcomeRejected:
		if err := s.tokens.UpdateStatus(token.PairAddress, domain.TokenExcluded); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) record(pair, decision, reason string) {
	_, err := s.journal.Record(journal.Event{
		Pair:      pair,
		Stage:     "discovery",
		Decision:  decision,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		s.log.Warn("decision journal write failed", zap.String("pair", pair), zap.Error(err))
	}
}

func toDecimal(v gjson.Result) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
