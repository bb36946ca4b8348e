package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/domain"
	"github.com/vadiminshakov/sniper/internal/services/buyer"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

type buyConfirmer interface {
	fillRecoverer
	ConfirmApproved(ctx context.Context, pair string) (buyer.Result, error)
}

type approvalNotifier interface {
	RequestApproval(ctx context.Context, pair, symbol, reason string, price decimal.Decimal) error
}

// Supervisor owns the per-position workers and digests the action ledger:
// it notifies the operator about pending actions, confirms approved buys
// and cleans up cancellations. On start it resumes a worker for every pair
// that still links an open trade.
type Supervisor struct {
	cfg      config.Config
	log      *zap.Logger
	store    *ledger.Store
	journal  *journal.Journal
	prices   priceSource
	seller   sellExecutor
	buyer    buyConfirmer
	notifier approvalNotifier

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

func NewSupervisor(cfg config.Config, store *ledger.Store, jrnl *journal.Journal,
	prices priceSource, sell sellExecutor, buy buyConfirmer,
	notifier approvalNotifier, log *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		log:      log,
		store:    store,
		journal:  jrnl,
		prices:   prices,
		seller:   sell,
		buyer:    buy,
		notifier: notifier,
		running:  make(map[string]struct{}),
	}
}

// Run resumes workers for open trades and polls the action ledger until the
// context ends. It returns only after every worker has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.spawnOpenTrades(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			// Re-scan every poll: buys executed on the immediate path open
			// trades without going through the digest, and they need a
			// worker too.
			if err := s.spawnOpenTrades(ctx); err != nil {
				s.log.Warn("open-trade scan failed", zap.Error(err))
			}
			s.digestActions(ctx)
		}
	}
}

// spawnOpenTrades starts a worker for every pair whose snapshot links an
// open trade. Pairs with a live worker are skipped.
func (s *Supervisor) spawnOpenTrades(ctx context.Context) error {
	pairs, err := s.store.Monitor().PairsWithOpenTrade()
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		s.StartWorker(ctx, pair)
	}
	return nil
}

// StartWorker spawns the monitor for a pair with an open trade entry. A
// second call for the same pair is a no-op while its worker lives.
func (s *Supervisor) StartWorker(ctx context.Context, pair string) {
	s.mu.Lock()
	if _, ok := s.running[pair]; ok {
		s.mu.Unlock()
		return
	}
	s.running[pair] = struct{}{}
	s.mu.Unlock()

	historyID, err := s.store.Monitor().HistoryID(pair)
	if err != nil || historyID == nil {
		s.forget(pair)
		if err != nil {
			s.log.Warn("cannot start monitor", zap.String("pair", pair), zap.Error(err))
		}
		return
	}
	token, err := s.store.Tokens().ByPair(pair)
	if err != nil || token == nil {
		s.forget(pair)
		s.log.Warn("pair missing from token catalog, monitor not started",
			zap.String("pair", pair), zap.Error(err))
		return
	}

	w := newWorker(s.cfg, *token, *historyID, s.store, s.journal, s.prices, s.seller, s.buyer, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.forget(pair)
		if err := w.run(ctx); err != nil {
			s.log.Error("position monitor failed", zap.String("pair", pair), zap.Error(err))
		}
	}()
}

func (s *Supervisor) forget(pair string) {
	s.mu.Lock()
	delete(s.running, pair)
	s.mu.Unlock()
}

// digestActions walks the action ledger once: pending actions get a single
// operator notification, approved buys execute, cancellations are cleaned
// up and their tokens excluded.
func (s *Supervisor) digestActions(ctx context.Context) {
	actions := s.store.Actions()

	pending, err := actions.ListByState(domain.ActionPending)
	if err != nil {
		s.log.Warn("action ledger read failed", zap.Error(err))
		return
	}
	for _, a := range pending {
		if a.NotifiedAt != nil {
			continue
		}
		token, err := s.store.Tokens().ByPair(a.PairAddress)
		if err != nil || token == nil {
			s.log.Warn("pending action for unknown pair", zap.String("pair", a.PairAddress), zap.Error(err))
			continue
		}
		if err := s.notifier.RequestApproval(ctx, a.PairAddress, token.Symbol, a.Reason, token.PriceNative); err != nil {
			// Not marked as notified, so the next digest retries.
			s.log.Warn("approval request failed", zap.String("pair", a.PairAddress), zap.Error(err))
			continue
		}
		if err := actions.MarkNotified(a.PairAddress); err != nil {
			s.log.Warn("mark notified failed", zap.String("pair", a.PairAddress), zap.Error(err))
		}
	}

	approved, err := actions.ListByState(domain.ActionApproved)
	if err != nil {
		s.log.Warn("action ledger read failed", zap.Error(err))
		return
	}
	for _, a := range approved {
		if a.Type != domain.ActionBuy {
			continue
		}
		res, err := s.buyer.ConfirmApproved(ctx, a.PairAddress)
		if err != nil {
			s.log.Warn("approved buy confirmation failed",
				zap.String("pair", a.PairAddress), zap.Error(err))
			continue
		}
		switch res.Outcome {
		case buyer.OutcomeOpened:
			s.StartWorker(ctx, a.PairAddress)
		case buyer.OutcomeFuseBlocked:
			// Operator policy blocks execution; drop the action so the
			// digest does not spin on it.
			if err := actions.Delete(a.PairAddress); err != nil {
				s.log.Warn("drop fuse-blocked action failed", zap.String("pair", a.PairAddress), zap.Error(err))
			}
		}
	}

	cancelled, err := actions.ListByState(domain.ActionCancelled)
	if err != nil {
		s.log.Warn("action ledger read failed", zap.Error(err))
		return
	}
	for _, a := range cancelled {
		if err := actions.Delete(a.PairAddress); err != nil {
			s.log.Warn("drop cancelled action failed", zap.String("pair", a.PairAddress), zap.Error(err))
			continue
		}
		if err := s.store.Tokens().UpdateStatus(a.PairAddress, domain.TokenExcluded); err != nil {
			s.log.Warn("exclude cancelled token failed", zap.String("pair", a.PairAddress), zap.Error(err))
		}
		s.log.Info("buy cancelled by operator", zap.String("pair", a.PairAddress))
	}
}
