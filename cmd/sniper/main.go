// Command sniper runs the new-token trading engine: it discovers freshly
// listed pairs, buys the ones that pass the gating rules (or parks them
// for operator approval over Telegram) and exits open positions with a
// trailing-stop policy.
//
// Usage:
//
//	sniper --config config.yaml
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/sniper/config"
	"github.com/vadiminshakov/sniper/internal/chain"
	"github.com/vadiminshakov/sniper/internal/services/approval"
	"github.com/vadiminshakov/sniper/internal/services/buyer"
	"github.com/vadiminshakov/sniper/internal/services/discovery"
	"github.com/vadiminshakov/sniper/internal/services/monitor"
	"github.com/vadiminshakov/sniper/internal/services/pricer"
	"github.com/vadiminshakov/sniper/internal/services/security"
	"github.com/vadiminshakov/sniper/internal/services/seller"
	"github.com/vadiminshakov/sniper/internal/storage/journal"
	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := chain.Dial(ctx, chain.Settings{
		Endpoints:          cfg.RPCEndpoints,
		PrivateKey:         cfg.PrivateKey,
		RouterAddress:      cfg.RouterAddress,
		WNativeAddress:     cfg.WNativeAddress,
		GasLimitMultiplier: cfg.GasLimitMultiplier,
		BaseFeeMultiplier:  cfg.BaseFeeMultiplier,
		PriorityFeeWei:     cfg.PriorityFeeWei,
		GasPriceWei:        cfg.GasPriceWei,
		RPCTimeout:         cfg.RPCTimeout,
		DryRun:             cfg.DryRun,
	}, logger)
	if err != nil {
		logger.Fatal("chain client init failed", zap.Error(err))
	}

	store, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("ledger init failed", zap.Error(err))
	}
	defer store.Close()

	jrnl, err := journal.New(cfg.JournalDir)
	if err != nil {
		logger.Fatal("decision journal init failed", zap.Error(err))
	}
	defer jrnl.Close()

	buy := buyer.New(cfg, client, store, jrnl, logger)
	sell := seller.New(cfg, client, logger)
	prices := pricer.New(cfg.PriceURL, logger)
	oracle := security.New(cfg.SecurityURL, logger)
	notifier := approval.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, store.Actions(), logger)
	supervisor := monitor.NewSupervisor(cfg, store, jrnl, prices, sell, buy, notifier, logger)
	feed := discovery.New(cfg, store, oracle, buy, jrnl, logger)

	logger.Info("sniper started",
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("buy_fuse", cfg.BuyFuse),
		zap.String("database", cfg.DatabasePath))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return notifier.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Fatal("engine stopped with error", zap.Error(err))
	}
	logger.Info("sniper stopped")
}
