package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jwpark-dev/hyflow/params"
	"github.com/jwpark-dev/hyflow/pkg/amm"
	"github.com/jwpark-dev/hyflow/pkg/api"
	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/chain"
	"github.com/jwpark-dev/hyflow/pkg/market"
	"github.com/jwpark-dev/hyflow/pkg/router"
	"github.com/jwpark-dev/hyflow/pkg/settle"
	"github.com/jwpark-dev/hyflow/pkg/storage"
	"github.com/jwpark-dev/hyflow/pkg/util"
)

// genesisMarkets seeds the tradable index pairs with their pool reserves.
// TODO: load pair definitions from a config file instead of hardcoding.
var genesisMarkets = []struct {
	market       market.Market
	reserveBase  int64
	reserveQuote int64
}{
	{
		market: market.Market{
			Pair:          "VIX10-USD",
			BaseAsset:     "VIX10",
			QuoteAsset:    "USD",
			PriceDecimals: 2,
			SizeDecimals:  4,
			PriceStep:     1,
			SizeStep:      1,
			MinOrderSize:  100,
			MaxOrderSize:  1_000_000_000_000,
			MinNotional:   100,
			TakerFeeBps:   10,
		},
		reserveBase:  10_000_0000,    // 10,000 units at 4 decimals
		reserveQuote: 150_000_000_00, // 150M quote cents
	},
	{
		market: market.Market{
			Pair:          "DEFI5-USD",
			BaseAsset:     "DEFI5",
			QuoteAsset:    "USD",
			PriceDecimals: 2,
			SizeDecimals:  4,
			PriceStep:     1,
			SizeStep:      1,
			MinOrderSize:  100,
			MaxOrderSize:  1_000_000_000_000,
			MinNotional:   100,
			TakerFeeBps:   10,
		},
		reserveBase:  50_000_0000,
		reserveQuote: 80_000_000_00,
	},
}

func main() {
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.API.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.API.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store, err := storage.Open(cfg.Engine.DataDir)
	if err != nil {
		logger.Fatal("storage open failed", zap.String("dir", cfg.Engine.DataDir), zap.Error(err))
	}
	defer store.Close()

	registry := market.NewRegistry()
	venues := make(map[string]*api.Venue)
	for _, g := range genesisMarkets {
		m, err := market.New(g.market)
		if err != nil {
			logger.Fatal("bad genesis market", zap.String("pair", g.market.Pair), zap.Error(err))
		}
		if err := registry.Register(m); err != nil {
			logger.Fatal("register market failed", zap.String("pair", m.Pair), zap.Error(err))
		}

		pool, err := amm.NewPool(m, g.reserveBase, g.reserveQuote, cfg.Engine.AMMFeeBps)
		if err != nil {
			logger.Fatal("pool init failed", zap.String("pair", m.Pair), zap.Error(err))
		}

		b := book.NewBook(m)
		rt := router.New(m, b, pool, router.Config{MinBookLevels: cfg.Engine.MinBookLevels}, logger)
		venues[m.Pair] = &api.Venue{Market: m, Book: b, Pool: pool, Router: rt}

		logger.Info("market initialized",
			zap.String("pair", m.Pair),
			zap.Int64("spot", pool.SpotPrice()),
			zap.Int64("fee_bps", cfg.Engine.AMMFeeBps))
	}

	// Devnet chain writer: records submissions locally. Swap for a real RPC
	// writer when the venue chain endpoint is available.
	writer := chain.NewRecordingWriter()
	settler := settle.New(writer, chain.NewMemNonceSource(), store, cfg.Engine.SettleTimeout, logger)

	server := api.NewServer(registry, venues, settler, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	logger.Info("engine started",
		zap.String("addr", cfg.API.Addr),
		zap.Int("markets", len(venues)),
		zap.Duration("settle_timeout", cfg.Engine.SettleTimeout))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown error", zap.Error(err))
	}
	logger.Info("engine stopped")
}
