package main

import (
	"context"
	"crypto-swing-trader/internal/api"
	"crypto-swing-trader/internal/data"
	"crypto-swing-trader/internal/engine"
	"crypto-swing-trader/internal/execution"
	"crypto-swing-trader/internal/handler"
	"crypto-swing-trader/internal/portfolio"
	"crypto-swing-trader/internal/retry"
	"crypto-swing-trader/internal/service"
	"crypto-swing-trader/internal/telemetry"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := service.LoadConfig("config")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	service.InitLogger(cfg.Log)
	defer service.Logger.Sync()
	logger := service.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 交易所：live 走签名 REST，paper 用公共行情 + 内存撮合
	ex, err := newExchange(cfg.Exchange, logger)
	if err != nil {
		logger.Fatal("Failed to create exchange client", zap.Error(err))
	}
	var ranking api.Ranking
	if cfg.Ranking.Enabled {
		ranking = api.NewMarketCapClient(cfg.Ranking.URL, cfg.Ranking.APIKey, cfg.Ranking.Timeout)
	}

	// 2. 行情聚合与订单管理共用一个节流器
	quote := cfg.Exchange.QuoteCurrency
	pacer := retry.NewPacer(cfg.Execution.Pacing)
	tracker := portfolio.NewTracker(quote)
	dataEngine := data.NewDataEngine(ex, tracker, pacer, data.Config{
		QuoteCurrency:    quote,
		CandleRetry:      retry.Policy{Attempts: cfg.Execution.CandleAttempts, Delay: cfg.Execution.CandleDelay},
		Granularity:      cfg.Execution.CandleGranularity,
		LookbackMultiple: cfg.Execution.LookbackMultiple,
	}, logger)
	orders := execution.NewManager(ex, pacer, execution.Config{
		QuoteCurrency: quote,
		FillPoll:      retry.Policy{Attempts: cfg.Execution.FillAttempts, Delay: cfg.Execution.FillInterval},
		ExitMargin:    cfg.Execution.ExitMargin,
	}, logger)

	hub := telemetry.NewHub(logger)
	go hub.Run(ctx)

	eng, err := engine.New(engine.Deps{
		Ranking:     ranking,
		Data:        dataEngine,
		Orders:      orders,
		Portfolio:   tracker,
		Broadcaster: hub,
		Logger:      logger,
	}, cfg.Trading, cfg.Execution.SellRetryDelay)
	if err != nil {
		logger.Fatal("Invalid trading configuration", zap.Error(err))
	}

	// 3. 配置文件热更新只影响策略参数，连接类配置需要重启
	service.WatchConfig(func(next *service.Config) {
		if err := eng.Reload(next.Trading); err != nil {
			logger.Warn("Reloaded configuration rejected", zap.Error(err))
		}
	}, func(err error) {
		logger.Warn("Configuration reload failed, keeping previous values", zap.Error(err))
	})

	// 4. HTTP API
	router := handler.NewRouter(handler.NewHandler(eng), hub.ServeWS)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.NewEngine(router, handler.RequestLogger(logger)),
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("Trader started",
		zap.String("mode", cfg.Exchange.Mode),
		zap.String("quote", quote),
		zap.Bool("dry_run", cfg.Trading.DryRun),
		zap.Bool("ranking", cfg.Ranking.Enabled))

	// 5. 主循环，收到信号后返回
	_ = eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	logger.Info("Trader stopped")
}

func newExchange(cfg service.ExchangeConfig, logger *zap.Logger) (api.Exchange, error) {
	client, err := api.NewCoinbaseClient(api.CoinbaseConfig{
		RESTURL:    cfg.RESTURL,
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		Passphrase: cfg.Passphrase,
		Timeout:    cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == "live" {
		if cfg.APIKey == "" {
			return nil, errors.New("live mode requires Exchange.APIKey")
		}
		return client, nil
	}
	logger.Info("Paper trading on public market data", zap.Float64("cash", cfg.PaperCash))
	return api.NewPaperExchange(cfg.QuoteCurrency, cfg.PaperCash).UseMarket(client), nil
}
