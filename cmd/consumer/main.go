package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/signal-executor/internal/config"
	"github.com/kirillm/signal-executor/internal/consumer"
	"github.com/kirillm/signal-executor/internal/exchange"
	"github.com/kirillm/signal-executor/internal/execution"
	"github.com/kirillm/signal-executor/internal/metrics"
	"github.com/kirillm/signal-executor/internal/notify"
	"github.com/kirillm/signal-executor/internal/planner"
	"github.com/kirillm/signal-executor/internal/risk"
	"github.com/kirillm/signal-executor/internal/storage"
	"github.com/kirillm/signal-executor/internal/symbol"
	"github.com/kirillm/signal-executor/internal/telegram"
	"github.com/kirillm/signal-executor/internal/trailing"
	"github.com/kirillm/signal-executor/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info("starting signal executor (testnet=%v)", cfg.Hyperliquid.Testnet)

	policy, err := risk.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("failed to load risk policy: %v", err)
		os.Exit(1)
	}
	logger.Info("risk profile %s: min confidence %.2f, max leverage %dx, max positions %d",
		policy.ProfileName, policy.MinConfidence, policy.MaxLeverage, policy.MaxOpenPositions)

	store, err := storage.NewPostgresStorage(
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.DBName, cfg.Database.SSLMode,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		logger.Error("failed to init storage: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	hl := exchange.NewHyperliquidClient(
		cfg.Hyperliquid.WalletAddress, cfg.Hyperliquid.PrivateKey, cfg.Hyperliquid.BaseURL,
		cfg.Hyperliquid.Timeout, cfg.Hyperliquid.RateLimit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := risk.NewGate(policy)
	seedRiskState(ctx, gate, hl, store, logger)

	kill := execution.NewKillSwitch(logger)
	mapper := symbol.NewMapper(hl, 5*time.Minute)
	plan := planner.New(hl, planner.Config{
		PositionSizeUSD:  cfg.Trading.DefaultPositionSizeUSD,
		DefaultLeverage:  cfg.Trading.DefaultLeverage,
		TPPercent:        cfg.Trading.DefaultTPPercent,
		SLPercent:        cfg.Trading.DefaultSLPercent,
		DeviationPercent: cfg.Trading.PriceDeviationPercent,
		DefaultTPSL:      cfg.Trading.DefaultTPSLEnabled,
	})
	m := metrics.New()

	engineCfg := execution.DefaultConfig()
	engineCfg.OnRetry = m.RetriesTotal.Inc
	engine := execution.NewEngine(hl, engineCfg, logger)
	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
		logger.Info("metrics exposed on %s/metrics", cfg.MetricsAddr)
	}

	trail := trailing.NewService(hl, trailing.Config{
		Enabled:           cfg.Trailing.Enabled,
		CheckInterval:     cfg.Trailing.CheckInterval,
		ActivationPercent: cfg.Trailing.ActivationPercent,
		DistancePercent:   cfg.Trailing.DistancePercent,
		UpdateStepPercent: cfg.Trailing.UpdateStepPercent,
	}, logger)

	cons := consumer.New(consumer.Deps{
		Resolver:     mapper,
		Gate:         gate,
		Planner:      plan,
		Engine:       engine,
		Account:      hl,
		Store:        store,
		Metrics:      m,
		Kill:         kill,
		Tracker:      trail,
		DedupeWindow: cfg.Trading.DedupeWindow,
		Log:          logger,
	})

	bot, err := telegram.NewBot(
		cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, cfg.Telegram.OwnerChatID,
		cons, kill, gate, hl, store, logger,
	)
	if err != nil {
		logger.Error("failed to start telegram bot: %v", err)
		os.Exit(1)
	}

	sinks := []notify.Notifier{}
	if cfg.Telegram.OwnerChatID != 0 {
		sinks = append(sinks, notify.NewTelegramNotifier(bot.API(), cfg.Telegram.OwnerChatID))
	}
	if cfg.NotifyWebhook != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.NotifyWebhook))
	}
	cons.SetNotifier(notify.NewDispatcher(logger, sinks...))

	trail.Start(ctx)

	go bot.Start(ctx)
	logger.Info("listening for signals in %d chats", len(cfg.Telegram.ChatIDs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	trail.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := cons.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out with work in flight: %v", err)
	}
	logger.Info("bye")
}

// seedRiskState восстанавливает состояние risk gate после рестарта:
// открытые позиции с биржи, дневной убыток из журнала сделок
func seedRiskState(ctx context.Context, gate *risk.Gate, hl *exchange.HyperliquidClient, store *storage.PostgresStorage, logger *utils.Logger) {
	positions, err := hl.GetOpenPositions(ctx)
	if err != nil {
		logger.Warn("failed to fetch positions for risk state: %v", err)
		return
	}

	loss, err := store.DailyRealizedLoss(time.Now().UTC())
	if err != nil {
		logger.Warn("failed to fetch daily loss: %v", err)
	}

	gate.Seed(len(positions), loss)
	logger.Info("risk state seeded: %d open positions, daily loss $%.2f", len(positions), loss)
}
