package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vibe-planner/internal/config"
	"vibe-planner/internal/database"
	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/generator"
	"vibe-planner/internal/llm"
	"vibe-planner/internal/logging"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/payment"
	"vibe-planner/internal/telegram"
	"vibe-planner/internal/wizard"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// 1. Load Configuration
	if err := config.LoadDotEnv(); err != nil {
		fatal(slog.Default(), "failed to load .env", err)
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		fatal(slog.Default(), "failed to load config", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.RequireBot(); err != nil {
		fatal(logger, "bot is not configured", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage and metrics
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "failed to initialize database", err)
	}
	defer db.Close()

	metricsStore := metrics.NewStore(db.SQL)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		fatal(logger, "failed to init telegram api", err)
	}
	logger.Info("authorized on account", "username", api.Self.UserName)

	now := func() time.Time { return time.Now().In(cfg.Timezone) }

	// 3. Plan generator. Missing credentials leave every session in a
	// configuration error instead of stopping the bot.
	var gen wizard.Generator
	text, configErr := llm.NewTextGenerator(ctx, cfg)
	if configErr != nil {
		logger.Warn("llm provider not configured", "provider", cfg.LLMProvider, "error", configErr)
	} else {
		if c, ok := text.(llm.Closer); ok {
			defer c.Close()
		}
		gen = generator.New(text,
			generator.WithCity(cfg.City, cfg.AppName),
			generator.WithTimeout(cfg.LLMTimeout),
			generator.WithUsageRecorder(telegram.NewAlertingRecorder(metricsStore, api, cfg.AdminTelegramID, telegram.DefaultPromptTokenLimit, logger)),
			generator.WithCollector(collector),
			generator.WithClock(now),
		)
	}

	// 4. Entitlements and payments
	catalog := entitlement.DefaultCatalog()
	if cfg.TiersFile != "" {
		if catalog, err = entitlement.LoadCatalogFile(cfg.TiersFile); err != nil {
			fatal(logger, "failed to load tiers", err)
		}
	}
	policy, err := entitlement.ParsePolicy(cfg.ExhaustedTierPolicy)
	if err != nil {
		fatal(logger, "invalid VIBE_EXHAUSTED_TIER_POLICY", err)
	}

	var (
		payments wizard.Payments
		states   telegram.StateParser
	)
	if cfg.PaymentsEnabled() {
		gw := payment.NewGateway(
			payment.NewPaystackClient(cfg.PaystackSecretKey),
			payment.NewStateSigner(cfg.PaymentStateSecret, time.Now),
			cfg.PaymentCallbackURL,
		)
		payments, states = gw, gw
	} else {
		logger.Info("payments disabled")
	}

	// 5. Telegram Bot
	bot := telegram.NewBot(api, telegram.BotDeps{
		Config: cfg,
		Sessions: telegram.SessionDeps{
			DB:        db.SQL,
			Generator: gen,
			ConfigErr: configErr,
			Payments:  payments,
			Catalog:   catalog,
			Policy:    policy,
			Collector: collector,
			Now:       now,
		},
		Metrics:  metricsStore,
		Gatherer: registry,
		States:   states,
		DataPath: filepath.Dir(cfg.DatabasePath),
		Logger:   logger,
	})

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           bot.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	if cfg.TelegramWebhookURL != "" {
		if err := telegram.SetWebhook(api, cfg.TelegramWebhookURL); err != nil {
			fatal(logger, "failed to set webhook", err)
		}
	} else {
		go bot.RunPolling(ctx, api)
	}

	<-ctx.Done()
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		bot.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctxShutdown.Done():
		logger.Warn("gave up waiting for in-flight updates")
	}
	logger.Info("server exiting")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
