package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/batchbroker/internal/config"
	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/efreitasn/batchbroker/internal/engine"
	"github.com/efreitasn/batchbroker/internal/handler"
	"github.com/efreitasn/batchbroker/internal/ledger"
	"github.com/efreitasn/batchbroker/internal/market"
	"github.com/efreitasn/batchbroker/internal/metrics"
	"github.com/efreitasn/batchbroker/internal/notify"
	"github.com/efreitasn/batchbroker/internal/service"
	"github.com/efreitasn/batchbroker/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	runBatchNow := flag.Bool("run-batch-now", false, "Execute one batch immediately and exit")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *runBatchNow); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel}))
}

func run(cfg *config.Config, logger *slog.Logger, runBatchNow bool) error {
	m := metrics.New()

	// Stores.
	accountStore := store.NewAccountStore()
	intentionStore := store.NewIntentionStore()
	webhookStore := store.NewWebhookStore()

	var journal store.Journal = store.NewMemoryJournal()
	if cfg.JournalPath != "" {
		sqlite, err := store.OpenSQLiteJournal(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		journal = sqlite
	}
	defer journal.Close()

	// Instruments and market data.
	instruments := domain.NewInstrumentRegistry()
	static := market.NewStaticProvider()
	for _, in := range cfg.Instruments {
		instruments.Register(domain.Instrument{Symbol: in.Symbol, Ref: in.Ref, Currency: in.Currency})
		if in.Price != "" {
			static.SetPrice(in.Ref, decimal.RequireFromString(in.Price), in.Currency)
		}
	}
	var prices market.Provider = static
	if cfg.MarketURL != "" {
		prices = market.NewHTTPProvider(cfg.MarketURL, cfg.MarketTimeout, logger,
			market.WithBreakerStateHook(func(name string, to gobreaker.State) {
				m.SetBreakerState(name, int(to))
			}),
		)
	}

	// Engine.
	l := ledger.New(accountStore, ledger.WithLockTimeout(cfg.LedgerLockTimeout))
	window, err := engine.NewWindow(cfg.BatchSchedule, cfg.Location, cfg.BatchCutoffOffset, time.Now())
	if err != nil {
		return fmt.Errorf("batch window: %w", err)
	}

	hub := notify.NewHub(logger, m)
	defer hub.Close()
	webhookSvc := service.NewWebhookService(webhookStore, accountStore, cfg.WebhookTimeout, logger)
	fanout := notify.NewFanout(m, hub, webhookSvc)

	executor := engine.NewExecutor(engine.ExecutorConfig{
		Ledger:       l,
		Intentions:   intentionStore,
		Instruments:  instruments,
		Prices:       prices,
		Notifier:     fanout,
		Metrics:      m,
		Logger:       logger,
		QuoteTimeout: cfg.MarketTimeout,
	})
	scheduler := engine.NewScheduler(cfg.SchedulerInterval, window, executor, journal, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Restore(ctx); err != nil {
		return fmt.Errorf("restore batch state: %w", err)
	}

	if runBatchNow {
		report, err := scheduler.RunNow(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("run batch: %w", err)
		}
		if report == nil {
			return nil
		}
		logger.Info("batch executed",
			slog.String("batch_id", report.BatchID),
			slog.Int("processed", report.Processed),
			slog.Int("filled", report.Filled),
			slog.Int("rejected", report.Rejected),
		)
		return nil
	}

	// Services.
	intentionSvc := service.NewIntentionService(service.IntentionServiceConfig{
		Ledger:            l,
		Intentions:        intentionStore,
		Instruments:       instruments,
		Prices:            prices,
		Window:            window,
		Notifier:          fanout,
		Metrics:           m,
		Logger:            logger,
		ReservationBuffer: cfg.Buffer,
		QuoteTimeout:      cfg.MarketTimeout,
	})

	router := handler.NewRouter(handler.RouterConfig{
		Intentions:  intentionSvc,
		Accounts:    service.NewAccountService(l, intentionStore, journal),
		Allocations: service.NewAllocationService(l, journal, fanout, logger, cfg.CashPool, cfg.OverviewTTL),
		Instruments: service.NewInstrumentService(instruments, prices, cfg.Buffer, cfg.MarketTimeout),
		Webhooks:    webhookSvc,
		Window:      window,
		Hub:         hub,
		Metrics:     m,
		Logger:      logger,
	})

	scheduler.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("next_batch_at", window.State().NextBatchAt.Format(time.RFC3339)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	// Stop accepting requests before the scheduler so an in-flight batch
	// finishes against a quiet ledger.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
	return nil
}
