package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"restockbot/config"
	"restockbot/internal/bot"
	"restockbot/internal/extract"
	"restockbot/internal/fetch"
	"restockbot/internal/metrics"
	"restockbot/internal/monitor"
	"restockbot/internal/notify"
	"restockbot/internal/store"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("loading configuration failed", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("opening product store failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	api, err := bot.Init(cfg.TelegramBotToken, logger)
	if err != nil {
		logger.Error("telegram init failed", "error", err)
		os.Exit(1)
	}

	rules, err := extract.LoadSiteRules(cfg.SiteRulesPath)
	if err != nil {
		logger.Error("loading site rules failed", "error", err)
		os.Exit(1)
	}
	registry := extract.NewRegistry(rules)

	fetcher := fetch.New(fetch.Config{
		Timeout:         cfg.FetchTimeout,
		MaxRetries:      cfg.FetchMaxRetries,
		UserAgent:       cfg.UserAgent,
		PerHostInterval: cfg.PerHostInterval,
	})

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, promReg, logger)
	}

	notifier := notify.NewTelegramNotifier(api, cfg.TelegramChatID)
	mon := monitor.New(st, fetcher, registry, notifier, logger, m, monitor.Config{
		Workers:          cfg.Workers,
		CycleTimeout:     cfg.CycleTimeout,
		NotifyFirstCheck: cfg.NotifyFirstCheck,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go mon.Start(ctx, cfg.CheckInterval)

	handler := bot.NewHandler(api, st, mon, logger, cfg.TelegramChatID)
	handler.Run(ctx)

	logger.Info("shutting down")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}
