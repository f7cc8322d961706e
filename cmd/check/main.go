// Command check is the one-shot entrypoint for an external scheduler: each
// invocation runs a single check cycle (or a status report) and exits. A
// cron job calling it every five minutes is the intended trigger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"restockbot/config"
	"restockbot/internal/bot"
	"restockbot/internal/extract"
	"restockbot/internal/fetch"
	"restockbot/internal/metrics"
	"restockbot/internal/monitor"
	"restockbot/internal/notify"
	"restockbot/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
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

	checkType := os.Getenv("CHECK_TYPE")
	if checkType == "" {
		checkType = "check_all"
	}

	if err := run(cfg, checkType, logger); err != nil {
		logger.Error("check run failed", "type", checkType, "error", err)
		os.Exit(1)
	}
	logger.Info("check run complete", "type", checkType)
}

func run(cfg *config.Config, checkType string, logger *slog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open product store: %w", err)
	}
	defer st.Close()

	api, err := bot.Init(cfg.TelegramBotToken, logger)
	if err != nil {
		return err
	}
	notifier := notify.NewTelegramNotifier(api, cfg.TelegramChatID)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CycleTimeout+30*time.Second)
	defer cancel()

	switch checkType {
	case "check_all":
		return runCycle(ctx, cfg, st, notifier, logger)
	case "list_products":
		return sendProductList(api, cfg.TelegramChatID, st)
	case "health_check":
		return sendHealthCheck(api, cfg.TelegramChatID, st)
	default:
		return fmt.Errorf("unknown CHECK_TYPE %q", checkType)
	}
}

func runCycle(ctx context.Context, cfg *config.Config, st *store.Store, notifier notify.Notifier, logger *slog.Logger) error {
	rules, err := extract.LoadSiteRules(cfg.SiteRulesPath)
	if err != nil {
		return err
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:         cfg.FetchTimeout,
		MaxRetries:      cfg.FetchMaxRetries,
		UserAgent:       cfg.UserAgent,
		PerHostInterval: cfg.PerHostInterval,
	})

	m := metrics.New(prometheus.NewRegistry())
	mon := monitor.New(st, fetcher, extract.NewRegistry(rules), notifier, logger, m, monitor.Config{
		Workers:          cfg.Workers,
		CycleTimeout:     cfg.CycleTimeout,
		NotifyFirstCheck: cfg.NotifyFirstCheck,
	})

	result, err := mon.RunCycle(ctx)
	if err != nil {
		return err
	}
	logger.Info("cycle finished",
		"cycle_id", result.ID,
		"checked", result.Checked,
		"changed", result.Changed,
		"failed", result.Failed,
		"duration", result.Duration.String(),
	)
	return nil
}

func sendProductList(api *tgbotapi.BotAPI, chatID int64, st *store.Store) error {
	products, err := st.List()
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return send(api, chatID, "📋 No products are being tracked.")
	}

	var b strings.Builder
	b.WriteString("📋 Tracked products:\n\n")
	for _, p := range products {
		fmt.Fprintf(&b, "%d. [%s] %s\n", p.ID, p.Availability.Label(), p.Name)
		if p.Price.Valid {
			fmt.Fprintf(&b, "   price %s\n", p.Price.Decimal.StringFixed(2))
		}
		fmt.Fprintf(&b, "   %s\n", p.URL)
	}
	return send(api, chatID, b.String())
}

func sendHealthCheck(api *tgbotapi.BotAPI, chatID int64, st *store.Store) error {
	count, err := st.Count()
	if err != nil {
		return err
	}
	text := fmt.Sprintf("🤖 Bot alive.\nTracked products: %d\nTimestamp: %s",
		count, time.Now().Format("02/01/2006 15:04:05"))
	return send(api, chatID, text)
}

func send(api *tgbotapi.BotAPI, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := api.Send(msg)
	return err
}
