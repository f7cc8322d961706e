package notify

import (
	"context"
	"fmt"
	"strings"

	"restockbot/internal/detect"
	"restockbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends change notifications to a single chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(bot *tgbotapi.BotAPI, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

// Notify sends one change message. HTML formatting is attempted first with a
// plain-text fallback, since product names can break entity parsing.
func (t *TelegramNotifier) Notify(_ context.Context, event Event) error {
	return t.send(FormatEvent(event))
}

// NotifySummary sends the end-of-cycle counters.
func (t *TelegramNotifier) NotifySummary(_ context.Context, summary Summary) error {
	return t.send(FormatSummary(summary))
}

func (t *TelegramNotifier) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		msg.ParseMode = ""
		if _, err2 := t.bot.Send(msg); err2 != nil {
			return fmt.Errorf("send notification: %w", err2)
		}
	}
	return nil
}

// FormatEvent renders a change event as a Telegram HTML message.
func FormatEvent(event Event) string {
	var b strings.Builder

	switch event.Reason {
	case detect.ReasonAvailabilityChanged:
		if event.NewAvailability == models.AvailabilityInStock {
			b.WriteString("🔄 <b>Back in stock!</b>\n\n")
		} else {
			b.WriteString("🔄 <b>No longer available</b>\n\n")
		}
	case detect.ReasonPriceChanged:
		b.WriteString("💰 <b>Price changed!</b>\n\n")
	default:
		b.WriteString("👀 <b>Now monitoring</b>\n\n")
	}

	fmt.Fprintf(&b, "📦 %s\n", escapeHTML(event.Name))
	fmt.Fprintf(&b, "Status: %s\n", event.NewAvailability.Label())

	if event.NewPrice.Valid {
		if event.Reason == detect.ReasonPriceChanged && event.OldPrice.Valid {
			fmt.Fprintf(&b, "Price: %s → %s\n",
				event.OldPrice.Decimal.StringFixed(2),
				event.NewPrice.Decimal.StringFixed(2))
		} else {
			fmt.Fprintf(&b, "Price: %s\n", event.NewPrice.Decimal.StringFixed(2))
		}
	}

	fmt.Fprintf(&b, "🔗 %s", event.URL)
	return b.String()
}

// FormatSummary renders the cycle counters.
func FormatSummary(summary Summary) string {
	return fmt.Sprintf(
		"✅ Check complete: %d products checked, %d changed, %d failed (%.1fs)",
		summary.Checked, summary.Changed, summary.Failed, summary.Duration.Seconds(),
	)
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
