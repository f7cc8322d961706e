package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"restockbot/internal/models"
	"restockbot/internal/monitor"
	"restockbot/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Handler routes Telegram commands onto the store and the monitor.
type Handler struct {
	api     *tgbotapi.BotAPI
	store   *store.Store
	monitor *monitor.Monitor
	logger  *slog.Logger

	// authorizedChatID restricts mutating commands to one chat when set.
	authorizedChatID int64
}

func NewHandler(api *tgbotapi.BotAPI, st *store.Store, mon *monitor.Monitor, logger *slog.Logger, authorizedChatID int64) *Handler {
	return &Handler{
		api:              api,
		store:            st,
		monitor:          mon,
		logger:           logger,
		authorizedChatID: authorizedChatID,
	}
}

// Run consumes Telegram updates until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		h.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || update.Message.Text == "" {
			continue
		}
		h.handleMessage(ctx, update.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	fields := strings.Fields(message.Text)
	if len(fields) == 0 {
		return
	}

	command := strings.ToLower(fields[0])
	// Strip the @botname suffix used in group chats.
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}

	isPublic := command == "/start" || command == "/help"
	if !isPublic && h.authorizedChatID != 0 && message.Chat.ID != h.authorizedChatID {
		h.reply(message.Chat.ID, "You are not authorized to use this bot.")
		return
	}

	switch command {
	case "/start", "/help":
		h.handleHelp(message.Chat.ID)
	case "/add":
		h.handleAdd(ctx, message)
	case "/addmulti":
		h.handleAddMulti(ctx, message)
	case "/list":
		h.handleList(message.Chat.ID)
	case "/remove":
		h.handleRemove(message)
	case "/removeall":
		h.handleRemoveAll(message.Chat.ID)
	case "/check":
		h.handleCheck(ctx, message.Chat.ID)
	default:
		h.reply(message.Chat.ID, "Unknown command. Use /help to see what I can do.")
	}
}

func (h *Handler) handleHelp(chatID int64) {
	helpText := `🤖 <b>Restock &amp; Price Monitor</b>

<b>Commands:</b>

<b>/add</b> &lt;URL&gt; [name] - Track a product
Example: /add https://shop.example/matcha Ceremonial Matcha

<b>/addmulti</b> - Track several products, one URL per line
/addmulti
https://shop.example/product-1
https://shop.example/product-2

<b>/list</b> - Show tracked products

<b>/remove &lt;id&gt;</b> - Stop tracking a product

<b>/removeall</b> - Stop tracking everything

<b>/check</b> - Check all products now

You get a message whenever a product comes back in stock, sells out, or changes price.`

	h.replyHTML(chatID, helpText)
}

func (h *Handler) handleAdd(ctx context.Context, message *tgbotapi.Message) {
	fields := strings.Fields(message.Text)
	if len(fields) < 2 {
		h.reply(message.Chat.ID, "Usage: /add <URL> [name]\n\nExample: /add https://shop.example/matcha")
		return
	}

	url := fields[1]
	name := strings.Join(fields[2:], " ")

	product, err := h.store.Add(url, name)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateProduct):
			h.reply(message.Chat.ID, "❌ This product is already being tracked.")
		default:
			h.reply(message.Chat.ID, fmt.Sprintf("❌ Could not add product: %v", err))
		}
		return
	}

	// Establish the baseline right away so /list is immediately useful.
	obs, err := h.monitor.CheckProduct(ctx, product)
	if err != nil {
		h.reply(message.Chat.ID, fmt.Sprintf(
			"✅ Added (id %d): %s\n\n⚠️ First check failed: %v\nIt will be retried on the next cycle.",
			product.ID, product.Name, err,
		))
		return
	}

	response := fmt.Sprintf("✅ Added (id %d): %s\nStatus: %s", product.ID, product.Name, obs.Availability.Label())
	if obs.Price.Valid {
		response += fmt.Sprintf("\nPrice: %s", obs.Price.Decimal.StringFixed(2))
	}
	h.reply(message.Chat.ID, response)
}

func (h *Handler) handleAddMulti(ctx context.Context, message *tgbotapi.Message) {
	lines := strings.Split(message.Text, "\n")[1:]
	if len(lines) == 0 {
		h.reply(message.Chat.ID, "Usage:\n/addmulti\n<URL>\n<URL>\n...")
		return
	}

	var results []string
	for _, line := range lines {
		url := strings.TrimSpace(line)
		if url == "" {
			continue
		}

		product, err := h.store.Add(url, "")
		switch {
		case errors.Is(err, store.ErrDuplicateProduct):
			results = append(results, fmt.Sprintf("❌ %s: already tracked", url))
			continue
		case err != nil:
			results = append(results, fmt.Sprintf("❌ %s: %v", url, err))
			continue
		}

		obs, err := h.monitor.CheckProduct(ctx, product)
		if err != nil {
			results = append(results, fmt.Sprintf("⚠️ %s: added (id %d), first check failed", url, product.ID))
			continue
		}
		results = append(results, fmt.Sprintf("✅ %s: %s (id %d)", url, obs.Availability.Label(), product.ID))
	}

	if len(results) == 0 {
		h.reply(message.Chat.ID, "No URLs provided.")
		return
	}
	h.reply(message.Chat.ID, "📥 Added:\n\n"+strings.Join(results, "\n"))
}

func (h *Handler) handleList(chatID int64) {
	products, err := h.store.List()
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Could not list products: %v", err))
		return
	}
	if len(products) == 0 {
		h.reply(chatID, "📋 No products are being tracked. Add one with /add <URL>.")
		return
	}

	var b strings.Builder
	b.WriteString("📋 <b>Tracked products:</b>\n\n")
	for _, p := range products {
		fmt.Fprintf(&b, "🆔 <b>%d</b> %s\n", p.ID, escapeHTML(p.Name))
		fmt.Fprintf(&b, "%s %s\n", statusEmoji(p.Availability), p.Availability.Label())
		if p.Price.Valid {
			fmt.Fprintf(&b, "💰 %s\n", p.Price.Decimal.StringFixed(2))
		}
		if p.LastChecked.IsZero() {
			b.WriteString("🕐 never checked\n")
		} else {
			fmt.Fprintf(&b, "🕐 %s\n", p.LastChecked.Format("02/01/2006 15:04"))
		}
		if p.LastError != "" {
			fmt.Fprintf(&b, "⚠️ %s\n", escapeHTML(p.LastError))
		}
		fmt.Fprintf(&b, "🔗 %s\n\n", p.URL)
	}
	h.replyHTML(chatID, b.String())
}

func (h *Handler) handleRemove(message *tgbotapi.Message) {
	fields := strings.Fields(message.Text)
	if len(fields) < 2 {
		h.reply(message.Chat.ID, "Usage: /remove <id>\n\nExample: /remove 1")
		return
	}

	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		h.reply(message.Chat.ID, "❌ Invalid id.")
		return
	}

	product, err := h.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		h.reply(message.Chat.ID, "❌ Product not found.")
		return
	}
	if err == nil {
		err = h.store.Remove(id)
	}
	if err != nil {
		h.reply(message.Chat.ID, fmt.Sprintf("❌ Could not remove product: %v", err))
		return
	}
	h.reply(message.Chat.ID, fmt.Sprintf("✅ Removed: %s", product.Name))
}

func (h *Handler) handleRemoveAll(chatID int64) {
	n, err := h.store.RemoveAll()
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Could not remove products: %v", err))
		return
	}
	if n == 0 {
		h.reply(chatID, "Nothing to remove.")
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ Removed %d products.", n))
}

func (h *Handler) handleCheck(ctx context.Context, chatID int64) {
	count, err := h.store.Count()
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Could not start check: %v", err))
		return
	}
	if count == 0 {
		h.reply(chatID, "No products to check. Add one with /add <URL>.")
		return
	}

	h.reply(chatID, fmt.Sprintf("🔄 Checking %d products...", count))

	// Cycles can take a while; keep the command loop responsive. The
	// summary arrives via the notifier when the cycle completes.
	go func() {
		if _, err := h.monitor.RunCycle(ctx); errors.Is(err, monitor.ErrCycleInProgress) {
			h.reply(chatID, "⏳ A check is already running; results will arrive shortly.")
		} else if err != nil {
			h.logger.Error("manual check cycle failed", "error", err)
			h.reply(chatID, fmt.Sprintf("❌ Check failed: %v", err))
		}
	}()
}

func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := h.api.Send(msg); err != nil {
		h.logger.Error("sending reply failed", "error", err)
	}
}

func (h *Handler) replyHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := h.api.Send(msg); err != nil {
		h.logger.Error("sending HTML reply failed, retrying plain", "error", err)
		msg.ParseMode = ""
		if _, err := h.api.Send(msg); err != nil {
			h.logger.Error("sending plain reply failed", "error", err)
		}
	}
}

func statusEmoji(a models.Availability) string {
	switch a {
	case models.AvailabilityInStock:
		return "✅"
	case models.AvailabilityOutOfStock:
		return "❌"
	default:
		return "❔"
	}
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
