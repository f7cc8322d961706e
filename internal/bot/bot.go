package bot

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Init connects to the Telegram API and verifies the token.
func Init(token string, logger *slog.Logger) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		if err.Error() == "Unauthorized" {
			return nil, fmt.Errorf("telegram token rejected; get a fresh one from @BotFather")
		}
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	api.Debug = false
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return api, nil
}
