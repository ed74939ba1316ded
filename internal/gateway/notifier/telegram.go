package notifier

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"oitrader/internal/logger"
)

const sendAttempts = 3

// Telegram pushes alerts to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	sleep  func(time.Duration)
}

func NewTelegram(botToken string, chatID int64) (*Telegram, error) {
	return newTelegram(botToken, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
}

func newTelegram(botToken string, chatID int64, endpoint string, client tgbotapi.HTTPClient) (*Telegram, error) {
	if botToken == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram config incomplete")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	logger.Infof("[notifier] telegram authorized as @%s", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID, sleep: time.Sleep}, nil
}

// SendText sends a Markdown message with up to three attempts.
func (t *Telegram) SendText(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < sendAttempts; i++ {
		if _, err := t.bot.Send(msg); err != nil {
			lastErr = err
			t.sleep(time.Duration(i+1) * time.Second)
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}
