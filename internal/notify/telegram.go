// Package notify delivers operator-facing messages. The Telegram sender is
// the production processor behind the outbound queue: alert digests and
// health notices flow through the queue's retry policy before landing here.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gatewayz/internal/queue"
)

const telegramMaxMsgLen = 4000

// TelegramSender sends queue messages to a fixed Telegram chat.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	ChatID string
	Logger *slog.Logger
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat ID %q: %w", cfg.ChatID, err)
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram sender connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &TelegramSender{bot: bot, chatID: chatID, logger: cfg.Logger}, nil
}

// Send delivers one queued message, splitting it at the Telegram length
// cap. Satisfies queue.Processor.
func (t *TelegramSender) Send(ctx context.Context, msg queue.Message) error {
	for _, chunk := range splitMessage(msg.Content, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := tgbotapi.NewMessage(t.chatID, chunk)
		if _, err := t.bot.Send(m); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage cuts content into chunks of at most maxLen runes, preferring
// newline boundaries.
func splitMessage(content string, maxLen int) []string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(runes) > maxLen {
		cut := maxLen
		for i := maxLen; i > maxLen/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
