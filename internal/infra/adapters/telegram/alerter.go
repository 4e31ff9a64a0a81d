package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/config"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/infra/logging"
)

// Compile-time checks
var (
	_ adapter.Alerter = (*BotAlerter)(nil)
	_ adapter.Alerter = (*LogAlerter)(nil)
)

// Sender is the part of tgbotapi.BotAPI the alerter uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotAlerter posts operational alerts to a fixed set of Telegram chats.
type BotAlerter struct {
	bot     Sender
	chatIDs []int64
	log     *zerolog.Logger
}

func NewBotAlerter(cfg config.AlertConfig, logger *zerolog.Logger) (*BotAlerter, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.TelegramChatID) == 0 {
		return nil, errors.New("no telegram chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewBotAlerterWithSender(bot, cfg.TelegramChatID, logger), nil
}

func NewBotAlerterWithSender(bot Sender, chatIDs []int64, logger *zerolog.Logger) *BotAlerter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BotAlerter{bot: bot, chatIDs: chatIDs, log: logger}
}

// Alert sends text to every configured chat and returns the first failure.
// Remaining chats are still attempted.
func (a *BotAlerter) Alert(ctx context.Context, text string) error {
	var first error
	for _, id := range a.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			a.log.Error().Err(err).Int64("chat_id", id).Msg("alert delivery failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// LogAlerter writes alerts to the log only. Used when no bot is configured.
type LogAlerter struct {
	log *zerolog.Logger
}

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogAlerter{log: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, text string) error {
	logging.With(ctx, a.log).Error().Str("alert", text).Msg("operational alert")
	return nil
}

// NewAlerter picks the bot alerter when a token is configured.
func NewAlerter(cfg config.AlertConfig, logger *zerolog.Logger) (adapter.Alerter, error) {
	if cfg.TelegramToken == "" {
		return NewLogAlerter(logger), nil
	}
	return NewBotAlerter(cfg, logger)
}
