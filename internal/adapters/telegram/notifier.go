package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// sender is the part of *tgbotapi.BotAPI the notifier uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier pushes regime switches and engine failures to one Telegram chat
type Notifier struct {
	api    sender
	chatID int64
}

// NewNotifier connects to the Bot API. Returns nil when alerts are disabled;
// a nil *Notifier is safe to call and does nothing.
func NewNotifier(cfg *config.TelegramConfig) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = false

	logger.Info("telegram notifier initialized",
		zap.String("bot_username", bot.Self.UserName),
		zap.Int64("chat_id", cfg.ChatID),
	)

	return newNotifier(bot, cfg.ChatID), nil
}

func newNotifier(api sender, chatID int64) *Notifier {
	return &Notifier{api: api, chatID: chatID}
}

// NotifyRegimeSwitch announces a confirmed regime change with the
// recommendation that came out of the same iteration
func (n *Notifier) NotifyRegimeSwitch(_ context.Context, from models.Regime, rec models.Recommendation) error {
	if n == nil {
		return nil
	}

	emoji := "🔄"
	switch rec.Regime {
	case models.RegimeVolatile:
		emoji = "⚠️"
	case models.RegimeTrending:
		emoji = "📈"
	case models.RegimeSideways:
		emoji = "↔️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Regime switch* %s/%s %d (chain %d)\n",
		emoji, escape(rec.Token0), escape(rec.Token1), rec.FeeTier, rec.ChainID)
	fmt.Fprintf(&b, "%s → *%s*\n", from, rec.Regime)
	fmt.Fprintf(&b, "Heat: %d\n", rec.Details.Heat.Blended)
	fmt.Fprintf(&b, "Reinvest: %d | Reallocate: %d\n", rec.ReinvestScore, rec.ReallocateScore)

	return n.sendMessageMarkdown(b.String())
}

// NotifyError reports a failure the engine could not recover from in one
// iteration
func (n *Notifier) NotifyError(_ context.Context, component string, err error) error {
	if n == nil || err == nil {
		return nil
	}

	msg := fmt.Sprintf("🚨 *Engine error* in %s\n`%s`", escape(component), strings.ReplaceAll(err.Error(), "`", "'"))
	return n.sendMessageMarkdown(msg)
}

func (n *Notifier) sendMessageMarkdown(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.api.Send(msg); err != nil {
		logger.Error("failed to send telegram message",
			zap.Int64("chat_id", n.chatID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
