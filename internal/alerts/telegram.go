package alerts

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// sender is the part of *tgbotapi.BotAPI the alerter uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter sends alerts at or above a minimum severity to chats
type TelegramAlerter struct {
	api         sender
	chatIDs     []int64
	minSeverity Severity
}

// NewTelegramAlerter connects a bot and returns an alerter for chatIDs
func NewTelegramAlerter(botToken string, chatIDs []int64, minSeverity Severity) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alerter initialized")

	return newTelegramAlerter(api, chatIDs, minSeverity), nil
}

func newTelegramAlerter(api sender, chatIDs []int64, minSeverity Severity) *TelegramAlerter {
	if minSeverity == "" {
		minSeverity = SeverityWarning
	}
	return &TelegramAlerter{api: api, chatIDs: chatIDs, minSeverity: minSeverity}
}

// Send delivers the alert to every chat. It fails only when no chat
// received it.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	if alert.Severity.rank() < t.minSeverity.rank() {
		return nil
	}
	if len(t.chatIDs) == 0 {
		log.Warn().Msg("No Telegram chat IDs configured, skipping alert")
		return nil
	}

	text := formatAlert(alert)
	var lastErr error
	sent := 0
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := t.api.Send(msg); err != nil {
			log.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return fmt.Errorf("failed to send alert to any chat: %w", lastErr)
	}
	return nil
}

func formatAlert(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] *%s*\n\n%s", alert.Severity, escape(alert.Title), escape(alert.Message))

	if keys := sortedKeys(alert.Metadata); len(keys) > 0 {
		b.WriteString("\n\n*Details:*")
		for _, key := range keys {
			fmt.Fprintf(&b, "\n- %s: `%v`", escape(key), alert.Metadata[key])
		}
	}
	fmt.Fprintf(&b, "\n\n_%s_", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// escape neutralizes legacy Markdown control characters
func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
