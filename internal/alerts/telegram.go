package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramAlerter fans out breaker-transition and anomaly alerts to a set
// of Telegram chats, for operators who aren't tailing logs.
type TelegramAlerter struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
}

// NewTelegramAlerter authenticates against the Telegram Bot API and
// returns an Alerter that notifies the given chat IDs.
func NewTelegramAlerter(botToken string, chatIDs []int64) (*TelegramAlerter, error) {
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
		Msg("telegram alerter initialized")

	return &TelegramAlerter{api: api, chatIDs: chatIDs}, nil
}

// Send delivers alert to every configured chat, returning the last error
// only if every delivery failed; a partial success isn't reported as an
// error since at least one operator chat received the alert.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		log.Warn().Msg("no telegram chat IDs configured, dropping alert")
		return nil
	}

	text := t.formatAlert(alert)

	var lastErr error
	delivered := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"

		if _, err := t.api.Send(msg); err != nil {
			log.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("failed to deliver telegram alert")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("failed to deliver alert to any chat: %w", lastErr)
	}

	log.Debug().
		Int("delivered", delivered).
		Int("total_chats", len(t.chatIDs)).
		Str("alert_title", alert.Title).
		Msg("telegram alert delivered")

	return nil
}

// formatAlert renders alert as a Markdown message: a severity banner, the
// title and body, any metadata (breaker name, bundle ID, drop counts, ...)
// as a bullet list, and a trailing timestamp.
func (t *TelegramAlerter) formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityInfo:
		emoji = "ℹ️"
	default:
		emoji = "📢"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)

	if len(alert.Metadata) > 0 {
		text += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			text += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}

	text += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))

	return text
}

// AddChatID registers an additional chat to notify, ignoring duplicates.
func (t *TelegramAlerter) AddChatID(chatID int64) {
	for _, id := range t.chatIDs {
		if id == chatID {
			return
		}
	}
	t.chatIDs = append(t.chatIDs, chatID)
	log.Info().Int64("chat_id", chatID).Msg("added telegram chat")
}

// RemoveChatID unregisters a chat; removing an unknown chat ID is a no-op.
func (t *TelegramAlerter) RemoveChatID(chatID int64) {
	for i, id := range t.chatIDs {
		if id == chatID {
			t.chatIDs = append(t.chatIDs[:i], t.chatIDs[i+1:]...)
			log.Info().Int64("chat_id", chatID).Msg("removed telegram chat")
			return
		}
	}
}

// GetChatIDs returns the currently configured chat IDs.
func (t *TelegramAlerter) GetChatIDs() []int64 {
	return t.chatIDs
}

// SetChatIDs replaces the full set of notified chats.
func (t *TelegramAlerter) SetChatIDs(chatIDs []int64) {
	t.chatIDs = chatIDs
	log.Info().Int("chat_count", len(chatIDs)).Msg("updated telegram chats")
}
