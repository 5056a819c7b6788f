package notification

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramNotifier creates a Telegram notifier for the bot token and
// target chat (user, group or channel id).
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{token: token, chatID: chatID, baseURL: telegramAPI, client: defaultHTTPClient}
}

// WithBaseURL points the notifier at a different Bot API host.
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = u
	return t
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
		Silent    bool   `json:"disable_notification,omitempty"`
	}{
		ChatID:    t.chatID,
		Text:      telegramText(alert),
		ParseMode: "HTML",
		Silent:    alert.Level == AlertInfo,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

func telegramText(a Alert) string {
	badge := "ℹ️"
	switch a.Level {
	case AlertWarning:
		badge = "⚠️"
	case AlertCritical:
		badge = "🚨"
	}
	return fmt.Sprintf("%s <b>%s</b>\n<code>%s</code>", badge, html.EscapeString(a.Title), html.EscapeString(a.Message))
}
