// Chat transport: an HTTP POST to a Telegram-style bot API.
//
// Grounded on original_source/notifications.py's send_telegram_alert
// (bot-token + chat-id URL, Markdown-formatted body, single POST). No
// chat-bot client library appears anywhere in the example pack, so this
// uses net/http directly, per §9's domain-stack table.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riskshield/txscore/configs"
	"github.com/riskshield/txscore/internal/models"
)

// ChatTransport posts alert messages to a chat bot's sendMessage endpoint.
type ChatTransport struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewChatTransport builds a ChatTransport from NotifyConfig.
func NewChatTransport(cfg configs.NotifyConfig, timeout time.Duration) *ChatTransport {
	return &ChatTransport{
		botToken: cfg.ChatBotToken,
		chatID:   cfg.ChatChatID,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatPayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send posts one alert. A non-2xx response or transport failure is
// returned as an error for the Notifier's retry loop to handle.
func (t *ChatTransport) Send(ctx context.Context, tx *models.Transaction, reason string) error {
	payload := chatPayload{
		ChatID:    t.chatID,
		Text:      formatChatMessage(tx, reason),
		ParseMode: "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat transport: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func formatChatMessage(tx *models.Transaction, reason string) string {
	return fmt.Sprintf(
		"🚨 *Transaction Alert!*\n*ID:* %s\n*Sender:* %s\n*Receiver:* %s\n*Amount:* %.2f\n*Type:* %s\n*Reason:* %s",
		tx.CorrelationID, tx.SenderAccount, tx.ReceiverAccount, tx.Amount, tx.TransactionType, reason,
	)
}
