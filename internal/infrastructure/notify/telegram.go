package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// TelegramNotifier pushes operator messages to a Telegram chat. Sends are
// fire-and-forget on a background goroutine: a down Telegram must never
// block or fail a trading decision.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
	log      *zap.Logger
}

func NewTelegramNotifier(botToken, chatID string, log *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (t *TelegramNotifier) Notify(text string) {
	if t.botToken == "" || t.chatID == "" {
		return
	}
	go t.send(text)
}

func (t *TelegramNotifier) send(text string) {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.PostForm(endpoint, url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	})
	if err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		t.log.Warn("telegram send rejected", zap.Int("status", resp.StatusCode))
	}
}

// LogNotifier writes notifications to the log. Used when Telegram is not
// configured and by the debug commands.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (l *LogNotifier) Notify(text string) {
	l.log.Info("notify", zap.String("text", text))
}
