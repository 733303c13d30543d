package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"absensi/internal/settings"
)

// ErrNotConfigured means the bot is disabled or missing its token/chat id.
var ErrNotConfigured = errors.New("telegram: bot not configured")

// Telegram delivers messages through the Bot API. Credentials are read from
// settings on every send so admin changes take effect without a restart.
type Telegram struct {
	settings *settings.Resolver
	client   *http.Client
	baseURL  string
}

func NewTelegram(res *settings.Resolver) *Telegram {
	return &Telegram{
		settings: res,
		client:   &http.Client{Timeout: 5 * time.Second},
		baseURL:  "https://api.telegram.org",
	}
}

// Send posts one HTML message to the configured admin chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	cfg := t.settings.Current()
	if !cfg.TelegramEnabled {
		return ErrNotConfigured
	}
	token := strings.TrimSpace(cfg.TelegramBotToken)
	chatID := strings.TrimSpace(cfg.TelegramAdminChatID)
	if token == "" || chatID == "" {
		return ErrNotConfigured
	}

	form := url.Values{
		"chat_id":    {chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/bot"+token+"/sendMessage", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned status %d", resp.StatusCode)
	}
	return nil
}
