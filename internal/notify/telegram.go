package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrNotConfigured is returned by NewTelegram when the bot token or chat
// list is empty.
var ErrNotConfigured = errors.New("telegram notifier not configured")

const telegramAPIBase = "https://api.telegram.org"

// Telegram sends messages through the Telegram Bot API to a fixed set of
// chats. Delivery is best effort per chat: one unreachable chat does not
// block the others.
type Telegram struct {
	token   string
	chatIDs []string
	baseURL string
	client  *http.Client
}

// NewTelegram builds a notifier for the given bot token and chat ids.
func NewTelegram(token string, chatIDs []string) (*Telegram, error) {
	if token == "" || len(chatIDs) == 0 {
		return nil, ErrNotConfigured
	}
	return &Telegram{
		token:   token,
		chatIDs: chatIDs,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers message to every configured chat. Returns the first error
// after attempting all chats.
func (t *Telegram) Send(ctx context.Context, message string) error {
	var firstErr error
	for _, chatID := range t.chatIDs {
		if err := t.sendOne(ctx, chatID, message); err != nil {
			log.Printf("notify: telegram send to %s failed: %v", chatID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Telegram) sendOne(ctx context.Context, chatID, message string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      message,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
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

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("telegram: unexpected response (status %d)", resp.StatusCode)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram: %s", parsed.Description)
	}
	return nil
}

// Ping calls getMe to verify the token and API reachability.
func (t *Telegram) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getMe", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&parsed); err != nil {
		return fmt.Errorf("telegram: unexpected response (status %d)", resp.StatusCode)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram: %s", parsed.Description)
	}
	return nil
}

var _ Notifier = (*Telegram)(nil)
var _ Notifier = LogNotifier{}
