package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func telegramServer(t *testing.T, fail map[string]bool) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var delivered []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
			return
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if fail[req.ChatID] {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
			return
		}
		mu.Lock()
		delivered = append(delivered, req.ChatID)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	return srv, &delivered
}

func TestTelegramSendAllChats(t *testing.T) {
	srv, delivered := telegramServer(t, nil)
	defer srv.Close()

	tg, err := NewTelegram("token", []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	tg.baseURL = srv.URL

	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(*delivered) != 3 {
		t.Fatalf("delivered to %d chats, want 3", len(*delivered))
	}
}

func TestTelegramPartialFailureStillDeliversRest(t *testing.T) {
	srv, delivered := telegramServer(t, map[string]bool{"2": true})
	defer srv.Close()

	tg, _ := NewTelegram("token", []string{"1", "2", "3"})
	tg.baseURL = srv.URL

	err := tg.Send(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error from failing chat")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*delivered) != 2 {
		t.Fatalf("delivered to %d chats, want 2", len(*delivered))
	}
}

func TestTelegramPing(t *testing.T) {
	srv, _ := telegramServer(t, nil)
	defer srv.Close()

	tg, _ := NewTelegram("token", []string{"1"})
	tg.baseURL = srv.URL

	if err := tg.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestNewTelegramUnconfigured(t *testing.T) {
	if _, err := NewTelegram("", []string{"1"}); err != ErrNotConfigured {
		t.Fatalf("empty token: err = %v, want ErrNotConfigured", err)
	}
	if _, err := NewTelegram("token", nil); err != ErrNotConfigured {
		t.Fatalf("no chats: err = %v, want ErrNotConfigured", err)
	}
}
