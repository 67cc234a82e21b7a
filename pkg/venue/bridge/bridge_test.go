package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
)

var testCreds = vault.Credentials{AccountNumber: "12345", Password: "pw", Server: "Broker-Demo"}

func bridgeServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIToken: "secret", Timeout: time.Second})
}

func TestExecuteOpenRoutesToTrade(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody tradeRequest
	client := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(tradeResponse{Status: "success", Ticket: 777})
	})

	res, err := client.Execute(context.Background(), testCreds, venue.TradeRequest{
		Kind: venue.KindOpenBuy, Instrument: "EURUSD", Volume: 0.1,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotPath != "/trade" {
		t.Fatalf("path = %s, want /trade", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody.Account != "12345" || gotBody.Symbol != "EURUSD" {
		t.Fatalf("body = %+v", gotBody)
	}
	if !res.Success || res.Ticket != 777 {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteCloseAndModifyRoutes(t *testing.T) {
	tests := []struct {
		kind venue.TradeKind
		want string
	}{
		{venue.KindClose, "/trade/42/close"},
		{venue.KindModify, "/trade/42/modify"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			var gotPath string
			client := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				json.NewEncoder(w).Encode(tradeResponse{Status: "success", Ticket: 42})
			})

			_, err := client.Execute(context.Background(), testCreds, venue.TradeRequest{
				Kind: tt.kind, Ticket: 42, Stop: 1.05,
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if gotPath != tt.want {
				t.Fatalf("path = %s, want %s", gotPath, tt.want)
			}
		})
	}
}

func TestExecuteVenueRejection(t *testing.T) {
	client := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tradeResponse{Status: "error", Message: "insufficient margin"})
	})

	res, err := client.Execute(context.Background(), testCreds, venue.TradeRequest{
		Kind: venue.KindOpenBuy, Instrument: "EURUSD", Volume: 50,
	})
	if err != nil {
		t.Fatalf("rejection must not be a transport error: %v", err)
	}
	if res.Success || res.ErrorKind != venue.ErrorKindVenueRejected {
		t.Fatalf("result = %+v, want venue_rejected", res)
	}
	if res.Message != "insufficient margin" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestExecuteServerErrorIsTransport(t *testing.T) {
	client := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	if _, err := client.Execute(context.Background(), testCreds, venue.TradeRequest{
		Kind: venue.KindOpenBuy, Instrument: "EURUSD", Volume: 0.1,
	}); err == nil {
		t.Fatal("expected transport error on HTTP 502")
	}
}

func TestPing(t *testing.T) {
	client := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("path = %s, want /status", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingUnavailable(t *testing.T) {
	client := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error on HTTP 503")
	}
}

func TestValidate(t *testing.T) {
	if err := New(Config{}).Validate(); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if err := New(Config{BaseURL: "http://bridge:5002"}).Validate(); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}
