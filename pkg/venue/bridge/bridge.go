// Package bridge is the live venue adapter: a REST client for the
// terminal-side bridge that fronts the actual trading server.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
)

// Config holds bridge connection settings.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client talks to the terminal bridge over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type tradeRequest struct {
	Account    string  `json:"account"`
	Password   string  `json:"password"`
	Server     string  `json:"server"`
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Ticket     int64   `json:"ticket,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

type tradeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Ticket  int64  `json:"ticket"`
}

// Execute submits one trade action. Ambiguous outcomes (timeouts, 5xx) come
// back as transport errors; the caller must not retry placements.
func (c *Client) Execute(ctx context.Context, creds vault.Credentials, req venue.TradeRequest) (venue.TradeResult, error) {
	var path string
	body := tradeRequest{
		Account:    creds.AccountNumber,
		Password:   creds.Password,
		Server:     creds.Server,
		Type:       string(req.Kind),
		Symbol:     req.Instrument,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.Stop,
		TakeProfit: req.Target,
		Comment:    req.Comment,
	}

	switch req.Kind {
	case venue.KindClose:
		path = fmt.Sprintf("/trade/%d/close", req.Ticket)
		body.Ticket = req.Ticket
	case venue.KindModify:
		path = fmt.Sprintf("/trade/%d/modify", req.Ticket)
		body.Ticket = req.Ticket
	default:
		path = "/trade"
	}

	var resp tradeResponse
	if err := c.post(ctx, path, body, &resp); err != nil {
		return venue.TradeResult{}, err
	}

	if resp.Status != "success" {
		return venue.TradeResult{
			Success:   false,
			ErrorKind: venue.ErrorKindVenueRejected,
			Message:   resp.Message,
		}, nil
	}

	return venue.TradeResult{
		Success: true,
		Ticket:  resp.Ticket,
	}, nil
}

// Ping checks bridge reachability via the status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/status"), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge status: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("bridge error: HTTP %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
}

var _ venue.Gateway = (*Client)(nil)

// ErrNotConfigured is returned by Validate when the base URL is missing.
var ErrNotConfigured = errors.New("bridge: base URL not configured")

// Validate checks the client has enough configuration to run live.
func (c *Client) Validate() error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}
	return nil
}
