// Package signer provides the HTTP client for the custodial signer sidecar.
// The sidecar holds the escrow keys and enforces its own rate limits and
// amount caps; this client only requests transfers and reports results.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/settled/internal/settlement"
)

// DefaultTimeout bounds every signer call. A transfer that times out is
// treated as a failure; the engine never hangs waiting on the signer.
const DefaultTimeout = 30 * time.Second

// Config holds signer connection settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client implements settlement.CustodialSigner over HTTP JSON.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a signer client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("signer url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid signer url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     logger.With().Str("component", "signer").Logger(),
	}, nil
}

type transferResponse struct {
	Success bool     `json:"success"`
	TxID    string   `json:"tx_id"`
	TxIDs   []string `json:"tx_ids"`
	Error   string   `json:"error"`
}

// Ready probes the signer. Any transport error reads as not ready.
func (c *Client) Ready(ctx context.Context) bool {
	var resp struct {
		Ready bool `json:"ready"`
	}
	if err := c.get(ctx, "/ready", nil, &resp); err != nil {
		c.log.Debug().Err(err).Msg("signer readiness probe failed")
		return false
	}
	return resp.Ready
}

// Payout requests the winner transfer and returns its tx id.
func (c *Client) Payout(ctx context.Context, req settlement.PayoutRequest) (string, error) {
	resp, err := c.transfer(ctx, "/payout", req)
	if err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// RakePayout requests the rake transfer and returns its tx id.
func (c *Client) RakePayout(ctx context.Context, req settlement.RakePayoutRequest) (string, error) {
	resp, err := c.transfer(ctx, "/rake", req)
	if err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// Refund requests the combined two-player refund.
func (c *Client) Refund(ctx context.Context, req settlement.RefundRequest) (settlement.RefundTxIDs, error) {
	resp, err := c.transfer(ctx, "/refund", req)
	if err != nil {
		return settlement.RefundTxIDs{}, err
	}
	var txs settlement.RefundTxIDs
	if len(resp.TxIDs) > 0 {
		txs.Player1Tx = resp.TxIDs[0]
	}
	if len(resp.TxIDs) > 1 {
		txs.Player2Tx = resp.TxIDs[1]
	}
	return txs, nil
}

// PublicKey returns the signer's escrow wallet address.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	var resp struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.get(ctx, "/pubkey", nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// AuditLog returns the signer's most recent transfer log entries.
func (c *Client) AuditLog(ctx context.Context, limit int) ([]settlement.AuditEntry, error) {
	var resp struct {
		Entries []settlement.AuditEntry `json:"entries"`
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/audit", query, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) transfer(ctx context.Context, path string, payload any) (*transferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode signer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build signer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signer %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	var resp transferResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("signer %s: decode response: %w", path, err)
	}
	if httpResp.StatusCode != http.StatusOK || !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("signer returned status %d", httpResp.StatusCode)
		}
		return nil, fmt.Errorf("signer %s: %s", path, msg)
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build signer request: %w", err)
	}
	c.authorize(req)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("signer %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer %s: status %d", path, httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("signer %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
