package signer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/settled/internal/settlement"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, APIKey: "secret"}, zerolog.New(io.Discard))
	require.NoError(t, err)
	return c
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zerolog.New(io.Discard))
	require.Error(t, err)
}

func TestPayoutSuccess(t *testing.T) {
	t.Parallel()

	var got settlement.PayoutRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payout", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "tx_id": "tx-42"})
	}))

	tx, err := c.Payout(context.Background(), settlement.PayoutRequest{
		MatchID:      "m1",
		WinnerWallet: "w1",
		AmountRaw:    950,
		Decimals:     6,
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-42", tx)
	assert.Equal(t, "m1", got.MatchID)
	assert.Equal(t, int64(950), got.AmountRaw)
}

func TestPayoutSignerFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "amount exceeds cap"})
	}))

	_, err := c.Payout(context.Background(), settlement.PayoutRequest{MatchID: "m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount exceeds cap")
}

func TestRefundMapsTxIDs(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "tx_ids": []string{"tx-a", "tx-b"}})
	}))

	txs, err := c.Refund(context.Background(), settlement.RefundRequest{MatchID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, settlement.RefundTxIDs{Player1Tx: "tx-a", Player2Tx: "tx-b"}, txs)
}

func TestReadyProbe(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ready": true})
		}))
		assert.True(t, c.Ready(context.Background()))
	})

	t.Run("unreachable signer is not ready", func(t *testing.T) {
		c, err := New(Config{URL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond}, zerolog.New(io.Discard))
		require.NoError(t, err)
		assert.False(t, c.Ready(context.Background()))
	})
}

func TestHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))

	_, err := c.RakePayout(context.Background(), settlement.RakePayoutRequest{MatchID: "m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestAuditLog(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"entries": []map[string]any{
			{"match_id": "m1", "kind": "payout", "tx_id": "tx-1", "amount_raw": 950},
		}})
	}))

	entries, err := c.AuditLog(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payout", entries[0].Kind)
}
