package settlement

import (
	"context"
	"time"
)

// PayoutRequest asks the signer to move the winner's payout out of escrow.
type PayoutRequest struct {
	MatchID      string `json:"match_id"`
	WinnerWallet string `json:"winner_wallet"`
	LoserWallet  string `json:"loser_wallet"`
	TokenMint    string `json:"token_mint"`
	AmountRaw    int64  `json:"amount_raw"`
	Decimals     int    `json:"decimals"`
}

// RakePayoutRequest asks the signer to move the rake cut to the platform
// wallet.
type RakePayoutRequest struct {
	MatchID    string `json:"match_id"`
	RakeWallet string `json:"rake_wallet"`
	TokenMint  string `json:"token_mint"`
	AmountRaw  int64  `json:"amount_raw"`
	Decimals   int    `json:"decimals"`
}

// RefundRequest asks the signer to return each player's stake. One request
// covers both legs; the signer reports a tx id per player.
type RefundRequest struct {
	MatchID       string `json:"match_id"`
	Player1Wallet string `json:"player1_wallet"`
	Player2Wallet string `json:"player2_wallet"`
	TokenMint     string `json:"token_mint"`
	AmountRaw     int64  `json:"amount_raw"`
	Decimals      int    `json:"decimals"`
}

// RefundTxIDs carries the per-player refund transaction ids.
type RefundTxIDs struct {
	Player1Tx string `json:"player1_tx,omitempty"`
	Player2Tx string `json:"player2_tx,omitempty"`
}

// First returns whichever transaction id is available, preferring player 1.
func (r RefundTxIDs) First() string {
	if r.Player1Tx != "" {
		return r.Player1Tx
	}
	return r.Player2Tx
}

// AuditEntry is one row of the signer's transfer audit log.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	MatchID   string    `json:"match_id"`
	Kind      string    `json:"kind"`
	TxID      string    `json:"tx_id"`
	AmountRaw int64     `json:"amount_raw"`
}

// CustodialSigner is the capability that holds keys and executes transfers.
// The engine never sees private keys, rate limits, or chain details; it only
// requests transfers and waits for a definitive result. A transfer the signer
// rejects or fails surfaces as a non-nil error carrying the signer's message.
type CustodialSigner interface {
	Ready(ctx context.Context) bool
	Payout(ctx context.Context, req PayoutRequest) (string, error)
	RakePayout(ctx context.Context, req RakePayoutRequest) (string, error)
	Refund(ctx context.Context, req RefundRequest) (RefundTxIDs, error)
	PublicKey(ctx context.Context) (string, error)
	AuditLog(ctx context.Context, limit int) ([]AuditEntry, error)
}
