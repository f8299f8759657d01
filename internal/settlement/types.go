// Package settlement resolves staked matches by moving custodially-held funds
// to the winner, back to both players, or to the platform rake wallet. It owns
// the settlement state machine and the startup recovery sweeps; signing and
// chain submission belong to the custodial signer collaborator.
package settlement

import (
	"errors"
	"math"
)

// Status is the settlement lifecycle state persisted per match.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusRefunded     Status = "refunded"
	StatusFailed       Status = "failed"
	StatusManualReview Status = "manual_review"
)

// Terminal reports whether no further automated transition is allowed.
// failed and manual_review are terminal too: retrying a funds movement
// without a human in the loop risks double payment.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// MatchState is the match lifecycle state in the match store.
type MatchState string

const (
	MatchActive    MatchState = "active"
	MatchCompleted MatchState = "completed"
	MatchAbandoned MatchState = "abandoned"
)

// DefaultDecimals is assumed when a token descriptor does not specify
// decimals.
const DefaultDecimals = 6

// Player identifies one side of a wager.
type Player struct {
	UID    string
	Wallet string
}

// TokenStake describes the token each player escrowed. Both players stake the
// identical raw amount, so the pot is always 2x RawAmountPerPlayer.
type TokenStake struct {
	Mint               string
	Decimals           int
	RawAmountPerPlayer int64
}

// EffectiveDecimals returns the descriptor's decimals, defaulting to
// DefaultDecimals when unset.
func (t *TokenStake) EffectiveDecimals() int {
	if t == nil || t.Decimals <= 0 {
		return DefaultDecimals
	}
	return t.Decimals
}

// Wager is a concluded staked match awaiting settlement. A nil Token means
// the match carried no token stake and settlement is a no-op.
type Wager struct {
	MatchID string
	Players [2]Player
	Token   *TokenStake
}

// Staked reports whether the wager carries a token stake worth settling.
func (w Wager) Staked() bool {
	return w.Token != nil && w.Token.RawAmountPerPlayer > 0
}

// TotalPotRaw returns the symmetric pot in raw token units.
func (w Wager) TotalPotRaw() int64 {
	if !w.Staked() {
		return 0
	}
	return 2 * w.Token.RawAmountPerPlayer
}

func (w Wager) player(uid string) (Player, bool) {
	for _, p := range w.Players {
		if p.UID == uid {
			return p, true
		}
	}
	return Player{}, false
}

// Outcome is the result of one settlement operation. Cached in memory for
// synchronous status queries; the match store remains authoritative.
type Outcome struct {
	MatchID         string      `json:"match_id"`
	Status          Status      `json:"status"`
	SettlementTx    string      `json:"settlement_tx,omitempty"`
	RefundTxs       RefundTxIDs `json:"refund_txs,omitempty"`
	TotalPotRaw     int64       `json:"total_pot_raw,omitempty"`
	WinnerPayoutRaw int64       `json:"winner_payout_raw,omitempty"`
	RakeAmountRaw   int64       `json:"rake_amount_raw,omitempty"`
	RakePercent     float64     `json:"rake_percent,omitempty"`
	RakeTx          string      `json:"rake_tx,omitempty"`
	NoStake         bool        `json:"no_stake,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// DisplayAmount converts raw token units to a human-readable amount. Only for
// summaries and logs; all accounting stays in raw integer units.
func DisplayAmount(raw int64, decimals int) float64 {
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	return float64(raw) / math.Pow10(decimals)
}

// Sentinel errors. The messages double as the stable error codes surfaced to
// ops tooling.
var (
	// ErrSignerNotReady means the custodial signer is not initialized; the
	// attempt lands in manual_review and is never retried automatically.
	ErrSignerNotReady = errors.New("CUSTODIAL_NOT_READY")

	// ErrMissingWallets means one or both player wallets could not be
	// resolved; detected before any signer call.
	ErrMissingWallets = errors.New("MISSING_WALLETS")

	// ErrSettlementInFlight rejects a second concurrent operation for the
	// same match.
	ErrSettlementInFlight = errors.New("settlement already in flight for match")
)
