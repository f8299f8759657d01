package settlement

import (
	"context"
	"errors"
	"time"
)

// ErrMatchNotFound indicates a requested match record is missing.
var ErrMatchNotFound = errors.New("match not found")

// Match is the persisted match record as seen by the settlement engine. It is
// the audit trail: records are mutated, never deleted.
type Match struct {
	ID        string
	State     MatchState
	StartedAt time.Time
	Players   [2]Player
	Token     *TokenStake // nil for free or coin-only matches
	CoinStake int64       // coin wager owned by another subsystem; never auto-refunded here

	SettlementStatus Status
	SettlementTx     string
	SettlementError  string
	RakeAmountRaw    int64
	RakePercent      float64
	RakeTx           string
	WinnerPayoutRaw  int64
	AbandonReason    string
}

// Wager extracts the wager view of the match for settlement operations.
func (m Match) Wager() Wager {
	return Wager{MatchID: m.ID, Players: m.Players, Token: m.Token}
}

// MatchUpdate is a patch applied to a match record. Nil fields are left
// untouched.
type MatchUpdate struct {
	State            *MatchState
	SettlementStatus *Status
	SettlementTx     *string
	SettlementError  *string
	RakeAmountRaw    *int64
	RakePercent      *float64
	RakeTx           *string
	WinnerPayoutRaw  *int64
	AbandonReason    *string
}

// MatchStore is the persistence collaborator. Implementations must tolerate
// concurrent readers; the engine is the only writer of settlement fields.
type MatchStore interface {
	// Match returns one match by id, or ErrMatchNotFound.
	Match(ctx context.Context, id string) (Match, error)

	// ActiveBefore returns matches still in the active state whose start
	// time is older than cutoff. Used by the orphan recovery sweep.
	ActiveBefore(ctx context.Context, cutoff time.Time) ([]Match, error)

	// PendingSettlements returns completed matches with a token stake whose
	// settlement is still pending or processing. Used by the reconciler.
	PendingSettlements(ctx context.Context) ([]Match, error)

	// UpdateMatch applies a patch to one match record.
	UpdateMatch(ctx context.Context, id string, update MatchUpdate) error

	// Connected reports whether the store is reachable.
	Connected(ctx context.Context) bool
}
