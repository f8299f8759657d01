package settlement

import (
	"context"

	"github.com/rs/zerolog"
)

// Event is emitted on every ledger write so the ops surface can stream status
// transitions without polling the store.
type Event struct {
	MatchID string `json:"match_id"`
	Status  Status `json:"status"`
	TxID    string `json:"tx_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventSink receives ledger events. Sinks must not block.
type EventSink func(Event)

// RakeInfo is the rake breakdown persisted alongside a settlement status.
type RakeInfo struct {
	AmountRaw       int64
	Percent         float64
	Tx              string
	WinnerPayoutRaw int64
}

// Ledger persists settlement status per match. All writes are best effort: a
// store outage is logged and swallowed, because the funds movement is the
// higher-priority side effect and must never block on persistence. Status
// visibility can therefore lag reality; the ledger is eventually consistent.
type Ledger struct {
	store MatchStore
	log   zerolog.Logger
	sink  EventSink
}

// NewLedger creates a ledger over the given match store.
func NewLedger(store MatchStore, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, log: logger.With().Str("component", "ledger").Logger()}
}

// SetSink registers an optional event sink. Call before first use.
func (l *Ledger) SetSink(sink EventSink) {
	l.sink = sink
}

// SetStatus records a settlement status transition, optionally with the
// primary payout tx id and an error message.
func (l *Ledger) SetStatus(ctx context.Context, matchID string, status Status, txID, errMsg string) {
	update := MatchUpdate{SettlementStatus: &status}
	if txID != "" {
		update.SettlementTx = &txID
	}
	if errMsg != "" {
		update.SettlementError = &errMsg
	}
	l.write(ctx, matchID, status, txID, errMsg, update)
}

// SetStatusWithRake records a status transition together with the rake
// breakdown. Used for rake-bearing completions, and for failed settlements
// where a rake leg already succeeded and its tx id must survive for manual
// reconciliation.
func (l *Ledger) SetStatusWithRake(ctx context.Context, matchID string, status Status, txID, errMsg string, info RakeInfo) {
	update := MatchUpdate{
		SettlementStatus: &status,
		RakeAmountRaw:    &info.AmountRaw,
		RakePercent:      &info.Percent,
		WinnerPayoutRaw:  &info.WinnerPayoutRaw,
	}
	if txID != "" {
		update.SettlementTx = &txID
	}
	if info.Tx != "" {
		update.RakeTx = &info.Tx
	}
	if errMsg != "" {
		update.SettlementError = &errMsg
	}
	l.write(ctx, matchID, status, txID, errMsg, update)
}

func (l *Ledger) write(ctx context.Context, matchID string, status Status, txID, errMsg string, update MatchUpdate) {
	if err := l.store.UpdateMatch(ctx, matchID, update); err != nil {
		l.log.Warn().
			Err(err).
			Str("match_id", matchID).
			Str("status", string(status)).
			Msg("settlement status write failed; continuing without persistence")
	}
	if l.sink != nil {
		l.sink(Event{MatchID: matchID, Status: status, TxID: txID, Error: errMsg})
	}
}
