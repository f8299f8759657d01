package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lox/settled/internal/rake"
)

// Health is the engine's operational summary, exposed to ops tooling. The
// rake wallet is masked to its first and last four characters.
type Health struct {
	Ready          bool    `json:"ready"`
	SignerReady    bool    `json:"signer_ready"`
	StoreConnected bool    `json:"store_connected"`
	RakeEnabled    bool    `json:"rake_enabled"`
	RakeWallet     string  `json:"rake_wallet,omitempty"`
	RakePercent    float64 `json:"rake_percent,omitempty"`
	MinPotRaw      int64   `json:"min_pot_raw,omitempty"`
	InFlight       int     `json:"in_flight"`
	History        int     `json:"history"`
}

// Orchestrator drives the settle/draw/void state machine. Each operation is
// intended to be called at most once per match when the match concludes; a
// concurrent second call for the same match is rejected. There is no
// automatic retry of any transfer: failed and manual_review are terminal
// until a human intervenes.
type Orchestrator struct {
	signer  CustodialSigner
	store   MatchStore
	ledger  *Ledger
	rakeCfg rake.Config
	log     zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	results  map[string]*Outcome
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventSink streams ledger events to the given sink.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.ledger.SetSink(sink) }
}

// NewOrchestrator wires the state machine with its collaborators. rakeCfg is
// immutable after construction.
func NewOrchestrator(signer CustodialSigner, store MatchStore, rakeCfg rake.Config, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		signer:   signer,
		store:    store,
		ledger:   NewLedger(store, logger),
		rakeCfg:  rakeCfg,
		log:      logger.With().Str("component", "orchestrator").Logger(),
		inFlight: make(map[string]struct{}),
		results:  make(map[string]*Outcome),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetEventSink streams ledger events to the given sink. Call before the
// first settlement operation.
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.ledger.SetSink(sink)
}

// Settle pays the winner (minus rake where applicable) from escrow. A wager
// without a token stake is a no-op success and never touches the signer.
func (o *Orchestrator) Settle(ctx context.Context, w Wager, winnerUID, loserUID string) (*Outcome, error) {
	if !w.Staked() {
		return &Outcome{MatchID: w.MatchID, Status: StatusCompleted, NoStake: true}, nil
	}
	if err := o.acquire(w.MatchID); err != nil {
		return nil, err
	}
	defer o.release(w.MatchID)

	o.ledger.SetStatus(ctx, w.MatchID, StatusProcessing, "", "")

	if !o.signer.Ready(ctx) {
		o.ledger.SetStatus(ctx, w.MatchID, StatusManualReview, "", ErrSignerNotReady.Error())
		o.log.Error().Str("match_id", w.MatchID).Msg("custodial signer not ready; settlement needs manual review")
		return nil, fmt.Errorf("settle %s: %w", w.MatchID, ErrSignerNotReady)
	}

	winner, okW := w.player(winnerUID)
	loser, okL := w.player(loserUID)
	if !okW || !okL || winner.Wallet == "" {
		o.ledger.SetStatus(ctx, w.MatchID, StatusFailed, "", ErrMissingWallets.Error())
		return nil, fmt.Errorf("settle %s: %w", w.MatchID, ErrMissingWallets)
	}

	totalPot := w.TotalPotRaw()
	split := rake.Split(totalPot, o.rakeCfg)
	decimals := w.Token.EffectiveDecimals()

	rakeTx := ""
	rakeAmount := split.RakeRaw
	winnerPayout := split.WinnerPayoutRaw
	if split.Enabled {
		tx, err := o.signer.RakePayout(ctx, RakePayoutRequest{
			MatchID:    w.MatchID,
			RakeWallet: o.rakeCfg.WalletAddress,
			TokenMint:  w.Token.Mint,
			AmountRaw:  split.RakeRaw,
			Decimals:   decimals,
		})
		if err != nil {
			// The winner's payout is never held hostage by the rake leg.
			// Absorb the failure, pay the full pot, and leave the attempt in
			// the log for manual recovery.
			o.log.Warn().
				Err(err).
				Str("match_id", w.MatchID).
				Int64("rake_raw", split.RakeRaw).
				Msg("rake transfer failed; paying winner the full pot")
			rakeAmount = 0
			winnerPayout = totalPot
		} else {
			rakeTx = tx
		}
	}

	tx, err := o.signer.Payout(ctx, PayoutRequest{
		MatchID:      w.MatchID,
		WinnerWallet: winner.Wallet,
		LoserWallet:  loser.Wallet,
		TokenMint:    w.Token.Mint,
		AmountRaw:    winnerPayout,
		Decimals:     decimals,
	})
	if err != nil {
		// A rake leg that already succeeded is not rolled back; its tx id is
		// recorded on the failed settlement for manual reconciliation.
		if rakeTx != "" {
			o.ledger.SetStatusWithRake(ctx, w.MatchID, StatusFailed, "", err.Error(), RakeInfo{
				AmountRaw: rakeAmount,
				Percent:   o.rakeCfg.Percent,
				Tx:        rakeTx,
			})
		} else {
			o.ledger.SetStatus(ctx, w.MatchID, StatusFailed, "", err.Error())
		}
		o.log.Error().Err(err).Str("match_id", w.MatchID).Msg("winner payout failed")
		return nil, fmt.Errorf("settle %s: payout: %w", w.MatchID, err)
	}

	if split.Enabled {
		o.ledger.SetStatusWithRake(ctx, w.MatchID, StatusCompleted, tx, "", RakeInfo{
			AmountRaw:       rakeAmount,
			Percent:         o.rakeCfg.Percent,
			Tx:              rakeTx,
			WinnerPayoutRaw: winnerPayout,
		})
	} else {
		o.ledger.SetStatus(ctx, w.MatchID, StatusCompleted, tx, "")
	}

	outcome := &Outcome{
		MatchID:         w.MatchID,
		Status:          StatusCompleted,
		SettlementTx:    tx,
		TotalPotRaw:     totalPot,
		WinnerPayoutRaw: winnerPayout,
		RakeAmountRaw:   rakeAmount,
		RakePercent:     o.rakeCfg.Percent,
		RakeTx:          rakeTx,
	}
	o.remember(outcome)

	o.log.Info().
		Str("match_id", w.MatchID).
		Str("winner", winnerUID).
		Str("tx", tx).
		Float64("payout", DisplayAmount(winnerPayout, decimals)).
		Float64("rake", DisplayAmount(rakeAmount, decimals)).
		Msg("settlement completed")
	return outcome, nil
}

// HandleDraw refunds both players their stake after a drawn match.
func (o *Orchestrator) HandleDraw(ctx context.Context, w Wager) (*Outcome, error) {
	return o.refund(ctx, w, "draw")
}

// HandleVoid refunds both players after a disconnect, forfeit, or crash
// recovery. The reason is carried for audit only and never branches logic.
func (o *Orchestrator) HandleVoid(ctx context.Context, w Wager, reason string) (*Outcome, error) {
	return o.refund(ctx, w, reason)
}

func (o *Orchestrator) refund(ctx context.Context, w Wager, reason string) (*Outcome, error) {
	if !w.Staked() {
		return &Outcome{MatchID: w.MatchID, Status: StatusRefunded, NoStake: true}, nil
	}
	if err := o.acquire(w.MatchID); err != nil {
		return nil, err
	}
	defer o.release(w.MatchID)

	o.ledger.SetStatus(ctx, w.MatchID, StatusProcessing, "", "")

	if !o.signer.Ready(ctx) {
		o.ledger.SetStatus(ctx, w.MatchID, StatusManualReview, "", ErrSignerNotReady.Error())
		o.log.Error().Str("match_id", w.MatchID).Str("reason", reason).Msg("custodial signer not ready; refund needs manual review")
		return nil, fmt.Errorf("refund %s: %w", w.MatchID, ErrSignerNotReady)
	}

	if w.Players[0].Wallet == "" || w.Players[1].Wallet == "" {
		o.ledger.SetStatus(ctx, w.MatchID, StatusFailed, "", ErrMissingWallets.Error())
		return nil, fmt.Errorf("refund %s: %w", w.MatchID, ErrMissingWallets)
	}

	decimals := w.Token.EffectiveDecimals()
	txs, err := o.signer.Refund(ctx, RefundRequest{
		MatchID:       w.MatchID,
		Player1Wallet: w.Players[0].Wallet,
		Player2Wallet: w.Players[1].Wallet,
		TokenMint:     w.Token.Mint,
		AmountRaw:     w.Token.RawAmountPerPlayer,
		Decimals:      decimals,
	})
	if err != nil {
		o.ledger.SetStatus(ctx, w.MatchID, StatusFailed, "", err.Error())
		o.log.Error().Err(err).Str("match_id", w.MatchID).Str("reason", reason).Msg("refund failed")
		return nil, fmt.Errorf("refund %s: %w", w.MatchID, err)
	}

	o.ledger.SetStatus(ctx, w.MatchID, StatusRefunded, txs.First(), "")

	outcome := &Outcome{
		MatchID:     w.MatchID,
		Status:      StatusRefunded,
		RefundTxs:   txs,
		TotalPotRaw: w.TotalPotRaw(),
	}
	o.remember(outcome)

	o.log.Info().
		Str("match_id", w.MatchID).
		Str("reason", reason).
		Str("player1_tx", txs.Player1Tx).
		Str("player2_tx", txs.Player2Tx).
		Float64("refund_each", DisplayAmount(w.Token.RawAmountPerPlayer, decimals)).
		Msg("stakes refunded")
	return outcome, nil
}

// SettlementStatus returns the last known outcome for a match: the in-memory
// cache when this process performed the settlement, otherwise the persisted
// record.
func (o *Orchestrator) SettlementStatus(ctx context.Context, matchID string) (*Outcome, error) {
	o.mu.Lock()
	cached, ok := o.results[matchID]
	o.mu.Unlock()
	if ok {
		return cached, nil
	}

	m, err := o.store.Match(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		MatchID:         m.ID,
		Status:          m.SettlementStatus,
		SettlementTx:    m.SettlementTx,
		WinnerPayoutRaw: m.WinnerPayoutRaw,
		RakeAmountRaw:   m.RakeAmountRaw,
		RakePercent:     m.RakePercent,
		RakeTx:          m.RakeTx,
		Error:           m.SettlementError,
	}, nil
}

// Status summarizes engine health for ops tooling.
func (o *Orchestrator) Status(ctx context.Context) Health {
	o.mu.Lock()
	inFlight := len(o.inFlight)
	history := len(o.results)
	o.mu.Unlock()

	signerReady := o.signer.Ready(ctx)
	storeConnected := o.store.Connected(ctx)
	return Health{
		Ready:          signerReady && storeConnected,
		SignerReady:    signerReady,
		StoreConnected: storeConnected,
		RakeEnabled:    o.rakeCfg.WalletAddress != "",
		RakeWallet:     o.rakeCfg.MaskedWallet(),
		RakePercent:    o.rakeCfg.Percent,
		MinPotRaw:      o.rakeCfg.MinPotRaw,
		InFlight:       inFlight,
		History:        history,
	}
}

func (o *Orchestrator) acquire(matchID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[matchID]; busy {
		return fmt.Errorf("%w: %s", ErrSettlementInFlight, matchID)
	}
	o.inFlight[matchID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(matchID string) {
	o.mu.Lock()
	delete(o.inFlight, matchID)
	o.mu.Unlock()
}

func (o *Orchestrator) remember(outcome *Outcome) {
	o.mu.Lock()
	o.results[outcome.MatchID] = outcome
	o.mu.Unlock()
}
