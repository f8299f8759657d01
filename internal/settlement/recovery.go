package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultGracePeriod keeps the orphan sweep from racing a match that is still
// legitimately starting on a previous request.
const DefaultGracePeriod = 5 * time.Minute

// recoveryWorkers bounds the parallel per-match recoveries. Recoveries share
// no state, so they only contend on the signer.
const recoveryWorkers = 4

// RecoveryStats summarizes one orphan recovery sweep.
type RecoveryStats struct {
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Recoverer runs the two startup sweeps that close out work abandoned by a
// crashed process. Both run once, before the engine accepts live settlement
// requests.
type Recoverer struct {
	store MatchStore
	orch  *Orchestrator
	clock quartz.Clock
	grace time.Duration
	log   zerolog.Logger
}

// RecovererOption configures a Recoverer.
type RecovererOption func(*Recoverer)

// WithRecoveryClock overrides the wall clock, for tests.
func WithRecoveryClock(clock quartz.Clock) RecovererOption {
	return func(r *Recoverer) { r.clock = clock }
}

// WithGracePeriod overrides the orphan grace period.
func WithGracePeriod(grace time.Duration) RecovererOption {
	return func(r *Recoverer) { r.grace = grace }
}

// NewRecoverer wires the startup sweeps.
func NewRecoverer(store MatchStore, orch *Orchestrator, logger zerolog.Logger, opts ...RecovererOption) *Recoverer {
	r := &Recoverer{
		store: store,
		orch:  orch,
		clock: quartz.NewReal(),
		grace: DefaultGracePeriod,
		log:   logger.With().Str("component", "recovery").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecoverOrphanedMatches finds matches left active by a dead process and
// drives token-staked ones through a void refund. Per-match failures are
// isolated: one failing recovery never aborts the sweep.
func (r *Recoverer) RecoverOrphanedMatches(ctx context.Context) (RecoveryStats, error) {
	cutoff := r.clock.Now().Add(-r.grace)
	matches, err := r.store.ActiveBefore(ctx, cutoff)
	if err != nil {
		return RecoveryStats{}, fmt.Errorf("query orphaned matches: %w", err)
	}
	if len(matches) == 0 {
		r.log.Info().Msg("no orphaned matches found")
		return RecoveryStats{}, nil
	}
	r.log.Warn().Int("count", len(matches)).Time("cutoff", cutoff).Msg("recovering orphaned matches")

	var mu sync.Mutex
	stats := RecoveryStats{Total: len(matches)}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryWorkers)
	for _, m := range matches {
		g.Go(func() error {
			ok := r.recoverOne(ctx, m)
			mu.Lock()
			if ok {
				stats.Recovered++
			} else {
				stats.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are counted

	r.log.Info().
		Int("recovered", stats.Recovered).
		Int("failed", stats.Failed).
		Int("total", stats.Total).
		Msg("orphan recovery sweep finished")
	return stats, nil
}

func (r *Recoverer) recoverOne(ctx context.Context, m Match) bool {
	log := r.log.With().Str("match_id", m.ID).Logger()

	if m.Token == nil || m.Token.RawAmountPerPlayer <= 0 {
		// Coin balances are owned by another subsystem; flag rather than
		// invent a refund path.
		if m.CoinStake > 0 {
			r.abandon(ctx, m.ID, StatusManualReview, "coin stake refund is handled outside the settlement engine")
			log.Warn().Int64("coin_stake", m.CoinStake).Msg("orphaned coin-stake match flagged for manual review")
		} else {
			r.abandon(ctx, m.ID, "", "")
			log.Info().Msg("orphaned free match abandoned")
		}
		return true
	}

	_, err := r.orch.HandleVoid(ctx, m.Wager(), "server_restart")
	if err != nil {
		r.abandon(ctx, m.ID, StatusManualReview, err.Error())
		log.Error().Err(err).Msg("orphan refund failed; flagged for manual review")
		return false
	}

	r.abandon(ctx, m.ID, StatusRefunded, "")
	log.Info().Msg("orphaned match refunded")
	return true
}

// abandon moves a match out of the active state. An empty status leaves the
// settlement fields untouched.
func (r *Recoverer) abandon(ctx context.Context, matchID string, status Status, errMsg string) {
	state := MatchAbandoned
	reason := "server_restart"
	update := MatchUpdate{State: &state, AbandonReason: &reason}
	if status != "" {
		update.SettlementStatus = &status
	}
	if errMsg != "" {
		update.SettlementError = &errMsg
	}
	if err := r.store.UpdateMatch(ctx, matchID, update); err != nil {
		r.log.Warn().Err(err).Str("match_id", matchID).Msg("abandon update failed")
	}
}

// ProcessPendingSettlements finds settlements that were mid-flight when the
// previous process died and marks them for manual review. The in-memory
// match/winner context does not survive a crash, so automatic resumption is
// unsafe: fail safe, not silently. Returns the number of matches processed.
func (r *Recoverer) ProcessPendingSettlements(ctx context.Context) (int, error) {
	matches, err := r.store.PendingSettlements(ctx)
	if err != nil {
		return 0, fmt.Errorf("query pending settlements: %w", err)
	}

	processed := 0
	for _, m := range matches {
		status := StatusManualReview
		errMsg := "settlement interrupted by process restart"
		err := r.store.UpdateMatch(ctx, m.ID, MatchUpdate{
			SettlementStatus: &status,
			SettlementError:  &errMsg,
		})
		if err != nil {
			r.log.Warn().Err(err).Str("match_id", m.ID).Msg("pending settlement update failed")
			continue
		}
		processed++
		r.log.Warn().
			Str("match_id", m.ID).
			Str("previous", string(m.SettlementStatus)).
			Msg("mid-flight settlement moved to manual review")
	}

	if processed > 0 || len(matches) > 0 {
		r.log.Info().Int("processed", processed).Int("found", len(matches)).Msg("pending settlement sweep finished")
	}
	return processed, nil
}
