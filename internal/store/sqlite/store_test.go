package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/settled/internal/settlement"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "matches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stakedMatch(id string, startedAt time.Time) settlement.Match {
	return settlement.Match{
		ID:        id,
		State:     settlement.MatchActive,
		StartedAt: startedAt,
		Players: [2]settlement.Player{
			{UID: "p1", Wallet: "Wallet1111"},
			{UID: "p2", Wallet: "Wallet2222"},
		},
		Token: &settlement.TokenStake{
			Mint:               "Mint3333",
			Decimals:           6,
			RawAmountPerPlayer: 500,
		},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("  ")
	require.Error(t, err)
}

func TestMatchRoundtrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	startedAt := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateMatch(ctx, stakedMatch("m1", startedAt)))

	got, err := s.Match(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, settlement.MatchActive, got.State)
	assert.Equal(t, startedAt, got.StartedAt)
	assert.Equal(t, "p2", got.Players[1].UID)
	require.NotNil(t, got.Token)
	assert.Equal(t, int64(500), got.Token.RawAmountPerPlayer)

	_, err = s.Match(ctx, "missing")
	require.ErrorIs(t, err, settlement.ErrMatchNotFound)
}

func TestCoinOnlyMatchHasNilToken(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMatch(ctx, settlement.Match{
		ID:        "coins",
		State:     settlement.MatchActive,
		StartedAt: time.Now(),
		CoinStake: 250,
	}))

	got, err := s.Match(ctx, "coins")
	require.NoError(t, err)
	assert.Nil(t, got.Token)
	assert.Equal(t, int64(250), got.CoinStake)
}

func TestActiveBefore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateMatch(ctx, stakedMatch("old", now.Add(-10*time.Minute))))
	require.NoError(t, s.CreateMatch(ctx, stakedMatch("fresh", now.Add(-1*time.Minute))))

	done := stakedMatch("done", now.Add(-10*time.Minute))
	done.State = settlement.MatchCompleted
	require.NoError(t, s.CreateMatch(ctx, done))

	got, err := s.ActiveBefore(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}

func TestPendingSettlements(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	stuck := stakedMatch("stuck", now)
	stuck.State = settlement.MatchCompleted
	stuck.SettlementStatus = settlement.StatusProcessing
	require.NoError(t, s.CreateMatch(ctx, stuck))

	settled := stakedMatch("settled", now)
	settled.State = settlement.MatchCompleted
	settled.SettlementStatus = settlement.StatusCompleted
	require.NoError(t, s.CreateMatch(ctx, settled))

	// Completed but no token stake: nothing to reconcile.
	require.NoError(t, s.CreateMatch(ctx, settlement.Match{
		ID:               "coins",
		State:            settlement.MatchCompleted,
		StartedAt:        now,
		CoinStake:        100,
		SettlementStatus: settlement.StatusPending,
	}))

	got, err := s.PendingSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stuck", got[0].ID)
}

func TestUpdateMatchPatchSemantics(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMatch(ctx, stakedMatch("m1", time.Now())))

	status := settlement.StatusCompleted
	tx := "tx-1"
	rakeTx := "tx-rake"
	rakeRaw := int64(50)
	payout := int64(950)
	require.NoError(t, s.UpdateMatch(ctx, "m1", settlement.MatchUpdate{
		SettlementStatus: &status,
		SettlementTx:     &tx,
		RakeTx:           &rakeTx,
		RakeAmountRaw:    &rakeRaw,
		WinnerPayoutRaw:  &payout,
	}))

	got, err := s.Match(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, got.SettlementStatus)
	assert.Equal(t, "tx-1", got.SettlementTx)
	assert.Equal(t, "tx-rake", got.RakeTx)
	assert.Equal(t, int64(50), got.RakeAmountRaw)
	assert.Equal(t, int64(950), got.WinnerPayoutRaw)
	assert.Equal(t, settlement.MatchActive, got.State, "untouched fields keep their values")

	// Empty patch is a no-op, not an error.
	require.NoError(t, s.UpdateMatch(ctx, "m1", settlement.MatchUpdate{}))

	err = s.UpdateMatch(ctx, "missing", settlement.MatchUpdate{SettlementStatus: &status})
	require.ErrorIs(t, err, settlement.ErrMatchNotFound)
}

func TestConnected(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	assert.True(t, s.Connected(context.Background()))
	require.NoError(t, s.Close())
	assert.False(t, s.Connected(context.Background()))
}
