// Package sqlite provides a SQLite-backed match store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/settled/internal/settlement"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id                TEXT PRIMARY KEY,
	state             TEXT NOT NULL DEFAULT 'active',
	started_at        INTEGER NOT NULL DEFAULT 0,
	player1_uid       TEXT NOT NULL DEFAULT '',
	player1_wallet    TEXT NOT NULL DEFAULT '',
	player2_uid       TEXT NOT NULL DEFAULT '',
	player2_wallet    TEXT NOT NULL DEFAULT '',
	token_mint        TEXT,
	token_decimals    INTEGER NOT NULL DEFAULT 0,
	token_amount_raw  INTEGER NOT NULL DEFAULT 0,
	coin_stake        INTEGER NOT NULL DEFAULT 0,
	settlement_status TEXT NOT NULL DEFAULT '',
	settlement_tx     TEXT NOT NULL DEFAULT '',
	settlement_error  TEXT NOT NULL DEFAULT '',
	rake_amount_raw   INTEGER NOT NULL DEFAULT 0,
	rake_percent      REAL NOT NULL DEFAULT 0,
	rake_tx           TEXT NOT NULL DEFAULT '',
	winner_payout_raw INTEGER NOT NULL DEFAULT 0,
	abandon_reason    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_matches_state_started ON matches(state, started_at);
CREATE INDEX IF NOT EXISTS idx_matches_settlement ON matches(state, settlement_status);
`

// Store persists match records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite match store and bootstraps the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const matchColumns = `id, state, started_at,
	player1_uid, player1_wallet, player2_uid, player2_wallet,
	token_mint, token_decimals, token_amount_raw, coin_stake,
	settlement_status, settlement_tx, settlement_error,
	rake_amount_raw, rake_percent, rake_tx, winner_payout_raw, abandon_reason`

// CreateMatch inserts one match record. Used by the game-side caller when a
// match starts.
func (s *Store) CreateMatch(ctx context.Context, m settlement.Match) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("match id is required")
	}
	state := m.State
	if state == "" {
		state = settlement.MatchActive
	}
	var mint sql.NullString
	var decimals int
	var amountRaw int64
	if m.Token != nil {
		mint = sql.NullString{String: m.Token.Mint, Valid: true}
		decimals = m.Token.Decimals
		amountRaw = m.Token.RawAmountPerPlayer
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(state), toMillis(m.StartedAt),
		m.Players[0].UID, m.Players[0].Wallet, m.Players[1].UID, m.Players[1].Wallet,
		mint, decimals, amountRaw, m.CoinStake,
		string(m.SettlementStatus), m.SettlementTx, m.SettlementError,
		m.RakeAmountRaw, m.RakePercent, m.RakeTx, m.WinnerPayoutRaw, m.AbandonReason,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// Match returns one match by id.
func (s *Store) Match(ctx context.Context, id string) (settlement.Match, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Match{}, settlement.ErrMatchNotFound
	}
	return m, err
}

// ActiveBefore returns active matches started before cutoff.
func (s *Store) ActiveBefore(ctx context.Context, cutoff time.Time) ([]settlement.Match, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE state = ? AND started_at < ? ORDER BY started_at`,
		string(settlement.MatchActive), toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query active matches: %w", err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

// PendingSettlements returns completed token-staked matches whose settlement
// is still pending or processing.
func (s *Store) PendingSettlements(ctx context.Context) ([]settlement.Match, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE state = ? AND token_mint IS NOT NULL AND settlement_status IN (?, ?)
		 ORDER BY started_at`,
		string(settlement.MatchCompleted),
		string(settlement.StatusPending), string(settlement.StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending settlements: %w", err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

// UpdateMatch applies a patch to one match record.
func (s *Store) UpdateMatch(ctx context.Context, id string, update settlement.MatchUpdate) error {
	var sets []string
	var args []any
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if update.State != nil {
		add("state", string(*update.State))
	}
	if update.SettlementStatus != nil {
		add("settlement_status", string(*update.SettlementStatus))
	}
	if update.SettlementTx != nil {
		add("settlement_tx", *update.SettlementTx)
	}
	if update.SettlementError != nil {
		add("settlement_error", *update.SettlementError)
	}
	if update.RakeAmountRaw != nil {
		add("rake_amount_raw", *update.RakeAmountRaw)
	}
	if update.RakePercent != nil {
		add("rake_percent", *update.RakePercent)
	}
	if update.RakeTx != nil {
		add("rake_tx", *update.RakeTx)
	}
	if update.WinnerPayoutRaw != nil {
		add("winner_payout_raw", *update.WinnerPayoutRaw)
	}
	if update.AbandonReason != nil {
		add("abandon_reason", *update.AbandonReason)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE matches SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if affected == 0 {
		return settlement.ErrMatchNotFound
	}
	return nil
}

// Connected reports whether the database handle still responds.
func (s *Store) Connected(ctx context.Context) bool {
	if s == nil || s.sqlDB == nil {
		return false
	}
	return s.sqlDB.PingContext(ctx) == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (settlement.Match, error) {
	var (
		m         settlement.Match
		state     string
		startedAt int64
		status    string
		mint      sql.NullString
		decimals  int
		amountRaw int64
	)
	err := row.Scan(
		&m.ID, &state, &startedAt,
		&m.Players[0].UID, &m.Players[0].Wallet, &m.Players[1].UID, &m.Players[1].Wallet,
		&mint, &decimals, &amountRaw, &m.CoinStake,
		&status, &m.SettlementTx, &m.SettlementError,
		&m.RakeAmountRaw, &m.RakePercent, &m.RakeTx, &m.WinnerPayoutRaw, &m.AbandonReason,
	)
	if err != nil {
		return settlement.Match{}, err
	}
	m.State = settlement.MatchState(state)
	m.StartedAt = fromMillis(startedAt)
	m.SettlementStatus = settlement.Status(status)
	if mint.Valid {
		m.Token = &settlement.TokenStake{
			Mint:               mint.String,
			Decimals:           decimals,
			RawAmountPerPlayer: amountRaw,
		}
	}
	return m, nil
}

func scanMatches(rows *sql.Rows) ([]settlement.Match, error) {
	var out []settlement.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}
