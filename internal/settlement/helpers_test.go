package settlement

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memStore is an in-memory MatchStore for tests.
type memStore struct {
	mu        sync.Mutex
	matches   map[string]*Match
	failWrite error
	offline   bool
}

func newMemStore(matches ...Match) *memStore {
	s := &memStore{matches: make(map[string]*Match)}
	for _, m := range matches {
		copied := m
		s.matches[m.ID] = &copied
	}
	return s
}

func (s *memStore) get(id string) Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.matches[id]; ok {
		return *m
	}
	return Match{}
}

func (s *memStore) Match(_ context.Context, id string) (Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return Match{}, ErrMatchNotFound
	}
	return *m, nil
}

func (s *memStore) ActiveBefore(_ context.Context, cutoff time.Time) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Match
	for _, m := range s.matches {
		if m.State == MatchActive && m.StartedAt.Before(cutoff) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) PendingSettlements(_ context.Context) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Match
	for _, m := range s.matches {
		if m.State != MatchCompleted || m.Token == nil {
			continue
		}
		if m.SettlementStatus == StatusPending || m.SettlementStatus == StatusProcessing {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) UpdateMatch(_ context.Context, id string, update MatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	m, ok := s.matches[id]
	if !ok {
		m = &Match{ID: id}
		s.matches[id] = m
	}
	if update.State != nil {
		m.State = *update.State
	}
	if update.SettlementStatus != nil {
		m.SettlementStatus = *update.SettlementStatus
	}
	if update.SettlementTx != nil {
		m.SettlementTx = *update.SettlementTx
	}
	if update.SettlementError != nil {
		m.SettlementError = *update.SettlementError
	}
	if update.RakeAmountRaw != nil {
		m.RakeAmountRaw = *update.RakeAmountRaw
	}
	if update.RakePercent != nil {
		m.RakePercent = *update.RakePercent
	}
	if update.RakeTx != nil {
		m.RakeTx = *update.RakeTx
	}
	if update.WinnerPayoutRaw != nil {
		m.WinnerPayoutRaw = *update.WinnerPayoutRaw
	}
	if update.AbandonReason != nil {
		m.AbandonReason = *update.AbandonReason
	}
	return nil
}

func (s *memStore) Connected(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.offline
}

// mockSigner is a scriptable CustodialSigner for tests.
type mockSigner struct {
	mu sync.Mutex

	ready bool

	payoutTx  string
	payoutErr error
	payouts   []PayoutRequest

	rakeTx   string
	rakeErr  error
	rakes    []RakePayoutRequest

	refundTxs RefundTxIDs
	refundErr error
	refunds   []RefundRequest

	block chan struct{} // when set, Payout blocks until closed
}

func newMockSigner() *mockSigner {
	return &mockSigner{
		ready:     true,
		payoutTx:  "tx-payout",
		rakeTx:    "tx-rake",
		refundTxs: RefundTxIDs{Player1Tx: "tx-refund-1", Player2Tx: "tx-refund-2"},
	}
}

func (m *mockSigner) Ready(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *mockSigner) Payout(_ context.Context, req PayoutRequest) (string, error) {
	m.mu.Lock()
	m.payouts = append(m.payouts, req)
	block := m.block
	tx, err := m.payoutTx, m.payoutErr
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return tx, err
}

func (m *mockSigner) RakePayout(_ context.Context, req RakePayoutRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rakes = append(m.rakes, req)
	return m.rakeTx, m.rakeErr
}

func (m *mockSigner) Refund(_ context.Context, req RefundRequest) (RefundTxIDs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, req)
	return m.refundTxs, m.refundErr
}

func (m *mockSigner) PublicKey(context.Context) (string, error) {
	return "EscrowPubkey11111111111111111111", nil
}

func (m *mockSigner) AuditLog(context.Context, int) ([]AuditEntry, error) {
	return nil, errors.New("not implemented")
}

// tokenWager builds a wager with both players staking amount raw units.
func tokenWager(matchID string, amount int64) Wager {
	return Wager{
		MatchID: matchID,
		Players: [2]Player{
			{UID: "p1", Wallet: "Wallet1111111111111111111111111111"},
			{UID: "p2", Wallet: "Wallet2222222222222222222222222222"},
		},
		Token: &TokenStake{
			Mint:               "Mint333333333333333333333333333333",
			Decimals:           6,
			RawAmountPerPlayer: amount,
		},
	}
}
