package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconerror"
)

// nowFunc is swappable in tests that assert confirmation timestamps.
var nowFunc = time.Now

// MemoryTransactionStore is the in-memory TransactionStore. A single mutex
// covers the dedupe index and the row map so check-and-insert is atomic.
type MemoryTransactionStore struct {
	mu     sync.RWMutex
	byID   map[string]*models.BankTransaction
	hashes map[string]map[string]string // accountID -> dedupeHash -> txID
}

// NewMemoryTransactionStore creates an empty transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{
		byID:   make(map[string]*models.BankTransaction),
		hashes: make(map[string]map[string]string),
	}
}

// Insert stores the transaction unless its dedupe hash is already present for
// the account.
func (s *MemoryTransactionStore) Insert(tx *models.BankTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accountHashes, ok := s.hashes[tx.AccountID]
	if !ok {
		accountHashes = make(map[string]string)
		s.hashes[tx.AccountID] = accountHashes
	}
	if existing, dup := accountHashes[tx.DedupeHash]; dup {
		log.WithFields(map[string]interface{}{
			"account_id": tx.AccountID,
			"duplicate":  existing,
		}).Debug("Skipping duplicate transaction")
		return false, nil
	}

	copied := *tx
	s.byID[tx.ID] = &copied
	accountHashes[tx.DedupeHash] = tx.ID
	return true, nil
}

// Get returns a copy of the stored transaction.
func (s *MemoryTransactionStore) Get(id string) (*models.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, reconerror.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

// ListByAccount returns the account transactions ordered by posted date, then
// by id for a stable tiebreak.
func (s *MemoryTransactionStore) ListByAccount(accountID string) ([]*models.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BankTransaction
	for _, tx := range s.byID {
		if tx.AccountID != accountID {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}
	sortTransactions(out)
	return out, nil
}

// ListUnmatched returns the account transactions still awaiting a match,
// ordered like ListByAccount.
func (s *MemoryTransactionStore) ListUnmatched(accountID string) ([]*models.BankTransaction, error) {
	all, err := s.ListByAccount(accountID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, tx := range all {
		if tx.Status == models.StatusUnmatched || tx.Status == models.StatusSuggested {
			out = append(out, tx)
		}
	}
	return out, nil
}

// UpdateStatus sets the matching lifecycle status of a transaction. Illegal
// transitions (e.g. matched to suggested without an unmatch) are rejected.
func (s *MemoryTransactionStore) UpdateStatus(id string, status models.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return reconerror.ErrTransactionNotFound
	}
	if !tx.Status.CanTransitionTo(status) {
		return fmt.Errorf("transaction %s cannot go from %s to %s", id, tx.Status, status)
	}
	tx.Status = status
	return nil
}

// SetReconciled flags a transaction as cleared by a completed session.
func (s *MemoryTransactionStore) SetReconciled(id string, reconciled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return reconerror.ErrTransactionNotFound
	}
	tx.Reconciled = reconciled
	return nil
}

func sortTransactions(txs []*models.BankTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].PostedDate.Equal(txs[j].PostedDate) {
			return txs[i].PostedDate.Before(txs[j].PostedDate)
		}
		return txs[i].ID < txs[j].ID
	})
}

// MemoryMatchStore is the in-memory MatchStore. One mutex covers the match
// map, the per-transaction active index and the candidate claim index, making
// every state transition atomic.
type MemoryMatchStore struct {
	mu       sync.RWMutex
	byID     map[string]*models.TransactionMatch
	activeBy map[string]string // bankTransactionID -> active matchID
	claims   map[string]string // candidateID -> confirmed matchID
}

// NewMemoryMatchStore creates an empty match store.
func NewMemoryMatchStore() *MemoryMatchStore {
	return &MemoryMatchStore{
		byID:     make(map[string]*models.TransactionMatch),
		activeBy: make(map[string]string),
		claims:   make(map[string]string),
	}
}

// Create stores a new match unless its transaction already has an active one.
func (s *MemoryMatchStore) Create(m *models.TransactionMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.activeBy[m.BankTransactionID]; ok {
		return &reconerror.MatchStateError{
			MatchID: existing,
			State:   string(s.byID[existing].Status),
			Op:      "replace",
		}
	}

	copied := cloneMatch(m)
	s.byID[m.ID] = copied
	if copied.IsActive() {
		s.activeBy[m.BankTransactionID] = m.ID
	}
	if copied.Status == models.MatchConfirmed {
		for _, split := range copied.Splits {
			s.claims[split.CandidateID] = m.ID
		}
	}
	return nil
}

// Get returns a copy of the stored match.
func (s *MemoryMatchStore) Get(id string) (*models.TransactionMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, reconerror.ErrMatchNotFound
	}
	return cloneMatch(m), nil
}

// Confirm transitions suggested->confirmed and claims every split candidate.
// The whole operation happens under one lock, so two confirms racing for the
// same candidate resolve first-wins.
func (s *MemoryMatchStore) Confirm(id, confirmedBy string) (*models.TransactionMatch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, false, reconerror.ErrMatchNotFound
	}
	switch m.Status {
	case models.MatchConfirmed:
		return cloneMatch(m), true, nil
	case models.MatchRejected:
		return nil, false, &reconerror.MatchStateError{MatchID: id, State: string(m.Status), Op: "confirm"}
	}

	for _, split := range m.Splits {
		if holder, claimed := s.claims[split.CandidateID]; claimed && holder != id {
			return nil, false, &reconerror.CandidateAlreadyMatchedError{
				CandidateID: split.CandidateID,
				MatchID:     holder,
			}
		}
	}

	m.Status = models.MatchConfirmed
	m.ConfirmedBy = confirmedBy
	m.ConfirmedAt = nowFunc()
	for _, split := range m.Splits {
		s.claims[split.CandidateID] = id
	}
	return cloneMatch(m), false, nil
}

// Reject transitions suggested->rejected and frees the transaction for new
// matches.
func (s *MemoryMatchStore) Reject(id, reason string) (*models.TransactionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, reconerror.ErrMatchNotFound
	}
	if m.Status != models.MatchSuggested {
		return nil, &reconerror.MatchStateError{MatchID: id, State: string(m.Status), Op: "reject"}
	}

	m.Status = models.MatchRejected
	m.RejectReason = reason
	delete(s.activeBy, m.BankTransactionID)
	return cloneMatch(m), nil
}

// Remove deletes a confirmed match and releases its candidate claims.
func (s *MemoryMatchStore) Remove(id string) (*models.TransactionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, reconerror.ErrMatchNotFound
	}
	if m.Status != models.MatchConfirmed {
		return nil, &reconerror.MatchStateError{MatchID: id, State: string(m.Status), Op: "unmatch"}
	}

	for _, split := range m.Splits {
		if s.claims[split.CandidateID] == id {
			delete(s.claims, split.CandidateID)
		}
	}
	delete(s.activeBy, m.BankTransactionID)
	delete(s.byID, id)
	return cloneMatch(m), nil
}

// ActiveForTransaction returns the suggested or confirmed match holding the
// transaction, or ErrMatchNotFound.
func (s *MemoryMatchStore) ActiveForTransaction(bankTransactionID string) (*models.TransactionMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeBy[bankTransactionID]
	if !ok {
		return nil, reconerror.ErrMatchNotFound
	}
	return cloneMatch(s.byID[id]), nil
}

// ClaimedBy returns the confirmed match holding the candidate, if any.
func (s *MemoryMatchStore) ClaimedBy(candidateID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.claims[candidateID]
	return id, ok
}

func cloneMatch(m *models.TransactionMatch) *models.TransactionMatch {
	copied := *m
	copied.Splits = append([]models.MatchSplit(nil), m.Splits...)
	return &copied
}

// MemorySessionStore is the in-memory SessionStore.
type MemorySessionStore struct {
	mu     sync.RWMutex
	byID   map[string]*models.ReconciliationSession
	openBy map[string]string // accountID -> open sessionID
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		byID:   make(map[string]*models.ReconciliationSession),
		openBy: make(map[string]string),
	}
}

// Create stores a new open session unless the account already has one.
func (s *MemorySessionStore) Create(sess *models.ReconciliationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if openID, ok := s.openBy[sess.AccountID]; ok {
		return &reconerror.SessionAlreadyOpenError{AccountID: sess.AccountID, SessionID: openID}
	}

	copied := cloneSession(sess)
	s.byID[sess.ID] = copied
	if copied.Status == models.SessionOpen {
		s.openBy[sess.AccountID] = sess.ID
	}
	return nil
}

// Get returns a copy of the stored session.
func (s *MemorySessionStore) Get(id string) (*models.ReconciliationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, reconerror.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// OpenForAccount returns the open session for the account, if any.
func (s *MemorySessionStore) OpenForAccount(accountID string) (*models.ReconciliationSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.openBy[accountID]
	if !ok {
		return nil, false
	}
	return cloneSession(s.byID[id]), true
}

// Update replaces the stored session state and maintains the open-session
// index across status transitions.
func (s *MemorySessionStore) Update(sess *models.ReconciliationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[sess.ID]; !ok {
		return reconerror.ErrSessionNotFound
	}

	copied := cloneSession(sess)
	s.byID[sess.ID] = copied
	if copied.Status == models.SessionOpen {
		s.openBy[sess.AccountID] = sess.ID
	} else if s.openBy[sess.AccountID] == sess.ID {
		delete(s.openBy, sess.AccountID)
	}
	return nil
}

func cloneSession(sess *models.ReconciliationSession) *models.ReconciliationSession {
	copied := *sess
	copied.ClearedTransactionIDs = make(map[string]struct{}, len(sess.ClearedTransactionIDs))
	for id := range sess.ClearedTransactionIDs {
		copied.ClearedTransactionIDs[id] = struct{}{}
	}
	return &copied
}

// MemoryCandidateSource serves candidates from a fixed in-memory slice,
// primarily for tests and for CSV-loaded candidate files.
type MemoryCandidateSource struct {
	mu         sync.RWMutex
	candidates []models.CandidateRecord
}

// NewMemoryCandidateSource creates a source over the given records.
func NewMemoryCandidateSource(candidates []models.CandidateRecord) *MemoryCandidateSource {
	return &MemoryCandidateSource{candidates: append([]models.CandidateRecord(nil), candidates...)}
}

// Add appends more candidate records to the source.
func (s *MemoryCandidateSource) Add(candidates ...models.CandidateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidates...)
}

// FindUnmatchedCandidates filters the records by account and the requested
// windows, ordered by date then id so repeated queries return the same order.
func (s *MemoryCandidateSource) FindUnmatchedCandidates(ctx context.Context, accountID string, dateWindow DateWindow, amountWindow AmountWindow) ([]models.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CandidateRecord
	for _, c := range s.candidates {
		if c.AccountID != "" && accountID != "" && c.AccountID != accountID {
			continue
		}
		if !dateWindow.Contains(c.Date) {
			continue
		}
		if !amountWindow.Contains(c.Amount) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
