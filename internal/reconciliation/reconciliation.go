// Package reconciliation implements the statement-period reconciliation
// session: a state machine tracking which transactions have cleared against
// a statement balance and whether the period balances.
package reconciliation

import (
	"fmt"
	"time"

	"fjacquet/bank-recon/internal/events"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconerror"
	"fjacquet/bank-recon/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a custom logger.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Service runs reconciliation sessions over the stored transactions.
type Service struct {
	sessions     store.SessionStore
	transactions store.TransactionStore
	sink         events.Sink
}

// NewService creates a reconciliation service. A nil sink disables events.
func NewService(sessions store.SessionStore, transactions store.TransactionStore, sink events.Sink) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Service{sessions: sessions, transactions: transactions, sink: sink}
}

// Start opens a session for the account. The book balance snapshot is the
// sum of amounts already reconciled by prior completed sessions, so that
// clearing every new statement line drives the difference to zero. Fails
// with SessionAlreadyOpenError when an open session exists.
func (s *Service) Start(accountID string, statementDate time.Time, statementBalance decimal.Decimal) (*models.ReconciliationSession, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	snapshot, err := s.reconciledBalance(accountID)
	if err != nil {
		return nil, err
	}

	sess := &models.ReconciliationSession{
		ID:                    uuid.New().String(),
		AccountID:             accountID,
		StatementDate:         statementDate,
		StatementBalance:      statementBalance,
		BookBalanceSnapshot:   snapshot,
		ClearedTransactionIDs: make(map[string]struct{}),
		Status:                models.SessionOpen,
		Difference:            statementBalance.Sub(snapshot),
	}
	if err := s.sessions.Create(sess); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"session_id":    sess.ID,
		"account_id":    accountID,
		"book_snapshot": snapshot.StringFixed(2),
	}).Info("Reconciliation session started")
	return sess, nil
}

// ClearTransaction marks a transaction cleared in the session and recomputes
// the difference.
func (s *Service) ClearTransaction(sessionID, bankTransactionID string) (*models.ReconciliationSession, error) {
	return s.setCleared(sessionID, bankTransactionID, true)
}

// UnclearTransaction removes a transaction from the cleared set and
// recomputes the difference.
func (s *Service) UnclearTransaction(sessionID, bankTransactionID string) (*models.ReconciliationSession, error) {
	return s.setCleared(sessionID, bankTransactionID, false)
}

func (s *Service) setCleared(sessionID, bankTransactionID string, cleared bool) (*models.ReconciliationSession, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionOpen {
		return nil, fmt.Errorf("session %s is %s, not open", sessionID, sess.Status)
	}

	tx, err := s.transactions.Get(bankTransactionID)
	if err != nil {
		return nil, err
	}
	if tx.AccountID != sess.AccountID {
		return nil, fmt.Errorf("transaction %s belongs to account %s, not %s", bankTransactionID, tx.AccountID, sess.AccountID)
	}

	if cleared {
		sess.ClearedTransactionIDs[bankTransactionID] = struct{}{}
	} else {
		delete(sess.ClearedTransactionIDs, bankTransactionID)
	}
	if err := s.recomputeDifference(sess); err != nil {
		return nil, err
	}
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Complete seals the session. It requires a zero difference unless an
// override with a recorded justification is supplied; on success all cleared
// transactions are flagged reconciled.
func (s *Service) Complete(sessionID string, override bool, justification string) (*models.ReconciliationSession, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionOpen {
		return nil, fmt.Errorf("session %s is %s, not open", sessionID, sess.Status)
	}

	if err := s.recomputeDifference(sess); err != nil {
		return nil, err
	}
	if !sess.Difference.IsZero() {
		if !override {
			return nil, &reconerror.ReconciliationOutOfBalanceError{
				SessionID:  sessionID,
				Difference: sess.Difference.StringFixed(2),
			}
		}
		if justification == "" {
			return nil, fmt.Errorf("out-of-balance override requires a justification")
		}
		sess.OverrideJustification = justification
	}

	sess.Status = models.SessionCompleted
	sess.CompletedAt = time.Now().UTC()
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}
	for txID := range sess.ClearedTransactionIDs {
		if err := s.transactions.SetReconciled(txID, true); err != nil {
			return nil, err
		}
	}

	s.sink.Emit(events.New(events.ReconciliationCompleted, sess.AccountID, map[string]interface{}{
		"session_id": sess.ID,
		"cleared":    len(sess.ClearedTransactionIDs),
		"difference": sess.Difference.StringFixed(2),
		"override":   override,
	}))
	log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"cleared":    len(sess.ClearedTransactionIDs),
	}).Info("Reconciliation session completed")
	return sess, nil
}

// Cancel discards an open session. Clearance flags committed by prior
// completed sessions are untouched.
func (s *Service) Cancel(sessionID string) (*models.ReconciliationSession, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionOpen {
		return nil, fmt.Errorf("session %s is %s, not open", sessionID, sess.Status)
	}
	sess.Status = models.SessionCancelled
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Reopen reverts a completed session to open so its matches can be undone.
// The reconciled flag on its cleared transactions is lifted; it fails when
// the account has another open session.
func (s *Service) Reopen(sessionID string) (*models.ReconciliationSession, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionCompleted {
		return nil, fmt.Errorf("session %s is %s, only completed sessions reopen", sessionID, sess.Status)
	}
	if open, ok := s.sessions.OpenForAccount(sess.AccountID); ok {
		return nil, &reconerror.SessionAlreadyOpenError{AccountID: sess.AccountID, SessionID: open.ID}
	}

	for txID := range sess.ClearedTransactionIDs {
		if err := s.transactions.SetReconciled(txID, false); err != nil {
			return nil, err
		}
	}
	sess.Status = models.SessionOpen
	sess.CompletedAt = time.Time{}
	sess.OverrideJustification = ""
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}

	log.WithField("session_id", sess.ID).Info("Reconciliation session reopened")
	return sess, nil
}

// OpenSession returns the account's open session, if any.
func (s *Service) OpenSession(accountID string) (*models.ReconciliationSession, bool) {
	return s.sessions.OpenForAccount(accountID)
}

// recomputeDifference applies
// difference = statementBalance - (bookBalanceSnapshot + sum(cleared amounts)).
func (s *Service) recomputeDifference(sess *models.ReconciliationSession) error {
	cleared := decimal.Zero
	for txID := range sess.ClearedTransactionIDs {
		tx, err := s.transactions.Get(txID)
		if err != nil {
			return err
		}
		cleared = cleared.Add(tx.Amount)
	}
	sess.Difference = sess.StatementBalance.Sub(sess.BookBalanceSnapshot.Add(cleared))
	return nil
}

// reconciledBalance sums the amounts of the account's transactions already
// flagged reconciled by prior sessions.
func (s *Service) reconciledBalance(accountID string) (decimal.Decimal, error) {
	txs, err := s.transactions.ListByAccount(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Reconciled {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}
