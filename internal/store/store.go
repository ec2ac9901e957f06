// Package store defines the persistence boundaries of the matching engine and
// ships memory-backed reference implementations. The persistence technology
// itself is an external concern; everything the engine needs is expressed as
// an interface so a database-backed implementation can be swapped in.
package store

import (
	"context"
	"time"

	"fjacquet/bank-recon/internal/models"

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

// DateWindow bounds a candidate query by date. Zero values mean unbounded.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// AmountWindow bounds a candidate query by absolute amount. Nil bounds mean
// unbounded.
type AmountWindow struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

// Contains reports whether the absolute amount falls inside the window.
func (w AmountWindow) Contains(amount decimal.Decimal) bool {
	abs := amount.Abs()
	if w.Min != nil && abs.Cmp(*w.Min) < 0 {
		return false
	}
	if w.Max != nil && abs.Cmp(*w.Max) > 0 {
		return false
	}
	return true
}

// TransactionStore persists imported bank transactions. Insert must be atomic
// with respect to the per-account dedupe check so concurrent imports of
// overlapping files cannot create duplicate rows.
type TransactionStore interface {
	// Insert stores the transaction unless one with the same dedupe hash
	// already exists for the account; the bool reports whether a row was
	// created.
	Insert(tx *models.BankTransaction) (bool, error)
	Get(id string) (*models.BankTransaction, error)
	ListByAccount(accountID string) ([]*models.BankTransaction, error)
	ListUnmatched(accountID string) ([]*models.BankTransaction, error)
	UpdateStatus(id string, status models.TransactionStatus) error
	SetReconciled(id string, reconciled bool) error
}

// MatchStore persists transaction matches and owns the two matching
// invariants: at most one active match per bank transaction, and
// first-confirmed-wins candidate claims.
type MatchStore interface {
	// Create stores a new match; it fails when the transaction already has an
	// active (suggested or confirmed) match.
	Create(m *models.TransactionMatch) error
	Get(id string) (*models.TransactionMatch, error)
	// Confirm transitions suggested->confirmed and atomically claims every
	// split candidate. Re-confirming an already-confirmed match reports
	// alreadyConfirmed=true and changes nothing.
	Confirm(id, confirmedBy string) (m *models.TransactionMatch, alreadyConfirmed bool, err error)
	// Reject transitions suggested->rejected.
	Reject(id, reason string) (*models.TransactionMatch, error)
	// Remove deletes a confirmed match and releases its candidate claims.
	Remove(id string) (*models.TransactionMatch, error)
	ActiveForTransaction(bankTransactionID string) (*models.TransactionMatch, error)
	// ClaimedBy returns the confirmed match holding the candidate, if any.
	ClaimedBy(candidateID string) (string, bool)
}

// SessionStore persists reconciliation sessions and enforces the one open
// session per account invariant.
type SessionStore interface {
	// Create stores a new open session; it fails when the account already has
	// an open one.
	Create(s *models.ReconciliationSession) error
	Get(id string) (*models.ReconciliationSession, error)
	OpenForAccount(accountID string) (*models.ReconciliationSession, bool)
	Update(s *models.ReconciliationSession) error
}

// CandidateSource is the consumed query interface over the external record
// systems (invoices, payments, expenses). The engine never owns or persists
// candidate records.
type CandidateSource interface {
	FindUnmatchedCandidates(ctx context.Context, accountID string, dateWindow DateWindow, amountWindow AmountWindow) ([]models.CandidateRecord, error)
}
