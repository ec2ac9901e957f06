// Package reconerror defines the typed errors surfaced by the reconciliation engine.
package reconerror

import (
	"errors"
	"fmt"
)

// ErrMatchNotFound is returned when a match id does not resolve to a stored match.
var ErrMatchNotFound = errors.New("match not found")

// ErrTransactionNotFound is returned when a bank transaction id is unknown.
var ErrTransactionNotFound = errors.New("bank transaction not found")

// ErrSessionNotFound is returned when a reconciliation session id is unknown.
var ErrSessionNotFound = errors.New("reconciliation session not found")

// ParseError represents a file-level parsing failure (malformed file, wrong
// framing, zero parseable rows).
type ParseError struct {
	Format string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RowError records a single unparseable row. Row errors are collected into the
// import summary rather than aborting the import.
type RowError struct {
	Line   int
	Field  string
	Value  string
	Reason string
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: failed to parse %s='%s': %s", e.Line, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// CandidateAlreadyMatchedError is returned when a confirm or split attempt
// tries to claim a candidate that a prior confirmed match already holds.
// Callers should regenerate suggestions and retry.
type CandidateAlreadyMatchedError struct {
	CandidateID string
	MatchID     string
}

func (e *CandidateAlreadyMatchedError) Error() string {
	return fmt.Sprintf("candidate %s is already claimed by match %s", e.CandidateID, e.MatchID)
}

// SplitAmountMismatchError is returned when the sum of split amounts differs
// from the bank transaction amount beyond the rounding tolerance.
type SplitAmountMismatchError struct {
	TransactionAmount string
	SplitSum          string
}

func (e *SplitAmountMismatchError) Error() string {
	return fmt.Sprintf("split amounts sum to %s but transaction amount is %s", e.SplitSum, e.TransactionAmount)
}

// ReconciliationOutOfBalanceError is returned by Complete when the session
// difference is non-zero and no override was supplied.
type ReconciliationOutOfBalanceError struct {
	SessionID  string
	Difference string
}

func (e *ReconciliationOutOfBalanceError) Error() string {
	return fmt.Sprintf("session %s is out of balance by %s", e.SessionID, e.Difference)
}

// SessionAlreadyOpenError is returned by Start when the account already has an
// open reconciliation session.
type SessionAlreadyOpenError struct {
	AccountID string
	SessionID string
}

func (e *SessionAlreadyOpenError) Error() string {
	return fmt.Sprintf("account %s already has open session %s", e.AccountID, e.SessionID)
}

// MatchStateError is returned when an operation is not legal for the current
// state of a match or its owning session (e.g. unmatching after the session
// was completed, or suggesting against an already-matched transaction).
type MatchStateError struct {
	MatchID string
	State   string
	Op      string
}

func (e *MatchStateError) Error() string {
	return fmt.Sprintf("cannot %s match %s in state %s", e.Op, e.MatchID, e.State)
}
