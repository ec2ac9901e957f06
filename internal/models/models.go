// Package models provides the data structures used throughout the matching engine.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchTolerance is the rounding tolerance for all amount comparisons:
// one minor unit.
var MatchTolerance = decimal.New(1, -2)

// TransactionStatus tracks a bank transaction through the matching lifecycle.
type TransactionStatus string

const (
	StatusUnmatched TransactionStatus = "unmatched"
	StatusSuggested TransactionStatus = "suggested"
	StatusMatched   TransactionStatus = "matched"
	StatusIgnored   TransactionStatus = "ignored"
)

// CanTransitionTo reports whether a status change is legal in the matching
// lifecycle. Same-status updates are always legal.
func (s TransactionStatus) CanTransitionTo(to TransactionStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusUnmatched:
		return to == StatusSuggested || to == StatusMatched || to == StatusIgnored
	case StatusSuggested:
		return to == StatusUnmatched || to == StatusMatched || to == StatusIgnored
	case StatusMatched, StatusIgnored:
		return to == StatusUnmatched
	}
	return false
}

// SourceType identifies the kind of internal record a candidate projects.
type SourceType string

const (
	SourceInvoice SourceType = "invoice"
	SourcePayment SourceType = "payment"
	SourceExpense SourceType = "expense"
)

// BankTransaction is a single imported line from a bank statement.
// Amounts are signed: credits positive, debits negative.
type BankTransaction struct {
	ID              string
	AccountID       string
	PostedDate      time.Time
	Description     string
	Amount          decimal.Decimal
	ReferenceNumber string
	BalanceAfter    decimal.Decimal
	ImportBatchID   string
	DedupeHash      string
	Status          TransactionStatus
	Reconciled      bool
}

// IsDebit returns true if the transaction moves money out of the account.
func (t *BankTransaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// IsCredit returns true if the transaction moves money into the account.
func (t *BankTransaction) IsCredit() bool {
	return !t.Amount.IsNegative()
}

// CandidateRecord is a read-only projection of an internal financial record
// (invoice, payment or expense) eligible to be matched. It is supplied by
// external collaborators and never persisted by this engine.
type CandidateRecord struct {
	ID               string
	SourceType       SourceType
	AccountID        string
	Amount           decimal.Decimal
	Date             time.Time
	Description      string
	Reference        string
	RemainingBalance decimal.Decimal
	Currency         string
}

// MatchMethod records how a match came to be.
type MatchMethod string

const (
	MethodManual    MatchMethod = "manual"
	MethodRule      MatchMethod = "rule"
	MethodSuggested MatchMethod = "suggested"
	MethodReference MatchMethod = "reference"
	MethodAuto      MatchMethod = "auto"
)

// MatchStatus is the lifecycle state of a TransactionMatch.
type MatchStatus string

const (
	MatchSuggested MatchStatus = "suggested"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// MatchSplit allocates part of a bank transaction amount to one candidate.
type MatchSplit struct {
	CandidateID string          `yaml:"candidate_id"`
	SourceType  SourceType      `yaml:"source_type"`
	Amount      decimal.Decimal `yaml:"amount"`
}

// TransactionMatch links one bank transaction to one or more candidates.
// When confirmed, the split amounts must sum to the transaction amount
// within MatchTolerance.
type TransactionMatch struct {
	ID                string
	BankTransactionID string
	Splits            []MatchSplit
	MatchScore        float64
	MatchMethod       MatchMethod
	Status            MatchStatus
	RuleID            string
	RejectReason      string
	ConfirmedBy       string
	ConfirmedAt       time.Time
	CreatedAt         time.Time
}

// SplitSum returns the total amount allocated across all splits.
func (m *TransactionMatch) SplitSum() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range m.Splits {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// IsActive reports whether this match currently blocks new matches for its
// transaction. Suggested and confirmed matches are active, rejected ones are not.
func (m *TransactionMatch) IsActive() bool {
	return m.Status == MatchSuggested || m.Status == MatchConfirmed
}

// SessionStatus is the lifecycle state of a reconciliation session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// ReconciliationSession tracks closing out one statement period for one account.
type ReconciliationSession struct {
	ID                    string
	AccountID             string
	StatementDate         time.Time
	StatementBalance      decimal.Decimal
	BookBalanceSnapshot   decimal.Decimal
	ClearedTransactionIDs map[string]struct{}
	Status                SessionStatus
	Difference            decimal.Decimal
	OverrideJustification string
	CompletedAt           time.Time
}

// IsCleared reports whether the given transaction is cleared in this session.
func (s *ReconciliationSession) IsCleared(txID string) bool {
	_, ok := s.ClearedTransactionIDs[txID]
	return ok
}

// AmountsEqual compares two amounts within MatchTolerance.
func AmountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(MatchTolerance) <= 0
}

// ComputeDedupeHash derives the per-account idempotency key for an imported
// row. When a reference number is present it hashes
// accountID|date|amount|reference; otherwise it falls back to the full raw
// row so two distinct reference-less rows stay distinct.
func ComputeDedupeHash(accountID string, postedDate time.Time, amount decimal.Decimal, reference, rawRow string) string {
	var payload string
	if reference != "" {
		payload = strings.Join([]string{
			accountID,
			postedDate.Format("2006-01-02"),
			amount.StringFixed(2),
			reference,
		}, "|")
	} else {
		payload = accountID + "|" + rawRow
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ParseAmount parses a string amount into a decimal, tolerating the separators
// and currency decorations that show up in statement exports.
func ParseAmount(amountStr string) (decimal.Decimal, error) {
	amount := strings.TrimSpace(amountStr)
	amount = strings.ReplaceAll(amount, " ", "")
	amount = strings.ReplaceAll(amount, "'", "")
	amount = strings.ReplaceAll(amount, "$", "")
	amount = strings.ReplaceAll(amount, "€", "")
	// A comma is the decimal separator only when no dot is present; otherwise
	// it is a thousands separator.
	if strings.Contains(amount, ",") && !strings.Contains(amount, ".") {
		amount = strings.ReplaceAll(amount, ",", ".")
	} else {
		amount = strings.ReplaceAll(amount, ",", "")
	}
	if amount == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s': %w", amountStr, err)
	}
	return dec, nil
}
