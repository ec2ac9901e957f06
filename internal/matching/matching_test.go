package matching

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fjacquet/bank-recon/internal/events"
	"fjacquet/bank-recon/internal/importer"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconciliation"
	"fjacquet/bank-recon/internal/reconerror"
	"fjacquet/bank-recon/internal/rules"
	"fjacquet/bank-recon/internal/scoring"
	"fjacquet/bank-recon/internal/store"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	SetLogger(logger)
}

type fixture struct {
	transactions *store.MemoryTransactionStore
	matches      *store.MemoryMatchStore
	sessions     *store.MemorySessionStore
	candidates   *store.MemoryCandidateSource
	recon        *reconciliation.Service
	sink         *events.MemorySink
	orchestrator *Orchestrator
}

func newFixture(t *testing.T, ruleList []*rules.MatchRule) *fixture {
	t.Helper()
	f := &fixture{
		transactions: store.NewMemoryTransactionStore(),
		matches:      store.NewMemoryMatchStore(),
		sessions:     store.NewMemorySessionStore(),
		candidates:   store.NewMemoryCandidateSource(nil),
		sink:         events.NewMemorySink(),
	}
	f.recon = reconciliation.NewService(f.sessions, f.transactions, events.NopSink{})

	var ruleStore *store.RuleStore
	if ruleList != nil {
		var err error
		ruleStore, err = store.NewRuleStore(ruleList)
		require.NoError(t, err)
	}

	f.orchestrator = New(
		f.transactions, f.matches, f.candidates, ruleStore,
		scoring.NewEngine(scoring.DefaultOptions()), f.recon, f.sink,
		DefaultOptions(),
	)
	return f
}

func (f *fixture) addTx(t *testing.T, id, amount, reference, description string, day int) {
	t.Helper()
	inserted, err := f.transactions.Insert(&models.BankTransaction{
		ID:              id,
		AccountID:       "acct",
		PostedDate:      time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Description:     description,
		Amount:          decimal.RequireFromString(amount),
		ReferenceNumber: reference,
		DedupeHash:      "hash-" + id,
		Status:          models.StatusUnmatched,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func (f *fixture) addCandidate(id string, sourceType models.SourceType, amount, reference, description string, day int) {
	f.candidates.Add(models.CandidateRecord{
		ID:          id,
		SourceType:  sourceType,
		AccountID:   "acct",
		Amount:      decimal.RequireFromString(amount),
		Date:        time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Description: description,
		Reference:   reference,
	})
}

func TestEndToEnd_ImportSuggestAutoMatch(t *testing.T) {
	f := newFixture(t, nil)

	// Import the two-row statement through the real importer.
	imp := importer.New(f.transactions, events.NopSink{})
	statement := "2024-01-15, Payment from client, 5000.00, credit, INV-001\n" +
		"2024-01-16, Office rent, 2000.00, debit, RENT-JAN\n"
	result, err := imp.Import(context.Background(), "acct", strings.NewReader(statement), importer.FormatCSV, importer.DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 2, result.Imported)

	// One open invoice for 5000.00 referenced INV-001, a day before the credit.
	f.addCandidate("inv-1", models.SourceInvoice, "5000.00", "INV-001", "Client invoice January", 14)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	var credit, debit *TransactionSuggestions
	for i := range suggestions {
		tx, err := f.transactions.Get(suggestions[i].BankTransactionID)
		require.NoError(t, err)
		if tx.IsCredit() {
			credit = &suggestions[i]
		} else {
			debit = &suggestions[i]
		}
	}
	require.NotNil(t, credit)
	require.NotNil(t, debit)

	require.Len(t, credit.Suggestions, 1)
	assert.Equal(t, "inv-1", credit.Suggestions[0].CandidateID)
	assert.GreaterOrEqual(t, credit.Suggestions[0].Score, 95.0, "the reference override carries the pair into the exact band")
	assert.Equal(t, scoring.BandExact, credit.Suggestions[0].Band)
	assert.Empty(t, debit.Suggestions, "the rent debit has no eligible candidate")

	// Auto-match confirms the exact-band suggestion.
	autoResult, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, autoResult.Matched)

	creditTx, err := f.transactions.Get(credit.BankTransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, creditTx.Status)

	confirmed, err := f.matches.Get(credit.MatchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchConfirmed, confirmed.Status)

	debitTx, err := f.transactions.Get(debit.BankTransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, debitTx.Status, "the rent debit stays unmatched")
}

func TestGenerateSuggestions_RankingAndLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "100.00", "", "Subscription payment", 15)

	// Two equally-scored candidates, one day off on either side; the earlier
	// date must rank first.
	f.addCandidate("late", models.SourcePayment, "100.00", "", "Subscription payment", 16)
	f.addCandidate("early", models.SourcePayment, "100.00", "", "Subscription payment", 14)
	for i := 0; i < 6; i++ {
		f.addCandidate("far-"+string(rune('a'+i)), models.SourcePayment, "500.00", "", "Something else", 2)
	}

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	ranked := suggestions[0].Suggestions
	require.Len(t, ranked, 5, "at most five suggestions per transaction")
	assert.Equal(t, "early", ranked[0].CandidateID)
	assert.Equal(t, "late", ranked[1].CandidateID)
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[4].Score)
}

func TestGenerateSuggestions_MarksTransactionSuggested(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "-100.00", "", "Coffee beans", 15)
	f.addCandidate("exp-1", models.SourceExpense, "-100.00", "", "Coffee beans", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	tx, err := f.transactions.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, tx.Status)
	assert.Len(t, f.sink.Named(events.MatchSuggested), 1)

	// A second pass has nothing unmatched left to suggest for.
	again, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGenerateSuggestions_DirectionEligibility(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "debit-tx", "-2000.00", "", "Office rent", 15)
	f.addCandidate("inv-1", models.SourceInvoice, "2000.00", "", "Office rent", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Empty(t, suggestions[0].Suggestions, "invoices are not offered against debits")
}

func TestAutoMatch_ClaimConsistencyWithinPass(t *testing.T) {
	f := newFixture(t, nil)

	// Two identical credits compete for one invoice; exactly one may win.
	f.addTx(t, "t1", "500.00", "INV-9", "Payment A", 15)
	f.addTx(t, "t2", "500.00", "INV-9", "Payment B", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	result, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Matched, "one claim wins, the other transaction is left over")
	assert.Equal(t, 1, result.Unmatched)
	assert.InDelta(t, 50.0, result.MatchRate, 0.001)

	_, claimed := f.matches.ClaimedBy("inv-9")
	assert.True(t, claimed)
}

func TestAutoMatch_LeavesNonExactSuggested(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "1000.00", "", "Payment from Acme", 15)
	// Same amount but ten days off and weak description: high band at best.
	f.addCandidate("inv-1", models.SourceInvoice, "1000.00", "", "Consulting retainer", 5)

	result, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Matched)
	assert.Equal(t, 1, result.Unmatched)

	tx, err := f.transactions.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, tx.Status, "a plausible but non-exact candidate is left for review")
}

func TestAutoMatch_ConfirmsEarlierSuggestions(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	_, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)

	result, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched, "a suggestion recorded by an earlier pass is confirmed")
}

func TestAutoMatch_RuleAutoMatchAndAutoReconcile(t *testing.T) {
	ruleList := []*rules.MatchRule{{
		ID:       "rent-rule",
		Priority: 1,
		IsActive: true,
		Criteria: rules.Criteria{
			Description: &rules.DescriptionCriterion{Mode: rules.DescriptionContains, Value: "office rent"},
			Amount:      &rules.AmountCriterion{Mode: rules.AmountExact},
		},
		Actions: rules.Actions{AutoMatch: true, AutoReconcile: true},
	}}
	f := newFixture(t, ruleList)

	f.addTx(t, "rent-tx", "-2000.00", "", "ACME Office Rent January", 16)
	f.addCandidate("exp-rent", models.SourceExpense, "-2000.00", "", "Office rent", 16)

	sess, err := f.recon.Start("acct", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("-2000.00"))
	require.NoError(t, err)

	result, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	match, err := f.matches.ActiveForTransaction("rent-tx")
	require.NoError(t, err)
	assert.Equal(t, models.MethodRule, match.MatchMethod)
	assert.Equal(t, "rent-rule", match.RuleID)

	// The auto-reconcile action cleared the transaction into the open session.
	updated, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsCleared("rent-tx"))
	assert.True(t, updated.Difference.IsZero())
}

func TestConfirmMatch_IdempotentAndStatusTransitions(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	matchID := suggestions[0].MatchID

	confirmed, err := f.orchestrator.ConfirmMatch(matchID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchConfirmed, confirmed.Status)
	assert.Len(t, f.sink.Named(events.MatchConfirmed), 1)

	// Re-confirm is a no-op, not an error, and emits nothing new.
	again, err := f.orchestrator.ConfirmMatch(matchID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.ConfirmedBy)
	assert.Len(t, f.sink.Named(events.MatchConfirmed), 1)

	tx, err := f.transactions.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, tx.Status)
}

func TestConfirmMatch_AtMostOneMatchPerTransaction(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	_, err = f.orchestrator.ConfirmMatch(suggestions[0].MatchID, "alice")
	require.NoError(t, err)

	// A new suggestion for the same transaction is rejected outright.
	err = f.matches.Create(&models.TransactionMatch{
		ID:                "intruder",
		BankTransactionID: "t1",
		Splits:            []models.MatchSplit{{CandidateID: "inv-9", Amount: decimal.RequireFromString("500.00")}},
		Status:            models.MatchSuggested,
	})
	var stateErr *reconerror.MatchStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestRejectMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)

	rejected, err := f.orchestrator.RejectMatch(suggestions[0].MatchID, "wrong invoice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchRejected, rejected.Status)
	assert.Equal(t, "wrong invoice", rejected.RejectReason)
	assert.Len(t, f.sink.Named(events.MatchRejected), 1)

	tx, err := f.transactions.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, tx.Status, "a rejected transaction may be re-suggested later")

	// And it can indeed be suggested again.
	again, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotEmpty(t, again[0].Suggestions)
}

func TestCreateSplitMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "300.00", "", "Combined payment", 15)
	f.addCandidate("inv-a", models.SourceInvoice, "100.00", "", "Invoice A", 15)
	f.addCandidate("inv-b", models.SourceInvoice, "200.00", "", "Invoice B", 15)

	splits := []models.MatchSplit{
		{CandidateID: "inv-a", SourceType: models.SourceInvoice, Amount: decimal.RequireFromString("100.00")},
		{CandidateID: "inv-b", SourceType: models.SourceInvoice, Amount: decimal.RequireFromString("200.00")},
	}
	match, err := f.orchestrator.CreateSplitMatch("t1", splits, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchConfirmed, match.Status)
	assert.Equal(t, models.MethodManual, match.MatchMethod)

	_, claimed := f.matches.ClaimedBy("inv-a")
	assert.True(t, claimed)
	_, claimed = f.matches.ClaimedBy("inv-b")
	assert.True(t, claimed)
}

func TestCreateSplitMatch_SumMismatch(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "300.00", "", "Combined payment", 15)

	splits := []models.MatchSplit{
		{CandidateID: "inv-a", Amount: decimal.RequireFromString("100.00")},
		{CandidateID: "inv-b", Amount: decimal.RequireFromString("150.00")},
	}
	_, err := f.orchestrator.CreateSplitMatch("t1", splits, "alice")
	var mismatch *reconerror.SplitAmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "300.00", mismatch.TransactionAmount)
	assert.Equal(t, "250.00", mismatch.SplitSum)

	// Within one minor unit passes.
	splits[1].Amount = decimal.RequireFromString("200.01")
	_, err = f.orchestrator.CreateSplitMatch("t1", splits, "alice")
	assert.NoError(t, err)
}

func TestCreateSplitMatch_ClaimedCandidate(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "100.00", "", "First", 15)
	f.addTx(t, "t2", "100.00", "", "Second", 15)

	first := []models.MatchSplit{{CandidateID: "inv-a", SourceType: models.SourceInvoice, Amount: decimal.RequireFromString("100.00")}}
	_, err := f.orchestrator.CreateSplitMatch("t1", first, "alice")
	require.NoError(t, err)

	_, err = f.orchestrator.CreateSplitMatch("t2", first, "alice")
	var claimErr *reconerror.CandidateAlreadyMatchedError
	require.ErrorAs(t, err, &claimErr, "first confirmed match wins the candidate")
	assert.Equal(t, "inv-a", claimErr.CandidateID)

	// The losing transaction is back to unmatched, not stuck with a
	// half-created match.
	tx, err := f.transactions.Get("t2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, tx.Status)
}

func TestUnmatch(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	matchID := suggestions[0].MatchID
	_, err = f.orchestrator.ConfirmMatch(matchID, "alice")
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Unmatch(matchID))

	tx, err := f.transactions.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, tx.Status)
	_, claimed := f.matches.ClaimedBy("inv-9")
	assert.False(t, claimed, "the candidate returns to the pool")
}

func TestUnmatch_BlockedByCompletedSession(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)
	matchID := suggestions[0].MatchID
	_, err = f.orchestrator.ConfirmMatch(matchID, "alice")
	require.NoError(t, err)

	sess, err := f.recon.Start("acct", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("500.00"))
	require.NoError(t, err)
	_, err = f.recon.ClearTransaction(sess.ID, "t1")
	require.NoError(t, err)
	_, err = f.recon.Complete(sess.ID, false, "")
	require.NoError(t, err)

	err = f.orchestrator.Unmatch(matchID)
	var stateErr *reconerror.MatchStateError
	require.ErrorAs(t, err, &stateErr, "a reconciled transaction cannot be unmatched")

	// Reopening the session lifts the block.
	_, err = f.recon.Reopen(sess.ID)
	require.NoError(t, err)
	assert.NoError(t, f.orchestrator.Unmatch(matchID))
}

func TestAutoMatch_Limit(t *testing.T) {
	f := newFixture(t, nil)
	opts := DefaultOptions()
	opts.AutoMatchLimit = 1
	f.orchestrator = New(
		f.transactions, f.matches, f.candidates, nil,
		scoring.NewEngine(scoring.DefaultOptions()), f.recon, f.sink, opts,
	)

	f.addTx(t, "t1", "100.00", "A-1", "Payment one", 15)
	f.addTx(t, "t2", "200.00", "B-2", "Payment two", 16)
	f.addCandidate("inv-a", models.SourceInvoice, "100.00", "A-1", "Invoice A", 15)
	f.addCandidate("inv-b", models.SourceInvoice, "200.00", "B-2", "Invoice B", 16)

	result, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed, "the batch is bounded by the configured limit")

	// The next invocation picks up the remainder.
	result, err = f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
}

func TestAutoMatch_Cancellation(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "100.00", "A-1", "Payment one", 15)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.orchestrator.AutoMatch(ctx, "acct")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteSuggestionReport(t *testing.T) {
	f := newFixture(t, nil)
	f.addTx(t, "t1", "500.00", "INV-9", "Payment", 15)
	f.addTx(t, "t2", "-123.00", "", "No counterpart", 15)
	f.addCandidate("inv-9", models.SourceInvoice, "500.00", "INV-9", "Invoice nine", 15)

	suggestions, err := f.orchestrator.GenerateSuggestions(context.Background(), "acct")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "suggestions.csv")
	require.NoError(t, f.orchestrator.WriteSuggestionReport(path, suggestions))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var rows []*suggestionReportRow
	require.NoError(t, gocsv.UnmarshalFile(file, &rows))
	require.Len(t, rows, 2)

	byTx := map[string]*suggestionReportRow{}
	for _, r := range rows {
		byTx[r.TransactionID] = r
	}

	matched := byTx["t1"]
	require.NotNil(t, matched)
	assert.Equal(t, "inv-9", matched.CandidateID)
	assert.Equal(t, "invoice", matched.SourceType)
	assert.Equal(t, "500.00", matched.Amount)
	assert.Equal(t, "2024-01-15", matched.PostedDate)
	assert.NotEmpty(t, matched.Score)

	unsuggested := byTx["t2"]
	require.NotNil(t, unsuggested)
	assert.Empty(t, unsuggested.CandidateID, "transactions without suggestions still get a report row")
}

func TestAutoMatch_EmptyAccount(t *testing.T) {
	f := newFixture(t, nil)
	result, err := f.orchestrator.AutoMatch(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0.0, result.MatchRate)
}
