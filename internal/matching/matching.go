// Package matching implements the match orchestrator: suggestion generation,
// bounded auto-match passes and the confirm/reject/split/unmatch lifecycle.
// The orchestrator owns the candidate working set for a pass; the stores own
// the matching invariants.
package matching

import (
	"context"
	"errors"
	"sort"
	"time"

	"fjacquet/bank-recon/internal/events"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconciliation"
	"fjacquet/bank-recon/internal/reconerror"
	"fjacquet/bank-recon/internal/rules"
	"fjacquet/bank-recon/internal/scoring"
	"fjacquet/bank-recon/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a custom logger.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Options bounds the orchestrator's batch behavior.
type Options struct {
	// SuggestionLimit caps ranked suggestions per transaction.
	SuggestionLimit int
	// AutoMatchLimit caps transactions processed per AutoMatch invocation.
	AutoMatchLimit int
	// WorkerCount bounds the scoring worker pool.
	WorkerCount int
}

// DefaultOptions returns the documented batch bounds.
func DefaultOptions() Options {
	return Options{SuggestionLimit: 5, AutoMatchLimit: 100, WorkerCount: 4}
}

// Suggestion is one ranked candidate for a transaction.
type Suggestion struct {
	CandidateID string
	SourceType  models.SourceType
	Score       float64
	Band        scoring.Band
	Reasons     []string
}

// TransactionSuggestions holds the ranked suggestions for one transaction.
type TransactionSuggestions struct {
	BankTransactionID string
	MatchID           string
	RuleID            string
	Suggestions       []Suggestion
}

// AutoMatchResult summarizes one auto-match pass.
type AutoMatchResult struct {
	Processed int
	Matched   int
	Unmatched int
	// MatchRate is Matched/Processed as a percentage, 0 for an empty pass.
	MatchRate float64
}

// Orchestrator wires the scoring and rule engines to the stores.
type Orchestrator struct {
	transactions store.TransactionStore
	matches      store.MatchStore
	candidates   store.CandidateSource
	ruleStore    *store.RuleStore
	engine       *scoring.Engine
	recon        *reconciliation.Service
	sink         events.Sink
	opts         Options
}

// New creates an orchestrator. The rule store and reconciliation service may
// be nil (no rules, no auto-reconcile); a nil sink disables events.
func New(
	transactions store.TransactionStore,
	matches store.MatchStore,
	candidates store.CandidateSource,
	ruleStore *store.RuleStore,
	engine *scoring.Engine,
	recon *reconciliation.Service,
	sink events.Sink,
	opts Options,
) *Orchestrator {
	if sink == nil {
		sink = events.NopSink{}
	}
	if opts.SuggestionLimit < 1 {
		opts.SuggestionLimit = DefaultOptions().SuggestionLimit
	}
	if opts.AutoMatchLimit < 1 {
		opts.AutoMatchLimit = DefaultOptions().AutoMatchLimit
	}
	if opts.WorkerCount < 1 {
		opts.WorkerCount = DefaultOptions().WorkerCount
	}
	return &Orchestrator{
		transactions: transactions,
		matches:      matches,
		candidates:   candidates,
		ruleStore:    ruleStore,
		engine:       engine,
		recon:        recon,
		sink:         sink,
		opts:         opts,
	}
}

// GenerateSuggestions scores every unmatched transaction on the account
// against the eligible candidates. Rules run first; when no rule fires the
// top suggestions by score are returned (ties broken by earliest candidate
// date). A transaction with at least one suggestion gets a suggested match
// recorded; zero suggestions is not an error.
func (o *Orchestrator) GenerateSuggestions(ctx context.Context, accountID string) ([]TransactionSuggestions, error) {
	txs, err := o.listByStatus(accountID, models.StatusUnmatched)
	if err != nil {
		return nil, err
	}
	working, err := o.workingSet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snapshot := o.ruleSnapshot()

	var out []TransactionSuggestions
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		ts := o.suggestFor(tx, working, snapshot)
		if len(ts.Suggestions) == 0 {
			out = append(out, ts)
			continue
		}

		method := models.MethodSuggested
		ruleID := ""
		if ts.RuleID != "" {
			method = models.MethodRule
			ruleID = ts.RuleID
		} else if ts.Suggestions[0].Band == scoring.BandExact {
			// The exact band on a reference hit is recorded as such for audit.
			if cand := findCandidate(working, ts.Suggestions[0].CandidateID); cand != nil &&
				scoring.ReferenceMatch(tx.ReferenceNumber, cand.Reference) {
				method = models.MethodReference
			}
		}

		match, err := o.recordSuggestion(tx, working, ts.Suggestions[0], method, ruleID)
		if err != nil {
			return out, err
		}
		ts.MatchID = match.ID
		out = append(out, ts)
	}
	return out, nil
}

// AutoMatch processes at most opts.AutoMatchLimit unmatched transactions.
// Scoring runs on a worker pool; confirmations are applied serially so the
// candidate working set stays consistent within the pass. A transaction is
// auto-confirmed only when a rule requested autoMatch or its top score is in
// the exact band; anything else with suggestions is left suggested.
func (o *Orchestrator) AutoMatch(ctx context.Context, accountID string) (*AutoMatchResult, error) {
	txs, err := o.transactions.ListUnmatched(accountID)
	if err != nil {
		return nil, err
	}
	if len(txs) > o.opts.AutoMatchLimit {
		txs = txs[:o.opts.AutoMatchLimit]
	}

	result := &AutoMatchResult{}
	if len(txs) == 0 {
		return result, nil
	}

	working, err := o.workingSet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snapshot := o.ruleSnapshot()

	decisions := o.scoreConcurrently(ctx, txs, working, snapshot)

	// Serial apply phase: claims made here remove candidates from the
	// working set for later transactions in the same pass.
	claimed := make(map[string]struct{})
	for _, d := range decisions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if d == nil {
			continue
		}
		result.Processed++

		confirmed, err := o.applyDecision(d, working, claimed)
		if err != nil {
			return result, err
		}
		if confirmed {
			result.Matched++
		} else {
			result.Unmatched++
		}
	}

	if result.Processed > 0 {
		result.MatchRate = 100 * float64(result.Matched) / float64(result.Processed)
	}
	log.WithFields(logrus.Fields{
		"account_id": accountID,
		"processed":  result.Processed,
		"matched":    result.Matched,
		"match_rate": result.MatchRate,
	}).Info("Auto-match pass finished")
	return result, nil
}

// ConfirmMatch transitions a suggested match to confirmed: the split sum is
// revalidated, every split candidate is claimed (first-confirmed-wins) and
// the transaction leaves the unmatched pool. Re-confirming an already
// confirmed match is a no-op.
func (o *Orchestrator) ConfirmMatch(matchID, confirmedBy string) (*models.TransactionMatch, error) {
	match, err := o.matches.Get(matchID)
	if err != nil {
		return nil, err
	}
	tx, err := o.transactions.Get(match.BankTransactionID)
	if err != nil {
		return nil, err
	}

	if match.Status == models.MatchSuggested {
		if !models.AmountsEqual(match.SplitSum(), tx.Amount) {
			return nil, &reconerror.SplitAmountMismatchError{
				TransactionAmount: tx.Amount.StringFixed(2),
				SplitSum:          match.SplitSum().StringFixed(2),
			}
		}
	}

	confirmed, already, err := o.matches.Confirm(matchID, confirmedBy)
	if err != nil {
		return nil, err
	}
	if already {
		return confirmed, nil
	}

	if err := o.transactions.UpdateStatus(tx.ID, models.StatusMatched); err != nil {
		return nil, err
	}
	o.sink.Emit(events.New(events.MatchConfirmed, tx.AccountID, map[string]interface{}{
		"match_id":       confirmed.ID,
		"transaction_id": tx.ID,
		"method":         string(confirmed.MatchMethod),
		"confirmed_by":   confirmedBy,
	}))

	o.maybeAutoReconcile(tx, confirmed)
	return confirmed, nil
}

// RejectMatch transitions a suggested match to rejected; the transaction
// returns to the unmatched pool and may be re-suggested later.
func (o *Orchestrator) RejectMatch(matchID, reason string) (*models.TransactionMatch, error) {
	rejected, err := o.matches.Reject(matchID, reason)
	if err != nil {
		return nil, err
	}
	tx, err := o.transactions.Get(rejected.BankTransactionID)
	if err != nil {
		return nil, err
	}
	if err := o.transactions.UpdateStatus(tx.ID, models.StatusUnmatched); err != nil {
		return nil, err
	}
	o.sink.Emit(events.New(events.MatchRejected, tx.AccountID, map[string]interface{}{
		"match_id":       rejected.ID,
		"transaction_id": tx.ID,
		"reason":         reason,
	}))
	return rejected, nil
}

// CreateSplitMatch reconciles one transaction against several candidates in
// one confirmed manual match. The split amounts must sum to the transaction
// amount within tolerance and no candidate may already be claimed.
func (o *Orchestrator) CreateSplitMatch(bankTransactionID string, splits []models.MatchSplit, confirmedBy string) (*models.TransactionMatch, error) {
	if len(splits) == 0 {
		return nil, errors.New("a split match needs at least one split")
	}
	tx, err := o.transactions.Get(bankTransactionID)
	if err != nil {
		return nil, err
	}

	match := &models.TransactionMatch{
		ID:                uuid.New().String(),
		BankTransactionID: bankTransactionID,
		Splits:            append([]models.MatchSplit(nil), splits...),
		MatchMethod:       models.MethodManual,
		Status:            models.MatchSuggested,
		CreatedAt:         time.Now().UTC(),
	}
	if !models.AmountsEqual(match.SplitSum(), tx.Amount) {
		return nil, &reconerror.SplitAmountMismatchError{
			TransactionAmount: tx.Amount.StringFixed(2),
			SplitSum:          match.SplitSum().StringFixed(2),
		}
	}

	if err := o.matches.Create(match); err != nil {
		return nil, err
	}
	confirmed, err := o.ConfirmMatch(match.ID, confirmedBy)
	if err != nil {
		// The suggestion must not linger when the claim was lost.
		if _, rejErr := o.matches.Reject(match.ID, "split confirmation failed"); rejErr != nil {
			log.WithError(rejErr).Warn("Could not discard failed split match")
		}
		return nil, err
	}
	return confirmed, nil
}

// Unmatch reverses a confirmed match: candidates are released and the
// transaction returns to unmatched. A transaction already sealed by a
// completed reconciliation session cannot be unmatched until the session is
// reopened.
func (o *Orchestrator) Unmatch(matchID string) error {
	match, err := o.matches.Get(matchID)
	if err != nil {
		return err
	}
	tx, err := o.transactions.Get(match.BankTransactionID)
	if err != nil {
		return err
	}
	if tx.Reconciled {
		return &reconerror.MatchStateError{MatchID: matchID, State: "reconciled", Op: "unmatch"}
	}

	if _, err := o.matches.Remove(matchID); err != nil {
		return err
	}
	if err := o.transactions.UpdateStatus(tx.ID, models.StatusUnmatched); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"match_id":       matchID,
		"transaction_id": tx.ID,
	}).Info("Match reversed")
	return nil
}

// listByStatus lists the account transactions in the given status.
func (o *Orchestrator) listByStatus(accountID string, status models.TransactionStatus) ([]*models.BankTransaction, error) {
	txs, err := o.transactions.ListByAccount(accountID)
	if err != nil {
		return nil, err
	}
	out := txs[:0]
	for _, tx := range txs {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out, nil
}

// workingSet reads the candidate pool once per pass, dropping candidates
// already claimed by confirmed matches.
func (o *Orchestrator) workingSet(ctx context.Context, accountID string) ([]models.CandidateRecord, error) {
	all, err := o.candidates.FindUnmatchedCandidates(ctx, accountID, store.DateWindow{}, store.AmountWindow{})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if _, claimed := o.matches.ClaimedBy(c.ID); claimed {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (o *Orchestrator) ruleSnapshot() []*rules.MatchRule {
	if o.ruleStore == nil {
		return nil
	}
	return o.ruleStore.Snapshot()
}

// eligible filters the working set by money direction: credits match
// invoices and payments, debits match expenses and payments.
func eligible(tx *models.BankTransaction, working []models.CandidateRecord) []models.CandidateRecord {
	out := make([]models.CandidateRecord, 0, len(working))
	for _, c := range working {
		switch c.SourceType {
		case models.SourceInvoice:
			if tx.IsDebit() {
				continue
			}
		case models.SourceExpense:
			if tx.IsCredit() {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// suggestFor ranks candidates for one transaction: rules first, then scoring.
func (o *Orchestrator) suggestFor(tx *models.BankTransaction, working []models.CandidateRecord, snapshot []*rules.MatchRule) TransactionSuggestions {
	ts := TransactionSuggestions{BankTransactionID: tx.ID}
	pool := eligible(tx, working)

	if res := rules.Evaluate(tx, pool, snapshot); res != nil {
		score, reasons := o.engine.Score(tx, res.Candidate)
		ts.RuleID = res.Rule.ID
		ts.Suggestions = []Suggestion{{
			CandidateID: res.Candidate.ID,
			SourceType:  res.Candidate.SourceType,
			Score:       score,
			Band:        scoring.BandFor(score),
			Reasons:     append(reasons, "rule "+res.Rule.ID),
		}}
		return ts
	}

	type scored struct {
		Suggestion
		date time.Time
	}
	ranked := make([]scored, 0, len(pool))
	for i := range pool {
		c := &pool[i]
		score, reasons := o.engine.Score(tx, c)
		ranked = append(ranked, scored{
			Suggestion: Suggestion{
				CandidateID: c.ID,
				SourceType:  c.SourceType,
				Score:       score,
				Band:        scoring.BandFor(score),
				Reasons:     reasons,
			},
			date: c.Date,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].date.Before(ranked[j].date)
	})
	if len(ranked) > o.opts.SuggestionLimit {
		ranked = ranked[:o.opts.SuggestionLimit]
	}
	for _, r := range ranked {
		ts.Suggestions = append(ts.Suggestions, r.Suggestion)
	}
	return ts
}

// recordSuggestion stores a suggested match for the transaction's top
// suggestion and flags the transaction suggested.
func (o *Orchestrator) recordSuggestion(tx *models.BankTransaction, working []models.CandidateRecord, top Suggestion, method models.MatchMethod, ruleID string) (*models.TransactionMatch, error) {
	cand := findCandidate(working, top.CandidateID)
	if cand == nil {
		return nil, reconerror.ErrMatchNotFound
	}

	match := &models.TransactionMatch{
		ID:                uuid.New().String(),
		BankTransactionID: tx.ID,
		Splits: []models.MatchSplit{{
			CandidateID: cand.ID,
			SourceType:  cand.SourceType,
			Amount:      tx.Amount,
		}},
		MatchScore:  top.Score,
		MatchMethod: method,
		Status:      models.MatchSuggested,
		RuleID:      ruleID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.matches.Create(match); err != nil {
		return nil, err
	}
	if err := o.transactions.UpdateStatus(tx.ID, models.StatusSuggested); err != nil {
		return nil, err
	}
	o.sink.Emit(events.New(events.MatchSuggested, tx.AccountID, map[string]interface{}{
		"match_id":       match.ID,
		"transaction_id": tx.ID,
		"candidate_id":   cand.ID,
		"score":          top.Score,
		"band":           string(top.Band),
	}))
	return match, nil
}

// decision is one transaction's scoring outcome, computed on the worker pool.
type decision struct {
	tx *models.BankTransaction
	// existing is the transaction's already recorded suggested match, when
	// a prior suggestion pass ran before this auto-match pass.
	existing    *models.TransactionMatch
	ruleResult  *rules.Result
	suggestions []Suggestion
}

// scoreConcurrently fans the transactions out over the worker pool. The
// returned slice preserves transaction order; entries are nil when the
// context was cancelled before the worker reached them.
func (o *Orchestrator) scoreConcurrently(ctx context.Context, txs []*models.BankTransaction, working []models.CandidateRecord, snapshot []*rules.MatchRule) []*decision {
	decisions := make([]*decision, len(txs))
	jobs := make(chan int)
	done := make(chan struct{})

	workers := o.opts.WorkerCount
	if workers > len(txs) {
		workers = len(txs)
	}
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for idx := range jobs {
				tx := txs[idx]
				d := &decision{tx: tx}
				if active, err := o.matches.ActiveForTransaction(tx.ID); err == nil {
					d.existing = active
					decisions[idx] = d
					continue
				}
				pool := eligible(tx, working)
				if res := rules.Evaluate(tx, pool, snapshot); res != nil {
					d.ruleResult = res
				} else {
					ts := o.suggestFor(tx, working, nil)
					d.suggestions = ts.Suggestions
				}
				decisions[idx] = d
			}
		}()
	}

	for idx := range txs {
		if ctx.Err() != nil {
			break
		}
		jobs <- idx
	}
	close(jobs)
	for w := 0; w < workers; w++ {
		<-done
	}
	return decisions
}

// applyDecision confirms or records one transaction's outcome. Candidates
// claimed earlier in the pass are skipped.
func (o *Orchestrator) applyDecision(d *decision, working []models.CandidateRecord, claimed map[string]struct{}) (bool, error) {
	tx := d.tx

	if d.existing != nil {
		return o.applyExisting(d.existing, claimed)
	}

	if d.ruleResult != nil {
		cand := d.ruleResult.Candidate
		if _, taken := claimed[cand.ID]; taken {
			return false, nil
		}
		score, _ := o.engine.Score(tx, cand)
		top := Suggestion{CandidateID: cand.ID, SourceType: cand.SourceType, Score: score, Band: scoring.BandFor(score)}
		match, err := o.recordSuggestion(tx, working, top, models.MethodRule, d.ruleResult.Rule.ID)
		if err != nil {
			return false, err
		}
		if !d.ruleResult.Rule.Actions.AutoMatch {
			return false, nil
		}
		return o.confirmAuto(match.ID, cand.ID, claimed)
	}

	// Drop suggestions whose candidate was claimed earlier in this pass.
	suggestions := d.suggestions[:0]
	for _, s := range d.suggestions {
		if _, taken := claimed[s.CandidateID]; taken {
			continue
		}
		suggestions = append(suggestions, s)
	}
	if len(suggestions) == 0 {
		return false, nil
	}

	top := suggestions[0]
	method := models.MethodSuggested
	if top.Band == scoring.BandExact {
		method = models.MethodAuto
		if cand := findCandidate(working, top.CandidateID); cand != nil &&
			scoring.ReferenceMatch(tx.ReferenceNumber, cand.Reference) {
			method = models.MethodReference
		}
	}

	match, err := o.recordSuggestion(tx, working, top, method, "")
	if err != nil {
		return false, err
	}
	if top.Band != scoring.BandExact {
		return false, nil
	}
	return o.confirmAuto(match.ID, top.CandidateID, claimed)
}

// applyExisting decides a transaction that already carries a suggested
// match: it is confirmed when a rule with autoMatch produced it or its score
// sits in the exact band, otherwise it stays suggested for manual review.
func (o *Orchestrator) applyExisting(match *models.TransactionMatch, claimed map[string]struct{}) (bool, error) {
	if match.Status == models.MatchConfirmed {
		return false, nil
	}

	autoConfirm := scoring.BandFor(match.MatchScore) == scoring.BandExact
	if !autoConfirm && match.RuleID != "" && o.ruleStore != nil {
		for _, r := range o.ruleStore.Snapshot() {
			if r.ID == match.RuleID {
				autoConfirm = r.Actions.AutoMatch
				break
			}
		}
	}
	if !autoConfirm {
		return false, nil
	}
	for _, split := range match.Splits {
		if _, taken := claimed[split.CandidateID]; taken {
			return false, nil
		}
	}

	candidateID := ""
	if len(match.Splits) == 1 {
		candidateID = match.Splits[0].CandidateID
	}
	return o.confirmAuto(match.ID, candidateID, claimed)
}

// confirmAuto confirms an auto-generated match, treating a lost candidate
// claim as a skip rather than a pass failure.
func (o *Orchestrator) confirmAuto(matchID, candidateID string, claimed map[string]struct{}) (bool, error) {
	if _, err := o.ConfirmMatch(matchID, "auto-match"); err != nil {
		var alreadyMatched *reconerror.CandidateAlreadyMatchedError
		if errors.As(err, &alreadyMatched) {
			if _, rejErr := o.RejectMatch(matchID, "candidate claimed by another match"); rejErr != nil {
				return false, rejErr
			}
			return false, nil
		}
		return false, err
	}
	if candidateID != "" {
		claimed[candidateID] = struct{}{}
	}
	return true, nil
}

// maybeAutoReconcile clears a freshly confirmed rule match into the
// account's open session when the firing rule asked for it. Without an open
// session this is a no-op.
func (o *Orchestrator) maybeAutoReconcile(tx *models.BankTransaction, match *models.TransactionMatch) {
	if o.recon == nil || match.RuleID == "" || o.ruleStore == nil {
		return
	}
	var rule *rules.MatchRule
	for _, r := range o.ruleStore.Snapshot() {
		if r.ID == match.RuleID {
			rule = r
			break
		}
	}
	if rule == nil || !rule.Actions.AutoReconcile {
		return
	}

	sess, ok := o.recon.OpenSession(tx.AccountID)
	if !ok {
		log.WithField("transaction_id", tx.ID).Debug("No open session for auto-reconcile")
		return
	}
	if _, err := o.recon.ClearTransaction(sess.ID, tx.ID); err != nil {
		log.WithError(err).WithField("transaction_id", tx.ID).Warn("Auto-reconcile failed")
	}
}

func findCandidate(working []models.CandidateRecord, id string) *models.CandidateRecord {
	for i := range working {
		if working[i].ID == id {
			return &working[i]
		}
	}
	return nil
}
