// Package rules implements the firm-defined rule engine that runs ahead of
// generic scoring. Rules are evaluated in ascending priority order and the
// first rule whose entire criteria set passes for some candidate wins,
// giving firms deterministic, auditable overrides.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"fjacquet/bank-recon/internal/dateutils"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/textutils"

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

// AmountMode selects how an amount criterion compares values.
type AmountMode string

const (
	AmountExact      AmountMode = "exact"
	AmountRange      AmountMode = "range"
	AmountPercentage AmountMode = "percentage"
)

// AmountCriterion constrains the candidate amount relative to the
// transaction amount. Comparison is on absolute values; direction is
// checked separately by candidate eligibility.
type AmountCriterion struct {
	Mode AmountMode `yaml:"mode"`
	// Value is the criterion parameter: absolute tolerance for range mode,
	// percentage for percentage mode, unused for exact.
	Value string `yaml:"value,omitempty"`

	value decimal.Decimal
}

func (c *AmountCriterion) matches(tx *models.BankTransaction, candidate *models.CandidateRecord) bool {
	txAmt := tx.Amount.Abs()
	candAmt := candidate.Amount.Abs()
	switch c.Mode {
	case AmountExact:
		return models.AmountsEqual(txAmt, candAmt)
	case AmountRange:
		return txAmt.Sub(candAmt).Abs().Cmp(c.value) <= 0
	case AmountPercentage:
		if txAmt.IsZero() {
			return candAmt.IsZero()
		}
		pct := txAmt.Sub(candAmt).Abs().Div(txAmt).Mul(decimal.NewFromInt(100))
		return pct.Cmp(c.value) <= 0
	default:
		return false
	}
}

// DateMode selects how a date criterion compares values.
type DateMode string

const (
	DateExact DateMode = "exact"
	DateRange DateMode = "range"
)

// DateCriterion constrains the candidate date relative to the transaction
// posted date.
type DateCriterion struct {
	Mode DateMode `yaml:"mode"`
	// Days is the window size for range mode.
	Days int `yaml:"days,omitempty"`
}

func (c *DateCriterion) matches(tx *models.BankTransaction, candidate *models.CandidateRecord) bool {
	switch c.Mode {
	case DateExact:
		return dateutils.SameDay(tx.PostedDate, candidate.Date)
	case DateRange:
		return dateutils.DaysApart(tx.PostedDate, candidate.Date) <= c.Days
	default:
		return false
	}
}

// DescriptionMode selects how a description criterion compares text.
type DescriptionMode string

const (
	DescriptionContains   DescriptionMode = "contains"
	DescriptionExact      DescriptionMode = "exact"
	DescriptionRegex      DescriptionMode = "regex"
	DescriptionFuzzy      DescriptionMode = "fuzzy"
	DescriptionStartsWith DescriptionMode = "starts_with"
	DescriptionEndsWith   DescriptionMode = "ends_with"
)

// DescriptionCriterion constrains the transaction description. All text
// comparisons except regex run on normalized text.
type DescriptionCriterion struct {
	Mode  DescriptionMode `yaml:"mode"`
	Value string          `yaml:"value"`
	// Threshold is the minimum similarity for fuzzy mode, 0..1.
	Threshold float64 `yaml:"threshold,omitempty"`

	compiled *regexp.Regexp
}

func (c *DescriptionCriterion) matches(tx *models.BankTransaction) bool {
	desc := textutils.Normalize(tx.Description)
	want := textutils.Normalize(c.Value)
	switch c.Mode {
	case DescriptionContains:
		return want != "" && strings.Contains(desc, want)
	case DescriptionExact:
		return desc == want
	case DescriptionStartsWith:
		return want != "" && strings.HasPrefix(desc, want)
	case DescriptionEndsWith:
		return want != "" && strings.HasSuffix(desc, want)
	case DescriptionFuzzy:
		threshold := c.Threshold
		if threshold <= 0 {
			threshold = 0.8
		}
		return textutils.Similarity(tx.Description, c.Value) >= threshold
	case DescriptionRegex:
		if c.compiled == nil {
			return false
		}
		return c.compiled.MatchString(tx.Description)
	default:
		return false
	}
}

// Criteria is the tagged-variant criteria set of one rule. Nil members are
// inactive; all non-nil members must pass (logical AND).
type Criteria struct {
	Amount      *AmountCriterion      `yaml:"amount,omitempty"`
	Date        *DateCriterion        `yaml:"date,omitempty"`
	Description *DescriptionCriterion `yaml:"description,omitempty"`
	// Reference requires an exact match against the candidate reference.
	Reference string `yaml:"reference,omitempty"`
	// Vendor requires the vendor name to appear in the transaction description.
	Vendor string `yaml:"vendor,omitempty"`
	// Category requires the candidate source type to equal the given value.
	Category string `yaml:"category,omitempty"`
}

// Actions are the side effects triggered when a rule's criteria pass.
type Actions struct {
	AutoMatch     bool     `yaml:"auto_match,omitempty"`
	AutoReconcile bool     `yaml:"auto_reconcile,omitempty"`
	SetCategory   string   `yaml:"set_category,omitempty"`
	SetTags       []string `yaml:"set_tags,omitempty"`
}

// MatchRule is one firm-defined matching rule. AccountID empty means the
// rule is global. Rules are immutable during a matching run.
type MatchRule struct {
	ID        string   `yaml:"id"`
	AccountID string   `yaml:"account_id,omitempty"`
	Priority  int      `yaml:"priority"`
	Criteria  Criteria `yaml:"criteria"`
	Actions   Actions  `yaml:"actions,omitempty"`
	IsActive  bool     `yaml:"is_active"`
}

// Compile validates the rule and precompiles its regex criterion. It must be
// called once when the rule snapshot is loaded.
func (r *MatchRule) Compile() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if c := r.Criteria.Amount; c != nil {
		switch c.Mode {
		case AmountExact:
		case AmountRange, AmountPercentage:
			parsed, err := models.ParseAmount(c.Value)
			if err != nil {
				return fmt.Errorf("rule %s: amount criterion value: %w", r.ID, err)
			}
			c.value = parsed
		default:
			return fmt.Errorf("rule %s: unknown amount mode %q", r.ID, c.Mode)
		}
	}
	if c := r.Criteria.Date; c != nil {
		switch c.Mode {
		case DateExact, DateRange:
		default:
			return fmt.Errorf("rule %s: unknown date mode %q", r.ID, c.Mode)
		}
		if c.Mode == DateRange && c.Days < 0 {
			return fmt.Errorf("rule %s: negative date range", r.ID)
		}
	}
	if c := r.Criteria.Description; c != nil {
		switch c.Mode {
		case DescriptionContains, DescriptionExact, DescriptionFuzzy,
			DescriptionStartsWith, DescriptionEndsWith:
		case DescriptionRegex:
			compiled, err := regexp.Compile(c.Value)
			if err != nil {
				return fmt.Errorf("rule %s: invalid regex: %w", r.ID, err)
			}
			c.compiled = compiled
		default:
			return fmt.Errorf("rule %s: unknown description mode %q", r.ID, c.Mode)
		}
	}
	return nil
}

// appliesTo reports whether the rule is in scope for the account.
func (r *MatchRule) appliesTo(accountID string) bool {
	return r.IsActive && (r.AccountID == "" || r.AccountID == accountID)
}

// matches reports whether every active criterion passes for the given
// transaction/candidate pair.
func (r *MatchRule) matches(tx *models.BankTransaction, candidate *models.CandidateRecord) bool {
	if c := r.Criteria.Amount; c != nil && !c.matches(tx, candidate) {
		return false
	}
	if c := r.Criteria.Date; c != nil && !c.matches(tx, candidate) {
		return false
	}
	if c := r.Criteria.Description; c != nil && !c.matches(tx) {
		return false
	}
	if ref := r.Criteria.Reference; ref != "" {
		if !strings.EqualFold(strings.TrimSpace(ref), strings.TrimSpace(candidate.Reference)) {
			return false
		}
	}
	if vendor := r.Criteria.Vendor; vendor != "" {
		if !strings.Contains(textutils.Normalize(tx.Description), textutils.Normalize(vendor)) {
			return false
		}
	}
	if category := r.Criteria.Category; category != "" {
		if !strings.EqualFold(category, string(candidate.SourceType)) {
			return false
		}
	}
	return true
}

// Result is a fired rule together with the candidate it matched.
type Result struct {
	Rule      *MatchRule
	Candidate *models.CandidateRecord
}

// Evaluate walks the rule snapshot in ascending priority order and returns
// the first rule/candidate pair whose criteria all pass, or nil when no rule
// fires. The snapshot must already be sorted by priority and the candidates
// by date so the result is deterministic.
func Evaluate(tx *models.BankTransaction, candidates []models.CandidateRecord, snapshot []*MatchRule) *Result {
	for _, rule := range snapshot {
		if !rule.appliesTo(tx.AccountID) {
			continue
		}
		for i := range candidates {
			if rule.matches(tx, &candidates[i]) {
				log.WithFields(logrus.Fields{
					"rule_id":      rule.ID,
					"candidate_id": candidates[i].ID,
				}).Debug("Rule fired")
				return &Result{Rule: rule, Candidate: &candidates[i]}
			}
		}
	}
	return nil
}
