// Package scoring implements the weighted match scoring engine. Every
// transaction/candidate pair gets a 0-100 score from three normalized
// factors (amount, date, description) plus a confidence band.
package scoring

import (
	"fmt"
	"strings"

	"fjacquet/bank-recon/internal/config"
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

// Band is the confidence band derived from a numeric score.
type Band string

const (
	BandExact  Band = "exact"
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Band thresholds. A score at the threshold belongs to the higher band.
const (
	exactThreshold  = 95.0
	highThreshold   = 80.0
	mediumThreshold = 60.0
)

// BandFor maps a score to its confidence band.
func BandFor(score float64) Band {
	switch {
	case score >= exactThreshold:
		return BandExact
	case score >= highThreshold:
		return BandHigh
	case score >= mediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// Converter converts an amount between currencies. It is a pure function
// supplied by the caller when account and candidate currencies differ.
type Converter func(amount decimal.Decimal, fromCurrency, toCurrency string) decimal.Decimal

// Options are the scoring weights and decay thresholds.
type Options struct {
	AmountWeight      float64
	DateWeight        float64
	DescriptionWeight float64
	// AmountDecayPct is the percentage difference at which the amount factor
	// reaches zero.
	AmountDecayPct float64
	// DateDecayDays is the day distance at which the date factor reaches zero.
	DateDecayDays int
	// DescriptionFloor is the minimum similarity below which the description
	// factor is zero.
	DescriptionFloor float64
	// AccountCurrency, when set together with Convert, converts candidate
	// amounts quoted in another currency before comparison.
	AccountCurrency string
	Convert         Converter
}

// DefaultOptions returns the documented default weights and decays.
func DefaultOptions() Options {
	return Options{
		AmountWeight:      0.40,
		DateWeight:        0.30,
		DescriptionWeight: 0.30,
		AmountDecayPct:    5.0,
		DateDecayDays:     14,
		DescriptionFloor:  0.2,
	}
}

// OptionsFromConfig lifts the scoring section of the engine configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AmountWeight:      cfg.Scoring.AmountWeight,
		DateWeight:        cfg.Scoring.DateWeight,
		DescriptionWeight: cfg.Scoring.DescriptionWeight,
		AmountDecayPct:    cfg.Scoring.AmountDecayPct,
		DateDecayDays:     cfg.Scoring.DateDecayDays,
		DescriptionFloor:  cfg.Scoring.DescriptionFloor,
	}
}

// Engine scores transaction/candidate pairs.
type Engine struct {
	opts Options
}

// NewEngine creates a scoring engine with the given options.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Score computes the weighted 0-100 score for a pair plus a human-readable
// reason per factor. An exact reference-number match on both sides overrides
// the description factor to 100; the reference is authoritative.
func (e *Engine) Score(tx *models.BankTransaction, candidate *models.CandidateRecord) (float64, []string) {
	reasons := make([]string, 0, 4)

	candAmount := candidate.Amount
	if e.opts.Convert != nil && candidate.Currency != "" &&
		e.opts.AccountCurrency != "" && candidate.Currency != e.opts.AccountCurrency {
		candAmount = e.opts.Convert(candAmount, candidate.Currency, e.opts.AccountCurrency)
		reasons = append(reasons, fmt.Sprintf("amount converted from %s", candidate.Currency))
	}

	amountFactor := e.amountFactor(tx.Amount, candAmount)
	reasons = append(reasons, fmt.Sprintf("amount factor %.0f", amountFactor))

	dateFactor := e.dateFactor(tx, candidate)
	reasons = append(reasons, fmt.Sprintf("date factor %.0f (%d days apart)",
		dateFactor, dateutils.DaysApart(tx.PostedDate, candidate.Date)))

	var descFactor float64
	if ReferenceMatch(tx.ReferenceNumber, candidate.Reference) {
		descFactor = 100
		reasons = append(reasons, fmt.Sprintf("reference %s matches exactly", candidate.Reference))
	} else {
		descFactor = e.descriptionFactor(tx, candidate)
		reasons = append(reasons, fmt.Sprintf("description factor %.0f", descFactor))
	}

	score := e.opts.AmountWeight*amountFactor +
		e.opts.DateWeight*dateFactor +
		e.opts.DescriptionWeight*descFactor
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"candidate_id":   candidate.ID,
		"score":          score,
	}).Debug("Scored candidate")
	return score, reasons
}

// amountFactor is 100 for equal amounts within tolerance, decaying linearly
// to 0 at AmountDecayPct percent difference. Comparison is on absolute
// values; direction eligibility is the caller's concern.
func (e *Engine) amountFactor(txAmount, candAmount decimal.Decimal) float64 {
	a, b := txAmount.Abs(), candAmount.Abs()
	if models.AmountsEqual(a, b) {
		return 100
	}
	base := a
	if base.IsZero() {
		return 0
	}
	diffPct, _ := a.Sub(b).Abs().Div(base).Mul(decimal.NewFromInt(100)).Float64()
	if diffPct >= e.opts.AmountDecayPct {
		return 0
	}
	return 100 * (1 - diffPct/e.opts.AmountDecayPct)
}

// dateFactor is 100 for the same calendar day, decaying linearly to 0 at
// DateDecayDays distance.
func (e *Engine) dateFactor(tx *models.BankTransaction, candidate *models.CandidateRecord) float64 {
	days := dateutils.DaysApart(tx.PostedDate, candidate.Date)
	if days == 0 {
		return 100
	}
	if days >= e.opts.DateDecayDays {
		return 0
	}
	return 100 * (1 - float64(days)/float64(e.opts.DateDecayDays))
}

// descriptionFactor grades text similarity between the transaction
// description and the candidate description or reference, zero below the
// similarity floor.
func (e *Engine) descriptionFactor(tx *models.BankTransaction, candidate *models.CandidateRecord) float64 {
	best := textutils.Similarity(tx.Description, candidate.Description)
	if candidate.Reference != "" {
		if s := textutils.Similarity(tx.Description, candidate.Reference); s > best {
			best = s
		}
	}
	if best < e.opts.DescriptionFloor {
		return 0
	}
	return best * 100
}

// ReferenceMatch reports an exact reference-number match when both sides
// carry one.
func ReferenceMatch(txRef, candRef string) bool {
	txRef, candRef = strings.TrimSpace(txRef), strings.TrimSpace(candRef)
	if txRef == "" || candRef == "" {
		return false
	}
	return strings.EqualFold(txRef, candRef)
}
