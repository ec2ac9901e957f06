package store

import (
	"fmt"
	"os"
	"strings"

	"fjacquet/bank-recon/internal/dateutils"
	"fjacquet/bank-recon/internal/models"

	"github.com/gocarina/gocsv"
)

// candidateRow is the CSV wire shape of a candidate record. Dates and amounts
// arrive as strings and are validated during conversion.
type candidateRow struct {
	ID               string `csv:"ID"`
	SourceType       string `csv:"SourceType"`
	AccountID        string `csv:"AccountID"`
	Amount           string `csv:"Amount"`
	Date             string `csv:"Date"`
	Description      string `csv:"Description"`
	Reference        string `csv:"Reference"`
	RemainingBalance string `csv:"RemainingBalance"`
	Currency         string `csv:"Currency"`
}

// LoadCandidatesFromCSV reads a candidate export file into a memory-backed
// candidate source. The file must carry ISO dates (YYYY-MM-DD).
func LoadCandidatesFromCSV(path string) (*MemoryCandidateSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening candidate file: %w", err)
	}
	defer f.Close()

	var rows []*candidateRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("error parsing candidate file %s: %w", path, err)
	}

	candidates := make([]models.CandidateRecord, 0, len(rows))
	for i, row := range rows {
		c, err := row.toRecord()
		if err != nil {
			return nil, fmt.Errorf("candidate file %s row %d: %w", path, i+2, err)
		}
		candidates = append(candidates, c)
	}

	log.WithFields(map[string]interface{}{
		"file":       path,
		"candidates": len(candidates),
	}).Info("Loaded candidate records")
	return NewMemoryCandidateSource(candidates), nil
}

func (r *candidateRow) toRecord() (models.CandidateRecord, error) {
	if r.ID == "" {
		return models.CandidateRecord{}, fmt.Errorf("missing candidate id")
	}

	sourceType := models.SourceType(strings.ToLower(strings.TrimSpace(r.SourceType)))
	switch sourceType {
	case models.SourceInvoice, models.SourcePayment, models.SourceExpense:
	default:
		return models.CandidateRecord{}, fmt.Errorf("unknown source type %q", r.SourceType)
	}

	date, err := dateutils.ParseStatementDate(r.Date, dateutils.FormatISO, true)
	if err != nil {
		return models.CandidateRecord{}, fmt.Errorf("invalid date: %w", err)
	}

	amount, err := models.ParseAmount(r.Amount)
	if err != nil {
		return models.CandidateRecord{}, err
	}

	remaining := amount
	if strings.TrimSpace(r.RemainingBalance) != "" {
		remaining, err = models.ParseAmount(r.RemainingBalance)
		if err != nil {
			return models.CandidateRecord{}, fmt.Errorf("invalid remaining balance: %w", err)
		}
	}

	return models.CandidateRecord{
		ID:               r.ID,
		SourceType:       sourceType,
		AccountID:        strings.TrimSpace(r.AccountID),
		Amount:           amount,
		Date:             date,
		Description:      strings.TrimSpace(r.Description),
		Reference:        strings.TrimSpace(r.Reference),
		RemainingBalance: remaining,
		Currency:         strings.ToUpper(strings.TrimSpace(r.Currency)),
	}, nil
}
