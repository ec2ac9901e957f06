package matching

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
)

// suggestionReportRow is the CSV wire shape of one suggestion report line.
type suggestionReportRow struct {
	TransactionID string `csv:"TransactionID"`
	PostedDate    string `csv:"PostedDate"`
	Amount        string `csv:"Amount"`
	Description   string `csv:"Description"`
	CandidateID   string `csv:"CandidateID"`
	SourceType    string `csv:"SourceType"`
	Score         string `csv:"Score"`
	Band          string `csv:"Band"`
	RuleID        string `csv:"RuleID"`
}

// WriteSuggestionReport writes the ranked suggestions to a CSV file, one row
// per transaction and candidate pair. A transaction without suggestions gets
// a single row with empty candidate columns so it still shows up for review.
func (o *Orchestrator) WriteSuggestionReport(path string, suggestions []TransactionSuggestions) error {
	rows := make([]*suggestionReportRow, 0, len(suggestions))
	for _, ts := range suggestions {
		tx, err := o.transactions.Get(ts.BankTransactionID)
		if err != nil {
			return err
		}
		base := suggestionReportRow{
			TransactionID: tx.ID,
			PostedDate:    tx.PostedDate.Format("2006-01-02"),
			Amount:        tx.Amount.StringFixed(2),
			Description:   tx.Description,
			RuleID:        ts.RuleID,
		}
		if len(ts.Suggestions) == 0 {
			row := base
			rows = append(rows, &row)
			continue
		}
		for _, s := range ts.Suggestions {
			row := base
			row.CandidateID = s.CandidateID
			row.SourceType = string(s.SourceType)
			row.Score = fmt.Sprintf("%.2f", s.Score)
			row.Band = string(s.Band)
			rows = append(rows, &row)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating report file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("error writing report file %s: %w", path, err)
	}
	log.WithFields(map[string]interface{}{
		"file": path,
		"rows": len(rows),
	}).Info("Wrote suggestion report")
	return nil
}
