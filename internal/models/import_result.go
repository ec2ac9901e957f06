package models

import (
	"fmt"

	"fjacquet/bank-recon/internal/reconerror"
)

// ImportResult is the structured summary returned by an import run.
// A partially failed import still returns a result; only a file with zero
// parseable rows is reported as an error instead.
type ImportResult struct {
	BatchID    string
	Imported   int
	Skipped    int
	Duplicates int
	Errors     []*reconerror.RowError
}

// Total returns the number of rows the importer looked at.
func (r *ImportResult) Total() int {
	return r.Imported + r.Skipped + r.Duplicates + len(r.Errors)
}

// Summary renders a one-line human-readable summary.
func (r *ImportResult) Summary() string {
	return fmt.Sprintf("imported=%d skipped=%d duplicates=%d errors=%d",
		r.Imported, r.Skipped, r.Duplicates, len(r.Errors))
}
