// Package importer turns statement files into stored bank transactions.
// Imports are idempotent per account: re-running the same file counts
// duplicates instead of creating rows.
package importer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"fjacquet/bank-recon/internal/csvparser"
	"fjacquet/bank-recon/internal/events"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/ofxparser"
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

// Format identifies a supported statement file format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatOFX Format = "ofx"
)

// ParseFormat resolves a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FormatCSV, nil
	case "ofx":
		return FormatOFX, nil
	default:
		return "", fmt.Errorf("unsupported statement format %q (supported: csv, ofx)", name)
	}
}

// Options configures one import run. CSV holds the parser options for CSV
// files and is ignored for OFX.
type Options struct {
	CSV csvparser.Options
}

// DefaultOptions returns options for a comma-delimited ISO-dated CSV.
func DefaultOptions() Options {
	return Options{CSV: csvparser.DefaultOptions()}
}

// Importer parses statement files and stores the resulting transactions.
type Importer struct {
	transactions store.TransactionStore
	sink         events.Sink
}

// New creates an importer over the given transaction store. A nil sink
// disables event emission.
func New(transactions store.TransactionStore, sink events.Sink) *Importer {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Importer{transactions: transactions, sink: sink}
}

// Import reads one statement file and stores its rows for the account. Row
// failures are collected into the result; the import only fails wholesale
// when the file itself is unusable. The context is honored between chunks.
func (i *Importer) Import(ctx context.Context, accountID string, r io.Reader, format Format, opts Options) (*models.ImportResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	result := &models.ImportResult{BatchID: uuid.New().String()}
	log.WithFields(logrus.Fields{
		"account_id": accountID,
		"batch_id":   result.BatchID,
		"format":     format,
	}).Info("Starting statement import")

	handler := func(rows []models.StatementEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return i.storeChunk(accountID, result, rows)
	}

	switch format {
	case FormatCSV:
		stats, err := csvparser.Parse(r, opts.CSV, handler)
		result.Errors = append(result.Errors, stats.RowErrors...)
		result.Skipped += stats.Skipped
		if err != nil {
			return result, err
		}
	case FormatOFX:
		entries, rowErrs, err := ofxparser.Parse(r)
		result.Errors = append(result.Errors, rowErrs...)
		if err != nil {
			return result, err
		}
		chunkSize := opts.CSV.ChunkSize
		if chunkSize < 1 {
			chunkSize = csvparser.DefaultOptions().ChunkSize
		}
		for start := 0; start < len(entries); start += chunkSize {
			end := start + chunkSize
			if end > len(entries) {
				end = len(entries)
			}
			if err := handler(entries[start:end]); err != nil {
				return result, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported statement format %q", format)
	}

	log.WithFields(logrus.Fields{
		"account_id": accountID,
		"batch_id":   result.BatchID,
		"imported":   result.Imported,
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
		"errors":     len(result.Errors),
	}).Info("Statement import finished")
	return result, nil
}

// storeChunk inserts one chunk of parsed rows, counting duplicates.
func (i *Importer) storeChunk(accountID string, result *models.ImportResult, rows []models.StatementEntry) error {
	for _, row := range rows {
		tx := &models.BankTransaction{
			ID:              uuid.New().String(),
			AccountID:       accountID,
			PostedDate:      row.PostedDate,
			Description:     row.Description,
			Amount:          row.Amount,
			ReferenceNumber: row.Reference,
			BalanceAfter:    row.Balance,
			ImportBatchID:   result.BatchID,
			Status:          models.StatusUnmatched,
		}
		tx.DedupeHash = models.ComputeDedupeHash(accountID, row.PostedDate, row.Amount, row.Reference, row.Raw)

		inserted, err := i.transactions.Insert(tx)
		if err != nil {
			return fmt.Errorf("error storing transaction from line %d: %w", row.Line, err)
		}
		if !inserted {
			result.Duplicates++
			continue
		}
		result.Imported++
		i.sink.Emit(events.New(events.TransactionImported, accountID, map[string]interface{}{
			"transaction_id": tx.ID,
			"batch_id":       result.BatchID,
			"amount":         tx.Amount.StringFixed(2),
		}))
	}
	return nil
}
