// Package csvparser parses bank statement CSV files into normalized statement
// rows. Column layout, delimiter, header skip count and date format are all
// configurable because no two banks export the same shape.
package csvparser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"fjacquet/bank-recon/internal/dateutils"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconerror"

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

// ColumnMapping assigns statement fields to zero-based column indexes.
// Either Amount+Type or Debit+Credit must be mapped; unmapped fields are -1.
type ColumnMapping struct {
	Date        int
	Description int
	Amount      int
	Type        int
	Debit       int
	Credit      int
	Reference   int
	Balance     int
}

// DefaultColumnMapping matches the common five-column export:
// date, description, amount, type, reference.
func DefaultColumnMapping() ColumnMapping {
	return ColumnMapping{
		Date:        0,
		Description: 1,
		Amount:      2,
		Type:        3,
		Debit:       -1,
		Credit:      -1,
		Reference:   4,
		Balance:     -1,
	}
}

// Options configures one parse run.
type Options struct {
	Mapping            ColumnMapping
	Delimiter          rune
	SkipRows           int
	DateFormat         string
	DateFormatExplicit bool
	ChunkSize          int
}

// DefaultOptions returns options for a comma-delimited ISO-dated statement.
func DefaultOptions() Options {
	return Options{
		Mapping:    DefaultColumnMapping(),
		Delimiter:  ',',
		SkipRows:   0,
		DateFormat: dateutils.FormatISO,
		ChunkSize:  500,
	}
}

// Stats counts the row outcomes of one parse run. Skipped covers header rows
// dropped by SkipRows and blank lines; failed rows are in RowErrors.
type Stats struct {
	Parsed    int
	Skipped   int
	RowErrors []*reconerror.RowError
}

// Parse streams the statement through the handler in chunks of
// opts.ChunkSize rows. A failed row is recorded as a RowError and parsing
// continues; a non-empty file with zero parseable rows is a hard failure.
func Parse(r io.Reader, opts Options, handler func(rows []models.StatementEntry) error) (Stats, error) {
	var stats Stats
	if err := validateOptions(opts); err != nil {
		return stats, err
	}

	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var (
		chunk   []models.StatementEntry
		line    int
		sawData bool
	)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := handler(chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			sawData = true
			if line <= opts.SkipRows {
				stats.Skipped++
				continue
			}
			stats.RowErrors = append(stats.RowErrors, &reconerror.RowError{Line: line, Reason: err.Error()})
			continue
		}
		sawData = true
		if line <= opts.SkipRows || isBlank(record) {
			stats.Skipped++
			continue
		}

		row, rowErr := parseRecord(line, record, opts)
		if rowErr != nil {
			log.WithFields(logrus.Fields{
				"line":   rowErr.Line,
				"reason": rowErr.Reason,
			}).Debug("Skipping unparseable statement row")
			stats.RowErrors = append(stats.RowErrors, rowErr)
			continue
		}
		stats.Parsed++
		chunk = append(chunk, row)
		if len(chunk) >= opts.ChunkSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	if sawData && stats.Parsed == 0 {
		return stats, &reconerror.ParseError{
			Format: "csv",
			Reason: fmt.Sprintf("no parseable rows (%d rows failed)", len(stats.RowErrors)),
		}
	}

	log.WithFields(logrus.Fields{
		"rows":    stats.Parsed,
		"skipped": stats.Skipped,
		"errors":  len(stats.RowErrors),
	}).Info("Parsed statement CSV")
	return stats, nil
}

// parseRecord turns one CSV record into a normalized StatementEntry.
func parseRecord(line int, record []string, opts Options) (models.StatementEntry, *reconerror.RowError) {
	m := opts.Mapping

	get := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	dateStr := get(m.Date)
	if dateStr == "" {
		return models.StatementEntry{}, &reconerror.RowError{Line: line, Field: "date", Reason: "missing"}
	}
	postedDate, err := dateutils.ParseStatementDate(dateStr, opts.DateFormat, opts.DateFormatExplicit)
	if err != nil {
		return models.StatementEntry{}, &reconerror.RowError{Line: line, Field: "date", Value: dateStr, Reason: err.Error()}
	}

	amount, rowErr := parseSignedAmount(line, record, opts)
	if rowErr != nil {
		return models.StatementEntry{}, rowErr
	}

	row := models.StatementEntry{
		Line:        line,
		PostedDate:  postedDate,
		Description: get(m.Description),
		Amount:      amount,
		Reference:   get(m.Reference),
		Raw:         strings.Join(record, ","),
	}

	if balStr := get(m.Balance); balStr != "" {
		bal, err := models.ParseAmount(balStr)
		if err != nil {
			return models.StatementEntry{}, &reconerror.RowError{Line: line, Field: "balance", Value: balStr, Reason: err.Error()}
		}
		row.Balance = bal
	}

	return row, nil
}

// parseSignedAmount resolves the signed amount from either the combined
// amount+type columns or the split debit/credit columns.
func parseSignedAmount(line int, record []string, opts Options) (decimal.Decimal, *reconerror.RowError) {
	m := opts.Mapping
	get := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	if m.Debit >= 0 || m.Credit >= 0 {
		debitStr, creditStr := get(m.Debit), get(m.Credit)
		switch {
		case debitStr != "" && creditStr != "":
			return decimal.Zero, &reconerror.RowError{Line: line, Field: "amount", Reason: "both debit and credit populated"}
		case debitStr != "":
			amt, err := models.ParseAmount(debitStr)
			if err != nil {
				return decimal.Zero, &reconerror.RowError{Line: line, Field: "debit", Value: debitStr, Reason: err.Error()}
			}
			return amt.Abs().Neg(), nil
		case creditStr != "":
			amt, err := models.ParseAmount(creditStr)
			if err != nil {
				return decimal.Zero, &reconerror.RowError{Line: line, Field: "credit", Value: creditStr, Reason: err.Error()}
			}
			return amt.Abs(), nil
		default:
			return decimal.Zero, &reconerror.RowError{Line: line, Field: "amount", Reason: "neither debit nor credit populated"}
		}
	}

	amtStr := get(m.Amount)
	if amtStr == "" {
		return decimal.Zero, &reconerror.RowError{Line: line, Field: "amount", Reason: "missing"}
	}
	amt, err := models.ParseAmount(amtStr)
	if err != nil {
		return decimal.Zero, &reconerror.RowError{Line: line, Field: "amount", Value: amtStr, Reason: err.Error()}
	}

	if m.Type >= 0 {
		typeStr := strings.ToLower(get(m.Type))
		switch typeStr {
		case "debit", "dbit", "dr", "d":
			return amt.Abs().Neg(), nil
		case "credit", "crdt", "cr", "c":
			return amt.Abs(), nil
		case "":
			// No type value: trust the sign on the amount itself.
			return amt, nil
		default:
			return decimal.Zero, &reconerror.RowError{Line: line, Field: "type", Value: typeStr, Reason: "unknown transaction type"}
		}
	}

	return amt, nil
}

// validateOptions rejects unusable parse options up front.
func validateOptions(opts Options) error {
	if !dateutils.KnownFormat(opts.DateFormat) {
		return fmt.Errorf("unsupported date format %q", opts.DateFormat)
	}
	m := opts.Mapping
	if m.Date < 0 {
		return fmt.Errorf("column mapping: date column is required")
	}
	if m.Amount < 0 && m.Debit < 0 && m.Credit < 0 {
		return fmt.Errorf("column mapping: either amount or debit/credit columns are required")
	}
	if opts.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be positive")
	}
	return nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
