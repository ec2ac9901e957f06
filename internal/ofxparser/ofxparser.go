// Package ofxparser parses OFX bank statements into normalized statement
// entries. Both OFX 1.x (SGML framing, unclosed tags) and OFX 2.x (XML) are
// supported; each STMTTRN record maps to one entry.
package ofxparser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconerror"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger allows setting a custom logger.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Framing identifies the OFX document flavor.
type Framing string

const (
	FramingSGML Framing = "sgml"
	FramingXML  Framing = "xml"
)

// DetectFraming inspects the document head to decide between OFX 1.x SGML and
// OFX 2.x XML.
func DetectFraming(data []byte) (Framing, error) {
	head := strings.TrimSpace(string(data[:min(len(data), 512)]))
	switch {
	case strings.HasPrefix(head, "<?xml") || strings.HasPrefix(head, "<?OFX"):
		return FramingXML, nil
	case strings.HasPrefix(head, "OFXHEADER") || strings.Contains(head, "OFXHEADER:"):
		return FramingSGML, nil
	case strings.HasPrefix(head, "<OFX>"):
		// Headerless body; the absence of an XML declaration means 1.x.
		return FramingSGML, nil
	default:
		return "", &reconerror.ParseError{Format: "ofx", Reason: "not an OFX document"}
	}
}

// Parse reads an OFX document and returns its statement entries. Individual
// malformed STMTTRN records are collected as RowErrors; a document with zero
// parseable records is a hard failure.
func Parse(r io.Reader) ([]models.StatementEntry, []*reconerror.RowError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading OFX input: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, &reconerror.ParseError{Format: "ofx", Reason: "empty document"}
	}

	framing, err := DetectFraming(data)
	if err != nil {
		return nil, nil, err
	}

	var records []stmtTrn
	switch framing {
	case FramingXML:
		records, err = extractXML(data)
	case FramingSGML:
		records = extractSGML(data)
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		entries []models.StatementEntry
		rowErrs []*reconerror.RowError
	)
	for _, rec := range records {
		entry, rowErr := rec.toEntry()
		if rowErr != nil {
			log.WithFields(logrus.Fields{
				"line":   rowErr.Line,
				"reason": rowErr.Reason,
			}).Debug("Skipping unparseable STMTTRN record")
			rowErrs = append(rowErrs, rowErr)
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, rowErrs, &reconerror.ParseError{
			Format: string(framing),
			Reason: fmt.Sprintf("no parseable STMTTRN records (%d records failed)", len(rowErrs)),
		}
	}

	log.WithFields(logrus.Fields{
		"framing": framing,
		"entries": len(entries),
		"errors":  len(rowErrs),
	}).Info("Parsed OFX statement")
	return entries, rowErrs, nil
}

// ValidateFormat reports whether the data looks like an OFX document.
func ValidateFormat(data []byte) bool {
	_, err := DetectFraming(data)
	return err == nil
}

// stmtTrn is a raw STMTTRN record before normalization.
type stmtTrn struct {
	line     int
	trnType  string
	dtPosted string
	trnAmt   string
	fitID    string
	name     string
	memo     string
}

// toEntry normalizes a raw record. TRNAMT carries the authoritative sign;
// TRNTYPE only corrects records whose amount sign contradicts it.
func (s stmtTrn) toEntry() (models.StatementEntry, *reconerror.RowError) {
	if s.dtPosted == "" {
		return models.StatementEntry{}, &reconerror.RowError{Line: s.line, Field: "DTPOSTED", Reason: "missing"}
	}
	postedDate, err := parseOFXDate(s.dtPosted)
	if err != nil {
		return models.StatementEntry{}, &reconerror.RowError{Line: s.line, Field: "DTPOSTED", Value: s.dtPosted, Reason: err.Error()}
	}

	if s.trnAmt == "" {
		return models.StatementEntry{}, &reconerror.RowError{Line: s.line, Field: "TRNAMT", Reason: "missing"}
	}
	amount, err := models.ParseAmount(s.trnAmt)
	if err != nil {
		return models.StatementEntry{}, &reconerror.RowError{Line: s.line, Field: "TRNAMT", Value: s.trnAmt, Reason: err.Error()}
	}

	switch strings.ToUpper(s.trnType) {
	case "DEBIT", "PAYMENT", "FEE", "ATM", "POS", "CHECK":
		if amount.IsPositive() {
			amount = amount.Neg()
		}
	case "CREDIT", "DEP", "DIRECTDEP", "INT":
		amount = amount.Abs()
	}

	description := s.name
	if s.memo != "" {
		if description == "" {
			description = s.memo
		} else if !strings.Contains(description, s.memo) {
			description = description + " " + s.memo
		}
	}

	return models.StatementEntry{
		Line:        s.line,
		PostedDate:  postedDate,
		Description: description,
		Amount:      amount,
		Reference:   s.fitID,
		Raw:         fmt.Sprintf("%s|%s|%s|%s", s.dtPosted, s.trnAmt, s.name, s.memo),
	}, nil
}

// parseOFXDate parses the OFX datetime format YYYYMMDD[HHMMSS[.XXX]][TZ],
// keeping only the date part.
func parseOFXDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if idx := strings.IndexAny(value, "[ "); idx >= 0 {
		value = value[:idx]
	}
	if len(value) < 8 {
		return time.Time{}, fmt.Errorf("invalid OFX date %q", value)
	}
	t, err := time.Parse("20060102", value[:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid OFX date %q: %w", value, err)
	}
	return t, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
