package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementEntry is one normalized statement line produced by the CSV and OFX
// parsers before the importer turns it into a BankTransaction. Amount is
// signed: credits positive, debits negative.
type StatementEntry struct {
	Line        int
	PostedDate  time.Time
	Description string
	Amount      decimal.Decimal
	Reference   string
	Balance     decimal.Decimal
	Raw         string
}
