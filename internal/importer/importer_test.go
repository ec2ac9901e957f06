package importer

import (
	"context"
	"strings"
	"testing"

	"fjacquet/bank-recon/internal/events"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	SetLogger(logger)
}

const statementCSV = "2024-01-15, Payment from client, 5000.00, credit, INV-001\n" +
	"2024-01-16, Office rent, 2000.00, debit, RENT-JAN\n"

func TestImport_CSV(t *testing.T) {
	transactions := store.NewMemoryTransactionStore()
	sink := events.NewMemorySink()
	imp := New(transactions, sink)

	result, err := imp.Import(context.Background(), "acct", strings.NewReader(statementCSV), FormatCSV, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Duplicates)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.BatchID)

	txs, err := transactions.ListByAccount("acct")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("5000.00")))
	assert.Equal(t, "INV-001", txs[0].ReferenceNumber)
	assert.Equal(t, models.StatusUnmatched, txs[0].Status)
	assert.Equal(t, result.BatchID, txs[0].ImportBatchID)
	assert.True(t, txs[1].Amount.Equal(decimal.RequireFromString("-2000.00")))

	imported := sink.Named(events.TransactionImported)
	assert.Len(t, imported, 2)
	assert.Equal(t, "acct", imported[0].AccountID)
}

func TestImport_Idempotent(t *testing.T) {
	transactions := store.NewMemoryTransactionStore()
	imp := New(transactions, nil)

	first, err := imp.Import(context.Background(), "acct", strings.NewReader(statementCSV), FormatCSV, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)

	second, err := imp.Import(context.Background(), "acct", strings.NewReader(statementCSV), FormatCSV, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported, "re-importing the same file creates no rows")
	assert.Equal(t, 2, second.Duplicates)

	txs, err := transactions.ListByAccount("acct")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestImport_CountsSkippedRows(t *testing.T) {
	input := "Date,Description,Amount,Type,Reference\n" +
		statementCSV +
		",,,,\n"
	opts := DefaultOptions()
	opts.CSV.SkipRows = 1

	imp := New(store.NewMemoryTransactionStore(), nil)
	result, err := imp.Import(context.Background(), "acct", strings.NewReader(input), FormatCSV, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.Skipped, "the header row and the blank line are skipped, not errors")
	assert.Empty(t, result.Errors)
}

func TestImport_PartialFailure(t *testing.T) {
	input := "2024-01-15,OK,10.00,debit,\nbroken-date,Bad,10.00,debit,\n"
	imp := New(store.NewMemoryTransactionStore(), nil)

	result, err := imp.Import(context.Background(), "acct", strings.NewReader(input), FormatCSV, DefaultOptions())
	require.NoError(t, err, "a single bad row must not fail the import")
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Line)
}

func TestImport_OFX(t *testing.T) {
	doc := `OFXHEADER:100

<OFX>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240115
<TRNAMT>5000.00
<FITID>INV-001
<NAME>Payment from client
</STMTTRN>
</OFX>
`
	transactions := store.NewMemoryTransactionStore()
	imp := New(transactions, nil)

	result, err := imp.Import(context.Background(), "acct", strings.NewReader(doc), FormatOFX, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	txs, err := transactions.ListByAccount("acct")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "INV-001", txs[0].ReferenceNumber, "FITID rides into the reference number")

	// FITID-based dedupe makes OFX re-imports idempotent too.
	again, err := imp.Import(context.Background(), "acct", strings.NewReader(doc), FormatOFX, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, again.Duplicates)
}

func TestImport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imp := New(store.NewMemoryTransactionStore(), nil)
	_, err := imp.Import(ctx, "acct", strings.NewReader(statementCSV), FormatCSV, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImport_RequiresAccount(t *testing.T) {
	imp := New(store.NewMemoryTransactionStore(), nil)
	_, err := imp.Import(context.Background(), "", strings.NewReader(statementCSV), FormatCSV, DefaultOptions())
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("ofx")
	require.NoError(t, err)
	assert.Equal(t, FormatOFX, f)

	_, err = ParseFormat("qif")
	assert.Error(t, err)
}
