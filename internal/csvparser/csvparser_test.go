package csvparser

import (
	"strings"
	"testing"

	"fjacquet/bank-recon/internal/dateutils"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconerror"

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

func parseAll(t *testing.T, input string, opts Options) ([]models.StatementEntry, []*reconerror.RowError, error) {
	t.Helper()
	var rows []models.StatementEntry
	stats, err := Parse(strings.NewReader(input), opts, func(chunk []models.StatementEntry) error {
		rows = append(rows, chunk...)
		return nil
	})
	return rows, stats.RowErrors, err
}

func TestParse_DefaultMapping(t *testing.T) {
	input := "2024-01-15, Payment from client, 5000.00, credit, INV-001\n" +
		"2024-01-16, Office rent, 2000.00, debit, RENT-JAN\n"

	rows, rowErrs, err := parseAll(t, input, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rows, 2)

	assert.Equal(t, "Payment from client", rows[0].Description)
	assert.True(t, rows[0].Amount.Equal(decimal.RequireFromString("5000.00")))
	assert.Equal(t, "INV-001", rows[0].Reference)
	assert.Equal(t, 15, rows[0].PostedDate.Day())

	assert.True(t, rows[1].Amount.Equal(decimal.RequireFromString("-2000.00")), "debit rows carry a negative amount")
	assert.Equal(t, "RENT-JAN", rows[1].Reference)
}

func TestParse_DebitCreditColumns(t *testing.T) {
	opts := DefaultOptions()
	opts.Mapping = ColumnMapping{Date: 0, Description: 1, Amount: -1, Type: -1, Debit: 2, Credit: 3, Reference: -1, Balance: -1}

	input := "2024-02-01,Rent,1500.00,\n" +
		"2024-02-02,Refund,,250.00\n"

	rows, rowErrs, err := parseAll(t, input, opts)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Amount.Equal(decimal.RequireFromString("-1500.00")))
	assert.True(t, rows[1].Amount.Equal(decimal.RequireFromString("250.00")))
}

func TestParse_DebitCreditBothPopulated(t *testing.T) {
	opts := DefaultOptions()
	opts.Mapping = ColumnMapping{Date: 0, Description: 1, Amount: -1, Type: -1, Debit: 2, Credit: 3, Reference: -1, Balance: -1}

	rows, rowErrs, err := parseAll(t, "2024-02-01,Odd row,10.00,20.00\n2024-02-02,Fine,5.00,\n", opts)
	require.NoError(t, err)
	require.Len(t, rowErrs, 1)
	assert.Contains(t, rowErrs[0].Reason, "both debit and credit")
	assert.Len(t, rows, 1)
}

func TestParse_SkipRowsAndBlankLines(t *testing.T) {
	opts := DefaultOptions()
	opts.SkipRows = 1

	input := "Date,Description,Amount,Type,Reference\n" +
		"2024-01-15,Coffee,4.50,debit,\n" +
		",,,,\n" +
		"2024-01-16,Groceries,80.00,debit,\n"

	var rows []models.StatementEntry
	stats, err := Parse(strings.NewReader(input), opts, func(chunk []models.StatementEntry) error {
		rows = append(rows, chunk...)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, stats.RowErrors)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, stats.Parsed)
	assert.Equal(t, 2, stats.Skipped, "the header row and the blank line count as skipped")
}

func TestParse_BadRowsCollected(t *testing.T) {
	input := "2024-01-15,OK,10.00,debit,\n" +
		"not-a-date,Bad date,10.00,debit,\n" +
		"2024-01-17,Bad amount,ten,debit,\n" +
		"2024-01-18,Bad type,10.00,transfer,\n"

	rows, rowErrs, err := parseAll(t, input, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.Len(t, rowErrs, 3)
	assert.Equal(t, 2, rowErrs[0].Line)
	assert.Equal(t, "date", rowErrs[0].Field)
	assert.Equal(t, "amount", rowErrs[1].Field)
	assert.Equal(t, "type", rowErrs[2].Field)
}

func TestParse_ZeroParseableRowsIsHardFailure(t *testing.T) {
	input := "garbage,row,one\nmore,garbage,here\n"

	_, rowErrs, err := parseAll(t, input, DefaultOptions())
	require.Error(t, err)
	var parseErr *reconerror.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "csv", parseErr.Format)
	assert.NotEmpty(t, rowErrs)
}

func TestParse_EmptyInput(t *testing.T) {
	rows, rowErrs, err := parseAll(t, "", DefaultOptions())
	assert.NoError(t, err, "an empty file has no data and no failures")
	assert.Empty(t, rows)
	assert.Empty(t, rowErrs)
}

func TestParse_Chunking(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSize = 2

	input := "2024-01-15,A,1.00,debit,\n" +
		"2024-01-16,B,2.00,debit,\n" +
		"2024-01-17,C,3.00,debit,\n"

	var chunkSizes []int
	stats, err := Parse(strings.NewReader(input), opts, func(chunk []models.StatementEntry) error {
		chunkSizes = append(chunkSizes, len(chunk))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, stats.RowErrors)
	assert.Equal(t, []int{2, 1}, chunkSizes)
}

func TestParse_AmbiguousDateRejected(t *testing.T) {
	opts := DefaultOptions()
	opts.DateFormat = dateutils.FormatEU
	opts.DateFormatExplicit = false

	input := "03/04/2024,Ambiguous,10.00,debit,\n13/04/2024,Clear,10.00,debit,\n"

	rows, rowErrs, err := parseAll(t, input, opts)
	require.NoError(t, err)
	require.Len(t, rowErrs, 1)
	assert.Contains(t, rowErrs[0].Reason, "ambiguous")
	assert.Len(t, rows, 1)
}

func TestParse_BalanceColumn(t *testing.T) {
	opts := DefaultOptions()
	opts.Mapping.Balance = 5

	input := "2024-01-15,Salary,8000.00,credit,SAL-01,12000.00\n"
	rows, _, err := parseAll(t, input, opts)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Balance.Equal(decimal.RequireFromString("12000.00")))
}

func TestValidateOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Mapping.Date = -1
	_, _, err := parseAll(t, "x\n", opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Mapping.Amount = -1
	_, _, err = parseAll(t, "x\n", opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.DateFormat = "bogus"
	_, _, err = parseAll(t, "x\n", opts)
	assert.Error(t, err)
}
