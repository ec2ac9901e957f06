package dateutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatementDate_ISO(t *testing.T) {
	got, err := ParseStatementDate("2024-01-15", FormatISO, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestParseStatementDate_ExplicitFormats(t *testing.T) {
	eu, err := ParseStatementDate("03/04/2024", FormatEU, true)
	require.NoError(t, err)
	assert.Equal(t, time.April, eu.Month())
	assert.Equal(t, 3, eu.Day())

	us, err := ParseStatementDate("03/04/2024", FormatUS, true)
	require.NoError(t, err)
	assert.Equal(t, time.March, us.Month())
	assert.Equal(t, 4, us.Day())
}

func TestParseStatementDate_AmbiguousRejected(t *testing.T) {
	// Both parts are 12 or less; without a pinned format the row must fail
	// rather than be guessed.
	_, err := ParseStatementDate("03/04/2024", FormatEU, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	// A day above 12 disambiguates on its own.
	got, err := ParseStatementDate("13/04/2024", FormatEU, false)
	require.NoError(t, err)
	assert.Equal(t, 13, got.Day())
}

func TestParseStatementDate_UnknownFormat(t *testing.T) {
	_, err := ParseStatementDate("2024-01-15", "YYYYMMDD", false)
	assert.Error(t, err)
}

func TestDaysApart(t *testing.T) {
	a := time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 1, 18, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 3, DaysApart(a, b))
	assert.Equal(t, 3, DaysApart(b, a), "distance is symmetric")
	assert.Equal(t, 0, DaysApart(a, a))
}

func TestSameDay(t *testing.T) {
	morning := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC)
	nextDay := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	assert.True(t, SameDay(morning, evening))
	assert.False(t, SameDay(evening, nextDay))
}

func TestKnownFormat(t *testing.T) {
	assert.True(t, KnownFormat(FormatISO))
	assert.True(t, KnownFormat(FormatEU))
	assert.True(t, KnownFormat(FormatUS))
	assert.False(t, KnownFormat("DD.MM.YYYY"))
}
