package textutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "payment from client inc", Normalize("Payment  from CLIENT, Inc."))
	assert.Equal(t, "", Normalize("  ,.;  "))
	assert.Equal(t, "inv 001", Normalize("INV-001"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"office", "rent", "january"}, Tokenize("Office Rent (January)"))
	assert.Nil(t, Tokenize(""))
}

func TestTokenOverlap(t *testing.T) {
	assert.Equal(t, 1.0, TokenOverlap("office rent", "office rent payment"))
	assert.Equal(t, 0.0, TokenOverlap("office rent", "grocery store"))
	assert.Equal(t, 0.0, TokenOverlap("", "office rent"))
}

func TestEditSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("Office Rent", "office  rent"))
	assert.Equal(t, 0.0, EditSimilarity("", "anything"))
	assert.Equal(t, 1.0, EditSimilarity("", ""))

	s := EditSimilarity("office rent", "office rents")
	assert.Greater(t, s, 0.9)
	assert.Less(t, s, 1.0)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Payment from Client", "payment from client"))
	assert.Equal(t, 0.0, Similarity("", "office rent"))

	// A payee buried in processor noise still scores via containment.
	s := Similarity("POS 2024-01-15 ACME CORP ZURICH 0001", "acme corp")
	assert.GreaterOrEqual(t, s, 0.6)

	// Unrelated descriptions score low.
	assert.Less(t, Similarity("office rent", "flight tickets"), 0.5)
}
