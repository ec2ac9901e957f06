package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/rules"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRulesFromYAML(t *testing.T) {
	path := writeFile(t, "rules.yaml", `rules:
  - id: rent
    priority: 20
    is_active: true
    criteria:
      description:
        mode: contains
        value: office rent
      amount:
        mode: exact
    actions:
      auto_match: true
  - id: client-ref
    priority: 10
    is_active: true
    criteria:
      reference: INV-001
    actions:
      auto_match: true
      auto_reconcile: true
`)

	ruleStore, err := LoadRulesFromYAML(path)
	require.NoError(t, err)

	snapshot := ruleStore.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "client-ref", snapshot[0].ID, "snapshot is sorted by ascending priority")
	assert.Equal(t, "rent", snapshot[1].ID)
	assert.True(t, snapshot[0].Actions.AutoReconcile)
	assert.Equal(t, rules.DescriptionContains, snapshot[1].Criteria.Description.Mode)
}

func TestLoadRulesFromYAML_InvalidRule(t *testing.T) {
	path := writeFile(t, "rules.yaml", `rules:
  - id: broken
    priority: 1
    is_active: true
    criteria:
      description:
        mode: regex
        value: "["
`)
	_, err := LoadRulesFromYAML(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regex")
}

func TestLoadRulesFromYAML_MissingFile(t *testing.T) {
	_, err := LoadRulesFromYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSaveRulesToYAML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	list := []*rules.MatchRule{{
		ID:       "r1",
		Priority: 5,
		IsActive: true,
		Criteria: rules.Criteria{Reference: "INV-9"},
	}}
	require.NoError(t, SaveRulesToYAML(path, list))

	loaded, err := LoadRulesFromYAML(path)
	require.NoError(t, err)
	require.Len(t, loaded.Snapshot(), 1)
	assert.Equal(t, "INV-9", loaded.Snapshot()[0].Criteria.Reference)
}

func TestLoadCandidatesFromCSV(t *testing.T) {
	path := writeFile(t, "candidates.csv",
		"ID,SourceType,AccountID,Amount,Date,Description,Reference,RemainingBalance,Currency\n"+
			"inv-1,invoice,acct,5000.00,2024-01-14,Client invoice,INV-001,,CHF\n"+
			"exp-1,expense,acct,2000.00,2024-01-16,Office rent,RENT-JAN,1500.00,\n")

	source, err := LoadCandidatesFromCSV(path)
	require.NoError(t, err)

	candidates, err := source.FindUnmatchedCandidates(context.Background(), "acct", DateWindow{}, AmountWindow{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	inv := candidates[0]
	assert.Equal(t, "inv-1", inv.ID)
	assert.Equal(t, models.SourceInvoice, inv.SourceType)
	assert.Equal(t, "CHF", inv.Currency)
	assert.True(t, inv.RemainingBalance.Equal(decimal.RequireFromString("5000.00")),
		"remaining balance defaults to the amount")

	exp := candidates[1]
	assert.True(t, exp.RemainingBalance.Equal(decimal.RequireFromString("1500.00")))
}

func TestLoadCandidatesFromCSV_BadRow(t *testing.T) {
	path := writeFile(t, "candidates.csv",
		"ID,SourceType,AccountID,Amount,Date,Description,Reference,RemainingBalance,Currency\n"+
			"inv-1,loan,acct,5000.00,2024-01-14,Client invoice,INV-001,,\n")
	_, err := LoadCandidatesFromCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source type")
}
