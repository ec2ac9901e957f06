// Package common provides the engine wiring shared by all commands.
package common

import (
	"context"
	"fmt"
	"os"

	"fjacquet/bank-recon/cmd/root"
	"fjacquet/bank-recon/internal/csvparser"
	"fjacquet/bank-recon/internal/dateutils"
	"fjacquet/bank-recon/internal/events"
	"fjacquet/bank-recon/internal/importer"
	"fjacquet/bank-recon/internal/matching"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconciliation"
	"fjacquet/bank-recon/internal/scoring"
	"fjacquet/bank-recon/internal/store"
)

// Engine bundles the stores and services one command invocation works with.
type Engine struct {
	Transactions *store.MemoryTransactionStore
	Matches      *store.MemoryMatchStore
	Sessions     *store.MemorySessionStore
	Importer     *importer.Importer
	Matcher      *matching.Orchestrator
	Recon        *reconciliation.Service
}

// BuildEngine wires stores, importer, orchestrator and reconciliation service
// from the shared flags and configuration. Candidate and rule files are
// optional; without them matching runs against an empty pool.
func BuildEngine() (*Engine, error) {
	cfg := root.Cfg
	sink := events.NewLogSink(root.Log)

	transactions := store.NewMemoryTransactionStore()
	matches := store.NewMemoryMatchStore()
	sessions := store.NewMemorySessionStore()

	var candidates store.CandidateSource = store.NewMemoryCandidateSource(nil)
	if root.SharedFlags.Candidates != "" {
		source, err := store.LoadCandidatesFromCSV(root.SharedFlags.Candidates)
		if err != nil {
			return nil, err
		}
		candidates = source
	}

	var ruleStore *store.RuleStore
	if root.SharedFlags.Rules != "" {
		loaded, err := store.LoadRulesFromYAML(root.SharedFlags.Rules)
		if err != nil {
			return nil, err
		}
		ruleStore = loaded
	}

	recon := reconciliation.NewService(sessions, transactions, sink)
	engine := scoring.NewEngine(scoring.OptionsFromConfig(cfg))
	matcher := matching.New(transactions, matches, candidates, ruleStore, engine, recon, sink, matching.Options{
		SuggestionLimit: cfg.Matching.SuggestionLimit,
		AutoMatchLimit:  cfg.Matching.AutoMatchLimit,
		WorkerCount:     cfg.Matching.WorkerCount,
	})

	return &Engine{
		Transactions: transactions,
		Matches:      matches,
		Sessions:     sessions,
		Importer:     importer.New(transactions, sink),
		Matcher:      matcher,
		Recon:        recon,
	}, nil
}

// ImportStatement imports the statement file named by the shared flags into
// the engine's transaction store.
func (e *Engine) ImportStatement(ctx context.Context) (*models.ImportResult, error) {
	if root.SharedFlags.Input == "" {
		return nil, fmt.Errorf("an input statement file is required (use --input)")
	}
	if root.SharedFlags.Account == "" {
		return nil, fmt.Errorf("an account id is required (use --account)")
	}

	format, err := importer.ParseFormat(root.SharedFlags.Format)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(root.SharedFlags.Input)
	if err != nil {
		return nil, fmt.Errorf("error opening statement file: %w", err)
	}
	defer f.Close()

	return e.Importer.Import(ctx, root.SharedFlags.Account, f, format, importOptions())
}

// importOptions lifts the CSV section of the configuration into parser
// options. An explicit BANKRECON_CSV_DATE_FORMAT pins the slash formats.
func importOptions() importer.Options {
	cfg := root.Cfg
	opts := importer.DefaultOptions()
	opts.CSV.Delimiter = []rune(cfg.CSV.Delimiter)[0]
	opts.CSV.SkipRows = cfg.CSV.SkipRows
	opts.CSV.ChunkSize = cfg.CSV.ChunkSize
	if dateutils.KnownFormat(cfg.CSV.DateFormat) {
		opts.CSV.DateFormat = cfg.CSV.DateFormat
		opts.CSV.DateFormatExplicit = cfg.CSV.DateFormat != csvparser.DefaultOptions().DateFormat
	}
	return opts
}
