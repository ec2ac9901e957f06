// Package root contains the root command for the application
package root

import (
	"fjacquet/bank-recon/internal/config"
	"fjacquet/bank-recon/internal/csvparser"
	"fjacquet/bank-recon/internal/importer"
	"fjacquet/bank-recon/internal/matching"
	"fjacquet/bank-recon/internal/ofxparser"
	"fjacquet/bank-recon/internal/reconciliation"
	"fjacquet/bank-recon/internal/rules"
	"fjacquet/bank-recon/internal/scoring"
	"fjacquet/bank-recon/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CommonFlags represents the flags that are common to multiple commands
type CommonFlags struct {
	Input      string
	Account    string
	Format     string
	Candidates string
	Rules      string
}

var (
	// Log is the shared logger instance for commands
	Log = logrus.New()

	// Cfg is the engine configuration resolved before any command runs
	Cfg *config.Config

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "bank-recon",
		Short: "A CLI tool to import bank statements and auto-match them against open invoices, payments and expenses.",
		Long: `bank-recon imports CSV and OFX bank statements, scores each transaction
against candidate records and reconciles statement periods. Matching combines
firm-defined rules with a weighted amount/date/description score.`,
		Run: func(cmd *cobra.Command, args []string) {
			Log.Info("Welcome to bank-recon!")
			Log.Info("Use --help to see available commands")
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv()

			cfg, err := config.InitializeConfig()
			if err != nil {
				Log.Fatalf("Error loading configuration: %v", err)
			}
			Cfg = cfg
			Log = config.ConfigureLoggingFromConfig(cfg)

			// Set the configured logger for all engine packages
			csvparser.SetLogger(Log)
			ofxparser.SetLogger(Log)
			importer.SetLogger(Log)
			store.SetLogger(Log)
			scoring.SetLogger(Log)
			rules.SetLogger(Log)
			matching.SetLogger(Log)
			reconciliation.SetLogger(Log)
		},
	}

	// SharedFlags holds the common flags accessible to all commands
	SharedFlags = CommonFlags{}
)

// Init initializes the root command and all flags
func Init() {
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Input, "input", "i", "", "Input statement file")
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Account, "account", "a", "", "Account identifier")
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Format, "format", "f", "csv", "Statement format (csv or ofx)")
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Candidates, "candidates", "c", "", "Candidate records CSV file")
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Rules, "rules", "r", "", "Match rules YAML file")
}
