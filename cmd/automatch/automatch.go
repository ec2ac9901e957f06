// Package automatch handles the auto-match command
package automatch

import (
	"context"
	"fmt"

	"fjacquet/bank-recon/cmd/common"
	"fjacquet/bank-recon/cmd/root"

	"github.com/spf13/cobra"
)

// Cmd represents the automatch command
var Cmd = &cobra.Command{
	Use:   "automatch",
	Short: "Run an auto-match pass over a statement",
	Long: `Import a statement and auto-confirm the transactions whose best
candidate is an exact-band match or satisfies a rule with the auto-match
action. Everything else with a plausible candidate is left suggested for
manual review.`,
	Run: automatchFunc,
}

func automatchFunc(cmd *cobra.Command, args []string) {
	root.Log.Info("Auto-match command called")

	engine, err := common.BuildEngine()
	if err != nil {
		root.Log.Fatalf("Error building engine: %v", err)
	}

	ctx := context.Background()
	importResult, err := engine.ImportStatement(ctx)
	if err != nil {
		root.Log.Fatalf("Error importing statement: %v", err)
	}
	root.Log.Infof("Imported %d transactions (%d duplicates)", importResult.Imported, importResult.Duplicates)

	result, err := engine.Matcher.AutoMatch(ctx, root.SharedFlags.Account)
	if err != nil {
		root.Log.Fatalf("Error running auto-match: %v", err)
	}

	fmt.Printf("Processed: %d\nMatched:   %d\nUnmatched: %d\nMatch rate: %.1f%%\n",
		result.Processed, result.Matched, result.Unmatched, result.MatchRate)
	root.Log.Info("Auto-match pass completed successfully!")
}
