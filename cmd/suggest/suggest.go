// Package suggest handles the suggestion generation command
package suggest

import (
	"context"
	"fmt"

	"fjacquet/bank-recon/cmd/common"
	"fjacquet/bank-recon/cmd/root"

	"github.com/spf13/cobra"
)

var output string

// Cmd represents the suggest command
var Cmd = &cobra.Command{
	Use:   "suggest",
	Short: "Generate match suggestions for a statement",
	Long: `Import a statement and score every transaction against the candidate
records (invoices, payments, expenses). Firm rules run first; otherwise the
top candidates are ranked by the weighted amount/date/description score.`,
	Run: suggestFunc,
}

func init() {
	Cmd.Flags().StringVarP(&output, "output", "o", "", "Write the suggestions to a CSV report file")
}

func suggestFunc(cmd *cobra.Command, args []string) {
	root.Log.Info("Suggestion command called")

	engine, err := common.BuildEngine()
	if err != nil {
		root.Log.Fatalf("Error building engine: %v", err)
	}

	ctx := context.Background()
	result, err := engine.ImportStatement(ctx)
	if err != nil {
		root.Log.Fatalf("Error importing statement: %v", err)
	}
	root.Log.Infof("Imported %d transactions (%d duplicates)", result.Imported, result.Duplicates)

	suggestions, err := engine.Matcher.GenerateSuggestions(ctx, root.SharedFlags.Account)
	if err != nil {
		root.Log.Fatalf("Error generating suggestions: %v", err)
	}

	for _, ts := range suggestions {
		tx, err := engine.Transactions.Get(ts.BankTransactionID)
		if err != nil {
			root.Log.Fatalf("Error reading transaction: %v", err)
		}
		fmt.Printf("%s  %s  %s  %q\n", tx.PostedDate.Format("2006-01-02"),
			tx.Amount.StringFixed(2), tx.ID, tx.Description)
		if len(ts.Suggestions) == 0 {
			fmt.Println("    no eligible candidates")
			continue
		}
		for _, s := range ts.Suggestions {
			fmt.Printf("    %-8s score=%6.2f  %s (%s)\n", s.Band, s.Score, s.CandidateID, s.SourceType)
		}
	}

	if output != "" {
		if err := engine.Matcher.WriteSuggestionReport(output, suggestions); err != nil {
			root.Log.Fatalf("Error writing suggestion report: %v", err)
		}
	}
	root.Log.Info("Suggestion generation completed successfully!")
}
