// Package importcmd handles the statement import command
package importcmd

import (
	"context"
	"fmt"

	"fjacquet/bank-recon/cmd/common"
	"fjacquet/bank-recon/cmd/root"

	"github.com/spf13/cobra"
)

// Cmd represents the import command
var Cmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bank statement file",
	Long: `Import a CSV or OFX bank statement into the transaction store.
Rows already imported for the account are detected by their dedupe hash and
counted as duplicates, so re-running the same file is safe.`,
	Run: importFunc,
}

func importFunc(cmd *cobra.Command, args []string) {
	root.Log.Info("Statement import command called")
	root.Log.Infof("Input statement file: %s", root.SharedFlags.Input)

	engine, err := common.BuildEngine()
	if err != nil {
		root.Log.Fatalf("Error building engine: %v", err)
	}

	result, err := engine.ImportStatement(context.Background())
	if err != nil {
		root.Log.Fatalf("Error importing statement: %v", err)
	}

	fmt.Println(result.Summary())
	for _, rowErr := range result.Errors {
		fmt.Printf("  %v\n", rowErr)
	}
	root.Log.Info("Statement import completed successfully!")
}
