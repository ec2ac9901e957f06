// Package reconcile handles the reconciliation session command
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"fjacquet/bank-recon/cmd/common"
	"fjacquet/bank-recon/cmd/root"
	"fjacquet/bank-recon/internal/dateutils"
	"fjacquet/bank-recon/internal/models"
	"fjacquet/bank-recon/internal/reconerror"

	"github.com/spf13/cobra"
)

var (
	statementBalance string
	statementDate    string
	override         bool
	justification    string
)

// Cmd represents the reconcile command
var Cmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a statement period",
	Long: `Import a statement, auto-match it against the candidate records, then
open a reconciliation session, clear the matched transactions and attempt to
complete the period. An out-of-balance period only completes with --override
and a recorded --justification.`,
	Run: reconcileFunc,
}

func init() {
	Cmd.Flags().StringVar(&statementBalance, "statement-balance", "", "Closing balance on the statement")
	Cmd.Flags().StringVar(&statementDate, "statement-date", "", "Statement date (YYYY-MM-DD)")
	Cmd.Flags().BoolVar(&override, "override", false, "Complete even when out of balance")
	Cmd.Flags().StringVar(&justification, "justification", "", "Justification recorded with an override")
}

func reconcileFunc(cmd *cobra.Command, args []string) {
	root.Log.Info("Reconcile command called")

	balance, err := models.ParseAmount(statementBalance)
	if err != nil {
		root.Log.Fatalf("Invalid statement balance: %v", err)
	}
	date, err := dateutils.ParseStatementDate(statementDate, dateutils.FormatISO, true)
	if err != nil {
		root.Log.Fatalf("Invalid statement date: %v", err)
	}

	engine, err := common.BuildEngine()
	if err != nil {
		root.Log.Fatalf("Error building engine: %v", err)
	}

	ctx := context.Background()
	if _, err := engine.ImportStatement(ctx); err != nil {
		root.Log.Fatalf("Error importing statement: %v", err)
	}
	matchResult, err := engine.Matcher.AutoMatch(ctx, root.SharedFlags.Account)
	if err != nil {
		root.Log.Fatalf("Error running auto-match: %v", err)
	}
	root.Log.Infof("Auto-matched %d of %d transactions", matchResult.Matched, matchResult.Processed)

	sess, err := engine.Recon.Start(root.SharedFlags.Account, date, balance)
	if err != nil {
		root.Log.Fatalf("Error starting session: %v", err)
	}

	txs, err := engine.Transactions.ListByAccount(root.SharedFlags.Account)
	if err != nil {
		root.Log.Fatalf("Error listing transactions: %v", err)
	}
	for _, tx := range txs {
		if tx.Status != models.StatusMatched {
			continue
		}
		if sess, err = engine.Recon.ClearTransaction(sess.ID, tx.ID); err != nil {
			root.Log.Fatalf("Error clearing transaction %s: %v", tx.ID, err)
		}
	}
	fmt.Printf("Cleared %d transactions, difference %s\n",
		len(sess.ClearedTransactionIDs), sess.Difference.StringFixed(2))

	completed, err := engine.Recon.Complete(sess.ID, override, justification)
	if err != nil {
		var outOfBalance *reconerror.ReconciliationOutOfBalanceError
		if errors.As(err, &outOfBalance) {
			root.Log.Warnf("Session left open: %v (use --override with --justification to force)", err)
			return
		}
		root.Log.Fatalf("Error completing session: %v", err)
	}

	fmt.Printf("Session %s completed, %d transactions reconciled\n",
		completed.ID, len(completed.ClearedTransactionIDs))
	root.Log.Info("Reconciliation completed successfully!")
}
