package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <owner-id>",
	Short: "Fold near-duplicate records of one owner together",
	Long: `Fold near-duplicate records of one owner together. Duplicates created by
concurrent ingestion are merged into the oldest record in the same privacy
scope and marked superseded.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.engine.Reconcile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanned %d records in %d passes (%s)\n", report.Scanned, report.Passes, report.Duration.Round(time.Millisecond))
	if len(report.Superseded) == 0 {
		fmt.Fprintln(out, "No duplicates found.")
		return nil
	}
	for _, sup := range report.Superseded {
		fmt.Fprintf(out, "  %s -> %s (similarity %.2f)\n", sup.DuplicateID, sup.KeeperID, sup.Similarity)
	}
	return nil
}
