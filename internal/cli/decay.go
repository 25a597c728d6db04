package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run the decay job",
}

var decayRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply decay to every eligible record now",
	Long: `Apply decay to every eligible record now. Running it twice in a row
changes nothing the second time. Records that stay at the floor long enough
are flagged pending_cleanup.`,
	RunE: runDecay,
}

func init() {
	decayCmd.AddCommand(decayRunCmd)
	rootCmd.AddCommand(decayCmd)
}

func runDecay(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.engine.ForceDecayRun(ctx)
	if err != nil {
		return fmt.Errorf("decay run failed: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Decay run %s finished in %s\n", report.RunID, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Scanned: %d, decayed: %d, flagged: %d, unchanged: %d, conflicts: %d\n",
		report.Scanned, report.Decayed, report.Flagged, report.Unchanged, report.Conflicts)
	for _, id := range report.FlaggedIDs {
		fmt.Fprintf(out, "  pending cleanup: %s\n", id)
	}
	return nil
}
