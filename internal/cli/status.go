package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/harun/recall/pkg/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status and store statistics",
	Long:  `Show whether recall serve is running and summarize the memory store.`,
	RunE:  runStatus,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Long:  `Count live records by kind, privacy level and decay policy.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
}

type statusReport struct {
	Running bool         `json:"running"`
	PID     int          `json:"pid,omitempty"`
	Uptime  string       `json:"uptime,omitempty"`
	Stats   *store.Stats `json:"stats"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	report := statusReport{}
	pidFile := getPIDFilePath(s.cfg.DataDir)
	if isRunning(pidFile) {
		report.Running = true
		report.PID, _ = readPID(pidFile)
		// PID file modification time is the start time
		if info, err := os.Stat(pidFile); err == nil {
			report.Uptime = formatDuration(time.Since(info.ModTime()))
		}
	}

	report.Stats, err = s.engine.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, report)
	}

	out := cmd.OutOrStdout()
	if report.Running {
		fmt.Fprintf(out, "Status: running\n")
		fmt.Fprintf(out, "PID: %d\n", report.PID)
		if report.Uptime != "" {
			fmt.Fprintf(out, "Uptime: %s\n", report.Uptime)
		}
	} else {
		fmt.Fprintln(out, "Status: stopped")
	}
	if info, err := os.Stat(s.cfg.DBPath); err == nil {
		fmt.Fprintf(out, "Database: %s (%s)\n", s.cfg.DBPath, humanize.Bytes(uint64(info.Size())))
	}
	printStats(cmd, report.Stats)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.engine.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, st)
	}
	printStats(cmd, st)
	return nil
}

func printStats(cmd *cobra.Command, st *store.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Records: %s live, %s superseded, %s protected\n",
		humanize.Comma(int64(st.Total)), humanize.Comma(int64(st.Superseded)), humanize.Comma(int64(st.Protected)))
	if st.Total > 0 {
		fmt.Fprintf(out, "Mean confidence: %.2f\n", st.MeanConfidence)
	}
	printCounts(cmd, "By kind", toStringCounts(st.ByKind))
	printCounts(cmd, "By privacy", toStringCounts(st.ByPrivacy))
	printCounts(cmd, "By decay policy", toStringCounts(st.ByDecayPolicy))
}

func toStringCounts[K ~string](m map[K]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, n := range m {
		out[string(k)] = n
	}
	return out
}

func printCounts(cmd *cobra.Command, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %d\n", k, counts[k])
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
