package cli

import (
	"fmt"

	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	unprotect    bool
	privacyGroup string
	operatorID   string
)

var protectCmd = &cobra.Command{
	Use:   "protect <record-id>",
	Short: "Exempt a record from decay",
	Long:  `Exempt a record from decay, or lift the exemption with --off.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProtect,
}

var reinforceCmd = &cobra.Command{
	Use:   "reinforce <record-id>...",
	Short: "Reinforce records as if they had been retrieved",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReinforce,
}

var privacyCmd = &cobra.Command{
	Use:   "privacy <record-id> <level>",
	Short: "Override the privacy level of a record",
	Long: `Override the privacy level of a record. Levels: private, restricted,
public, global. Restricted and public need --group. Every override is written
to the audit log.`,
	Args: cobra.ExactArgs(2),
	RunE: runPrivacy,
}

var showCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Print one record",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	protectCmd.Flags().BoolVar(&unprotect, "off", false, "remove the protection instead")
	privacyCmd.Flags().StringVar(&privacyGroup, "group", "", "group id the record is bound to")
	rootCmd.PersistentFlags().StringVar(&operatorID, "operator", "", "operator id recorded in the audit log")

	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(reinforceCmd)
	rootCmd.AddCommand(privacyCmd)
	rootCmd.AddCommand(showCmd)
}

func runProtect(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx = tracing.WithRequesterID(ctx, operatorID)
	if err := s.engine.Protect(ctx, args[0], !unprotect); err != nil {
		return err
	}

	state := "protected"
	if unprotect {
		state = "unprotected"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Record %s is now %s\n", args[0], state)
	return nil
}

func runReinforce(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, id := range args {
		if err := s.engine.Reinforce(ctx, id); err != nil {
			return fmt.Errorf("failed to reinforce %s: %w", id, err)
		}
		rec, err := s.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s confidence=%.2f retrievals=%d\n", id, rec.Confidence, rec.RetrievalCount)
	}
	return nil
}

func runPrivacy(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	level, err := memory.ParsePrivacyLevel(args[1])
	if err != nil {
		return err
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx = tracing.WithRequesterID(ctx, operatorID)
	if err := s.engine.OverridePrivacy(ctx, args[0], level, memory.Scope{GroupID: privacyGroup}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Record %s is now %s\n", args[0], level)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, rec)
}
