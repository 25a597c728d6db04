package cli

import (
	"fmt"
	"strings"

	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/privacy"
	"github.com/spf13/cobra"
)

var (
	retrieveAs     string
	retrieveOrigin string
	retrieveGroup  string
	retrieveK      int
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve the records visible to a requester",
	Long: `Retrieve the records most relevant to a query that the requester may see
from the given context. Every record returned is reinforced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVar(&retrieveAs, "as", "", "requester user id (required)")
	retrieveCmd.Flags().StringVar(&retrieveOrigin, "origin", "direct", "querying context: direct, restricted_group, open_group, anywhere")
	retrieveCmd.Flags().StringVar(&retrieveGroup, "group", "", "group id for group contexts")
	retrieveCmd.Flags().IntVarP(&retrieveK, "limit", "k", 0, "max results (0 uses retrieval.k)")
	_ = retrieveCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	query := strings.Join(args, " ")

	kind, err := privacy.ParseOriginKind(retrieveOrigin)
	if err != nil {
		// unknown contexts fail closed inside the engine
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v, only global records are visible\n", err)
		kind = privacy.OriginKind(retrieveOrigin)
	}
	origin := privacy.Origin{Kind: kind, UserID: retrieveAs, GroupID: retrieveGroup}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx = tracing.WithRequesterID(ctx, retrieveAs)
	res, err := s.engine.Retrieve(ctx, retrieveAs, query, origin, retrieveK)
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, res)
	}

	out := cmd.OutOrStdout()
	if res.Degraded {
		fmt.Fprintf(out, "degraded: %s\n", strings.Join(res.Reasons, "; "))
	}
	if len(res.Hits) == 0 {
		fmt.Fprintln(out, "No matching records.")
		return nil
	}
	for i, h := range res.Hits {
		fmt.Fprintf(out, "%d. [%s] %s\n", i+1, h.Record.ID, h.Record.TopicSummary)
		fmt.Fprintf(out, "   %s confidence, %s, similarity %.2f, via %s\n",
			h.ConfidenceLabel, h.AgeLabel, h.Similarity, h.Source)
	}
	return nil
}
