package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harun/recall/pkg/consolidation"
	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"
)

var ingestObserve bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json|->",
	Short: "Consolidate candidate facts from a JSON file",
	Long: `Consolidate candidate facts from a JSON file ("-" reads stdin).
Each candidate is either merged into the closest existing record in the same
privacy scope or added as a new record. With --observe the facts are treated
as passive observations and start at a capped confidence.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestObserve, "observe", false, "ingest as passive observations")
	rootCmd.AddCommand(ingestCmd)
}

type ingestResult struct {
	Index      int     `json:"index"`
	Action     string  `json:"action,omitempty"`
	RecordID   string  `json:"record_id,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	candidates, err := parseCandidates(data)
	if err != nil {
		return err
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	ingest := s.engine.Ingest
	if ingestObserve {
		ingest = s.engine.Observe
	}

	results := make([]ingestResult, 0, len(candidates))
	failed := 0
	for i, c := range candidates {
		res := ingestResult{Index: i}
		out, err := ingest(ctx, c)
		if err != nil {
			res.Error = err.Error()
			failed++
		} else {
			res.Action = string(out.Action)
			res.RecordID = out.Record.ID
			res.Similarity = out.Similarity
			res.Confidence = out.Record.Confidence
		}
		results = append(results, res)
	}

	if jsonOutput() {
		if err := printJSON(cmd, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d ERROR %s\n", r.Index, r.Error)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d %-5s %s confidence=%.2f\n", r.Index, r.Action, r.RecordID, r.Confidence)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d candidates failed", failed, len(candidates))
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate file: %w", err)
	}
	return data, nil
}

// parseCandidates validates data against CandidateSchema and decodes either
// a single candidate or an array of them.
func parseCandidates(data []byte) ([]consolidation.Candidate, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(CandidateSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, errors.New("invalid candidate file: " + strings.Join(msgs, "; "))
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []consolidation.Candidate
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse candidates: %w", err)
		}
		return list, nil
	}

	var one consolidation.Candidate
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("failed to parse candidate: %w", err)
	}
	return []consolidation.Candidate{one}, nil
}
