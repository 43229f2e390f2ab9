package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/profilerag-go/internal/logging"
	"github.com/54b3r/profilerag-go/internal/rag"
)

// NewSearchCmd constructs the `profilerag search` command, which prints the
// passages most similar to a question without generating an answer.
func NewSearchCmd() *cobra.Command {
	var k int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [question]",
		Short: "Retrieve the passages most similar to a question",
		Long: `Retrieve the passages most similar to a question.

The corpus is loaded from the snapshot, or built when no valid snapshot
exists. Passages are printed in descending score order.

Examples:
  profilerag search "which projects used Go?"
  profilerag search -k 3 --json "where did they study?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			st, err := buildStack(log, nil, false)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = st.engine.Close() }()

			if _, err := st.engine.Start(ctx); err != nil {
				return fmt.Errorf("search: %w", err)
			}

			passages, err := st.engine.Retrieve(ctx, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string][]rag.Passage{"passages": passages})
			}
			printPassages(cmd.OutOrStdout(), passages)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages (default PROFILERAG_TOP_K or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print passages as JSON")

	return cmd
}

// printPassages writes a ranked, colored passage listing.
func printPassages(w io.Writer, passages []rag.Passage) {
	if len(passages) == 0 {
		fmt.Fprintln(w, color.YellowString("no passages"))
		return
	}
	id := color.New(color.FgCyan, color.Bold).SprintFunc()
	score := color.New(color.FgGreen).SprintfFunc()
	for i, p := range passages {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, id(p.SourceID), score("(%.4f)", p.Score))
		fmt.Fprintf(w, "   %s\n\n", p.Text)
	}
}
