package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/profilerag-go/internal/answer"
	"github.com/54b3r/profilerag-go/internal/logging"
)

// NewAskCmd constructs the `profilerag ask` command, which retrieves context
// for a question and streams a grounded answer to stdout.
func NewAskCmd() *cobra.Command {
	var k int
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question about the profile",
		Long: `Answer a question about the profile using the retrieved passages as the
only context. The answer cites passages by their source id.

Examples:
  profilerag ask "what did they build at their last job?"
  profilerag ask --sources "which languages do they speak?"
  MODEL_PROVIDER=gemini profilerag ask "summarise their education"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			st, err := buildStack(log, nil, false)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = st.engine.Close() }()

			composer, flush, err := buildComposer(ctx, log, st.engine, st.settings)
			defer flush()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if _, err := st.engine.Start(ctx); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			res, err := composer.Stream(ctx, answer.Request{Question: strings.Join(args, " "), K: k}, out)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)

			if showSources {
				fmt.Fprintln(out, color.New(color.Faint).Sprint("sources:"))
				printPassages(out, res.Sources)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages to retrieve (default PROFILERAG_TOP_K or 5)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved passages after the answer")

	return cmd
}
