package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/profilerag-go/internal/logging"
)

// NewBuildCmd constructs the `profilerag build` command, which loads the
// snapshot or builds the corpus and exits.
func NewBuildCmd() *cobra.Command {
	var force bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the embedded corpus from the profile document",
		Long: `Build the embedded corpus from the profile document and save the snapshot.

Without --force a valid snapshot is reused and nothing is embedded. With
--force the document is re-read, every segment is re-embedded, and the
snapshot is replaced.

Examples:
  profilerag build
  profilerag build --force
  PROFILERAG_PROFILE=./me.json profilerag build --force --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			st, err := buildStack(log, nil, force)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			defer func() { _ = st.engine.Close() }()

			report, err := st.engine.Start(ctx)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			log.Debug("build finished", slog.String("build_id", report.BuildID))

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			ok := color.New(color.FgGreen, color.Bold).SprintFunc()
			warn := color.New(color.FgYellow).SprintFunc()
			fmt.Fprintf(out, "%s %d chunks from %s (build %s)\n", ok("✔"), report.Chunks, report.Origin, report.BuildID)
			if b := report.Build; b != nil {
				fmt.Fprintf(out, "  entries=%d segments=%d failures=%d duration=%s\n", b.Entries, b.Segments, b.Failures, b.Duration)
				if b.ThresholdExceeded {
					fmt.Fprintln(out, warn("  failure threshold exceeded; the corpus is incomplete"))
				}
			}
			if report.SnapshotError != "" {
				fmt.Fprintln(out, warn("  snapshot not saved: "+report.SnapshotError))
			}
			if report.PublishError != "" {
				fmt.Fprintln(out, warn("  mirror not updated: "+report.PublishError))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore the snapshot and rebuild from the document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the rebuild report as JSON")

	return cmd
}
