// Package commands defines all Cobra CLI commands for the profilerag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/profilerag-go/internal/audit"
	"github.com/54b3r/profilerag-go/internal/config"
	"github.com/54b3r/profilerag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "profilerag",
		Short: "Answer questions about a profile document with retrieval-augmented generation",
		Long: `profilerag builds an embedded corpus from a structured profile document
(profile, projects, experiences, education, FAQs) and answers questions by
retrieving the most similar passages.

The corpus is cached as a snapshot so restarts skip re-embedding. Use
'profilerag build --force' or POST /api/admin/rebuild after editing the
document.

Settings come from environment variables, an optional .env file, and an
optional YAML config file (~/.profilerag/config.yaml). Env vars always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			dotenv, err := config.LoadDotEnv(envFile)
			if err != nil {
				return err
			}

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), dotenv, path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.profilerag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")

	root.AddCommand(
		NewServeCmd(),
		NewBuildCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
