// Package commands defines all Cobra CLI commands for the ragctx binary.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/config"
	"github.com/54b3r/ragctx-go/internal/logging"
)

// configPath holds the --config flag value for the config file override.
var configPath string

// dataDir holds the --data-dir flag value. It overrides RAGCTX_DATA_DIR.
var dataDir string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragctx",
		Short: "ragctx: named document contexts with their own vector indexes",
		Long: `ragctx keeps documents in named contexts. Each context has its own
vector index and metadata, so questions about one set of documents never
pull passages from another.

Contexts live under the data directory (~/.ragctx/contexts by default).
The "default" context is created on first run and cannot be deleted or
renamed.

The embedding provider is selected via EMBEDDING_PROVIDER and the chat
model via MODEL_PROVIDER, or through a config file (~/.ragctx/config.yaml).
See 'ragctx --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.NewCLI()

			// Load the config file (env vars always override file values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			if dataDir != "" {
				if err := os.Setenv("RAGCTX_DATA_DIR", dataDir); err != nil {
					return err
				}
			}

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or TOML config file (default: ~/.ragctx/config.yaml)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the contexts (default: ~/.ragctx/contexts)")

	root.AddCommand(
		NewContextsCmd(),
		NewIndexCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewShellCmd(),
		NewServeCmd(),
		NewWatchCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
