package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/provider"
	"github.com/54b3r/ragctx-go/internal/server"
)

// diagnoseTimeout bounds each dependency probe.
const diagnoseTimeout = 10 * time.Second

// NewDiagnoseCmd constructs the `ragctx diagnose` command, which prints the
// resolved configuration and probes every configured dependency.
func NewDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check the configuration and the reachability of dependencies",
		Long: `Print the resolved configuration and probe the dependencies ragctx uses:
the data directory, the embedding provider and, when configured, Qdrant.
The chat model configuration is validated without calling the model.

The command exits non-zero when any probe fails.

Examples:
  ragctx diagnose
  EMBEDDING_PROVIDER=openai ragctx diagnose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp(logging.NewCLI(), nil)
			if err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}
			defer a.close()

			printRuntime(out, a)

			pcfg := provider.ConfigFromEnv()
			if err := pcfg.Validate(); err != nil {
				fmt.Fprintf(out, "  ✗ chat model (%s): %v\n", pcfg.Backend, err)
			} else {
				fmt.Fprintf(out, "  ✓ chat model (%s %s): configured\n", pcfg.Backend, pcfg.ModelName())
			}

			pingers := a.pingers()
			for _, p := range pingers {
				pctx, cancel := context.WithTimeout(ctx, diagnoseTimeout)
				start := time.Now()
				err := p.Ping(pctx)
				cancel()
				if err != nil {
					fmt.Fprintf(out, "  ✗ %s: %v\n", p.Name(), err)
					continue
				}
				fmt.Fprintf(out, "  ✓ %s: ok (%s)\n", p.Name(), time.Since(start).Round(time.Millisecond))
			}

			// Re-check as one unit for the exit status.
			mctx, cancel := context.WithTimeout(ctx, diagnoseTimeout)
			defer cancel()
			if err := server.NewMultiPinger(pingers...).Ping(mctx); err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}
			return nil
		},
	}
}

// printRuntime writes the configuration summary.
func printRuntime(w io.Writer, a *app) {
	rt := a.rt
	c := a.emb.Capability()
	dims := "unknown until first call"
	if c.Dimensions > 0 {
		dims = fmt.Sprint(c.Dimensions)
	}
	config := loadedConfigPath
	if config == "" {
		config = "none (environment only)"
	}
	history := "disabled"
	if a.history != nil {
		history = "enabled"
	}
	qdrant := "disabled"
	if a.mirror != nil {
		qdrant = fmt.Sprintf("%s:%d", rt.QdrantHost, rt.QdrantPort)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "config file:\t%s\n", config)
	fmt.Fprintf(tw, "data dir:\t%s\n", rt.DataDir)
	fmt.Fprintf(tw, "embedder:\t%s %s (dimensions: %s)\n", c.Provider, c.Model, dims)
	fmt.Fprintf(tw, "chunking:\t%d chars, %d overlap\n", rt.ChunkSize, rt.ChunkOverlap)
	fmt.Fprintf(tw, "top k:\t%d\n", rt.TopK)
	fmt.Fprintf(tw, "passages:\t%s, %d token budget\n", rt.PassageFormat, rt.MaxContextTokens)
	fmt.Fprintf(tw, "history:\t%s\n", history)
	fmt.Fprintf(tw, "qdrant mirror:\t%s\n", qdrant)
	_ = tw.Flush()
	fmt.Fprintln(w)
}
