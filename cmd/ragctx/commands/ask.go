package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/answer"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/tracing"
)

// NewAskCmd constructs the `ragctx ask` command, which answers a question
// from one context's documents and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var contextName string
	var noSources bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask a question answered from a context's documents",
		Long: `Ask a question answered from a context's documents.

The closest chunks of the context are retrieved, formatted as passages
(RAGCTX_PASSAGE_FORMAT: yaml or json) and sent to the chat model selected by
MODEL_PROVIDER together with the recent Q&A history of the context. The
answer is streamed as it is generated, followed by its sources.

Examples:
  ragctx ask -c cond_169 "when is the boiler serviced?"
  MODEL_PROVIDER=openai ragctx ask -c manuals "how do I reset the unit?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.NewCLI()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in, a no-op when keys are absent.
			flush, ok := tracing.Setup(log)
			if ok {
				defer flush()
			}

			a, err := newApp(log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.close()

			name, err := contexts.NormalizeName(contextName)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			meta, err := a.mgr.Metadata(name)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			m, backend, err := chatModel(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			log.Debug("provider initialised", slog.String("provider", backend))

			chain, err := a.answerChain(m)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			ans, err := chain.Ask(ctx, name, meta.Description, strings.Join(args, " "), out)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)
			if !noSources {
				printSources(out, ans.Sources)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&contextName, "context", "c", contexts.DefaultContext, "Context to answer from")
	cmd.Flags().BoolVar(&noSources, "no-sources", false, "Do not print the sources after the answer")

	return cmd
}

// printSources lists the passages an answer was grounded on.
func printSources(w io.Writer, sources []answer.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range sources {
		chunk := ""
		if s.Chunk != "" {
			chunk = " [chunk " + s.Chunk + "]"
		}
		fmt.Fprintf(w, "  - %s%s relevance=%.3f\n", s.File, chunk, s.Relevance)
	}
}
