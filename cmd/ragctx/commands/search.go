package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/rag"
)

// excerptLen is the number of characters of each hit printed by search.
const excerptLen = 200

// NewSearchCmd constructs the `ragctx search` command, which runs a
// similarity search against one context and prints the nearest chunks.
func NewSearchCmd() *cobra.Command {
	var contextName string
	var k int
	var threshold float32
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search a context for the chunks closest to a query",
		Long: `Search a context for the chunks closest to a query.

Results are ranked by squared L2 distance (smaller is closer). The context's
index is loaded from disk; a context that has nothing indexed yet is
reported as not initialised.

Examples:
  ragctx search -c cond_169 "boiler maintenance schedule"
  ragctx search -c cond_169 -k 10 --threshold 0.8 "parking rules"
  ragctx search -c manuals --json "reset procedure"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			a, err := newApp(logging.NewCLI(), nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer a.close()

			sess := a.sessions.New()
			defer a.sessions.Close(sess.ID())
			if err := sess.Switch(ctx, contextName); err != nil {
				return fmt.Errorf("search: %w", err)
			}

			var th *float32
			if cmd.Flags().Changed("threshold") {
				th = &threshold
			} else {
				th = a.rt.ScoreThreshold
			}
			hits, err := sess.Search(ctx, query, k, th)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			docs := rag.FromHits(hits)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), docs)
			}
			printDocuments(cmd.OutOrStdout(), sess.Name(), docs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&contextName, "context", "c", contexts.DefaultContext, "Context to search")
	cmd.Flags().IntVarP(&k, "k", "k", 4, "Number of results")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "Drop results farther than this distance (default: RAGCTX_SCORE_THRESHOLD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

// printDocuments writes ranked search results.
func printDocuments(w io.Writer, contextName string, docs []rag.Document) {
	if len(docs) == 0 {
		fmt.Fprintf(w, "no results in context %q\n", contextName)
		return
	}
	for i, d := range docs {
		fmt.Fprintf(w, "%d. %s [chunk %d/%d] distance=%.4f relevance=%.3f\n",
			i+1, d.Source, d.ChunkIndex+1, d.TotalChunks, d.Distance, d.Relevance)
		fmt.Fprintf(w, "   %s\n", excerpt(d.Content, excerptLen))
	}
}

// excerpt flattens s to one line and truncates it to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
