package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/extract"
	"github.com/54b3r/ragctx-go/internal/ingestion"
	"github.com/54b3r/ragctx-go/internal/logging"
)

// NewIndexCmd constructs the `ragctx index` command, which extracts, chunks
// and embeds files or directories into a context's index.
func NewIndexCmd() *cobra.Command {
	var contextName string
	var recursive bool
	var create bool
	var description string

	cmd := &cobra.Command{
		Use:   "index PATH...",
		Short: "Index files or directories into a context",
		Long: `Index files or directories into a context.

Each file is extracted to text, split into overlapping chunks, embedded with
the configured embedding provider and appended to the context's index.
Directories are walked for supported files (` + strings.Join(extract.Extensions(), ", ") + `);
hidden directories are skipped. A failing file in a directory does not stop
the others.

Indexing a file name that is already in the context appends its chunks
again; clear the context first to replace its content.

Examples:
  ragctx index -c cond_169 ./rules.pdf ./minutes.docx
  ragctx index -c cond_169 --create --description "Condominium 169" ./docs
  ragctx index -c manuals --recursive=false ./manuals`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.NewCLI()

			a, err := newApp(log, nil)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer a.close()

			name, err := contexts.NormalizeName(contextName)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			sess := a.sessions.New()
			defer a.sessions.Close(sess.ID())

			if !a.mgr.Exists(name) {
				if !create {
					return fmt.Errorf("index: context %q does not exist (use --create)", name)
				}
				if err := sess.Create(ctx, name, description); err != nil {
					return fmt.Errorf("index: %w", err)
				}
				audit.LogContextChange(log, audit.OpCreate, name, cliOrigin)
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}

				if !info.IsDir() {
					res, err := a.pipeline.IndexPath(ctx, sess, path, name)
					if err != nil {
						failed++
						fmt.Fprintf(out, "  ✗ %s: %v\n", path, err)
						continue
					}
					fmt.Fprintf(out, "  ✓ %s (%d chunks)\n", res.File, res.Chunks)
					audit.LogContextChange(log, audit.OpIndex, name, cliOrigin,
						slog.String("file", res.File), slog.Int("chunks", res.Chunks))
					continue
				}

				report, err := a.pipeline.IndexDirectory(ctx, sess, path, name, ingestion.DirOptions{
					Recursive: recursive,
					Progress: func(file string, err error) {
						if err != nil {
							fmt.Fprintf(out, "  ✗ %s: %v\n", file, err)
							return
						}
						fmt.Fprintf(out, "  ✓ %s\n", file)
					},
				})
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}
				failed += len(report.Failed)
				audit.LogContextChange(log, audit.OpIndex, name, cliOrigin,
					slog.String("directory", path),
					slog.Int("indexed", len(report.Indexed)),
					slog.Int("failed", len(report.Failed)))
			}

			meta, err := a.mgr.Metadata(name)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			fmt.Fprintf(out, "context %q: %d documents from %d files\n", name, meta.TotalDocuments, len(meta.IndexedFiles))
			if failed > 0 {
				return fmt.Errorf("index: %d file(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&contextName, "context", "c", contexts.DefaultContext, "Context to index into")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Descend into subdirectories")
	cmd.Flags().BoolVar(&create, "create", false, "Create the context if it does not exist")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description used with --create")

	return cmd
}
