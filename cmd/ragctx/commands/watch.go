package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/ingestion"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/watcher"
)

// NewWatchCmd constructs the `ragctx watch` command, which indexes files
// into a context as they are created or modified.
func NewWatchCmd() *cobra.Command {
	var contextName string
	var recursive bool
	var initial bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Index files into a context as they change",
		Long: `Watch a directory and index supported files into a context whenever they
are created or written. Bursts of writes to one file are debounced into a
single indexing run.

Each run appends the file's chunks to the context; earlier chunks of the
same file are not replaced. Clear the context and re-index to drop them.

Examples:
  ragctx watch -c cond_169 ./inbox
  ragctx watch -c manuals --initial ./manuals`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.NewCLI()
			ctx = logging.WithLogger(ctx, log)
			root := args[0]

			a, err := newApp(log, nil)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer a.close()

			name, err := contexts.NormalizeName(contextName)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			sess := a.sessions.New()
			defer a.sessions.Close(sess.ID())
			if err := sess.Switch(ctx, name); err != nil {
				return fmt.Errorf("watch: %w", err)
			}

			if initial {
				report, err := a.pipeline.IndexDirectory(ctx, sess, root, name, ingestion.DirOptions{Recursive: recursive})
				if err != nil {
					return fmt.Errorf("watch: initial index: %w", err)
				}
				log.Info("watch: initial index done",
					slog.String("context", name),
					slog.Int("indexed", len(report.Indexed)),
					slog.Int("failed", len(report.Failed)),
				)
			}

			w, err := watcher.New(watcher.Config{
				Root:      root,
				Recursive: recursive,
				Debounce:  debounce,
				Logger:    log,
			}, func(ctx context.Context, path string) error {
				res, err := a.pipeline.IndexPath(ctx, sess, path, name)
				if err != nil {
					return err
				}
				audit.LogContextChange(log, audit.OpIndex, name, "watch",
					slog.String("file", res.File), slog.Int("chunks", res.Chunks))
				return nil
			})
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s into context %q (Ctrl-C to stop)\n", root, name)
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&contextName, "context", "c", contexts.DefaultContext, "Context to index into")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Watch subdirectories too")
	cmd.Flags().BoolVar(&initial, "initial", false, "Index the directory's current files before watching")
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "Quiet period after the last write before indexing")

	return cmd
}
