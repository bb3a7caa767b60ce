package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/answer"
	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/ingestion"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/rag"
	"github.com/54b3r/ragctx-go/internal/session"
	"github.com/54b3r/ragctx-go/internal/tracing"
)

// shellHelp lists the commands understood by the shell.
const shellHelp = `commands:
  use NAME                 switch the active context
  create NAME [DESC...]    create a context and switch to it
  list                     list contexts
  status                   show the active context
  index PATH               index a file or directory into the active context
  search [-k N] QUERY      search the active context
  ask QUESTION             answer from the active context (also: any other line)
  clear [NAME]             remove the index of NAME or of the active context
  delete NAME              delete a context
  rename OLD NEW           rename a context
  help                     show this help
  quit                     leave the shell`

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

// NewShellCmd constructs the `ragctx shell` command, an interactive session
// with an active context that search, ask and index act on.
func NewShellCmd() *cobra.Command {
	var contextName string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session with an active context",
		Long: `Start an interactive session. The session keeps an active context;
search, ask and index act on it until another one is selected with "use".

Lines that are not a shell command are asked as questions. Asking needs a
chat model (MODEL_PROVIDER); without one the shell still searches and
indexes.

Examples:
  ragctx shell
  ragctx shell -c cond_169`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.NewCLI()
			ctx = logging.WithLogger(ctx, log)

			flush, ok := tracing.Setup(log)
			if ok {
				defer flush()
			}

			a, err := newApp(log, nil)
			if err != nil {
				return fmt.Errorf("shell: %w", err)
			}
			defer a.close()

			sh := &shell{app: a, sess: a.sessions.New(), out: cmd.OutOrStdout()}
			defer a.sessions.Close(sh.sess.ID())

			if m, _, err := chatModel(ctx); err != nil {
				stderrf("warning: chat model unavailable, ask disabled: %v", err)
			} else if sh.chain, err = a.answerChain(m); err != nil {
				return fmt.Errorf("shell: %w", err)
			}

			if contextName != "" {
				if err := sh.sess.Switch(ctx, contextName); err != nil {
					return fmt.Errorf("shell: %w", err)
				}
			}
			return sh.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&contextName, "context", "c", "", "Context to start in")

	return cmd
}

// shell is the line interpreter behind `ragctx shell`.
type shell struct {
	app  *app
	sess *session.Session
	// chain is nil when no chat model is configured.
	chain *answer.Chain
	out   io.Writer
}

// run reads lines from in until EOF, quit or cancellation.
func (sh *shell) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		sh.prompt()
		if !sc.Scan() {
			fmt.Fprintln(sh.out)
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := sh.exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}

func (sh *shell) prompt() {
	name := sh.sess.Name()
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(sh.out, "ragctx[%s]> ", name)
}

// exec runs one shell line.
func (sh *shell) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	mgr := sh.app.mgr

	switch strings.ToLower(verb) {
	case "quit", "exit":
		return errQuit
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
	case "use", "switch":
		if len(args) != 1 {
			return errors.New("usage: use NAME")
		}
		if err := sh.sess.Switch(ctx, args[0]); err != nil {
			return err
		}
		sh.status()
	case "create":
		if len(args) == 0 {
			return errors.New("usage: create NAME [DESCRIPTION...]")
		}
		desc := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		if err := sh.sess.Create(ctx, args[0], desc); err != nil {
			return err
		}
		audit.LogContextChange(sh.app.log, audit.OpCreate, sh.sess.Name(), cliOrigin)
		sh.status()
	case "list", "ls":
		names, err := mgr.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			marker := " "
			if n == sh.sess.Name() {
				marker = "*"
			}
			fmt.Fprintf(sh.out, "%s %s\n", marker, n)
		}
	case "status":
		sh.status()
	case "index":
		if rest == "" {
			return errors.New("usage: index PATH")
		}
		return sh.index(ctx, rest)
	case "search":
		return sh.search(ctx, args)
	case "ask":
		return sh.ask(ctx, rest)
	case "clear":
		name := sh.sess.Name()
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return session.ErrNoContext
		}
		if err := sh.sess.Clear(name); err != nil {
			return err
		}
		audit.LogContextChange(sh.app.log, audit.OpClear, name, cliOrigin)
		fmt.Fprintf(sh.out, "cleared %q\n", name)
	case "delete", "rm":
		if len(args) != 1 {
			return errors.New("usage: delete NAME")
		}
		if err := sh.sess.Delete(args[0]); err != nil {
			return err
		}
		audit.LogContextChange(sh.app.log, audit.OpDelete, args[0], cliOrigin)
		fmt.Fprintf(sh.out, "deleted %q\n", args[0])
	case "rename", "mv":
		if len(args) != 2 {
			return errors.New("usage: rename OLD NEW")
		}
		if err := sh.sess.Rename(args[0], args[1]); err != nil {
			return err
		}
		audit.LogContextChange(sh.app.log, audit.OpRename, args[0], cliOrigin, slog.String("new_name", args[1]))
		fmt.Fprintf(sh.out, "renamed %q to %q\n", args[0], args[1])
	default:
		return sh.ask(ctx, line)
	}
	return nil
}

func (sh *shell) status() {
	snap := sh.sess.Snapshot()
	if snap.Context == "" {
		fmt.Fprintf(sh.out, "state: %s\n", snap.State)
		return
	}
	fmt.Fprintf(sh.out, "context: %s (%s, %d documents)\n", snap.Context, snap.State, snap.Documents)
}

// active returns the active context name or session.ErrNoContext.
func (sh *shell) active() (string, error) {
	name := sh.sess.Name()
	if name == "" {
		return "", session.ErrNoContext
	}
	return name, nil
}

func (sh *shell) index(ctx context.Context, path string) error {
	name, err := sh.active()
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		report, err := sh.app.pipeline.IndexDirectory(ctx, sh.sess, path, name, ingestion.DirOptions{
			Recursive: true,
			Progress: func(file string, err error) {
				if err != nil {
					fmt.Fprintf(sh.out, "  ✗ %s: %v\n", file, err)
					return
				}
				fmt.Fprintf(sh.out, "  ✓ %s\n", file)
			},
		})
		if err != nil {
			return err
		}
		audit.LogContextChange(sh.app.log, audit.OpIndex, name, cliOrigin,
			slog.String("directory", path), slog.Int("indexed", len(report.Indexed)), slog.Int("failed", len(report.Failed)))
	} else {
		res, err := sh.app.pipeline.IndexPath(ctx, sh.sess, path, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "  ✓ %s (%d chunks)\n", res.File, res.Chunks)
		audit.LogContextChange(sh.app.log, audit.OpIndex, name, cliOrigin,
			slog.String("file", res.File), slog.Int("chunks", res.Chunks))
	}
	sh.status()
	return nil
}

func (sh *shell) search(ctx context.Context, args []string) error {
	k := 4
	if len(args) >= 2 && args[0] == "-k" {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid -k %q", args[1])
		}
		k, args = n, args[2:]
	}
	if len(args) == 0 {
		return errors.New("usage: search [-k N] QUERY")
	}
	hits, err := sh.sess.Search(ctx, strings.Join(args, " "), k, sh.app.rt.ScoreThreshold)
	if err != nil {
		return err
	}
	printDocuments(sh.out, sh.sess.Name(), rag.FromHits(hits))
	return nil
}

func (sh *shell) ask(ctx context.Context, question string) error {
	if sh.chain == nil {
		return errors.New("no chat model configured (set MODEL_PROVIDER)")
	}
	name, err := sh.active()
	if err != nil {
		return err
	}
	if question == "" {
		return errors.New("usage: ask QUESTION")
	}
	meta, err := sh.app.mgr.Metadata(name)
	if err != nil {
		return err
	}
	ans, err := sh.chain.Ask(ctx, name, meta.Description, question, sh.out)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out)
	printSources(sh.out, ans.Sources)
	return nil
}
