package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/logging"
)

// cliOrigin is the audit origin of every change made from the command line.
const cliOrigin = "cli"

// NewContextsCmd constructs the `ragctx contexts` command group, which lists,
// creates, inspects, renames, clears and deletes contexts.
func NewContextsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contexts",
		Aliases: []string{"ctx"},
		Short:   "Manage named contexts",
		Long: `Manage named contexts. Each context owns a directory under the data
directory holding its vector index and its metadata.

Names are lowercased; letters, digits, '_' and '-' are allowed.

Examples:
  ragctx contexts list
  ragctx contexts create cond_169 --description "Condominium 169 documents"
  ragctx contexts show cond_169
  ragctx contexts rename cond_169 cond_170
  ragctx contexts clear cond_170
  ragctx contexts delete cond_170`,
	}

	cmd.AddCommand(
		newContextsListCmd(),
		newContextsCreateCmd(),
		newContextsShowCmd(),
		newContextsRenameCmd(),
		newContextsClearCmd(),
		newContextsDeleteCmd(),
		newContextsStatsCmd(),
	)
	return cmd
}

// withApp builds an app for the duration of fn.
func withApp(fn func(a *app) error) error {
	a, err := newApp(logging.NewCLI(), nil)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newContextsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contexts with their document and file counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(a *app) error {
				st, err := a.mgr.Stats()
				if err != nil {
					return fmt.Errorf("contexts list: %w", err)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), st.Contexts)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDOCUMENTS\tFILES\tINDEX\tUPDATED\tDESCRIPTION")
				for _, c := range st.Contexts {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
						c.Name, c.TotalDocuments, c.TotalFiles, yesNo(c.HasIndex), formatTime(c.LastUpdated), c.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newContextsCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				name, err := contexts.NormalizeName(args[0])
				if err != nil {
					return fmt.Errorf("contexts create: %w", err)
				}
				if err := a.mgr.Create(name, description); err != nil {
					return fmt.Errorf("contexts create: %w", err)
				}
				audit.LogContextChange(a.log, audit.OpCreate, name, cliOrigin)
				fmt.Fprintf(cmd.OutOrStdout(), "created context %q\n", name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-text description of the context's documents")
	return cmd
}

func newContextsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a context's metadata and indexed files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				name, err := contexts.NormalizeName(args[0])
				if err != nil {
					return fmt.Errorf("contexts show: %w", err)
				}
				meta, err := a.mgr.Metadata(name)
				if err != nil {
					return fmt.Errorf("contexts show: %w", err)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), meta)
				}
				printMetadata(cmd.OutOrStdout(), meta, a.mgr.HasIndex(name))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newContextsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename OLD NEW",
		Short: "Rename a context, moving its index and metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				oldName, err := contexts.NormalizeName(args[0])
				if err != nil {
					return fmt.Errorf("contexts rename: %w", err)
				}
				newName, err := contexts.NormalizeName(args[1])
				if err != nil {
					return fmt.Errorf("contexts rename: %w", err)
				}
				if err := a.mgr.Rename(oldName, newName); err != nil {
					return fmt.Errorf("contexts rename: %w", err)
				}
				audit.LogContextChange(a.log, audit.OpRename, oldName, cliOrigin, slog.String("new_name", newName))
				fmt.Fprintf(cmd.OutOrStdout(), "renamed context %q to %q\n", oldName, newName)
				return nil
			})
		},
	}
}

func newContextsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear NAME",
		Short: "Remove a context's index, keeping the context and its description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				name, err := contexts.NormalizeName(args[0])
				if err != nil {
					return fmt.Errorf("contexts clear: %w", err)
				}
				if err := a.mgr.ClearIndex(name); err != nil {
					return fmt.Errorf("contexts clear: %w", err)
				}
				audit.LogContextChange(a.log, audit.OpClear, name, cliOrigin)
				fmt.Fprintf(cmd.OutOrStdout(), "cleared index of context %q\n", name)
				return nil
			})
		},
	}
}

func newContextsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a context and everything indexed in it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				name, err := contexts.NormalizeName(args[0])
				if err != nil {
					return fmt.Errorf("contexts delete: %w", err)
				}
				if err := a.mgr.Delete(name); err != nil {
					return fmt.Errorf("contexts delete: %w", err)
				}
				audit.LogContextChange(a.log, audit.OpDelete, name, cliOrigin)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted context %q\n", name)
				return nil
			})
		},
	}
}

func newContextsStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print totals across all contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(a *app) error {
				st, err := a.mgr.Stats()
				if err != nil {
					return fmt.Errorf("contexts stats: %w", err)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "contexts:  %d\ndocuments: %d\nfiles:     %d\n",
					st.TotalContexts, st.TotalDocuments, st.TotalFiles)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// printMetadata writes a human-readable view of meta.
func printMetadata(w io.Writer, meta *contexts.Metadata, hasIndex bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", meta.Name)
	if meta.Description != "" {
		fmt.Fprintf(tw, "description:\t%s\n", meta.Description)
	}
	fmt.Fprintf(tw, "created:\t%s\n", meta.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "updated:\t%s\n", formatTime(meta.LastUpdated))
	fmt.Fprintf(tw, "index:\t%s\n", yesNo(hasIndex))
	fmt.Fprintf(tw, "documents:\t%d\n", meta.TotalDocuments)
	fmt.Fprintf(tw, "files:\t%d\n", len(meta.IndexedFiles))
	_ = tw.Flush()
	for _, f := range meta.IndexedFiles {
		fmt.Fprintf(w, "  - %s\n", f)
	}
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// stderrf prints a notice that must not mix with command output.
func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	if !strings.HasSuffix(format, "\n") {
		fmt.Fprintln(os.Stderr)
	}
}
