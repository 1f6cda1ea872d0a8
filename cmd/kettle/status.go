package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/kettle/internal/config"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/gitsource"
	"github.com/alexisbeaulieu97/kettle/internal/status"
)

type statusOptions struct {
	Target   string
	Diff     bool
	Revision string
	Reset    bool
	Fancy    bool
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	opts := statusOptions{}

	cmd := &cobra.Command{
		Use:   "status [project]",
		Short: "Show the last recorded result of every step",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Target = resolveTarget(args)
			opts.Fancy = stdoutIsTerminal()
			return runStatus(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Diff, "diff", false, "Show source changes of dirty steps against a git revision")
	cmd.Flags().StringVar(&opts.Revision, "revision", gitsource.DefaultRevision, "Revision compared by --diff")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "Forget all recorded results")

	return cmd
}

func runStatus(ctx context.Context, opts statusOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := config.LoadProject(opts.Target)
	if err != nil {
		return err
	}

	store, err := status.Open(p.Directory, p.ID)
	if err != nil {
		return err
	}
	if opts.Reset {
		store.Reset()
		if err := store.Save(); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared run state for %s\n", p.Name)
		return nil
	}

	entries, err := status.Reconcile(p, store)
	if err != nil {
		return err
	}

	var source *gitsource.Loader
	if opts.Diff {
		if source, err = gitsource.Open(p.Directory, opts.Revision); err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
	}

	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.ID)
	for _, entry := range entries {
		fmt.Fprintln(out, statusLine(entry, opts.Fancy))
		if source == nil || !entry.Dirty() {
			continue
		}
		diff, err := status.Diff(ctx, source, entry.Step)
		if err != nil {
			return err
		}
		if diff != "" {
			fmt.Fprint(out, diff)
		}
	}

	return store.Save()
}

func statusLine(entry status.Entry, fancy bool) string {
	st := entry.State.Status
	icon := st.IconFallback()
	if fancy {
		icon = st.Icon()
	}
	label := lipgloss.NewStyle().Foreground(st.Color()).Render(st.String())

	line := fmt.Sprintf("%s %-8s %s", icon, label, status.Key(entry.Step))
	if entry.Ran {
		line += fmt.Sprintf("  last run %s", entry.State.LastRun.Local().Format("2006-01-02 15:04:05"))
	}
	if entry.State.ErrorType != "" {
		line += "  " + entry.State.ErrorType
	}
	if entry.Dirty() {
		line += fmt.Sprintf("  (dirty: %s)", entry.Reason)
	}
	return line
}
