package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/buckle/internal/appconfig"
	"github.com/example/buckle/internal/history"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Lists recorded apply runs, or the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			globalPath, err := root.settingsFile()
			if err != nil {
				return err
			}
			rootPath := ""
			if dir, err := configRoot(root.configDir); err == nil {
				rootPath = appconfig.RootPath(dir)
			}
			settings, err := appconfig.Load(ctx, globalPath, rootPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			store, err := history.Open(ctx, settings.HistoryPath(), true)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				return err
			}
			defer store.Close()

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			defer tw.Flush()
			if len(args) == 1 {
				id, entries, err := store.Entries(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "RUN %s\n", id)
				fmt.Fprintln(tw, "TIME\tTYPE\tPACKAGE\tATTEMPT\tDETAIL")
				for _, e := range entries {
					attempt := ""
					if e.Attempt > 0 {
						attempt = fmt.Sprint(e.Attempt)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.TS.Local().Format(time.TimeOnly), e.Type, e.Package, attempt, entryDetail(e))
				}
				return nil
			}
			runs, err := store.Runs(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(tw, "No runs recorded.")
				return nil
			}
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tSTATUS\tROOT\tERROR")
			for _, r := range runs {
				duration := "-"
				if !r.FinishedAt.IsZero() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID[:8], r.StartedAt.Local().Format(time.DateTime), duration, r.Status, r.Root, firstLine(r.Error))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func entryDetail(e history.Entry) string {
	parts := []string{}
	for _, s := range []string{e.Path, e.Task, e.Message, firstLine(e.Error)} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
