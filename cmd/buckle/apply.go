package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/buckle/internal/apply"
	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/history"
)

func newApplyCommand(root *rootOptions) *cobra.Command {
	var journal bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Applies a bootstrapping configuration to the local machine",
		Long:  "Reads the bootstrapping configuration passed in --config and applies every package to the local machine in dependency order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := root.open(ctx, cmd)
			if err != nil {
				return err
			}
			observers := []apply.Observer{s.printer}

			record := s.settings.HistoryEnabled()
			if cmd.Flags().Changed("history") {
				record = journal
			}
			var rec *history.Recorder
			if record {
				store, err := history.Open(ctx, s.settings.HistoryPath(), false)
				if err != nil {
					return failure.System(err, "Unable to open the run history.", failure.AdviceReadCause)
				}
				defer store.Close()
				rec, err = history.NewRecorder(ctx, store, s.root, "apply", s.log.WithName("history"))
				if err != nil {
					return failure.System(err, "Unable to start a run in the history.", failure.AdviceReadCause)
				}
				observers = append(observers, rec)
			}

			res, runErr := s.engine(false, observers...).Apply(ctx)
			if rec != nil {
				if err := rec.Finish(runErr); err != nil {
					s.log.Error(err, "run history is incomplete", "run", rec.RunID())
				}
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nApplied %d package(s), skipped %d.\n", len(res.Applied), len(res.Skipped))
			if rec != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s recorded in %s.\n", rec.RunID(), s.settings.HistoryPath())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&journal, "history", false, "Record this run in the run history (defaults to history.enabled from the settings)")
	return cmd
}
