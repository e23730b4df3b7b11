package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/buckle/internal/apply"
	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/values"
)

func newPlanCommand(root *rootOptions) *cobra.Command {
	var diff bool
	var verifySecrets bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Shows the planned strategy for bootstrapping the local machine",
		Long:  "Reads the bootstrapping configuration and shows how it would be executed if run against the local machine. Nothing is written and no script is run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := root.open(ctx, cmd)
			if err != nil {
				return err
			}
			plan, err := s.engine(diff).Plan(ctx)
			if err != nil {
				return err
			}
			s.printer.plan(plan)
			if !verifySecrets {
				return nil
			}
			return verifyPlanSecrets(cmd, s, plan)
		},
	}
	cmd.Flags().BoolVar(&diff, "diff", false, "Show unified diffs for files that would change")
	cmd.Flags().BoolVar(&verifySecrets, "verify-secrets", false, "Resolve every secret:// reference without printing the values")
	return cmd
}

func verifyPlanSecrets(cmd *cobra.Command, s *session, plan *apply.Plan) error {
	merged := values.Values{}
	merged.Merge(plan.Secrets.Values)
	for _, pp := range plan.Packages {
		merged.Merge(pp.Secrets.Values)
	}
	issues := s.refs.Verify(cmd.Context(), merged)
	fmt.Fprintln(cmd.OutOrStdout())
	if len(issues) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), " secret references verified")
		return nil
	}
	for _, issue := range issues {
		s.printer.problem(" ", "secret %s (%s): %v", issue.Key, issue.Reference, issue.Err)
	}
	return failure.Userf(
		"Check the secrets providers in the buckle settings and the referenced paths.",
		"%d secret reference(s) could not be resolved.", len(issues),
	)
}
