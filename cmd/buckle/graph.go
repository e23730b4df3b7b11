package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/buckle/internal/packages"
)

func newGraphCommand(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Prints the package execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := configRoot(root.configDir)
			if err != nil {
				return err
			}
			g, err := packages.ResolveGraph(cmd.Context(), filepath.Join(dir, "packages"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "dot":
				fmt.Fprint(out, g.DOT())
			case "text", "":
				for i, pkg := range g.Order() {
					line := fmt.Sprintf("%d. %s", i+1, pkg.ID)
					if len(pkg.Needs) > 0 {
						line += " (needs " + strings.Join(pkg.Needs, ", ") + ")"
					}
					if pkg.When != "" {
						line += " when " + pkg.When
					}
					fmt.Fprintln(out, line)
				}
			default:
				return fmt.Errorf("unknown --format %q (expected text or dot)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or dot")
	return cmd
}
