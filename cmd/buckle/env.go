package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/example/buckle/internal/envcatalog"
)

func newEnvCommand() *cobra.Command {
	var format string
	var onlySet bool
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show environment variables used by buckle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := envcatalog.Snapshot(os.LookupEnv, onlySet)
			return writeEnv(cmd.OutOrStdout(), rows, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&onlySet, "set", false, "Show only variables with a non-empty value")
	return cmd
}

// writeEnv prints rows grouped under a heading per category, or as a JSON
// or YAML list.
func writeEnv(w io.Writer, rows []envcatalog.Row, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		category := ""
		for i, row := range rows {
			if row.Category != category {
				if i > 0 {
					fmt.Fprintln(tw)
				}
				category = row.Category
				fmt.Fprintf(tw, "%s:\n", category)
			}
			value := row.Value
			if value == "" {
				value = "-"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", row.Variable, value, row.Description)
		}
		return tw.Flush()
	case "json":
		b, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case "yaml", "yml":
		// sigs.k8s.io/yaml marshals through the json tags.
		b, err := yaml.Marshal(rows)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("unsupported --format %q (expected table, json, or yaml)", format)
	}
}
