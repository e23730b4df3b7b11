// main.go bootstraps buckle: it builds the root Cobra command, binds BUCKLE_*
// environment variables and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/version"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configDir    string
	settingsPath string
	logLevel     string
	noColor      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	v := newViper()
	cmd := &cobra.Command{
		Use:           "buckle",
		Short:         "Taking care of your bootstrapping needs",
		Long:          "buckle applies a directory of packages, config, secrets, files and scripts to the local machine.",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnv(v, cmd.Flags())
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configDir, "config", "c", "", "The path to your buckle configuration directory")
	pf.StringVar(&opts.settingsPath, "settings", "", "Path to the buckle settings file (defaults to ~/.buckle/config.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level for buckle output (debug, info, warn, error)")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.SetVersionTemplate(version.Get().String() + "\n")
	cmd.AddCommand(
		newPlanCommand(opts),
		newApplyCommand(opts),
		newGraphCommand(opts),
		newHistoryCommand(opts),
		newEnvCommand(),
	)
	cmd.Example = `  # Show what would happen on this machine
  buckle plan --config ~/dotfiles

  # Apply and journal the run
  BUCKLE_CONFIG=~/dotfiles buckle apply --history`
	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("BUCKLE")
	v.AutomaticEnv()
	return v
}

// applyEnv copies BUCKLE_* values into flags the user did not set.
func applyEnv(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := fmt.Sprintf("%v", v.Get(f.Name))
		if val == "" || val == f.DefValue {
			return
		}
		if err := f.Value.Set(val); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid value %q for --%s from BUCKLE_%s: %w", val, f.Name, envName(f.Name), err)
		}
	})
	return firstErr
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fe, ok := failure.As(err)
	if !ok {
		message := err.Error()
		if errors.Is(err, context.Canceled) {
			message = fmt.Sprintf("%s\nHint: the run was interrupted; packages already applied were left in place.", err)
		}
		fmt.Fprintf(w, "Error: %s\n", message)
		return
	}
	message := err.Error()
	if fe.Cause != nil {
		message = strings.TrimSuffix(message, ": "+fe.Cause.Error())
	}
	fmt.Fprintf(w, "Error: %s\n", message)
	if hint := failure.Hint(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
	if fe.Cause != nil {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(fe.Cause.Error(), "\n"))
	}
}
