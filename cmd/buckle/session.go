package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/example/buckle/internal/appconfig"
	"github.com/example/buckle/internal/apply"
	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/interpreter"
	"github.com/example/buckle/internal/logging"
	"github.com/example/buckle/internal/secretstore"
)

// session is everything a command needs once flags and settings are read.
type session struct {
	root       string
	settings   appconfig.Config
	log        logr.Logger
	table      interpreter.Table
	identities []age.Identity
	refs       *secretstore.Resolver
	printer    *printer
}

func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	root, err := configRoot(o.configDir)
	if err != nil {
		return nil, err
	}
	settingsPath, err := o.settingsFile()
	if err != nil {
		return nil, err
	}
	settings, err := appconfig.Load(ctx, settingsPath, appconfig.RootPath(root))
	if err != nil {
		return nil, failure.UserWrap(err, "Failed to load buckle settings.", "Fix the YAML in "+settingsPath+" or "+appconfig.RootPath(root)+".")
	}

	level := o.logLevel
	if level == "" {
		level = settings.LogLevel
	}
	log, err := logging.New(level)
	if err != nil {
		return nil, failure.UserWrap(err, "Invalid log level.", "Use one of debug, info, warn or error.")
	}

	table, err := interpreter.Default().WithOverrides(settings.Interpreters)
	if err != nil {
		return nil, failure.UserWrap(err, "Invalid interpreter override in buckle settings.", "Map each extension to a non-empty command line, e.g. sh: \"bash -eu\".")
	}

	identities, err := loadIdentities(settings.Age.IdentityFile)
	if err != nil {
		return nil, err
	}

	refs, err := secretstore.NewResolver(settings.Secrets, root, log.WithName("secretstore"))
	if err != nil {
		return nil, failure.UserWrap(err, "Failed to configure secret providers.", "Check the secrets section of the buckle settings.")
	}

	return &session{
		root:       root,
		settings:   settings,
		log:        log,
		table:      table,
		identities: identities,
		refs:       refs,
		printer:    newPrinter(cmd.OutOrStdout(), o.noColor),
	}, nil
}

// settingsFile is --settings with ~ expanded, or the global default.
func (o *rootOptions) settingsFile() (string, error) {
	if o.settingsPath == "" {
		return appconfig.DefaultGlobalPath(), nil
	}
	path, err := homedir.Expand(o.settingsPath)
	if err != nil {
		return "", failure.UserWrap(err, "Could not expand the settings path.", "Pass an absolute --settings path.")
	}
	return path, nil
}

func configRoot(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", failure.User("No configuration directory provided.", "Provide the --config directory when running this command.")
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", failure.UserWrap(err, "Could not expand the configuration directory.", "Provide an absolute --config directory.")
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", failure.System(err, "Could not resolve the configuration directory.", failure.AdviceReadCause)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", failure.User(fmt.Sprintf("The configuration directory '%s' does not exist.", abs), "Provide the --config directory when running this command.")
	}
	return abs, nil
}

func loadIdentities(path string) ([]age.Identity, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.System(err, fmt.Sprintf("Unable to open the age identity file '%s'.", path), failure.AdviceReadCause)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, failure.UserWrap(err, fmt.Sprintf("The age identity file '%s' is not valid.", path), "Generate one with age-keygen and point age.identityFile at it.")
	}
	return ids, nil
}

func (s *session) engine(diff bool, observers ...apply.Observer) *apply.Engine {
	return apply.New(apply.Options{
		Root:       s.root,
		Log:        s.log,
		Table:      s.table,
		Identities: s.identities,
		Refs:       s.refs,
		Observers:  observers,
		Diff:       diff,
	})
}
