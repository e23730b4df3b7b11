// Package appconfig loads buckle's own settings: a global file in the user's
// home directory overlaid by an optional file at the root of the
// configuration directory being applied.
package appconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/example/buckle/internal/secretstore"
)

const (
	globalDir    = ".buckle"
	globalFile   = "config.yaml"
	rootFileName = ".buckle.yaml"
)

// AgeConfig locates the identity used for *.age secret sources.
type AgeConfig struct {
	IdentityFile string `yaml:"identityFile,omitempty"`
}

// HistoryConfig controls the run journal.
type HistoryConfig struct {
	Path    string `yaml:"path,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// Config is the merged tool configuration.
type Config struct {
	LogLevel string `yaml:"logLevel,omitempty"`
	// Interpreters overrides the command used per script extension,
	// e.g. sh: "bash -eu".
	Interpreters map[string]string  `yaml:"interpreters,omitempty"`
	Secrets      secretstore.Config `yaml:"secrets,omitempty"`
	Age          AgeConfig          `yaml:"age,omitempty"`
	History      HistoryConfig      `yaml:"history,omitempty"`
}

// DefaultGlobalPath is ~/.buckle/config.yaml, or "" without a home directory.
func DefaultGlobalPath() string {
	home, err := homedir.Dir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, globalDir, globalFile)
}

// DefaultHistoryPath is where the run journal lives unless configured.
func DefaultHistoryPath() string {
	home, err := homedir.Dir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(os.TempDir(), "buckle-history.db")
	}
	return filepath.Join(home, globalDir, "history.db")
}

// RootPath is the per-configuration settings file inside root.
func RootPath(root string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return ""
	}
	return filepath.Join(root, rootFileName)
}

// Load reads globalPath then rootPath, later values winning. Missing files
// are not an error. Relative paths inside a file resolve against that
// file's directory.
func Load(ctx context.Context, globalPath, rootPath string) (Config, error) {
	_ = ctx
	cfg := Config{}
	for _, layer := range []struct {
		name string
		path string
	}{{"global", globalPath}, {"root", rootPath}} {
		c, err := loadOne(layer.path)
		if err != nil {
			return Config{}, fmt.Errorf("load %s settings %s: %w", layer.name, layer.path, err)
		}
		cfg = merge(cfg, c)
	}
	return cfg, nil
}

func loadOne(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return Config{}, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	base := filepath.Dir(path)
	if cfg.Age.IdentityFile, err = resolvePath(base, cfg.Age.IdentityFile); err != nil {
		return Config{}, err
	}
	if cfg.History.Path, err = resolvePath(base, cfg.History.Path); err != nil {
		return Config{}, err
	}
	for name, p := range cfg.Secrets.Providers {
		if p.Type == "file" && p.Path != "" {
			if p.Path, err = resolvePath(base, p.Path); err != nil {
				return Config{}, err
			}
			cfg.Secrets.Providers[name] = p
		}
	}
	return cfg, nil
}

func resolvePath(base, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(base, expanded)
	}
	return expanded, nil
}

func merge(a, b Config) Config {
	out := a
	if b.LogLevel != "" {
		out.LogLevel = b.LogLevel
	}
	if len(b.Interpreters) > 0 {
		interpreters := make(map[string]string, len(a.Interpreters)+len(b.Interpreters))
		for ext, cmd := range a.Interpreters {
			interpreters[ext] = cmd
		}
		for ext, cmd := range b.Interpreters {
			interpreters[ext] = cmd
		}
		out.Interpreters = interpreters
	}
	out.Secrets = secretstore.Merge(a.Secrets, b.Secrets)
	if b.Age.IdentityFile != "" {
		out.Age.IdentityFile = b.Age.IdentityFile
	}
	if b.History.Path != "" {
		out.History.Path = b.History.Path
	}
	if b.History.Enabled != nil {
		out.History.Enabled = b.History.Enabled
	}
	return out
}

// HistoryEnabled reports whether runs are journaled by default.
func (c Config) HistoryEnabled() bool {
	return c.History.Enabled != nil && *c.History.Enabled
}

// HistoryPath is the configured journal path or the default.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return DefaultHistoryPath()
}
