package appconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadMergesRootOverGlobal(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "home", ".buckle", "config.yaml")
	root := filepath.Join(dir, "dotfiles")
	writeFile(t, global, `logLevel: debug
interpreters:
  sh: bash -eu
  py: python3
secrets:
  defaultProvider: local
  providers:
    local:
      type: file
      path: secrets.yaml
age:
  identityFile: key.txt
history:
  enabled: true
`)
	writeFile(t, RootPath(root), `interpreters:
  sh: zsh
secrets:
  providers:
    vault:
      type: vault
      address: http://127.0.0.1:8200
history:
  path: journal.db
`)
	cfg, err := Load(context.Background(), global, RootPath(root))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("logLevel=%q", cfg.LogLevel)
	}
	if cfg.Interpreters["sh"] != "zsh" || cfg.Interpreters["py"] != "python3" {
		t.Fatalf("interpreters=%v", cfg.Interpreters)
	}
	if cfg.Secrets.DefaultProvider != "local" || len(cfg.Secrets.Providers) != 2 {
		t.Fatalf("secrets=%+v", cfg.Secrets)
	}
	if got := cfg.Secrets.Providers["local"].Path; got != filepath.Join(dir, "home", ".buckle", "secrets.yaml") {
		t.Fatalf("file provider path=%q", got)
	}
	if cfg.Age.IdentityFile != filepath.Join(dir, "home", ".buckle", "key.txt") {
		t.Fatalf("identity=%q", cfg.Age.IdentityFile)
	}
	if !cfg.HistoryEnabled() || cfg.HistoryPath() != filepath.Join(root, "journal.db") {
		t.Fatalf("history=%+v", cfg.History)
	}
}

func TestLoadMissingAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "\n")
	cfg, err := Load(context.Background(), filepath.Join(dir, "missing.yaml"), empty)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HistoryEnabled() || len(cfg.Interpreters) != 0 || !cfg.Secrets.Empty() {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.HistoryPath() == "" {
		t.Fatalf("expected a default history path")
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "interpreters: [\n")
	if _, err := Load(context.Background(), "", bad); err == nil {
		t.Fatalf("expected parse error")
	}
}
