// Package interpreter maps script file extensions to the system interpreter
// that runs them. The same table serves script-backed config sources and
// package tasks.
package interpreter

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"
)

var defaultTable = map[string][]string{
	".ps1": {"pwsh"},
	".sh":  {"bash"},
	".bat": {"cmd.exe"},
	".cmd": {"cmd.exe"},
}

// Table is an immutable extension -> interpreter command mapping.
type Table struct {
	entries map[string][]string
}

// Default returns the built-in table.
func Default() Table {
	entries := make(map[string][]string, len(defaultTable))
	for ext, argv := range defaultTable {
		entries[ext] = append([]string(nil), argv...)
	}
	return Table{entries: entries}
}

// WithOverrides returns a copy of t where each extension in overrides runs
// through the given command line (e.g. "sh": "bash -eu"). Extensions may be
// written with or without the leading dot.
func (t Table) WithOverrides(overrides map[string]string) (Table, error) {
	base := t.entries
	if base == nil {
		base = defaultTable
	}
	out := Table{entries: make(map[string][]string, len(base)+len(overrides))}
	for ext, argv := range base {
		out.entries[ext] = append([]string(nil), argv...)
	}
	for rawExt, line := range overrides {
		ext := normalizeExt(rawExt)
		if ext == "" {
			return Table{}, fmt.Errorf("interpreter override has an empty extension")
		}
		argv, err := shellwords.Parse(line)
		if err != nil {
			return Table{}, fmt.Errorf("parse interpreter for %s: %w", ext, err)
		}
		if len(argv) == 0 {
			return Table{}, fmt.Errorf("interpreter for %s is empty", ext)
		}
		out.entries[ext] = argv
	}
	return out, nil
}

// Lookup returns the interpreter argv for an extension (".sh").
func (t Table) Lookup(ext string) ([]string, bool) {
	entries := t.entries
	if entries == nil {
		entries = defaultTable
	}
	argv, ok := entries[ext]
	if !ok || len(argv) == 0 {
		return nil, false
	}
	return append([]string(nil), argv...), true
}

// Extensions lists the recognized extensions in sorted order.
func (t Table) Extensions() []string {
	entries := t.entries
	if entries == nil {
		entries = defaultTable
	}
	out := make([]string, 0, len(entries))
	for ext := range entries {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Command builds the invocation for a script file: the interpreter argv
// followed by the file as its sole argument.
func (t Table) Command(path string) (Command, bool) {
	argv, ok := t.Lookup(filepath.Ext(path))
	if !ok {
		return Command{}, false
	}
	args := append(argv[1:], path)
	return Command{Name: argv[0], Args: args}, true
}

func normalizeExt(raw string) string {
	ext := strings.TrimSpace(raw)
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
