// Package tasks lists and runs the setup scripts of a package.
package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/interpreter"
)

// Task is one script in a package's scripts directory.
type Task struct {
	Name string
	Path string
}

// Enumerate returns the regular files in dir sorted by name. A missing
// directory yields no tasks.
func Enumerate(dir string) ([]Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, failure.System(err, "Failed to read the list of tasks.", failure.AdviceReadCause)
	}
	var out []Task
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, failure.System(err, "Failed to read the list of tasks.", failure.AdviceReadCause)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out = append(out, Task{Name: entry.Name(), Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Command resolves the interpreter invocation for t.
func (t Task) Command(table interpreter.Table) (interpreter.Command, error) {
	ext := filepath.Ext(t.Path)
	if ext == "" {
		return interpreter.Command{}, failure.Userf(
			"Use one of the supported file extensions to tell buckle how to execute this task file.",
			"Could not determine how to run the task file '%s' because it did not have a file extension.", t.Path,
		).Tag(failure.ErrUnsupportedExtension)
	}
	cmd, ok := table.Command(t.Path)
	if !ok {
		return interpreter.Command{}, failure.Userf(
			"Try using a file extension that is supported by buckle.",
			"The '%s' extension is not supported for task files.", strings.TrimPrefix(ext, "."),
		).Tag(failure.ErrUnsupportedExtension)
	}
	return cmd, nil
}

// Executor runs tasks with config and secrets exported into their
// environment.
type Executor struct {
	Runner interpreter.Runner
	Table  interpreter.Table
	Log    logr.Logger
	// Environ is the inherited environment; nil means os.Environ.
	Environ func() []string
}

// Run executes t synchronously. Secrets are exported after config so they
// shadow config keys of the same name.
func (e Executor) Run(ctx context.Context, t Task, config, secrets map[string]string) (interpreter.Result, error) {
	cmd, err := t.Command(e.Table)
	if err != nil {
		return interpreter.Result{}, err
	}
	base := os.Environ
	if e.Environ != nil {
		base = e.Environ
	}
	cmd.Env = interpreter.Environ(base(), config, secrets)

	runner := e.Runner
	if runner == nil {
		runner = interpreter.ExecRunner{}
	}
	log := e.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	start := time.Now()
	res, err := runner.Run(ctx, cmd)
	log.V(1).Info("task finished", "task", t.Name, "command", cmd.Name, "exit", res.ExitCode, "elapsed", time.Since(start).String())
	if err == nil {
		return res, nil
	}
	if interpreter.IsSpawnFailure(res, err) {
		return res, failure.System(err,
			fmt.Sprintf("Failed to execute the command '%s %s'.", cmd.Name, t.Path),
			fmt.Sprintf("Make sure that '%s' is installed and present on your path and that you have permission to access it.", cmd.Name))
	}
	return res, failure.UserWrap(failure.Detailed(res.Stdout, res.Stderr),
		"Failed to run script.",
		failure.AdviceReadCause,
	).Tag(failure.ErrCommandFailed)
}
