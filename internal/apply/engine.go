// Package apply drives resolved packages through config layering, file
// materialization and task execution, either for real or as a plan.
package apply

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/go-logr/logr"

	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/interpreter"
	"github.com/example/buckle/internal/packages"
	"github.com/example/buckle/internal/tasks"
	"github.com/example/buckle/internal/values"
)

// Options configures an Engine.
type Options struct {
	// Root holds config/, secrets/ and packages/.
	Root string
	Log  logr.Logger

	Runner     interpreter.Runner
	Table      interpreter.Table
	Identities []age.Identity
	// Refs resolves secret:// references in secret values during Apply.
	Refs values.RefResolver

	Observers []Observer
	// Facts builds what package conditions see. Defaults to the host.
	Facts func(config map[string]string) packages.Facts
	// Sleep blocks between attempts. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Diff adds unified diffs to planned file updates.
	Diff bool
}

// Engine plans and applies a configuration root.
type Engine struct {
	opts Options
	log  logr.Logger
}

// New returns an Engine with defaults filled in.
func New(opts Options) *Engine {
	if opts.Runner == nil {
		opts.Runner = interpreter.ExecRunner{}
	}
	if opts.Facts == nil {
		opts.Facts = packages.HostFacts
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Engine{opts: opts, log: log}
}

func (e *Engine) ConfigDir() string   { return filepath.Join(e.opts.Root, "config") }
func (e *Engine) SecretsDir() string  { return filepath.Join(e.opts.Root, "secrets") }
func (e *Engine) PackagesDir() string { return filepath.Join(e.opts.Root, "packages") }

func (e *Engine) configLoader(static bool) *values.Loader {
	opts := []values.Option{
		values.WithRunner(e.opts.Runner),
		values.WithTable(e.opts.Table),
		values.WithLogger(e.log),
	}
	if static {
		opts = append(opts, values.Static())
	}
	return values.NewLoader(opts...)
}

func (e *Engine) secretLoader(static bool) *values.Loader {
	opts := []values.Option{
		values.WithRunner(e.opts.Runner),
		values.WithTable(e.opts.Table),
		values.WithLogger(e.log.WithName("secrets")),
		values.WithIdentities(e.opts.Identities...),
		values.Sensitive(),
	}
	if e.opts.Refs != nil {
		opts = append(opts, values.WithRefResolver(e.opts.Refs))
	}
	if static {
		opts = append(opts, values.Static())
	}
	return values.NewLoader(opts...)
}

func (e *Engine) emit(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	for _, obs := range e.opts.Observers {
		if obs != nil {
			obs.ObserveEvent(ev)
		}
	}
}

func (e *Engine) enabled(pkg *packages.Package, config values.Values) (bool, error) {
	on, err := pkg.Enabled(e.opts.Facts(config.Map()))
	if err != nil {
		return false, failure.UserWrap(err,
			fmt.Sprintf("Failed to evaluate the condition for package '%s'.", pkg.ID),
			"Fix the 'when' expression in the package manifest.")
	}
	return on, nil
}

// Result summarizes an Apply run.
type Result struct {
	Order    []string
	Applied  []string
	Skipped  []string
	Attempts map[string]int
}

// Apply resolves the packages, loads the global layers and applies every
// package in order. The first package that exhausts its retries aborts the
// run; packages applied before it are left in place.
func (e *Engine) Apply(ctx context.Context) (*Result, error) {
	order, err := packages.Resolve(ctx, e.PackagesDir())
	if err != nil {
		return nil, err
	}
	res := &Result{Attempts: map[string]int{}}
	for _, pkg := range order {
		res.Order = append(res.Order, pkg.ID)
	}

	config, err := e.configLoader(false).LoadAll(ctx, e.ConfigDir())
	if err != nil {
		return res, err
	}
	secrets, err := e.secretLoader(false).LoadAll(ctx, e.SecretsDir())
	if err != nil {
		return res, err
	}

	e.emit(Event{Type: EventRunStarted, Message: fmt.Sprintf("%d package(s)", len(order))})
	for _, pkg := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		on, err := e.enabled(pkg, config)
		if err != nil {
			return res, err
		}
		if !on {
			e.log.Info("skipping package", "package", pkg.ID, "when", pkg.When)
			e.emit(Event{Type: EventPackageSkipped, Package: pkg.ID, Message: pkg.When})
			res.Skipped = append(res.Skipped, pkg.ID)
			continue
		}
		attempts, err := e.applyWithRetry(ctx, pkg, config, secrets)
		res.Attempts[pkg.ID] = attempts
		if err != nil {
			e.emit(Event{Type: EventRunCompleted, Err: err})
			return res, failure.Wrap(err, "package '%s' failed after %d attempt(s)", pkg.ID, attempts)
		}
		res.Applied = append(res.Applied, pkg.ID)
	}
	e.emit(Event{Type: EventRunCompleted})
	return res, nil
}

func (e *Engine) applyWithRetry(ctx context.Context, pkg *packages.Package, config, secrets values.Values) (int, error) {
	log := e.log.WithValues("package", pkg.ID)
	for attempt := 1; ; attempt++ {
		log.Info("applying package", "attempt", attempt)
		e.emit(Event{Type: EventPackageStarted, Package: pkg.ID, Attempt: attempt})
		err := e.applyPackage(ctx, pkg, attempt, config, secrets)
		if err == nil {
			e.emit(Event{Type: EventPackageSucceeded, Package: pkg.ID, Attempt: attempt})
			return attempt, nil
		}
		e.emit(Event{Type: EventAttemptFailed, Package: pkg.ID, Attempt: attempt, Err: err})
		if attempt > pkg.Retry.Limit {
			log.Error(err, "package failed", "attempts", attempt)
			e.emit(Event{Type: EventPackageFailed, Package: pkg.ID, Attempt: attempt, Err: err})
			return attempt, err
		}
		delay := pkg.Retry.Delay.Duration()
		log.Info("retrying package", "attempt", attempt, "delay", delay.String(), "error", err.Error())
		e.emit(Event{Type: EventRetryScheduled, Package: pkg.ID, Attempt: attempt, Delay: delay, Err: err})
		e.opts.Sleep(delay)
	}
}

// applyPackage runs one attempt. The global maps are cloned, never mutated.
func (e *Engine) applyPackage(ctx context.Context, pkg *packages.Package, attempt int, globalConfig, globalSecrets values.Values) error {
	config := globalConfig.Clone()
	secrets := globalSecrets.Clone()

	pkgConfig, err := e.configLoader(false).LoadAll(ctx, pkg.ConfigDir())
	if err != nil {
		return err
	}
	config.Merge(pkgConfig)
	pkgSecrets, err := e.secretLoader(false).LoadAll(ctx, pkg.SecretsDir())
	if err != nil {
		return err
	}
	secrets.Merge(pkgSecrets)

	entries, err := pkg.FileEntries()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		root, err := pkg.TargetRoot(entry.Group)
		if err != nil {
			return err
		}
		dest, err := entry.Apply(root, config.Map(), secrets.Map())
		if err != nil {
			return err
		}
		e.log.V(1).Info("applied file", "package", pkg.ID, "file", dest, "kind", entry.Kind())
		e.emit(Event{Type: EventFileApplied, Package: pkg.ID, Attempt: attempt, Path: dest, Message: entry.Kind()})
	}

	list, err := pkg.Tasks()
	if err != nil {
		return err
	}
	exec := tasks.Executor{Runner: e.opts.Runner, Table: e.opts.Table, Log: e.log}
	for _, task := range list {
		if _, err := exec.Run(ctx, task, config.Map(), secrets.Map()); err != nil {
			return err
		}
		e.log.V(1).Info("ran task", "package", pkg.ID, "task", task.Name)
		e.emit(Event{Type: EventTaskSucceeded, Package: pkg.ID, Attempt: attempt, Task: task.Name})
	}
	return nil
}
