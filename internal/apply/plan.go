package apply

import (
	"context"
	"sort"
	"strings"

	"github.com/example/buckle/internal/files"
	"github.com/example/buckle/internal/packages"
	"github.com/example/buckle/internal/tasks"
	"github.com/example/buckle/internal/values"
)

// Plan describes what Apply would do. Building it never writes a file or
// starts a process.
type Plan struct {
	Config   values.Layer
	Secrets  values.Layer
	Packages []PackagePlan
}

// PackagePlan is one package's share of a Plan.
type PackagePlan struct {
	Package *packages.Package
	// Skipped packages have a false when condition.
	Skipped bool
	// Config and Secrets are the package's own layers.
	Config  values.Layer
	Secrets values.Layer
	// MergedConfig and MergedSecrets are what files and tasks would see.
	MergedConfig  values.Values
	MergedSecrets values.Values
	Files         []FileStep
	Tasks         []TaskStep
}

// FileStep is a planned file write.
type FileStep struct {
	Entry      files.Entry
	TargetRoot string
	Change     files.Change
}

// TaskStep is a planned task run.
type TaskStep struct {
	Task    tasks.Task
	Command string
	// Err is set when the task could not run, e.g. an unknown extension.
	Err error
}

// Plan resolves the packages and describes every step in apply order.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	order, err := packages.Resolve(ctx, e.PackagesDir())
	if err != nil {
		return nil, err
	}
	plan := &Plan{}
	plan.Config, err = e.configLoader(true).LoadLayer(ctx, e.ConfigDir())
	if err != nil {
		return nil, err
	}
	plan.Secrets, err = e.secretLoader(true).LoadLayer(ctx, e.SecretsDir())
	if err != nil {
		return nil, err
	}

	for _, pkg := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pp, err := e.planPackage(ctx, pkg, plan.Config.Values, plan.Secrets.Values)
		if err != nil {
			return nil, err
		}
		plan.Packages = append(plan.Packages, pp)
	}
	return plan, nil
}

func (e *Engine) planPackage(ctx context.Context, pkg *packages.Package, globalConfig, globalSecrets values.Values) (PackagePlan, error) {
	pp := PackagePlan{Package: pkg}
	on, err := e.enabled(pkg, globalConfig)
	if err != nil {
		return pp, err
	}
	if !on {
		pp.Skipped = true
		return pp, nil
	}

	pp.Config, err = e.configLoader(true).LoadLayer(ctx, pkg.ConfigDir())
	if err != nil {
		return pp, err
	}
	pp.Secrets, err = e.secretLoader(true).LoadLayer(ctx, pkg.SecretsDir())
	if err != nil {
		return pp, err
	}
	pp.MergedConfig = globalConfig.Clone()
	pp.MergedConfig.Merge(pp.Config.Values)
	pp.MergedSecrets = globalSecrets.Clone()
	pp.MergedSecrets.Merge(pp.Secrets.Values)

	entries, err := pkg.FileEntries()
	if err != nil {
		return pp, err
	}
	for _, entry := range entries {
		root, err := pkg.TargetRoot(entry.Group)
		if err != nil {
			return pp, err
		}
		change, err := entry.Inspect(root, pp.MergedConfig.Map(), pp.MergedSecrets.Map(), e.opts.Diff)
		if err != nil {
			return pp, err
		}
		change.Diff = MaskSecrets(change.Diff, pp.MergedSecrets)
		pp.Files = append(pp.Files, FileStep{Entry: entry, TargetRoot: root, Change: change})
	}

	list, err := pkg.Tasks()
	if err != nil {
		return pp, err
	}
	for _, task := range list {
		step := TaskStep{Task: task}
		if cmd, err := task.Command(e.opts.Table); err != nil {
			step.Err = err
		} else {
			step.Command = cmd.String()
		}
		pp.Tasks = append(pp.Tasks, step)
	}
	return pp, nil
}

// MaskSecrets replaces every non-empty secret value in text with the mask.
// Longer values are replaced first so a secret containing another is hidden
// whole.
func MaskSecrets(text string, secrets values.Values) string {
	if text == "" || len(secrets) == 0 {
		return text
	}
	vals := make([]string, 0, len(secrets))
	for _, v := range secrets {
		if v != "" {
			vals = append(vals, v)
		}
	}
	sort.Slice(vals, func(i, j int) bool {
		if len(vals[i]) != len(vals[j]) {
			return len(vals[i]) > len(vals[j])
		}
		return vals[i] < vals[j]
	})
	for _, v := range vals {
		text = strings.ReplaceAll(text, v, values.Mask)
	}
	return text
}
