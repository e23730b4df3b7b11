// Package packages loads package manifests and orders packages by their
// declared dependencies.
package packages

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/files"
	"github.com/example/buckle/internal/tasks"
)

const (
	// ManifestFile is the manifest name inside every package directory.
	ManifestFile = "package.yml"
	// DefaultTargetRoot receives file groups the manifest does not map.
	DefaultTargetRoot = "/"
	// DefaultRetryDelay applies when a manifest omits retry.delay.
	DefaultRetryDelay = 5000 * time.Millisecond
)

// Delay is a retry delay. Manifests give it as integer milliseconds or as a
// Go duration string ("2s").
type Delay time.Duration

func (d *Delay) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Delay(DefaultRetryDelay)
		return nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return fmt.Errorf("retry delay must not be negative")
		}
		*d = Delay(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("retry delay %q: expected milliseconds or a duration", raw)
	}
	if parsed < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	*d = Delay(parsed)
	return nil
}

// Duration converts d for time.Sleep.
func (d Delay) Duration() time.Duration { return time.Duration(d) }

// RetryPolicy controls how often a failing package is re-attempted.
type RetryPolicy struct {
	Limit int
	Delay Delay
}

type retryManifest struct {
	Limit int    `yaml:"limit"`
	Delay *Delay `yaml:"delay"`
}

// Attempts is the total number of tries the policy allows.
func (r RetryPolicy) Attempts() int { return r.Limit + 1 }

// manifest is the on-disk form of package.yml.
type manifest struct {
	Description string            `yaml:"description"`
	Needs       []string          `yaml:"needs,omitempty"`
	Files       map[string]string `yaml:"files,omitempty"`
	Retry       *retryManifest    `yaml:"retry,omitempty"`
	When        string            `yaml:"when,omitempty"`
}

// Package is a loaded package. Its content directories are read on demand.
type Package struct {
	ID          string
	Dir         string
	Description string
	Needs       []string
	Files       map[string]string
	Retry       RetryPolicy
	When        string

	condition *vm.Program
}

// Load reads dir/package.yml. The package id is the directory name.
func Load(dir string) (*Package, error) {
	id := filepath.Base(filepath.Clean(dir))
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Userf(
				"Add a "+ManifestFile+" to the package directory or remove the directory.",
				"The package '%s' does not have a manifest file.", id,
			).Tag(failure.ErrManifest)
		}
		return nil, failure.System(err, fmt.Sprintf("Unable to read the manifest for package '%s'.", id), failure.AdviceReadCause)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, failure.UserWrap(err,
			fmt.Sprintf("Failed to parse the manifest for package '%s'.", id),
			"Check that "+path+" is valid YAML with the expected fields.",
		).Tag(failure.ErrManifest)
	}
	return fromManifest(id, dir, m)
}

func fromManifest(id, dir string, m manifest) (*Package, error) {
	pkg := &Package{
		ID:          id,
		Dir:         dir,
		Description: m.Description,
		Needs:       dedupe(m.Needs),
		Files:       map[string]string{},
		Retry:       RetryPolicy{Delay: Delay(DefaultRetryDelay)},
		When:        strings.TrimSpace(m.When),
	}
	for group, target := range m.Files {
		pkg.Files[group] = target
	}
	if m.Retry != nil {
		if m.Retry.Limit < 0 {
			return nil, failure.Userf(
				"Set retry.limit to zero or a positive number.",
				"The package '%s' has a negative retry limit.", id,
			).Tag(failure.ErrManifest)
		}
		pkg.Retry.Limit = m.Retry.Limit
		if m.Retry.Delay != nil {
			pkg.Retry.Delay = *m.Retry.Delay
		}
	}
	if pkg.When != "" {
		program, err := compileCondition(pkg.When)
		if err != nil {
			return nil, failure.UserWrap(err,
				fmt.Sprintf("The condition for package '%s' is not a valid expression.", id),
				"Fix the 'when' expression in the package manifest.",
			).Tag(failure.ErrManifest)
		}
		pkg.condition = program
	}
	return pkg, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func (p *Package) ConfigDir() string  { return filepath.Join(p.Dir, "config") }
func (p *Package) SecretsDir() string { return filepath.Join(p.Dir, "secrets") }
func (p *Package) FilesDir() string   { return filepath.Join(p.Dir, "files") }
func (p *Package) ScriptsDir() string { return filepath.Join(p.Dir, "scripts") }

// FileEntries lists the package's files, groups sorted then paths sorted.
func (p *Package) FileEntries() ([]files.Entry, error) {
	return files.All(p.FilesDir())
}

// Tasks lists the package's scripts in name order.
func (p *Package) Tasks() ([]tasks.Task, error) {
	return tasks.Enumerate(p.ScriptsDir())
}

// TargetRoot is where a file group is written. Unmapped groups go to "/".
func (p *Package) TargetRoot(group string) (string, error) {
	target, ok := p.Files[group]
	if !ok || strings.TrimSpace(target) == "" {
		return DefaultTargetRoot, nil
	}
	expanded, err := homedir.Expand(target)
	if err != nil {
		return "", failure.UserWrap(err,
			fmt.Sprintf("Unable to expand the target directory '%s' for group '%s' in package '%s'.", target, group, p.ID),
			"Use an absolute path for the file group target.")
	}
	return expanded, nil
}

// MappedGroups returns the groups with an explicit target root, sorted.
func (p *Package) MappedGroups() []string {
	out := make([]string, 0, len(p.Files))
	for group := range p.Files {
		out = append(out, group)
	}
	sort.Strings(out)
	return out
}
