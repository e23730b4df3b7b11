package packages

import (
	"fmt"
	"os"
	"runtime"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Facts is what a package condition can see.
type Facts struct {
	OS       string
	Arch     string
	Hostname string
	Config   map[string]string
}

// HostFacts describes the running machine plus the given config.
func HostFacts(config map[string]string) Facts {
	hostname, _ := os.Hostname()
	return Facts{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: hostname,
		Config:   config,
	}
}

func (f Facts) env() map[string]any {
	config := f.Config
	if config == nil {
		config = map[string]string{}
	}
	return map[string]any{
		"os":       f.OS,
		"arch":     f.Arch,
		"hostname": f.Hostname,
		"config":   config,
	}
}

func compileCondition(source string) (*vm.Program, error) {
	return expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
}

// Enabled evaluates the package's when condition. Packages without one are
// always enabled.
func (p *Package) Enabled(facts Facts) (bool, error) {
	if p.condition == nil {
		return true, nil
	}
	out, err := expr.Run(p.condition, facts.env())
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", p.When, err)
	}
	enabled, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, want bool", p.When, out)
	}
	return enabled, nil
}
