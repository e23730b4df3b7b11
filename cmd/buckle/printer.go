package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/example/buckle/internal/apply"
	"github.com/example/buckle/internal/failure"
	"github.com/example/buckle/internal/files"
	"github.com/example/buckle/internal/values"
)

// printer writes the plan/apply listing. Secret values are always masked.
type printer struct {
	w io.Writer

	mu   sync.Mutex
	add  *color.Color
	keep *color.Color
	skip *color.Color
	fail *color.Color
	dim  *color.Color
}

func newPrinter(w io.Writer, noColor bool) *printer {
	p := &printer{
		w:    w,
		add:  color.New(color.FgGreen),
		keep: color.New(color.FgCyan),
		skip: color.New(color.FgYellow),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.FgHiBlack),
	}
	if noColor || !isTerminalWriter(w) {
		for _, c := range []*color.Color{p.add, p.keep, p.skip, p.fail, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminalWriter(w io.Writer) bool {
	type fdProvider interface {
		Fd() uintptr
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) config(indent string, vals values.Values) {
	for _, k := range vals.Keys() {
		p.printf("%s%s config %s=%s\n", indent, p.keep.Sprint("="), k, vals[k])
	}
}

func (p *printer) secrets(indent string, vals values.Values) {
	for _, k := range vals.Keys() {
		p.printf("%s%s secret %s=%s\n", indent, p.keep.Sprint("="), k, values.Mask)
	}
}

func (p *printer) deferred(indent string, layer values.Layer) {
	for _, src := range layer.Sources {
		if src.Deferred {
			p.printf("%s%s %s '%s' %s\n", indent, p.skip.Sprint("~"), src.Kind, src.Path, p.dim.Sprint("(evaluated at apply time)"))
		}
	}
}

func (p *printer) pkg(id string) {
	p.printf("\n %s package '%s'\n", p.add.Sprint("+"), id)
}

func (p *printer) skipped(id, when string) {
	p.printf("\n %s package '%s' %s\n", p.skip.Sprint("-"), id, p.dim.Sprintf("(skipped: %s)", when))
}

func (p *printer) file(kind, dest string, change files.ChangeKind) {
	line := fmt.Sprintf("   %s %s '%s'", p.add.Sprint("+"), kind, dest)
	if change != "" {
		line += " " + p.dim.Sprintf("(%s)", change)
	}
	p.printf("%s\n", line)
}

func (p *printer) diff(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			line = p.add.Sprint(line)
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			line = p.fail.Sprint(line)
		}
		p.printf("     %s\n", line)
	}
}

func (p *printer) task(name, command string) {
	if command == "" {
		p.printf("   %s task '%s'\n", p.add.Sprint("+"), name)
		return
	}
	p.printf("   %s task '%s' %s\n", p.add.Sprint("+"), name, p.dim.Sprintf("(%s)", command))
}

func (p *printer) problem(indent, format string, args ...any) {
	p.printf("%s%s %s\n", indent, p.fail.Sprint("!"), fmt.Sprintf(format, args...))
}

// plan renders a whole plan in apply order.
func (p *printer) plan(plan *apply.Plan) {
	p.config(" ", plan.Config.Values)
	p.deferred(" ", plan.Config)
	p.secrets(" ", plan.Secrets.Values)
	p.deferred(" ", plan.Secrets)
	for _, pp := range plan.Packages {
		if pp.Skipped {
			p.skipped(pp.Package.ID, pp.Package.When)
			continue
		}
		p.pkg(pp.Package.ID)
		p.config("   ", pp.Config.Values)
		p.deferred("   ", pp.Config)
		p.secrets("   ", pp.Secrets.Values)
		p.deferred("   ", pp.Secrets)
		for _, f := range pp.Files {
			p.file(f.Entry.Kind(), f.Change.Destination, f.Change.Kind)
			if f.Change.Diff != "" {
				p.diff(f.Change.Diff)
			}
		}
		for _, t := range pp.Tasks {
			if t.Err != nil {
				p.problem("   ", "task '%s': %s", t.Task.Name, describe(t.Err))
				continue
			}
			p.task(t.Task.Name, t.Command)
		}
	}
}

// ObserveEvent prints apply progress as it happens.
func (p *printer) ObserveEvent(ev apply.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case apply.EventPackageStarted:
		if ev.Attempt == 1 {
			p.pkg(ev.Package)
		} else {
			p.printf("   %s attempt %d\n", p.skip.Sprint("~"), ev.Attempt)
		}
	case apply.EventPackageSkipped:
		p.skipped(ev.Package, ev.Message)
	case apply.EventFileApplied:
		p.file(ev.Message, ev.Path, "")
	case apply.EventTaskSucceeded:
		p.task(ev.Task, "")
	case apply.EventRetryScheduled:
		p.problem("   ", "attempt %d failed: %s (retrying in %s)", ev.Attempt, describe(ev.Err), ev.Delay)
	case apply.EventPackageFailed:
		p.problem("   ", "package '%s' failed: %s", ev.Package, describe(ev.Err))
	}
}

// describe is the one-line form of err without script output.
func describe(err error) string {
	if err == nil {
		return ""
	}
	if fe, ok := failure.As(err); ok {
		return fe.Description
	}
	return err.Error()
}
