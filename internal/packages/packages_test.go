package packages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/buckle/internal/failure"
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

func writePackage(t *testing.T, root, id, manifest string) {
	t.Helper()
	writeFile(t, filepath.Join(root, id, ManifestFile), manifest)
}

func ids(pkgs []*Package) string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.ID)
	}
	return strings.Join(out, ",")
}

func TestLoadManifestDefaults(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "git", "description: Git setup\n")
	pkg, err := Load(filepath.Join(root, "git"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pkg.ID != "git" || pkg.Description != "Git setup" {
		t.Fatalf("pkg=%+v", pkg)
	}
	if pkg.Retry.Limit != 0 || pkg.Retry.Delay.Duration() != 5*time.Second {
		t.Fatalf("retry=%+v", pkg.Retry)
	}
	if pkg.ConfigDir() != filepath.Join(root, "git", "config") || pkg.ScriptsDir() != filepath.Join(root, "git", "scripts") {
		t.Fatalf("dirs wrong: %s %s", pkg.ConfigDir(), pkg.ScriptsDir())
	}
	target, err := pkg.TargetRoot("anything")
	if err != nil || target != "/" {
		t.Fatalf("target=%q err=%v", target, err)
	}
}

func TestLoadManifestFields(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "app", `description: App
needs: [base, tools, base]
files:
  home: /home/me
retry:
  limit: 3
  delay: 250
`)
	pkg, err := Load(filepath.Join(root, "app"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(pkg.Needs, ",") != "base,tools" {
		t.Fatalf("needs=%v", pkg.Needs)
	}
	if pkg.Retry.Limit != 3 || pkg.Retry.Delay.Duration() != 250*time.Millisecond || pkg.Retry.Attempts() != 4 {
		t.Fatalf("retry=%+v", pkg.Retry)
	}
	if target, _ := pkg.TargetRoot("home"); target != "/home/me" {
		t.Fatalf("target=%q", target)
	}
}

func TestRetryDelayAcceptsDurations(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "a", "description: a\nretry:\n  limit: 1\n  delay: 2s\n")
	writePackage(t, root, "b", "description: b\nretry:\n  limit: 1\n  delay: 0\n")
	a, err := Load(filepath.Join(root, "a"))
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	if a.Retry.Delay.Duration() != 2*time.Second {
		t.Fatalf("delay=%v", a.Retry.Delay.Duration())
	}
	b, err := Load(filepath.Join(root, "b"))
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if b.Retry.Delay.Duration() != 0 {
		t.Fatalf("explicit zero delay lost: %v", b.Retry.Delay.Duration())
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "yaml", "description: [unterminated\n")
	writePackage(t, root, "neg", "description: x\nretry:\n  limit: -1\n")
	writePackage(t, root, "cond", "description: x\nwhen: 'os =='\n")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, id := range []string{"yaml", "neg", "cond", "empty"} {
		_, err := Load(filepath.Join(root, id))
		if !errors.Is(err, failure.ErrManifest) || !failure.IsUser(err) {
			t.Fatalf("%s: expected manifest user error, got %v", id, err)
		}
	}
}

func TestResolveOrdersDependenciesFirst(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "app", "description: app\nneeds: [lib, base]\n")
	writePackage(t, root, "lib", "description: lib\nneeds: [base]\n")
	writePackage(t, root, "base", "description: base\n")
	writePackage(t, root, "zsh", "description: zsh\n")
	writePackage(t, root, "aaa", "description: aaa\n")
	writeFile(t, filepath.Join(root, "README.md"), "not a package")

	got, err := Resolve(context.Background(), root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ids(got) != "aaa,base,lib,app,zsh" {
		t.Fatalf("order=%s", ids(got))
	}
	for i := 0; i < 5; i++ {
		again, err := Resolve(context.Background(), root)
		if err != nil || ids(again) != ids(got) {
			t.Fatalf("unstable order: %s vs %s (%v)", ids(again), ids(got), err)
		}
	}
}

func TestResolveEveryPackageAfterItsDependencies(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "d", "description: d\nneeds: [b, c]\n")
	writePackage(t, root, "c", "description: c\nneeds: [a]\n")
	writePackage(t, root, "b", "description: b\nneeds: [a]\n")
	writePackage(t, root, "a", "description: a\n")
	writePackage(t, root, "e", "description: e\nneeds: [d]\n")
	got, err := Resolve(context.Background(), root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	pos := map[string]int{}
	for i, p := range got {
		if _, dup := pos[p.ID]; dup {
			t.Fatalf("duplicate %s", p.ID)
		}
		pos[p.ID] = i
	}
	if len(pos) != 5 {
		t.Fatalf("order=%s", ids(got))
	}
	for _, p := range got {
		for _, need := range p.Needs {
			if pos[need] >= pos[p.ID] {
				t.Fatalf("%s placed before its dependency %s: %s", p.ID, need, ids(got))
			}
		}
		if p.ID == Terminal {
			t.Fatalf("terminal node leaked")
		}
	}
}

func TestResolveMissingDependency(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "b", "description: b\nneeds: [x]\n")
	_, err := Resolve(context.Background(), root)
	if !errors.Is(err, failure.ErrMissingDependency) || !failure.IsUser(err) {
		t.Fatalf("expected missing dependency, got %v", err)
	}
	if !strings.Contains(err.Error(), "'x'") {
		t.Fatalf("message should name the missing package: %v", err)
	}
}

func TestResolveCycles(t *testing.T) {
	cases := map[string]map[string]string{
		"self": {"a": "description: a\nneeds: [a]\n"},
		"pair": {
			"a": "description: a\nneeds: [b]\n",
			"b": "description: b\nneeds: [a]\n",
		},
		"long": {
			"a": "description: a\nneeds: [b]\n",
			"b": "description: b\nneeds: [c]\n",
			"c": "description: c\nneeds: [a]\n",
			"d": "description: d\n",
		},
	}
	for name, pkgs := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			for id, manifest := range pkgs {
				writePackage(t, root, id, manifest)
			}
			_, err := Resolve(context.Background(), root)
			if !errors.Is(err, failure.ErrDependencyCycle) || !failure.IsUser(err) {
				t.Fatalf("expected cycle error, got %v", err)
			}
			if !strings.Contains(err.Error(), "a -> ") {
				t.Fatalf("cycle witness missing: %v", err)
			}
			if !strings.Contains(failure.Hint(err), "circular references") {
				t.Fatalf("hint=%q", failure.Hint(err))
			}
		})
	}
}

func TestResolveAllOrNothing(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "good", "description: good\n")
	writePackage(t, root, "bad", "description: [\n")
	got, err := Resolve(context.Background(), root)
	if err == nil || got != nil {
		t.Fatalf("expected failure with no result, got %v %v", ids(got), err)
	}
}

func TestResolveMissingDirIsEmpty(t *testing.T) {
	got, err := Resolve(context.Background(), filepath.Join(t.TempDir(), "packages"))
	if err != nil || len(got) != 0 {
		t.Fatalf("got=%v err=%v", got, err)
	}
}

func TestResolveSkipsDanglingSymlinks(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "base", "description: base\n")
	if err := os.Symlink(filepath.Join(root, "removed"), filepath.Join(root, "old")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	got, err := Resolve(context.Background(), root)
	if err != nil || ids(got) != "base" {
		t.Fatalf("order=%s err=%v", ids(got), err)
	}
}

func TestGraphDOT(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "a", "description: base \"tools\"\n")
	writePackage(t, root, "b", "description: b\nneeds: [a]\n")
	g, err := ResolveGraph(context.Background(), root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	dot := g.DOT()
	if !strings.Contains(dot, "\"b\" -> \"a\";") || !strings.Contains(dot, "base \\\"tools\\\"") {
		t.Fatalf("dot=%s", dot)
	}
	if strings.Contains(dot, Terminal) {
		t.Fatalf("terminal node must not appear")
	}
	if deps := g.Dependents("a"); len(deps) != 1 || deps[0] != "b" {
		t.Fatalf("dependents=%v", deps)
	}
}

func TestConditions(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "linux", "description: x\nwhen: os == \"linux\" && config.ENV == \"prod\"\n")
	writePackage(t, root, "plain", "description: x\n")
	pkg, err := Load(filepath.Join(root, "linux"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	on, err := pkg.Enabled(Facts{OS: "linux", Config: map[string]string{"ENV": "prod"}})
	if err != nil || !on {
		t.Fatalf("on=%v err=%v", on, err)
	}
	off, err := pkg.Enabled(Facts{OS: "darwin", Config: map[string]string{"ENV": "prod"}})
	if err != nil || off {
		t.Fatalf("off=%v err=%v", off, err)
	}
	plain, err := Load(filepath.Join(root, "plain"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if on, err := plain.Enabled(Facts{}); err != nil || !on {
		t.Fatalf("unconditional package must be enabled: %v %v", on, err)
	}
}

func TestPackageContentCatalogs(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "p", "description: p\nfiles:\n  home: /tmp/home\n")
	writeFile(t, filepath.Join(root, "p", "files", "home", ".bashrc.tpl"), "x")
	writeFile(t, filepath.Join(root, "p", "files", "etc", "hosts"), "x")
	writeFile(t, filepath.Join(root, "p", "scripts", "b.sh"), "")
	writeFile(t, filepath.Join(root, "p", "scripts", "a.sh"), "")
	pkg, err := Load(filepath.Join(root, "p"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	entries, err := pkg.FileEntries()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(entries) != 2 || entries[0].Group != "etc" || entries[1].Group != "home" || !entries[1].IsTemplate {
		t.Fatalf("entries=%+v", entries)
	}
	ts, err := pkg.Tasks()
	if err != nil || len(ts) != 2 || ts[0].Name != "a.sh" {
		t.Fatalf("tasks=%+v err=%v", ts, err)
	}
	if got := strings.Join(pkg.MappedGroups(), ","); got != "home" {
		t.Fatalf("mapped=%s", got)
	}
}
