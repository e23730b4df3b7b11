package interpreter

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestDefaultTable(t *testing.T) {
	tbl := Default()
	cases := map[string]string{
		".ps1": "pwsh",
		".sh":  "bash",
		".bat": "cmd.exe",
		".cmd": "cmd.exe",
	}
	for ext, want := range cases {
		argv, ok := tbl.Lookup(ext)
		if !ok || len(argv) != 1 || argv[0] != want {
			t.Fatalf("lookup(%s)=%v ok=%v want %s", ext, argv, ok, want)
		}
	}
	for _, ext := range []string{".py", ".env", ""} {
		if _, ok := tbl.Lookup(ext); ok {
			t.Fatalf("lookup(%q) must fail", ext)
		}
	}
	if got := strings.Join(tbl.Extensions(), ","); got != ".bat,.cmd,.ps1,.sh" {
		t.Fatalf("extensions=%s", got)
	}
}

func TestZeroTableUsesDefaults(t *testing.T) {
	var tbl Table
	if argv, ok := tbl.Lookup(".sh"); !ok || argv[0] != "bash" {
		t.Fatalf("argv=%v ok=%v", argv, ok)
	}
}

func TestCommandPassesFileAsLastArgument(t *testing.T) {
	tbl, err := Default().WithOverrides(map[string]string{"sh": "bash -eu", ".py": "python3"})
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	cmd, ok := tbl.Command("/pkgs/a/scripts/10-setup.sh")
	if !ok {
		t.Fatalf("expected .sh to resolve")
	}
	if cmd.String() != "bash -eu /pkgs/a/scripts/10-setup.sh" {
		t.Fatalf("cmd=%q", cmd.String())
	}
	if cmd, ok := tbl.Command("x.py"); !ok || cmd.Name != "python3" {
		t.Fatalf("cmd=%v ok=%v", cmd, ok)
	}
	if _, ok := Default().Command("x.py"); ok {
		t.Fatalf("overrides must not leak into the default table")
	}
}

func TestOverridesRejectEmptyCommand(t *testing.T) {
	if _, err := Default().WithOverrides(map[string]string{"sh": "   "}); err == nil {
		t.Fatalf("expected error for empty interpreter")
	}
	if _, err := Default().WithOverrides(map[string]string{"": "bash"}); err == nil {
		t.Fatalf("expected error for empty extension")
	}
}

func TestEnvironLaterLayersWin(t *testing.T) {
	env := Environ([]string{"PATH=/bin"}, map[string]string{"B": "1", "A": "2"}, map[string]string{"A": "3"})
	got := strings.Join(env, " ")
	if got != "PATH=/bin A=2 B=1 A=3" {
		t.Fatalf("env=%s", got)
	}
}

func TestExecRunnerSpawnFailure(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Command{Name: "buckle-definitely-missing-binary"})
	if err == nil {
		t.Fatalf("expected spawn error")
	}
	if !IsSpawnFailure(res, err) {
		t.Fatalf("expected spawn failure, exit=%d err=%v", res.ExitCode, err)
	}
}

func TestExecRunnerCapturesExitCode(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	res, err := ExecRunner{}.Run(context.Background(), Command{Name: sh, Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
	if err == nil {
		t.Fatalf("expected exit error")
	}
	if IsSpawnFailure(res, err) {
		t.Fatalf("non-zero exit is not a spawn failure")
	}
	if res.ExitCode != 3 || strings.TrimSpace(string(res.Stdout)) != "out" || strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("res=%+v", res)
	}
}
