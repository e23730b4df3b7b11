package files

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/opencontainers/go-digest"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/example/buckle/internal/failure"
)

// Context merges config then secrets; a secret wins on key collision.
func Context(config, secrets map[string]string) map[string]string {
	ctx := make(map[string]string, len(config)+len(secrets))
	for k, v := range config {
		ctx[k] = v
	}
	for k, v := range secrets {
		ctx[k] = v
	}
	return ctx
}

// Render executes text as a template over data. Unknown keys render empty.
func Render(name, text string, data map[string]string) (string, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=zero").
		Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Content returns the bytes e would write: rendered for templates, verbatim
// otherwise.
func (e Entry) Content(config, secrets map[string]string) ([]byte, error) {
	raw, err := os.ReadFile(e.SourcePath)
	if err != nil {
		return nil, failure.UserWrap(err,
			fmt.Sprintf("Failed to read the file '%s'.", e.SourcePath),
			failure.AdviceReadCause)
	}
	if !e.IsTemplate {
		return raw, nil
	}
	rendered, err := Render(e.RelativePath, string(raw), Context(config, secrets))
	if err != nil {
		return nil, failure.UserWrap(err,
			fmt.Sprintf("Could not render the template '%s' due to a problem in your template.", e.SourcePath),
			"Check that your template is valid and review the internal error message for more information.",
		).Tag(failure.ErrTemplate)
	}
	return []byte(rendered), nil
}

// Apply writes e under targetRoot, creating parent directories and
// overwriting any existing file. It returns the destination path.
func (e Entry) Apply(targetRoot string, config, secrets map[string]string) (string, error) {
	dest := e.Destination(targetRoot)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return dest, e.writeFailure(dest, err)
	}
	if e.IsTemplate {
		content, err := e.Content(config, secrets)
		if err != nil {
			return dest, err
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return dest, e.writeFailure(dest, err)
		}
		return dest, nil
	}
	if err := copyFile(e.SourcePath, dest); err != nil {
		return dest, e.writeFailure(dest, err)
	}
	return dest, nil
}

func (e Entry) writeFailure(dest string, err error) error {
	return failure.UserWrap(err,
		fmt.Sprintf("Failed to copy file '%s' to the target directory '%s'.", e.SourcePath, dest),
		"Check that you have permission to write the file to this directory and that there is space available on the drive.")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode().Perm())
}

// ChangeKind classifies what Apply would do to a destination.
type ChangeKind string

const (
	ChangeCreate    ChangeKind = "create"
	ChangeUpdate    ChangeKind = "update"
	ChangeUnchanged ChangeKind = "unchanged"
)

// Change is the read-only preview of applying an entry.
type Change struct {
	Kind        ChangeKind
	Destination string
	Current     digest.Digest
	Desired     digest.Digest
	// Diff is a unified diff for text updates when requested.
	Diff string
}

// Inspect compares what e would write against the destination without
// touching the filesystem.
func (e Entry) Inspect(targetRoot string, config, secrets map[string]string, withDiff bool) (Change, error) {
	dest := e.Destination(targetRoot)
	desired, err := e.Content(config, secrets)
	if err != nil {
		return Change{}, err
	}
	change := Change{Kind: ChangeCreate, Destination: dest, Desired: digest.FromBytes(desired)}

	current, err := os.ReadFile(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return change, nil
		}
		return Change{}, failure.System(err,
			fmt.Sprintf("Failed to read the existing file '%s'.", dest),
			failure.AdviceReadCause)
	}
	change.Current = digest.FromBytes(current)
	if change.Current == change.Desired {
		change.Kind = ChangeUnchanged
		return change, nil
	}
	change.Kind = ChangeUpdate
	if withDiff {
		change.Diff = Diff(dest, string(current), string(desired))
	}
	return change, nil
}

// Diff renders a unified diff between two text versions of path.
func Diff(path, current, desired string) string {
	if current == desired {
		return ""
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(desired),
		FromFile: path + " (current)",
		ToFile:   path + " (desired)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return fmt.Sprintf("failed to render diff: %v", err)
	}
	return text
}
