// Package files enumerates a package's file groups and writes them to their
// target roots, rendering templates on the way.
package files

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/buckle/internal/failure"
)

// TemplateSuffix marks files rendered through the template engine. The
// suffix is kept on the destination path.
const TemplateSuffix = ".tpl"

// Entry is one file inside a group.
type Entry struct {
	Group        string
	RelativePath string
	SourcePath   string
	IsTemplate   bool
}

// Kind is "template" or "file".
func (e Entry) Kind() string {
	if e.IsTemplate {
		return "template"
	}
	return "file"
}

// Destination joins the entry's relative path onto targetRoot.
func (e Entry) Destination(targetRoot string) string {
	return filepath.Join(targetRoot, e.RelativePath)
}

// Groups lists the immediate subdirectories of root in sorted order. A missing
// root yields no groups.
func Groups(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, failure.System(err, "Failed to read the list of file groups.", failure.AdviceReadCause)
	}
	var groups []string
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(root, entry.Name()))
		if os.IsNotExist(err) {
			// dangling symlink
			continue
		}
		if err != nil {
			return nil, failure.System(err, "Failed to read the list of file groups.", failure.AdviceReadCause)
		}
		if info.IsDir() {
			groups = append(groups, entry.Name())
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// Enumerate walks groupDir recursively, following symlinks, and returns every
// file sorted by relative path.
func Enumerate(groupDir string) ([]Entry, error) {
	group := filepath.Base(groupDir)
	w := walker{group: group, visited: map[string]struct{}{}}
	if err := w.walk(groupDir, ""); err != nil {
		return nil, err
	}
	sort.Slice(w.entries, func(i, j int) bool {
		return w.entries[i].RelativePath < w.entries[j].RelativePath
	})
	return w.entries, nil
}

// All enumerates every group under root: groups sorted, files within each
// group sorted.
func All(root string) ([]Entry, error) {
	groups, err := Groups(root)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, group := range groups {
		entries, err := Enumerate(filepath.Join(root, group))
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

type walker struct {
	group   string
	visited map[string]struct{}
	entries []Entry
}

func (w *walker) walk(dir, rel string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return w.fail(err)
	}
	// A symlink pointing back up the tree would recurse forever.
	if _, seen := w.visited[resolved]; seen {
		return nil
	}
	w.visited[resolved] = struct{}{}
	defer delete(w.visited, resolved)

	children, err := os.ReadDir(dir)
	if err != nil {
		return w.fail(err)
	}
	for _, child := range children {
		path := filepath.Join(dir, child.Name())
		childRel := filepath.Join(rel, child.Name())
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			// dangling symlink
			continue
		}
		if err != nil {
			return w.fail(err)
		}
		switch {
		case info.IsDir():
			if err := w.walk(path, childRel); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			w.entries = append(w.entries, Entry{
				Group:        w.group,
				RelativePath: childRel,
				SourcePath:   path,
				IsTemplate:   strings.HasSuffix(child.Name(), TemplateSuffix),
			})
		}
	}
	return nil
}

func (w *walker) fail(err error) error {
	return failure.System(err, "Failed to read the files in group '"+w.group+"'.", failure.AdviceReadCause)
}
