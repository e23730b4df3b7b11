package packages

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/buckle/internal/failure"
)

// Terminal is the synthetic node that depends on every package.
const Terminal = "__complete"

const (
	graphFailure = "Failed to calculate a valid execution graph based on the dependencies specified in your packages."
	graphAdvice  = "Make sure that your packages specify valid dependencies and that there are no circular references."
)

// Discover loads every immediate subdirectory of dir as a package, sorted by
// id. Any manifest failure aborts the whole load. A missing dir has no
// packages.
func Discover(ctx context.Context, dir string) ([]*Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, failure.System(err, "Failed to read the list of packages files.", failure.AdviceReadCause)
	}
	var out []*Package
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, failure.System(err, "Failed to read the list of packages files.", failure.AdviceReadCause)
		}
		if !info.IsDir() {
			continue
		}
		pkg, err := Load(path)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Resolve discovers the packages under dir and returns them in dependency
// order.
func Resolve(ctx context.Context, dir string) ([]*Package, error) {
	graph, err := ResolveGraph(ctx, dir)
	if err != nil {
		return nil, err
	}
	return graph.Order(), nil
}

// ResolveGraph is Resolve keeping the graph for inspection.
func ResolveGraph(ctx context.Context, dir string) (*Graph, error) {
	pkgs, err := Discover(ctx, dir)
	if err != nil {
		return nil, err
	}
	return NewGraph(pkgs)
}

// Graph is the validated dependency graph of a package set.
type Graph struct {
	packages map[string]*Package
	// dependents maps a node to the nodes that need it.
	dependents map[string][]string
	indeg      map[string]int
	order      []*Package
}

// NewGraph validates pkgs and computes their order. Ready nodes are taken by
// smallest id so the order is stable across runs.
func NewGraph(pkgs []*Package) (*Graph, error) {
	g := &Graph{
		packages:   make(map[string]*Package, len(pkgs)),
		dependents: map[string][]string{},
		indeg:      map[string]int{Terminal: 0},
	}
	for _, pkg := range pkgs {
		if pkg.ID == Terminal {
			return nil, failure.Userf(
				"Rename the package directory.",
				"The package name '%s' is reserved.", Terminal,
			).Tag(failure.ErrManifest)
		}
		g.packages[pkg.ID] = pkg
		g.indeg[pkg.ID] = 0
	}

	ids := g.ids()
	for _, id := range ids {
		for _, need := range g.packages[id].Needs {
			if _, ok := g.packages[need]; !ok {
				return nil, failure.UserWrap(
					fmt.Errorf("package '%s' needs '%s'", id, need),
					fmt.Sprintf("Failed to find package with name '%s' although it was present in the dependency graph.", need),
					"Make sure that this package is present, or remove the dependency from any packages which currently need it.",
				).Tag(failure.ErrMissingDependency)
			}
			g.addEdge(need, id)
		}
		g.addEdge(id, Terminal)
	}
	for node := range g.dependents {
		sort.Strings(g.dependents[node])
	}

	order := g.topoOrder()
	if len(order) != len(g.indeg) {
		cycle := g.findCycle()
		return nil, failure.UserWrap(
			fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> ")),
			graphFailure, graphAdvice,
		).Tag(failure.ErrDependencyCycle)
	}
	for _, id := range order {
		if id == Terminal {
			continue
		}
		g.order = append(g.order, g.packages[id])
	}
	return g, nil
}

// addEdge records that to depends on from.
func (g *Graph) addEdge(from, to string) {
	g.dependents[from] = append(g.dependents[from], to)
	g.indeg[to]++
}

func (g *Graph) ids() []string {
	out := make([]string, 0, len(g.packages))
	for id := range g.packages {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Order returns the packages in execution order, without the terminal node.
func (g *Graph) Order() []*Package {
	return append([]*Package(nil), g.order...)
}

// Package looks up a package by id.
func (g *Graph) Package(id string) (*Package, bool) {
	pkg, ok := g.packages[id]
	return pkg, ok
}

// Dependents lists the packages that directly need id.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, dep := range g.dependents[id] {
		if dep != Terminal {
			out = append(out, dep)
		}
	}
	return out
}

type stringMinHeap []string

func (h stringMinHeap) Len() int           { return len(h) }
func (h stringMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringMinHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (g *Graph) topoOrder() []string {
	indeg := make(map[string]int, len(g.indeg))
	ready := &stringMinHeap{}
	for id, n := range g.indeg {
		indeg[id] = n
		if n == 0 {
			heap.Push(ready, id)
		}
	}
	out := make([]string, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a closed path in needs direction
// ("a -> b -> a" means a needs b and b needs a).
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := map[string]int{}
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, need := range g.packages[id].Needs {
			switch color[need] {
			case white:
				if dfs(need) {
					return true
				}
			case gray:
				for i, s := range stack {
					if s == need {
						cycle = append(append([]string(nil), stack[i:]...), need)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.ids() {
		if color[id] != white {
			continue
		}
		if dfs(id) {
			break
		}
	}
	return cycle
}
