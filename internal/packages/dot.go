package packages

import (
	"fmt"
	"strings"
)

// DOT renders the graph in Graphviz format with edges pointing from a package
// to what it needs. The terminal node is omitted.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph buckle {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, pkg := range g.order {
		label := pkg.ID
		if pkg.Description != "" {
			label += "\\n" + escapeDOT(pkg.Description)
		}
		fmt.Fprintf(&b, "  %q [label=\"%s\"];\n", pkg.ID, label)
	}
	for _, pkg := range g.order {
		for _, need := range pkg.Needs {
			fmt.Fprintf(&b, "  %q -> %q;\n", pkg.ID, need)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return strings.ReplaceAll(s, "\n", " ")
}
