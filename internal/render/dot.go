// Package render writes the block-level CFG as a Graphviz DOT file. No
// graph-writing library is used: the retrieval pack carries none, so this
// stays on text/template and strings, the same hand-formatting cpu/disasm.go
// does for 6502 disassembly lines.
package render

import (
	"io"
	"strings"
	"text/template"

	"github.com/arcflow/xtrace/internal/cfg"
)

var dotTemplate = template.Must(template.New("dot").Parse(
	`digraph {{.Name}} {
	node [shape=box, fontname="monospace"];
{{- range .Nodes}}
	n{{.ID}} [label={{.Label}}];
{{- end}}
{{- range .Edges}}
	n{{.From}} -> n{{.To}};
{{- end}}
}
`))

type dotNode struct {
	ID    int
	Label string
}

type dotEdge struct {
	From int
	To   int
}

type dotDoc struct {
	Name  string
	Nodes []dotNode
	Edges []dotEdge
}

// WriteDOT renders graph as a Graphviz DOT digraph named name to w.
func WriteDOT(w io.Writer, name string, graph *cfg.BlockGraph) error {
	doc := dotDoc{Name: sanitizeName(name)}
	for _, b := range graph.Blocks {
		doc.Nodes = append(doc.Nodes, dotNode{ID: b.ID, Label: quote(b.Label)})
		for _, e := range b.Edges {
			doc.Edges = append(doc.Edges, dotEdge{From: b.ID, To: e})
		}
	}
	return dotTemplate.Execute(w, doc)
}

// quote escapes label as a Graphviz-safe double-quoted string: backslashes
// and quotes are escaped, newlines become DOT's literal "\l" left-justified
// line break.
func quote(label string) string {
	escaped := strings.ReplaceAll(label, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\l`)
	return `"` + escaped + `\l"`
}

// sanitizeName makes name safe as a bare DOT identifier.
func sanitizeName(name string) string {
	if name == "" {
		return "function"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
