// Package render implements the renderer facade: one pure function per
// output format, all operating over the same (nodes, edges, config)
// shape. Identical input produces byte-identical output.
package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// Format identifies one output renderer.
type Format string

const (
	FormatMermaid       Format = "Mermaid"
	FormatDOT           Format = "DOT"
	FormatDotHierarchy  Format = "DotHierarchy"
	FormatGML           Format = "GML"
	FormatPlantUML      Format = "PlantUML"
	FormatJSON          Format = "JSON"
	FormatCSVNodes      Format = "CSVNodes"
	FormatCSVEdges      Format = "CSVEdges"
	FormatCSVMatrix     Format = "CSVMatrix"
	FormatJSGraph       Format = "JSGraph"
	FormatCustom        Format = "Custom"
)

// Renderer renders a node/edge set to bytes in the given format.
// RenderWithDiagnostics additionally reports non-fatal findings the
// textual output cannot carry, currently broken belongs_to cycles from
// the hierarchy renderer.
type Renderer interface {
	Render(format Format, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, config map[string]any) ([]byte, error)
	RenderWithDiagnostics(format Format, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, config map[string]any) ([]byte, []string, error)
}

// Facade is the default Renderer implementation, dispatching to one
// function per format.
type Facade struct{}

func New() *Facade { return &Facade{} }

// Render implements Renderer, discarding diagnostics.
func (f Facade) Render(format Format, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, config map[string]any) ([]byte, error) {
	b, _, err := f.RenderWithDiagnostics(format, nodes, edges, config)
	return b, err
}

// RenderWithDiagnostics implements Renderer. config["sort_key"] selects
// the sort key (default: id ascending); config["template"] configures
// the Custom variant.
func (Facade) RenderWithDiagnostics(format Format, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, config map[string]any) ([]byte, []string, error) {
	sortNodesAndEdges(nodes, edges, config)
	switch format {
	case FormatMermaid:
		return renderMermaid(nodes, edges), nil, nil
	case FormatDOT:
		b, _ := renderDOT(nodes, edges, false)
		return b, nil, nil
	case FormatDotHierarchy:
		b, diags := renderDOT(nodes, edges, true)
		return b, diags, nil
	case FormatGML:
		return renderGML(nodes, edges), nil, nil
	case FormatPlantUML:
		return renderPlantUML(nodes, edges), nil, nil
	case FormatJSON:
		b, err := renderJSON(nodes, edges)
		return b, nil, err
	case FormatCSVNodes:
		b, err := renderCSVNodes(nodes)
		return b, nil, err
	case FormatCSVEdges:
		b, err := renderCSVEdges(edges)
		return b, nil, err
	case FormatCSVMatrix:
		b, err := renderCSVMatrix(nodes, edges)
		return b, nil, err
	case FormatJSGraph:
		b, err := renderJSGraph(nodes, edges)
		return b, nil, err
	case FormatCustom:
		b, err := renderCustom(nodes, edges, config)
		return b, nil, err
	default:
		return nil, nil, apperr.Validationf("unknown render format %q", format)
	}
}

func sortNodesAndEdges(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, config map[string]any) {
	// default sort key: id ascending; a configured sort_key of
	// "weight" or "layer" reorders nodes/edges by that field first.
	key, _ := config["sort_key"].(string)
	switch key {
	case "weight":
		sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Weight < nodes[j].Weight })
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight < edges[j].Weight })
	case "layer":
		sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Layer < nodes[j].Layer })
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].Layer < edges[j].Layer })
	default:
		sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ExternalID < nodes[j].ExternalID })
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].ExternalID < edges[j].ExternalID })
	}
}

func sanitizeID(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return r.Replace(id)
}

func renderMermaid(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) []byte {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, n := range nodes {
		label := n.Label
		if label == "" {
			label = n.ExternalID
		}
		fmt.Fprintf(&b, "    %s[%q]\n", sanitizeID(n.ExternalID), label)
	}
	for _, e := range edges {
		if e.Label != "" {
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", sanitizeID(e.Source), e.Label, sanitizeID(e.Target))
		} else {
			fmt.Fprintf(&b, "    %s --> %s\n", sanitizeID(e.Source), sanitizeID(e.Target))
		}
	}
	return []byte(b.String())
}

func renderDOT(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, hierarchy bool) ([]byte, []string) {
	var diags []string
	var b strings.Builder
	b.WriteString("digraph G {\n")
	for _, n := range nodes {
		label := n.Label
		if label == "" {
			label = n.ExternalID
		}
		fmt.Fprintf(&b, "  %q [label=%q];\n", n.ExternalID, label)
	}
	if hierarchy {
		var containment [][2]string
		containment, diags = containmentEdges(nodes)
		for _, c := range containment {
			fmt.Fprintf(&b, "  %q -> %q [style=dashed];\n", c[0], c[1])
		}
	}
	for _, e := range edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.Source, e.Target)
	}
	b.WriteString("}\n")
	return []byte(b.String()), diags
}

// containmentEdges walks belongs_to chains and returns the
// parent -> child containment edges. Partition containment must be
// acyclic; a chain that revisits a node on the current walk is broken
// at the first revisit, dropping the closing edge and recording a
// diagnostic, the same guard the layer resolver applies to alias
// chains.
func containmentEdges(nodes []*model.GraphDataNode) ([][2]string, []string) {
	parent := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if n.BelongsTo != "" {
			parent[n.ExternalID] = n.BelongsTo
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	state := make(map[string]int, len(parent))
	dropped := make(map[string]bool)
	var diags []string

	var walk func(id string)
	walk = func(id string) {
		state[id] = grey
		if p, ok := parent[id]; ok {
			switch state[p] {
			case grey:
				dropped[id] = true
				diags = append(diags, fmt.Sprintf("broken belongs_to cycle at %q (parent %q)", id, p))
			case white:
				walk(p)
			}
		}
		state[id] = black
	}
	for _, n := range nodes {
		if state[n.ExternalID] == white {
			walk(n.ExternalID)
		}
	}

	var out [][2]string
	for _, n := range nodes {
		if n.BelongsTo != "" && !dropped[n.ExternalID] {
			out = append(out, [2]string{n.BelongsTo, n.ExternalID})
		}
	}
	return out, diags
}

func renderGML(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) []byte {
	ids := make(map[string]int, len(nodes))
	var b strings.Builder
	b.WriteString("graph [\n  directed 1\n")
	for i, n := range nodes {
		ids[n.ExternalID] = i
		fmt.Fprintf(&b, "  node [ id %d label %q ]\n", i, n.Label)
	}
	for _, e := range edges {
		src, srcOK := ids[e.Source]
		dst, dstOK := ids[e.Target]
		if !srcOK || !dstOK {
			continue
		}
		fmt.Fprintf(&b, "  edge [ source %d target %d ]\n", src, dst)
	}
	b.WriteString("]\n")
	return []byte(b.String())
}

func renderPlantUML(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) []byte {
	var b strings.Builder
	b.WriteString("@startuml\n")
	for _, e := range edges {
		label := e.Label
		if label == "" {
			fmt.Fprintf(&b, "%q -> %q\n", e.Source, e.Target)
		} else {
			fmt.Fprintf(&b, "%q -> %q : %s\n", e.Source, e.Target, label)
		}
	}
	b.WriteString("@enduml\n")
	return []byte(b.String())
}

type jsonGraph struct {
	Nodes []*model.GraphDataNode `json:"nodes"`
	Edges []*model.GraphDataEdge `json:"edges"`
}

func renderJSON(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) ([]byte, error) {
	b, err := json.MarshalIndent(jsonGraph{Nodes: nodes, Edges: edges}, "", "  ")
	if err != nil {
		return nil, err
	}
	return b, nil
}

// jsGraphNode/jsGraphEdge mirror the shape common force-directed JS
// graph libraries (e.g. d3-force, vis-network) expect.
type jsGraphNode struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Group string  `json:"group,omitempty"`
	Value float64 `json:"value,omitempty"`
}

type jsGraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Label string `json:"label,omitempty"`
}

func renderJSGraph(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) ([]byte, error) {
	out := struct {
		Nodes []jsGraphNode `json:"nodes"`
		Edges []jsGraphEdge `json:"edges"`
	}{}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, jsGraphNode{ID: n.ExternalID, Label: n.Label, Group: n.Layer, Value: n.Weight})
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, jsGraphEdge{From: e.Source, To: e.Target, Label: e.Label})
	}
	return json.MarshalIndent(out, "", "  ")
}

func renderCSVNodes(nodes []*model.GraphDataNode) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "label", "layer", "weight", "is_partition", "belongs_to", "comment"})
	for _, n := range nodes {
		_ = w.Write([]string{n.ExternalID, n.Label, n.Layer, fmt.Sprint(n.Weight), fmt.Sprint(n.IsPartition), n.BelongsTo, n.Comment})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderCSVEdges(edges []*model.GraphDataEdge) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "source", "target", "label", "layer", "weight", "comment"})
	for _, e := range edges {
		_ = w.Write([]string{e.ExternalID, e.Source, e.Target, e.Label, e.Layer, fmt.Sprint(e.Weight), e.Comment})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderCSVMatrix emits an adjacency matrix, rows and columns both in
// the node order sortNodesAndEdges produced (node id unless a sort_key
// is configured).
func renderCSVMatrix(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) ([]byte, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ExternalID] = i
	}
	matrix := make([][]float64, len(nodes))
	for i := range matrix {
		matrix[i] = make([]float64, len(nodes))
	}
	for _, e := range edges {
		si, sok := index[e.Source]
		ti, tok := index[e.Target]
		if sok && tok {
			w := e.Weight
			if w == 0 {
				w = 1
			}
			matrix[si][ti] += w
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, len(nodes)+1)
	header[0] = ""
	for i, n := range nodes {
		header[i+1] = n.ExternalID
	}
	_ = w.Write(header)
	for i, n := range nodes {
		row := make([]string, len(nodes)+1)
		row[0] = n.ExternalID
		for j := range nodes {
			row[j+1] = fmt.Sprint(matrix[i][j])
		}
		_ = w.Write(row)
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderCustom renders config["template"] (a text/template source
// string) against a context object of {Nodes, Edges}.
func renderCustom(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge, config map[string]any) ([]byte, error) {
	src, _ := config["template"].(string)
	if src == "" {
		return nil, apperr.Validationf("Custom format requires a non-empty config[\"template\"]")
	}
	tmpl, err := template.New("custom").Parse(src)
	if err != nil {
		return nil, apperr.Validationf("invalid custom template: %v", err)
	}
	var buf bytes.Buffer
	ctx := jsonGraph{Nodes: nodes, Edges: edges}
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, apperr.Validationf("custom template execution failed: %v", err)
	}
	return buf.Bytes(), nil
}
