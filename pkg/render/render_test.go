package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
)

func sampleGraph() ([]*model.GraphDataNode, []*model.GraphDataEdge) {
	nodes := []*model.GraphDataNode{
		{ExternalID: "b", Label: "Bravo", Layer: "people"},
		{ExternalID: "a", Label: "Alpha", Layer: "people"},
	}
	edges := []*model.GraphDataEdge{
		{ExternalID: "e1", Source: "a", Target: "b", Label: "knows", Weight: 2},
	}
	return nodes, edges
}

func TestRenderMermaidSortsNodesByID(t *testing.T) {
	nodes, edges := sampleGraph()
	b, err := New().Render(FormatMermaid, nodes, edges, nil)
	require.NoError(t, err)
	out := string(b)
	assert.True(t, strings.Index(out, "\"Alpha\"") < strings.Index(out, "\"Bravo\""))
}

func TestRenderCSVNodesDeterministicOrder(t *testing.T) {
	nodes, edges := sampleGraph()
	b, err := New().Render(FormatCSVNodes, nodes, edges, nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "a,"))
	assert.True(t, strings.HasPrefix(lines[2], "b,"))
}

func TestRenderJSONRoundTrips(t *testing.T) {
	nodes, edges := sampleGraph()
	b, err := New().Render(FormatJSON, nodes, edges, nil)
	require.NoError(t, err)
	var out jsonGraph
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out.Nodes, 2)
	require.Len(t, out.Edges, 1)
}

func TestRenderCustomTemplate(t *testing.T) {
	nodes, edges := sampleGraph()
	cfg := map[string]any{"template": "{{len .Nodes}} nodes, {{len .Edges}} edges"}
	b, err := New().Render(FormatCustom, nodes, edges, cfg)
	require.NoError(t, err)
	assert.Equal(t, "2 nodes, 1 edges", string(b))
}

func TestRenderUnknownFormatErrors(t *testing.T) {
	nodes, edges := sampleGraph()
	_, err := New().Render(Format("bogus"), nodes, edges, nil)
	require.Error(t, err)
}

func TestRenderDotHierarchyEmitsContainmentEdges(t *testing.T) {
	nodes := []*model.GraphDataNode{
		{ExternalID: "child", Label: "Child", BelongsTo: "root"},
		{ExternalID: "root", Label: "Root", IsPartition: true},
	}
	b, diags, err := New().RenderWithDiagnostics(FormatDotHierarchy, nodes, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Contains(t, string(b), `"root" -> "child" [style=dashed];`)
}

func TestRenderDotHierarchyBreaksBelongsToCycle(t *testing.T) {
	nodes := []*model.GraphDataNode{
		{ExternalID: "a", BelongsTo: "b"},
		{ExternalID: "b", BelongsTo: "a"},
	}
	b, diags, err := New().RenderWithDiagnostics(FormatDotHierarchy, nodes, nil, nil)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0], "broken belongs_to cycle")

	out := string(b)
	// exactly one of the two containment edges survives
	kept := 0
	if strings.Contains(out, `"b" -> "a" [style=dashed];`) {
		kept++
	}
	if strings.Contains(out, `"a" -> "b" [style=dashed];`) {
		kept++
	}
	assert.Equal(t, 1, kept)
}

func TestRenderCSVMatrixDimensions(t *testing.T) {
	nodes, edges := sampleGraph()
	b, err := New().Render(FormatCSVMatrix, nodes, edges, nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3) // header + 2 node rows
}
