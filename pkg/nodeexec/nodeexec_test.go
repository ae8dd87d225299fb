package nodeexec

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/graphdata"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/render"
	"github.com/layercake/layercake/pkg/store/memory"
)

func newContext(t *testing.T) *Context {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	return &Context{
		Ctx:       context.Background(),
		Store:     st,
		GraphData: graphdata.New(st, nil),
		Renderer:  render.New(),
	}
}

func TestDataSetErrorsWhenMissingConfig(t *testing.T) {
	nc := newContext(t)
	_, err := DataSet(nc, map[string]any{})
	require.Error(t, err)
	ee, ok := err.(*ExecutorError)
	require.True(t, ok)
	assert.Equal(t, ErrMissingConfig, ee.Kind)
}

func TestDataSetErrorMentionsDatasetNotFound(t *testing.T) {
	nc := newContext(t)
	_, err := DataSet(nc, map[string]any{"dataset_id": 9999})
	require.Error(t, err)
	ee, ok := err.(*ExecutorError)
	require.True(t, ok)
	assert.Equal(t, ErrBackendFailure, ee.Kind)
	assert.Contains(t, ee.Error(), "dataset 9999 not found")
}

func TestDataSetResolvesGraphData(t *testing.T) {
	nc := newContext(t)
	proj, err := nc.Store.CreateProject(nc.Ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)
	gd, err := nc.Store.CreateGraphData(nc.Ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceDataset, Status: model.GraphDataActive})
	require.NoError(t, err)
	require.NoError(t, nc.Store.ReplaceChildren(nc.Ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "a"}}, nil))

	art, err := DataSet(nc, map[string]any{"dataset_id": gd.ID})
	require.NoError(t, err)
	assert.Equal(t, model.EdgeGraphData, art.DataType)
	assert.Len(t, art.Nodes, 1)
}

func TestFilterDropsOrphanedEdges(t *testing.T) {
	in := Artefact{
		DataType: model.EdgeGraphData,
		Nodes: []*model.GraphDataNode{
			{ExternalID: "A", Layer: "real"},
			{ExternalID: "B", Layer: "ghost"},
		},
		Edges: []*model.GraphDataEdge{{ExternalID: "e1", Source: "B", Target: "A"}},
	}
	cfg := map[string]any{"predicate": []any{
		map[string]any{"field": "layer", "value": "ghost", "keep": false},
	}}
	out, err := Filter(cfg, in)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	require.Empty(t, out.Edges)
	require.Contains(t, out.Diagnostics, "dropped edge B→A (missing endpoint)")
}

func TestTransformAppliesOperationsInOrder(t *testing.T) {
	in := Artefact{
		DataType: model.EdgeGraphData,
		Nodes:    []*model.GraphDataNode{{ExternalID: "a", Layer: "old"}},
	}
	cfg := map[string]any{"operations": []any{
		map[string]any{"op": "rename_layer", "from": "old", "to": "new"},
		map[string]any{"op": "add_attribute", "key": "tag", "value": "x"},
	}}
	out, err := Transform(cfg, in)
	require.NoError(t, err)
	require.Equal(t, "new", out.Nodes[0].Layer)
	require.Equal(t, "x", out.Nodes[0].Attributes["tag"])
}

func TestMergeErrorsOnCollisionWithErrorPolicy(t *testing.T) {
	upstream := map[string]Artefact{
		"n1": {DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}}},
		"n2": {DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}}},
	}
	_, err := Merge(map[string]any{"collision_policy": "error"}, upstream)
	require.Error(t, err)
}

func TestMergeFirstWinsKeepsEarliestByKey(t *testing.T) {
	upstream := map[string]Artefact{
		"n1": {DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a", Label: "first"}}},
		"n2": {DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a", Label: "second"}}},
	}
	out, err := Merge(map[string]any{"collision_policy": "first_wins"}, upstream)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	require.Equal(t, "first", out.Nodes[0].Label)
}

func TestMergeLastWinsRecordsDiagnostic(t *testing.T) {
	upstream := map[string]Artefact{
		"n1": {DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "n1", Label: "first"}}},
		"n2": {DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "n1", Label: "second"}}},
	}
	out, err := Merge(map[string]any{"collision_policy": "last_wins"}, upstream)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	require.Equal(t, "second", out.Nodes[0].Label)
	require.Contains(t, out.Diagnostics, `node id collision "n1" resolved by last_wins`)
}

func TestFilterLabelRegex(t *testing.T) {
	in := Artefact{
		DataType: model.EdgeGraphData,
		Nodes: []*model.GraphDataNode{
			{ExternalID: "a", Label: "svc-auth"},
			{ExternalID: "b", Label: "db-main"},
		},
	}
	cfg := map[string]any{"predicate": []any{
		map[string]any{"field": "label", "op": "regex", "value": "^svc-"},
	}}
	out, err := Filter(cfg, in)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	require.Equal(t, "a", out.Nodes[0].ExternalID)

	cfg = map[string]any{"predicate": []any{
		map[string]any{"field": "label", "op": "regex", "value": "["},
	}}
	_, err = Filter(cfg, in)
	require.Error(t, err)
}

func TestGraphMaterializesAndFinalizes(t *testing.T) {
	nc := newContext(t)
	proj, err := nc.Store.CreateProject(nc.Ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)

	in := Artefact{DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}}}
	art, err := Graph(nc, map[string]any{"project_id": proj.ID, "dag_node_id": "n1"}, in)
	require.NoError(t, err)
	assert.Equal(t, model.EdgeGraphReference, art.DataType)

	gd, err := nc.Store.GetGraphData(nc.Ctx, art.GraphDataID)
	require.NoError(t, err)
	assert.Equal(t, model.GraphDataActive, gd.Status)
	assert.Equal(t, 1, gd.NodeCount)
}

func TestGraphReusesRowAndReplaysEditsOnRecompute(t *testing.T) {
	nc := newContext(t)
	proj, err := nc.Store.CreateProject(nc.Ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)
	cfg := map[string]any{"project_id": proj.ID, "dag_node_id": "n1"}

	in := Artefact{DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}, {ExternalID: "m1"}}}
	first, err := Graph(nc, cfg, in)
	require.NoError(t, err)

	newVal, _ := json.Marshal(model.GraphDataNode{ExternalID: "m1", Label: "X"})
	_, err = nc.GraphData.AppendEdit(nc.Ctx, &model.GraphEdit{
		GraphDataID: first.GraphDataID,
		TargetType:  model.EditTargetNode,
		TargetID:    "m1",
		Operation:   model.EditUpdate,
		NewValue:    newVal,
	})
	require.NoError(t, err)

	// Upstream changed: m1 is gone. The same DAG node recomputes the
	// same stored row instead of creating a second one.
	in2 := Artefact{DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}}}
	second, err := Graph(nc, cfg, in2)
	require.NoError(t, err)
	require.Equal(t, first.GraphDataID, second.GraphDataID)
	require.Len(t, second.Nodes, 2)

	gd, err := nc.Store.GetGraphData(nc.Ctx, second.GraphDataID)
	require.NoError(t, err)
	assert.False(t, gd.HasPendingEdits)
	assert.False(t, gd.LastReplayAt.IsZero())

	edits, err := nc.Store.EditsForGraph(nc.Ctx, second.GraphDataID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.False(t, edits[0].Applied)
	assert.Equal(t, "target missing after recompute", edits[0].Diagnostic)
}

func TestGraphArtefactRendersBytes(t *testing.T) {
	nc := newContext(t)
	in := Artefact{DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a", Label: "Alpha"}}}
	art, err := GraphArtefact(nc, map[string]any{"format": "Mermaid"}, in)
	require.NoError(t, err)
	assert.Contains(t, string(art.Bytes), "Alpha")
}

func TestGraphArtefactWritesUnderRootAndRejectsEscapes(t *testing.T) {
	nc := newContext(t)
	nc.RootPath = t.TempDir()
	in := Artefact{DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}}}

	art, err := GraphArtefact(nc, map[string]any{"format": "DOT", "output_path": "out/graph.dot"}, in)
	require.NoError(t, err)
	require.NotEmpty(t, art.OutputPath)
	written, err := os.ReadFile(art.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, art.Bytes, written)

	_, err = GraphArtefact(nc, map[string]any{"format": "DOT", "output_path": "../escape.dot"}, in)
	require.Error(t, err)
	_, err = GraphArtefact(nc, map[string]any{"format": "DOT", "output_path": "/tmp/elsewhere.dot"}, in)
	require.Error(t, err)
}

func TestTreeArtefactReportsBrokenBelongsToCycle(t *testing.T) {
	nc := newContext(t)
	in := Artefact{
		DataType: model.EdgeGraphData,
		Nodes: []*model.GraphDataNode{
			{ExternalID: "a", BelongsTo: "b"},
			{ExternalID: "b", BelongsTo: "a"},
		},
	}
	art, err := TreeArtefact(nc, map[string]any{"format": "DotHierarchy"}, in)
	require.NoError(t, err)
	require.Len(t, art.Diagnostics, 1)
	assert.Contains(t, art.Diagnostics[0], "broken belongs_to cycle")
}

func TestProjectionPersistsRecord(t *testing.T) {
	nc := newContext(t)
	proj, err := nc.Store.CreateProject(nc.Ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)
	in := Artefact{DataType: model.EdgeGraphData, Nodes: []*model.GraphDataNode{{ExternalID: "a"}}}
	ref, err := Graph(nc, map[string]any{"project_id": proj.ID, "dag_node_id": "g1"}, in)
	require.NoError(t, err)

	art, err := Projection(nc, map[string]any{"kind": "force_3d"}, ref)
	require.NoError(t, err)
	require.NotZero(t, art.ProjectionID)

	stored, err := nc.Store.GetProjection(nc.Ctx, art.ProjectionID)
	require.NoError(t, err)
	assert.Equal(t, ref.GraphDataID, stored.GraphDataID)
	assert.Equal(t, "force_3d", stored.Kind)
}
