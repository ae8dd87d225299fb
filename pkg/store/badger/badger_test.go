package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProjectCascadeDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	proj, err := s.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)

	plan, err := s.CreatePlan(ctx, &model.Plan{ProjectID: proj.ID, Name: "p1"})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceDAG(ctx, plan.ID, []*model.PlanDAGNode{
		{ID: "n1", Kind: model.NodeDataSet},
		{ID: "n2", Kind: model.NodeFilter},
	}, []*model.PlanDAGEdge{
		{ID: "e1", SourceNode: "n1", TargetNode: "n2"},
	}))

	gd, err := s.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceComputed})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceChildren(ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "x1"}}, nil))

	require.NoError(t, s.DeleteProject(ctx, proj.ID))

	_, err = s.GetPlan(ctx, plan.ID)
	require.Error(t, err)
	_, err = s.GetGraphData(ctx, gd.ID)
	require.Error(t, err)
	nodes, err := s.NodesForPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestReplaceDAGRejectsDuplicateNodeID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	proj, err := s.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)
	plan, err := s.CreatePlan(ctx, &model.Plan{ProjectID: proj.ID})
	require.NoError(t, err)

	err = s.ReplaceDAG(ctx, plan.ID, []*model.PlanDAGNode{
		{ID: "dup", Kind: model.NodeDataSet},
		{ID: "dup", Kind: model.NodeFilter},
	}, nil)
	require.Error(t, err)
}

func TestEditSequenceMonotonicAcrossGraphs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gd, err := s.CreateGraphData(ctx, &model.GraphData{SourceType: model.SourceComputed})
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		seq, err := s.NextSequence(ctx, gd.ID)
		require.NoError(t, err)
		require.Equal(t, i, seq)
		_, err = s.AppendEdit(ctx, &model.GraphEdit{
			GraphDataID:    gd.ID,
			SequenceNumber: seq,
			Operation:      model.EditCreate,
			TargetType:     model.EditTargetNode,
			TargetID:       "n",
		})
		require.NoError(t, err)
	}

	edits, err := s.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 3)
	require.Equal(t, int64(1), edits[0].SequenceNumber)
	require.Equal(t, int64(3), edits[2].SequenceNumber)

	other, err := s.CreateGraphData(ctx, &model.GraphData{SourceType: model.SourceComputed})
	require.NoError(t, err)
	seq, err := s.NextSequence(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq, "each graph keeps its own counter")
}

func TestUpsertProjectLayerIdempotentByKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	proj, err := s.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)

	first, err := s.UpsertProjectLayer(ctx, &model.ProjectLayer{
		ProjectID: proj.ID, LayerID: "people", Name: "People", BackgroundColor: "#111111",
	})
	require.NoError(t, err)

	second, err := s.UpsertProjectLayer(ctx, &model.ProjectLayer{
		ProjectID: proj.ID, LayerID: "people", Name: "People v2", BackgroundColor: "#222222",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	layers, err := s.ProjectLayers(ctx, proj.ID)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Equal(t, "People v2", layers[0].Name)
}
