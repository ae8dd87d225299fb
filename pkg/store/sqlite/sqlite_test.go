package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
)

func TestProjectPlanDAGRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	proj, err := s.CreateProject(ctx, &model.Project{Name: "demo", Tags: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, "demo", proj.Name)

	plan, err := s.CreatePlan(ctx, &model.Plan{ProjectID: proj.ID, Name: "plan-1"})
	require.NoError(t, err)
	require.Equal(t, model.PlanDraft, plan.Status)

	require.NoError(t, s.ReplaceDAG(ctx, plan.ID, []*model.PlanDAGNode{
		{ID: "n1", Kind: model.NodeDataSet, Config: map[string]any{"dataSetId": float64(1)}},
		{ID: "n2", Kind: model.NodeFilter},
	}, []*model.PlanDAGEdge{
		{ID: "e1", SourceNode: "n1", TargetNode: "n2", Metadata: model.EdgeMetadata{DataType: model.EdgeGraphData}},
	}))

	nodes, err := s.NodesForPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, float64(1), nodes[0].Config["dataSetId"])

	edges, err := s.EdgesForPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	require.NoError(t, s.DeleteProject(ctx, proj.ID))
	_, err = s.GetPlan(ctx, plan.ID)
	require.Error(t, err)
}

func TestGraphDataChildrenAndEdits(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	proj, err := s.CreateProject(ctx, &model.Project{Name: "p"})
	require.NoError(t, err)

	gd, err := s.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceComputed, Status: model.GraphDataProcessing})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceChildren(ctx, gd.ID,
		[]*model.GraphDataNode{{ExternalID: "a", Layer: "svc"}},
		[]*model.GraphDataEdge{{ExternalID: "e1", Source: "a", Target: "b"}}))

	nodes, err := s.GraphDataNodes(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	edges, err := s.GraphDataEdges(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	seq1, err := s.NextSequence(ctx, gd.ID)
	require.NoError(t, err)
	seq2, err := s.NextSequence(ctx, gd.ID)
	require.NoError(t, err)
	require.Equal(t, seq1+1, seq2)

	_, err = s.AppendEdit(ctx, &model.GraphEdit{GraphDataID: gd.ID, TargetType: model.EditTargetNode, TargetID: "a", Operation: model.EditUpdate, SequenceNumber: seq1})
	require.NoError(t, err)
	edits, err := s.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)

	require.NoError(t, s.ClearEdits(ctx, gd.ID))
	edits, err = s.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Empty(t, edits)
}

func TestProjectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	proj, err := s.CreateProject(ctx, &model.Project{Name: "p"})
	require.NoError(t, err)
	gd, err := s.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceComputed})
	require.NoError(t, err)

	p, err := s.CreateProjection(ctx, &model.Projection{GraphDataID: gd.ID, Kind: "force_3d", Config: map[string]any{"iterations": float64(200)}})
	require.NoError(t, err)
	require.Equal(t, "force_3d", p.Kind)
	require.Equal(t, float64(200), p.Config["iterations"])

	list, err := s.ProjectionsForGraph(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteProjection(ctx, p.ID))
	_, err = s.GetProjection(ctx, p.ID)
	require.Error(t, err)
}
