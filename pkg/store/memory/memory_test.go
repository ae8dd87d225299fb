package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

func TestProjectCascadeDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	proj, err := s.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)

	plan, err := s.CreatePlan(ctx, &model.Plan{ProjectID: proj.ID, Name: "plan-1"})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceDAG(ctx, plan.ID, []*model.PlanDAGNode{
		{ID: "n1", Kind: model.NodeDataSet},
	}, nil))

	gd, err := s.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceComputed})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceChildren(ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "a"}}, nil))

	require.NoError(t, s.DeleteProject(ctx, proj.ID))

	_, err = s.GetPlan(ctx, plan.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = s.GetGraphData(ctx, gd.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	nodes, err := s.NodesForPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestReplaceDAGRejectsDuplicateNodeID(t *testing.T) {
	ctx := context.Background()
	s := New()
	plan, err := s.CreatePlan(ctx, &model.Plan{Name: "p"})
	require.NoError(t, err)

	err = s.ReplaceDAG(ctx, plan.ID, []*model.PlanDAGNode{
		{ID: "n1", Kind: model.NodeDataSet},
		{ID: "n1", Kind: model.NodeFilter},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestEditSequenceMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()
	gd, err := s.CreateGraphData(ctx, &model.GraphData{SourceType: model.SourceComputed})
	require.NoError(t, err)

	var last int64
	for i := 0; i < 5; i++ {
		seq, err := s.NextSequence(ctx, gd.ID)
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestGraphDataNotFoundForUnknownChildren(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.GraphDataNodes(ctx, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProjectionsFollowGraphLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	proj, err := s.CreateProject(ctx, &model.Project{Name: "p"})
	require.NoError(t, err)
	gd, err := s.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceComputed})
	require.NoError(t, err)

	_, err = s.CreateProjection(ctx, &model.Projection{GraphDataID: 999, Kind: "force_3d"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	p, err := s.CreateProjection(ctx, &model.Projection{GraphDataID: gd.ID, Kind: "force_3d"})
	require.NoError(t, err)

	list, err := s.ProjectionsForGraph(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteGraphData(ctx, gd.ID))
	_, err = s.GetProjection(ctx, p.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpsertProjectLayerIsIdempotentByKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	proj, err := s.CreateProject(ctx, &model.Project{Name: "p"})
	require.NoError(t, err)

	first, err := s.UpsertProjectLayer(ctx, &model.ProjectLayer{ProjectID: proj.ID, LayerID: "svc", Name: "Service"})
	require.NoError(t, err)
	second, err := s.UpsertProjectLayer(ctx, &model.ProjectLayer{ProjectID: proj.ID, LayerID: "svc", Name: "Service Renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	layers, err := s.ProjectLayers(ctx, proj.ID)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "Service Renamed", layers[0].Name)
}
