package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewWithClient(client, "layercake-test:")
}

func TestProjectPlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	proj, err := s.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)

	plan, err := s.CreatePlan(ctx, &model.Plan{ProjectID: proj.ID, Name: "p1"})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceDAG(ctx, plan.ID, []*model.PlanDAGNode{
		{ID: "n1", Kind: model.NodeDataSet},
	}, nil))

	nodes, err := s.NodesForPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, s.DeleteProject(ctx, proj.ID))
	_, err = s.GetPlan(ctx, plan.ID)
	require.Error(t, err)
}

func TestEditJournalOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gd, err := s.CreateGraphData(ctx, &model.GraphData{SourceType: model.SourceComputed})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		seq, err := s.NextSequence(ctx, gd.ID)
		require.NoError(t, err)
		_, err = s.AppendEdit(ctx, &model.GraphEdit{GraphDataID: gd.ID, SequenceNumber: seq, Operation: model.EditCreate, TargetType: model.EditTargetNode, TargetID: "x"})
		require.NoError(t, err)
	}
	edits, err := s.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 3)
	require.Equal(t, int64(1), edits[0].SequenceNumber)
	require.Equal(t, int64(3), edits[2].SequenceNumber)
}
