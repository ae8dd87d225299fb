package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/eventbus"
	"github.com/layercake/layercake/pkg/graphdata"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/nodeexec"
	"github.com/layercake/layercake/pkg/render"
	"github.com/layercake/layercake/pkg/store/memory"
)

func setup(t *testing.T) (*Executor, *memory.Store, int64) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	bus := eventbus.New(16, nil)
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go bus.Run(runCtx)

	nc := &nodeexec.Context{Ctx: ctx, Store: st, GraphData: graphdata.New(st, nil), Renderer: render.New()}
	ex := New(st, bus, nc, nil)

	proj, err := st.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)
	return ex, st, proj.ID
}

func TestExecutePlanRunsChainToCompletion(t *testing.T) {
	ctx := context.Background()
	ex, st, projID := setup(t)

	plan, err := st.CreatePlan(ctx, &model.Plan{ProjectID: projID, Name: "p1"})
	require.NoError(t, err)

	gd, err := st.CreateGraphData(ctx, &model.GraphData{ProjectID: projID, SourceType: model.SourceDataset, Status: model.GraphDataActive})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceChildren(ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "a", Layer: "people"}}, nil))

	require.NoError(t, st.ReplaceDAG(ctx, plan.ID,
		[]*model.PlanDAGNode{
			{ID: "ds", Kind: model.NodeDataSet, Config: map[string]any{"dataset_id": gd.ID}},
			{ID: "filter", Kind: model.NodeFilter, Config: map[string]any{"predicate": []any{}}},
		},
		[]*model.PlanDAGEdge{
			{ID: "e1", SourceNode: "ds", TargetNode: "filter", Metadata: model.EdgeMetadata{DataType: model.EdgeGraphData}},
		}))

	res, err := ex.ExecutePlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanActive, res.Status)
	require.Len(t, res.Nodes, 2)
	require.Equal(t, "ds", res.Nodes[0].NodeID)
	require.Equal(t, StatusCompleted, res.Nodes[0].Status)
	require.Equal(t, StatusCompleted, res.Nodes[1].Status)
}

func TestExecutePlanPropagatesUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	ex, st, projID := setup(t)

	plan, err := st.CreatePlan(ctx, &model.Plan{ProjectID: projID, Name: "p1"})
	require.NoError(t, err)

	require.NoError(t, st.ReplaceDAG(ctx, plan.ID,
		[]*model.PlanDAGNode{
			{ID: "ds", Kind: model.NodeDataSet, Config: map[string]any{"dataset_id": int64(999)}},
			{ID: "filter", Kind: model.NodeFilter, Config: map[string]any{"predicate": []any{}}},
		},
		[]*model.PlanDAGEdge{
			{ID: "e1", SourceNode: "ds", TargetNode: "filter", Metadata: model.EdgeMetadata{DataType: model.EdgeGraphData}},
		}))

	res, err := ex.ExecutePlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanError, res.Status)
	require.Equal(t, StatusError, res.Nodes[0].Status)
	require.Equal(t, StatusError, res.Nodes[1].Status)
	require.Contains(t, res.Nodes[1].Error, "upstream failed")
}

func TestExecutePlanRejectsInvalidDAG(t *testing.T) {
	ctx := context.Background()
	ex, st, projID := setup(t)

	plan, err := st.CreatePlan(ctx, &model.Plan{ProjectID: projID, Name: "p1"})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceDAG(ctx, plan.ID,
		[]*model.PlanDAGNode{{ID: "a", Kind: model.NodeFilter, Config: map[string]any{"predicate": []any{}}}},
		[]*model.PlanDAGEdge{{ID: "e1", SourceNode: "a", TargetNode: "a"}}))

	_, err = ex.ExecutePlan(ctx, plan.ID)
	require.Error(t, err)

	p, err := st.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanError, p.Status)
}

func TestExecutePlanEmptyPlanPublishesSingleTerminalCompletedEvent(t *testing.T) {
	ctx := context.Background()
	ex, st, projID := setup(t)

	plan, err := st.CreatePlan(ctx, &model.Plan{ProjectID: projID, Name: "empty"})
	require.NoError(t, err)

	events := ex.bus.SubscribePlan(plan.ID)

	res, err := ex.ExecutePlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanActive, res.Status)
	require.Empty(t, res.Nodes)

	select {
	case ev := <-events:
		require.Equal(t, "completed", ev.Kind)
		require.Empty(t, ev.NodeID)
	default:
		t.Fatal("expected a terminal completed event")
	}
	select {
	case ev := <-events:
		t.Fatalf("expected no further events, got %+v", ev)
	default:
	}
}

func TestExecutePlanRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex, st, projID := setup(t)
	cancel() // already cancelled before the run starts

	plan, err := st.CreatePlan(context.Background(), &model.Plan{ProjectID: projID, Name: "p1"})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceDAG(context.Background(), plan.ID,
		[]*model.PlanDAGNode{{ID: "ds", Kind: model.NodeDataSet, Config: map[string]any{"dataset_id": int64(1)}}}, nil))

	res, err := ex.ExecutePlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, res.Nodes[0].Status)
}
