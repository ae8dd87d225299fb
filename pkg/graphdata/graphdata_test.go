package graphdata

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store/memory"
)

func newService(t *testing.T) (*Service, int64) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	svc := New(st, nil)
	proj, err := st.CreateProject(context.Background(), &model.Project{Name: "demo"})
	require.NoError(t, err)
	return svc, proj.ID
}

func TestFinalizeGraphRejectsMismatchedCounts(t *testing.T) {
	ctx := context.Background()
	svc, projID := newService(t)

	gd, err := svc.CreateComputedGraph(ctx, projID, "n1", "hash1", 0)
	require.NoError(t, err)
	require.Equal(t, model.GraphDataProcessing, gd.Status)

	_, err = svc.FinalizeGraph(ctx, gd.ID, 2, 1)
	require.Error(t, err)

	require.NoError(t, svc.ReplaceChildren(ctx, gd.ID,
		[]*model.GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}},
		[]*model.GraphDataEdge{{ExternalID: "e1", Source: "a", Target: "b"}}))

	out, err := svc.FinalizeGraph(ctx, gd.ID, 2, 1)
	require.NoError(t, err)
	require.Equal(t, model.GraphDataActive, out.Status)
	require.Equal(t, 2, out.NodeCount)
	require.Equal(t, 1, out.EdgeCount)
}

func TestFailGraphIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, projID := newService(t)
	gd, err := svc.CreateComputedGraph(ctx, projID, "n1", "hash1", 0)
	require.NoError(t, err)

	_, err = svc.FailGraph(ctx, gd.ID, "boom")
	require.NoError(t, err)
	out, err := svc.FailGraph(ctx, gd.ID, "boom again")
	require.NoError(t, err)
	require.Equal(t, model.GraphDataError, out.Status)
	require.Equal(t, "boom again", out.ErrorMsg)
}

func TestAppendEditThenReplaySurvivesMissingTarget(t *testing.T) {
	ctx := context.Background()
	svc, projID := newService(t)
	gd, err := svc.CreateComputedGraph(ctx, projID, "n1", "hash1", 0)
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceChildren(ctx, gd.ID,
		[]*model.GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}}, nil))
	_, err = svc.FinalizeGraph(ctx, gd.ID, 2, 0)
	require.NoError(t, err)

	newVal, _ := json.Marshal(model.GraphDataNode{ExternalID: "a", Label: "renamed"})
	edit, err := svc.AppendEdit(ctx, &model.GraphEdit{
		GraphDataID: gd.ID,
		TargetType:  model.EditTargetNode,
		TargetID:    "a",
		Operation:   model.EditUpdate,
		NewValue:    newVal,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), edit.SequenceNumber)
	require.True(t, edit.Applied)

	// Upstream recompute drops node "a" entirely.
	require.NoError(t, svc.ReplaceChildren(ctx, gd.ID,
		[]*model.GraphDataNode{{ExternalID: "b"}}, nil))

	out, err := svc.ReplayEdits(ctx, gd.ID)
	require.NoError(t, err)
	require.False(t, out.HasPendingEdits, "replay always clears the aggregate flag; failures are tracked per-edit")

	edits, err := svc.store.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.False(t, edits[0].Applied)
	require.Equal(t, "target missing after recompute", edits[0].Diagnostic)
}

func TestAppendEditAppliesMutationToChildren(t *testing.T) {
	ctx := context.Background()
	svc, projID := newService(t)
	gd, err := svc.CreateComputedGraph(ctx, projID, "n1", "hash1", 0)
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceChildren(ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "a"}}, nil))
	_, err = svc.FinalizeGraph(ctx, gd.ID, 1, 0)
	require.NoError(t, err)

	newVal, _ := json.Marshal(model.GraphDataNode{ExternalID: "m1", Label: "manual"})
	_, err = svc.AppendEdit(ctx, &model.GraphEdit{
		GraphDataID: gd.ID,
		TargetType:  model.EditTargetNode,
		TargetID:    "m1",
		Operation:   model.EditCreate,
		NewValue:    newVal,
	})
	require.NoError(t, err)

	nodes, err := svc.store.GraphDataNodes(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	out, err := svc.store.GetGraphData(ctx, gd.ID)
	require.NoError(t, err)
	require.Equal(t, 2, out.NodeCount)
	require.Equal(t, int64(1), out.LastEditSeq)
}

func TestRecomputeDoesNotResurrectCreatedNode(t *testing.T) {
	ctx := context.Background()
	svc, projID := newService(t)
	gd, err := svc.CreateComputedGraph(ctx, projID, "n1", "hash1", 0)
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceChildren(ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "a"}}, nil))
	_, err = svc.FinalizeGraph(ctx, gd.ID, 1, 0)
	require.NoError(t, err)

	// seq 1 creates m1, seq 2 renames it.
	created, _ := json.Marshal(model.GraphDataNode{ExternalID: "m1"})
	_, err = svc.AppendEdit(ctx, &model.GraphEdit{
		GraphDataID: gd.ID, TargetType: model.EditTargetNode, TargetID: "m1",
		Operation: model.EditCreate, NewValue: created,
	})
	require.NoError(t, err)
	renamed, _ := json.Marshal(model.GraphDataNode{ExternalID: "m1", Label: "X"})
	_, err = svc.AppendEdit(ctx, &model.GraphEdit{
		GraphDataID: gd.ID, TargetType: model.EditTargetNode, TargetID: "m1",
		Operation: model.EditUpdate, NewValue: renamed,
	})
	require.NoError(t, err)

	// Upstream recomputation no longer carries m1.
	out, err := svc.RecomputeGraph(ctx, gd.ID, "hash2", []*model.GraphDataNode{{ExternalID: "a"}}, nil)
	require.NoError(t, err)
	require.False(t, out.HasPendingEdits)
	require.Equal(t, 1, out.NodeCount)

	nodes, err := svc.store.GraphDataNodes(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "a", nodes[0].ExternalID)

	edits, err := svc.store.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	for _, e := range edits {
		require.False(t, e.Applied)
		require.Equal(t, "target missing after recompute", e.Diagnostic)
	}

	// Replay is idempotent.
	again, err := svc.ReplayEdits(ctx, gd.ID)
	require.NoError(t, err)
	require.False(t, again.HasPendingEdits)
	require.Equal(t, 1, again.NodeCount)
}

func TestClearEditsResetsPendingFlag(t *testing.T) {
	ctx := context.Background()
	svc, projID := newService(t)
	gd, err := svc.CreateComputedGraph(ctx, projID, "n1", "hash1", 0)
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceChildren(ctx, gd.ID, []*model.GraphDataNode{{ExternalID: "a"}}, nil))
	_, err = svc.FinalizeGraph(ctx, gd.ID, 1, 0)
	require.NoError(t, err)

	_, err = svc.AppendEdit(ctx, &model.GraphEdit{
		GraphDataID: gd.ID, TargetType: model.EditTargetNode, TargetID: "a", Operation: model.EditDelete,
	})
	require.NoError(t, err)

	pending, err := svc.store.GetGraphData(ctx, gd.ID)
	require.NoError(t, err)
	pending.HasPendingEdits = true
	_, err = svc.store.UpdateGraphData(ctx, pending)
	require.NoError(t, err)

	require.NoError(t, svc.ClearEdits(ctx, gd.ID))
	edits, err := svc.store.EditsForGraph(ctx, gd.ID, 0)
	require.NoError(t, err)
	require.Empty(t, edits)

	out, err := svc.store.GetGraphData(ctx, gd.ID)
	require.NoError(t, err)
	require.False(t, out.HasPendingEdits)
}
