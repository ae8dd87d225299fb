package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
)

func node(id string, kind model.NodeKind, config map[string]any) *model.PlanDAGNode {
	return &model.PlanDAGNode{ID: id, Kind: kind, Config: config}
}

func edge(id, src, dst string, dt model.EdgeDataType) *model.PlanDAGEdge {
	return &model.PlanDAGEdge{ID: id, SourceNode: src, TargetNode: dst, Metadata: model.EdgeMetadata{DataType: dt}}
}

func TestValidateAcceptsSimpleChain(t *testing.T) {
	nodes := []*model.PlanDAGNode{
		node("ds", model.NodeDataSet, map[string]any{"dataset_id": int64(1)}),
		node("filter", model.NodeFilter, map[string]any{"predicate": "x"}),
	}
	edges := []*model.PlanDAGEdge{edge("e1", "ds", "filter", model.EdgeGraphData)}

	res := Validate(nodes, edges)
	assert.True(t, res.OK(), "%v", res.Errors)
}

func TestValidateDetectsDuplicateNodeID(t *testing.T) {
	nodes := []*model.PlanDAGNode{
		node("ds", model.NodeDataSet, map[string]any{"dataset_id": int64(1)}),
		node("ds", model.NodeDataSet, map[string]any{"dataset_id": int64(2)}),
	}
	res := Validate(nodes, nil)
	require.False(t, res.OK())
	assert.Contains(t, res.Errors[0].Message, "duplicate node id")
}

func TestValidateDetectsDanglingEdge(t *testing.T) {
	nodes := []*model.PlanDAGNode{node("ds", model.NodeDataSet, map[string]any{"dataset_id": int64(1)})}
	edges := []*model.PlanDAGEdge{edge("e1", "ds", "ghost", model.EdgeGraphData)}
	res := Validate(nodes, edges)
	require.False(t, res.OK())
	assert.Contains(t, res.Errors[0].Message, "missing endpoint")
}

func TestValidateReportsOrderedCycle(t *testing.T) {
	nodes := []*model.PlanDAGNode{
		node("a", model.NodeFilter, map[string]any{"predicate": "x"}),
		node("b", model.NodeFilter, map[string]any{"predicate": "x"}),
		node("c", model.NodeFilter, map[string]any{"predicate": "x"}),
	}
	edges := []*model.PlanDAGEdge{
		edge("ab", "a", "b", model.EdgeGraphData),
		edge("bc", "b", "c", model.EdgeGraphData),
		edge("ca", "c", "a", model.EdgeGraphData),
	}
	res := Validate(nodes, edges)
	require.False(t, res.OK())
	found := false
	for _, e := range res.Errors {
		if e.Message == "Cycle detected in graph: a -> b -> c -> a" {
			found = true
		}
	}
	assert.True(t, found, "%v", res.Errors)
}

func TestValidateEnforcesFanInContract(t *testing.T) {
	nodes := []*model.PlanDAGNode{
		node("ds1", model.NodeDataSet, map[string]any{"dataset_id": int64(1)}),
		node("merge", model.NodeMerge, map[string]any{"collision_policy": "first_wins"}),
	}
	edges := []*model.PlanDAGEdge{edge("e1", "ds1", "merge", model.EdgeGraphData)}
	res := Validate(nodes, edges)
	require.False(t, res.OK())
	assert.Contains(t, res.Errors[0].Message, "at least 2")
}

func TestValidateEnforcesRequiredConfigField(t *testing.T) {
	nodes := []*model.PlanDAGNode{node("ds", model.NodeDataSet, nil)}
	res := Validate(nodes, nil)
	require.False(t, res.OK())
	assert.Contains(t, res.Errors[0].Message, "dataset_id")
}
