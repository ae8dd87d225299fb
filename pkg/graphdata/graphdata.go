// Package graphdata wraps the entity store with GraphData lifecycle
// semantics: computed-graph creation, finalization, child replacement,
// recomputation, the edit journal, and replay.
package graphdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/log"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// Service implements the graph-data lifecycle operations over a Store.
// Per-graph exclusion is an in-process mutex registry keyed by graph
// id, held across every multi-step mutation of a graph and its
// journal.
type Service struct {
	store store.Store
	log   log.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New builds a Service over st. A nil logger falls back to the package
// default logger.
func New(st store.Store, logger log.Logger) *Service {
	return &Service{store: st, log: log.OrDefault(logger), locks: make(map[int64]*sync.Mutex)}
}

func (s *Service) lockFor(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateComputedGraph writes a new `computed` GraphData row in status
// `processing`. sourceDatasetID, when nonzero, records the imported
// dataset this graph was materialized from directly, so the layer
// resolver's dataset-scoped lookup can key off it later.
func (s *Service) CreateComputedGraph(ctx context.Context, projectID int64, dagNodeID, sourceHash string, sourceDatasetID int64) (*model.GraphData, error) {
	gd := &model.GraphData{
		ProjectID:       projectID,
		SourceType:      model.SourceComputed,
		DAGNodeID:       dagNodeID,
		SourceHash:      sourceHash,
		Status:          model.GraphDataProcessing,
		SourceDatasetID: sourceDatasetID,
	}
	out, err := s.store.CreateGraphData(ctx, gd)
	if err != nil {
		return nil, err
	}
	s.log.Info("created computed graph %d for plan node %s", out.ID, dagNodeID)
	return out, nil
}

// FinalizeGraph flips a GraphData to `active`, stamping node/edge counts.
// It is rejected unless the caller already replaced child rows to match
// those counts.
func (s *Service) FinalizeGraph(ctx context.Context, graphID int64, nodeCount, edgeCount int) (*model.GraphData, error) {
	lock := s.lockFor(graphID)
	lock.Lock()
	defer lock.Unlock()

	gd, err := s.store.GetGraphData(ctx, graphID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.GraphDataNodes(ctx, graphID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.GraphDataEdges(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if len(nodes) != nodeCount || len(edges) != edgeCount {
		return nil, apperr.Conflictf(
			"finalize_graph: counts (%d nodes, %d edges) do not match child rows (%d nodes, %d edges); replace_children first",
			nodeCount, edgeCount, len(nodes), len(edges))
	}
	gd.Status = model.GraphDataActive
	gd.NodeCount = nodeCount
	gd.EdgeCount = edgeCount
	gd.ComputedDate = time.Now().UTC()
	gd.ErrorMsg = ""
	return s.store.UpdateGraphData(ctx, gd)
}

// FailGraph flips a GraphData to `error`. Idempotent: calling it again
// with a different message simply overwrites the prior one.
func (s *Service) FailGraph(ctx context.Context, graphID int64, errMsg string) (*model.GraphData, error) {
	lock := s.lockFor(graphID)
	lock.Lock()
	defer lock.Unlock()

	gd, err := s.store.GetGraphData(ctx, graphID)
	if err != nil {
		return nil, err
	}
	gd.Status = model.GraphDataError
	gd.ErrorMsg = errMsg
	return s.store.UpdateGraphData(ctx, gd)
}

// ReplaceChildren truncates and rewrites child rows for graphID within a
// single store-level transaction.
func (s *Service) ReplaceChildren(ctx context.Context, graphID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	lock := s.lockFor(graphID)
	lock.Lock()
	defer lock.Unlock()
	return s.store.ReplaceChildren(ctx, graphID, nodes, edges)
}

// AppendEdit assigns the next sequence number under the per-graph lock,
// applies the mutation to the graph's children, and appends the edit
// with applied=true. Children always reflect the applied journal state.
func (s *Service) AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error) {
	lock := s.lockFor(edit.GraphDataID)
	lock.Lock()
	defer lock.Unlock()

	gd, err := s.store.GetGraphData(ctx, edit.GraphDataID)
	if err != nil {
		return nil, err
	}
	if gd.SourceType != model.SourceComputed {
		return nil, apperr.Validationf("graph data %d is not a computed graph (source_type=%s)", gd.ID, gd.SourceType)
	}
	nodeIdx, edgeIdx, err := s.childIndexes(ctx, edit.GraphDataID)
	if err != nil {
		return nil, err
	}
	applied, diag := applyEdit(edit, nodeIdx, edgeIdx, true)
	if !applied {
		return nil, apperr.Validationf("edit cannot be applied: %s", diag)
	}

	seq, err := s.store.NextSequence(ctx, edit.GraphDataID)
	if err != nil {
		return nil, err
	}
	edit.SequenceNumber = seq
	edit.Applied = true
	edit.Diagnostic = ""
	edit.Timestamp = time.Now().UTC()
	saved, err := s.store.AppendEdit(ctx, edit)
	if err != nil {
		return nil, err
	}
	if err := s.writeChildIndexes(ctx, edit.GraphDataID, nodeIdx, edgeIdx); err != nil {
		return nil, err
	}

	gd, err = s.store.GetGraphData(ctx, edit.GraphDataID)
	if err != nil {
		return nil, err
	}
	gd.LastEditSeq = seq
	gd.HasPendingEdits = false
	gd.NodeCount = len(nodeIdx)
	gd.EdgeCount = len(edgeIdx)
	if _, err := s.store.UpdateGraphData(ctx, gd); err != nil {
		return nil, err
	}
	return saved, nil
}

// RecomputeGraph rewrites a computed graph's children from fresh
// upstream data, stamps the new source hash, and replays the journal on
// top of the fresh children. The flow is deliberately ordered: fresh
// children first, then replay, so edits whose target disappeared
// upstream are detected and flagged rather than silently carried
// forward.
func (s *Service) RecomputeGraph(ctx context.Context, graphID int64, sourceHash string, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) (*model.GraphData, error) {
	lock := s.lockFor(graphID)
	lock.Lock()
	defer lock.Unlock()

	gd, err := s.store.GetGraphData(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceChildren(ctx, graphID, nodes, edges); err != nil {
		return nil, err
	}
	edits, err := s.store.EditsForGraph(ctx, graphID, 0)
	if err != nil {
		return nil, err
	}
	gd.SourceHash = sourceHash
	gd.ComputedDate = time.Now().UTC()
	gd.Status = model.GraphDataActive
	gd.ErrorMsg = ""
	gd.NodeCount = len(nodes)
	gd.EdgeCount = len(edges)
	gd.HasPendingEdits = len(edits) > 0
	if _, err := s.store.UpdateGraphData(ctx, gd); err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return s.store.GetGraphData(ctx, graphID)
	}
	return s.replayLocked(ctx, graphID)
}

// ReplayEdits re-applies the journal in sequence order onto the graph's
// current children. Callers recomputing from upstream write fresh
// children first (see RecomputeGraph), so edits whose target no longer
// exists are detected here and marked applied=false with diagnostic
// "target missing after recompute". Replay is idempotent: a second run
// over unchanged children and journal is a no-op.
func (s *Service) ReplayEdits(ctx context.Context, graphID int64) (*model.GraphData, error) {
	lock := s.lockFor(graphID)
	lock.Lock()
	defer lock.Unlock()
	return s.replayLocked(ctx, graphID)
}

func (s *Service) replayLocked(ctx context.Context, graphID int64) (*model.GraphData, error) {
	gd, err := s.store.GetGraphData(ctx, graphID)
	if err != nil {
		return nil, err
	}
	edits, err := s.store.EditsForGraph(ctx, graphID, 0)
	if err != nil {
		return nil, err
	}
	nodeIdx, edgeIdx, err := s.childIndexes(ctx, graphID)
	if err != nil {
		return nil, err
	}

	for _, edit := range edits {
		applied, diag := applyEdit(edit, nodeIdx, edgeIdx, false)
		if applied != edit.Applied || diag != edit.Diagnostic {
			edit.Applied = applied
			edit.Diagnostic = diag
			if err := s.store.UpdateEdit(ctx, edit); err != nil {
				return nil, err
			}
		}
	}

	if err := s.writeChildIndexes(ctx, graphID, nodeIdx, edgeIdx); err != nil {
		return nil, err
	}

	gd.NodeCount = len(nodeIdx)
	gd.EdgeCount = len(edgeIdx)
	// Replay always clears the pending-edits flag: per-edit failure is
	// tracked on the journal rows via Applied/Diagnostic, not
	// aggregated back here.
	gd.HasPendingEdits = false
	gd.LastReplayAt = time.Now().UTC()
	return s.store.UpdateGraphData(ctx, gd)
}

func (s *Service) childIndexes(ctx context.Context, graphID int64) (map[string]*model.GraphDataNode, map[string]*model.GraphDataEdge, error) {
	nodes, err := s.store.GraphDataNodes(ctx, graphID)
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.store.GraphDataEdges(ctx, graphID)
	if err != nil {
		return nil, nil, err
	}
	nodeIdx := make(map[string]*model.GraphDataNode, len(nodes))
	for _, n := range nodes {
		nodeIdx[n.ExternalID] = n
	}
	edgeIdx := make(map[string]*model.GraphDataEdge, len(edges))
	for _, e := range edges {
		edgeIdx[e.ExternalID] = e
	}
	return nodeIdx, edgeIdx, nil
}

func (s *Service) writeChildIndexes(ctx context.Context, graphID int64, nodeIdx map[string]*model.GraphDataNode, edgeIdx map[string]*model.GraphDataEdge) error {
	nodes := make([]*model.GraphDataNode, 0, len(nodeIdx))
	for _, n := range nodeIdx {
		nodes = append(nodes, n)
	}
	edges := make([]*model.GraphDataEdge, 0, len(edgeIdx))
	for _, e := range edgeIdx {
		edges = append(edges, e)
	}
	return s.store.ReplaceChildren(ctx, graphID, nodes, edges)
}

// applyEdit mutates the in-memory node/edge indexes to reflect edit and
// reports whether it could be applied. createInserts distinguishes the
// two call sites: a live append may create rows that do not exist yet,
// while replay only re-applies edits whose target survives in the
// fresh children, so a create whose target is gone after recompute is
// not resurrected.
func applyEdit(edit *model.GraphEdit, nodes map[string]*model.GraphDataNode, edges map[string]*model.GraphDataEdge, createInserts bool) (applied bool, diagnostic string) {
	switch edit.TargetType {
	case model.EditTargetNode:
		return applyNodeEdit(edit, nodes, createInserts)
	case model.EditTargetEdge:
		return applyEdgeEdit(edit, edges, createInserts)
	default:
		// Layer edits affect project_layer rows, not graph children;
		// replay treats them as always-applicable here.
		return true, ""
	}
}

func applyNodeEdit(edit *model.GraphEdit, nodes map[string]*model.GraphDataNode, createInserts bool) (bool, string) {
	switch edit.Operation {
	case model.EditCreate:
		if _, ok := nodes[edit.TargetID]; !ok && !createInserts {
			return false, "target missing after recompute"
		}
		var n model.GraphDataNode
		if len(edit.NewValue) > 0 {
			if err := json.Unmarshal(edit.NewValue, &n); err != nil {
				return false, "malformed edit payload: " + err.Error()
			}
		}
		n.ExternalID = edit.TargetID
		nodes[edit.TargetID] = &n
		return true, ""
	case model.EditUpdate, model.EditRestore:
		n, ok := nodes[edit.TargetID]
		if !ok {
			return false, "target missing after recompute"
		}
		if len(edit.NewValue) > 0 {
			if err := json.Unmarshal(edit.NewValue, n); err != nil {
				return false, "malformed edit payload: " + err.Error()
			}
		}
		return true, ""
	case model.EditDelete:
		if _, ok := nodes[edit.TargetID]; !ok {
			return false, "target missing after recompute"
		}
		delete(nodes, edit.TargetID)
		return true, ""
	default:
		return false, "unknown operation " + string(edit.Operation)
	}
}

func applyEdgeEdit(edit *model.GraphEdit, edges map[string]*model.GraphDataEdge, createInserts bool) (bool, string) {
	switch edit.Operation {
	case model.EditCreate:
		if _, ok := edges[edit.TargetID]; !ok && !createInserts {
			return false, "target missing after recompute"
		}
		var e model.GraphDataEdge
		if len(edit.NewValue) > 0 {
			if err := json.Unmarshal(edit.NewValue, &e); err != nil {
				return false, "malformed edit payload: " + err.Error()
			}
		}
		e.ExternalID = edit.TargetID
		edges[edit.TargetID] = &e
		return true, ""
	case model.EditUpdate, model.EditRestore:
		e, ok := edges[edit.TargetID]
		if !ok {
			return false, "target missing after recompute"
		}
		if len(edit.NewValue) > 0 {
			if err := json.Unmarshal(edit.NewValue, e); err != nil {
				return false, "malformed edit payload: " + err.Error()
			}
		}
		return true, ""
	case model.EditDelete:
		if _, ok := edges[edit.TargetID]; !ok {
			return false, "target missing after recompute"
		}
		delete(edges, edit.TargetID)
		return true, ""
	default:
		return false, "unknown operation " + string(edit.Operation)
	}
}

// ClearEdits deletes the journal for graphID and resets the pending
// flag.
func (s *Service) ClearEdits(ctx context.Context, graphID int64) error {
	lock := s.lockFor(graphID)
	lock.Lock()
	defer lock.Unlock()
	if err := s.store.ClearEdits(ctx, graphID); err != nil {
		return err
	}
	gd, err := s.store.GetGraphData(ctx, graphID)
	if err != nil {
		return err
	}
	gd.HasPendingEdits = false
	_, err = s.store.UpdateGraphData(ctx, gd)
	return err
}
