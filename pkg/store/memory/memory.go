// Package memory is a pure in-process Store backend: a mutex-guarded
// map per entity kind, no disk I/O. It is the fast default for tests
// and single-process development.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	nextID      int64
	projects    map[int64]*model.Project
	plans       map[int64]*model.Plan
	nodes       map[string]*model.PlanDAGNode // keyed by "planID/nodeID" (node ids are unique per plan only)
	edges       map[string]*model.PlanDAGEdge // keyed by "planID/edgeID"
	graphData   map[int64]*model.GraphData
	graphNodes  map[int64]map[string]*model.GraphDataNode // graphDataID -> externalID -> node
	graphEdges  map[int64]map[string]*model.GraphDataEdge
	edits       map[int64][]*model.GraphEdit // graphDataID -> ordered journal
	editSeq     map[int64]int64
	layers      map[int64]*model.ProjectLayer
	aliases     map[int64]*model.LayerAlias
	projections map[int64]*model.Projection
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		projects:    make(map[int64]*model.Project),
		plans:       make(map[int64]*model.Plan),
		nodes:       make(map[string]*model.PlanDAGNode),
		edges:       make(map[string]*model.PlanDAGEdge),
		graphData:   make(map[int64]*model.GraphData),
		graphNodes:  make(map[int64]map[string]*model.GraphDataNode),
		graphEdges:  make(map[int64]map[string]*model.GraphDataEdge),
		edits:       make(map[int64][]*model.GraphEdit),
		editSeq:     make(map[int64]int64),
		layers:      make(map[int64]*model.ProjectLayer),
		aliases:     make(map[int64]*model.LayerAlias),
		projections: make(map[int64]*model.Projection),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

// ---- Project ----

func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cp := *p
	cp.ID = s.allocID()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.projects[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperr.NotFoundf("project %d not found", id)
	}
	out := *p
	return &out, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.projects[p.ID]
	if !ok {
		return nil, apperr.NotFoundf("project %d not found", p.ID)
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.projects[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return apperr.NotFoundf("project %d not found", id)
	}
	delete(s.projects, id)

	// Cascade: plans (and their nodes/edges), graph-data (and its
	// children, edits and projections), layers, aliases.
	for pid, plan := range s.plans {
		if plan.ProjectID != id {
			continue
		}
		for nid, n := range s.nodes {
			if n.PlanID == pid {
				delete(s.nodes, nid)
			}
		}
		for eid, e := range s.edges {
			if e.PlanID == pid {
				delete(s.edges, eid)
			}
		}
		delete(s.plans, pid)
	}
	for gid, g := range s.graphData {
		if g.ProjectID != id {
			continue
		}
		delete(s.graphNodes, gid)
		delete(s.graphEdges, gid)
		delete(s.edits, gid)
		delete(s.editSeq, gid)
		for pid, pr := range s.projections {
			if pr.GraphDataID == gid {
				delete(s.projections, pid)
			}
		}
		delete(s.graphData, gid)
	}
	for lid, l := range s.layers {
		if l.ProjectID == id {
			delete(s.layers, lid)
		}
	}
	for aid, a := range s.aliases {
		if a.ProjectID == id {
			delete(s.aliases, aid)
		}
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Plan ----

func (s *Store) CreatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cp := *p
	cp.ID = s.allocID()
	if cp.Status == "" {
		cp.Status = model.PlanDraft
	}
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.plans[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, apperr.NotFoundf("plan %d not found", id)
	}
	out := *p
	return &out, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.plans[p.ID]
	if !ok {
		return nil, apperr.NotFoundf("plan %d not found", p.ID)
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.Version = existing.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	s.plans[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return apperr.NotFoundf("plan %d not found", id)
	}
	delete(s.plans, id)
	for nid, n := range s.nodes {
		if n.PlanID == id {
			delete(s.nodes, nid)
		}
	}
	for eid, e := range s.edges {
		if e.PlanID == id {
			delete(s.edges, eid)
		}
	}
	return nil
}

func (s *Store) PlansForProject(ctx context.Context, projectID int64) ([]*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Plan
	for _, p := range s.plans {
		if p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- DAG ----

func (s *Store) NodesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.PlanDAGNode
	for _, n := range s.nodes {
		if n.PlanID == planID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EdgesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.PlanDAGEdge
	for _, e := range s.edges {
		if e.PlanID == planID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplaceDAG(ctx context.Context, planID int64, nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[planID]; !ok {
		return apperr.NotFoundf("plan %d not found", planID)
	}
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			return apperr.Conflictf("duplicate node id %q in plan %d", n.ID, planID)
		}
		seen[n.ID] = true
	}
	seenEdges := make(map[string]bool, len(edges))
	for _, e := range edges {
		if seenEdges[e.ID] {
			return apperr.Conflictf("duplicate edge id %q in plan %d", e.ID, planID)
		}
		seenEdges[e.ID] = true
	}
	now := time.Now().UTC()
	for id, n := range s.nodes {
		if n.PlanID == planID {
			delete(s.nodes, id)
		}
	}
	for id, e := range s.edges {
		if e.PlanID == planID {
			delete(s.edges, id)
		}
	}
	planKey := strconv.FormatInt(planID, 10) + "/"
	for _, n := range nodes {
		cp := *n
		cp.PlanID = planID
		cp.UpdatedAt = now
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.nodes[planKey+cp.ID] = &cp
	}
	for _, e := range edges {
		cp := *e
		cp.PlanID = planID
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.edges[planKey+cp.ID] = &cp
	}
	return nil
}

// ---- GraphData ----

func (s *Store) CreateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cp := *g
	cp.ID = s.allocID()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.graphData[cp.ID] = &cp
	s.graphNodes[cp.ID] = make(map[string]*model.GraphDataNode)
	s.graphEdges[cp.ID] = make(map[string]*model.GraphDataEdge)
	out := cp
	return &out, nil
}

func (s *Store) GetGraphData(ctx context.Context, id int64) (*model.GraphData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphData[id]
	if !ok {
		return nil, apperr.NotFoundf("graph data %d not found", id)
	}
	out := *g
	return &out, nil
}

func (s *Store) UpdateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.graphData[g.ID]
	if !ok {
		return nil, apperr.NotFoundf("graph data %d not found", g.ID)
	}
	cp := *g
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.graphData[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeleteGraphData(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphData[id]; !ok {
		return apperr.NotFoundf("graph data %d not found", id)
	}
	delete(s.graphData, id)
	delete(s.graphNodes, id)
	delete(s.graphEdges, id)
	delete(s.edits, id)
	delete(s.editSeq, id)
	for pid, pr := range s.projections {
		if pr.GraphDataID == id {
			delete(s.projections, pid)
		}
	}
	return nil
}

func (s *Store) GraphDataForProject(ctx context.Context, projectID int64) ([]*model.GraphData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GraphData
	for _, g := range s.graphData {
		if g.ProjectID == projectID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GraphDataNodes(ctx context.Context, graphDataID int64) ([]*model.GraphDataNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	children, ok := s.graphNodes[graphDataID]
	if !ok {
		return nil, apperr.NotFoundf("graph data %d not found", graphDataID)
	}
	out := make([]*model.GraphDataNode, 0, len(children))
	for _, n := range children {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *Store) GraphDataEdges(ctx context.Context, graphDataID int64) ([]*model.GraphDataEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	children, ok := s.graphEdges[graphDataID]
	if !ok {
		return nil, apperr.NotFoundf("graph data %d not found", graphDataID)
	}
	out := make([]*model.GraphDataEdge, 0, len(children))
	for _, e := range children {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *Store) ReplaceChildren(ctx context.Context, graphDataID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphData[graphDataID]; !ok {
		return apperr.NotFoundf("graph data %d not found", graphDataID)
	}
	nodeMap := make(map[string]*model.GraphDataNode, len(nodes))
	for _, n := range nodes {
		cp := *n
		cp.GraphDataID = graphDataID
		nodeMap[cp.ExternalID] = &cp
	}
	edgeMap := make(map[string]*model.GraphDataEdge, len(edges))
	for _, e := range edges {
		cp := *e
		cp.GraphDataID = graphDataID
		edgeMap[cp.ExternalID] = &cp
	}
	s.graphNodes[graphDataID] = nodeMap
	s.graphEdges[graphDataID] = edgeMap
	return nil
}

// ---- Edits ----

func (s *Store) NextSequence(ctx context.Context, graphDataID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphData[graphDataID]; !ok {
		return 0, apperr.NotFoundf("graph data %d not found", graphDataID)
	}
	s.editSeq[graphDataID]++
	return s.editSeq[graphDataID], nil
}

func (s *Store) AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphData[edit.GraphDataID]; !ok {
		return nil, apperr.NotFoundf("graph data %d not found", edit.GraphDataID)
	}
	for _, e := range s.edits[edit.GraphDataID] {
		if e.SequenceNumber == edit.SequenceNumber {
			return nil, apperr.Conflictf("sequence %d already used for graph %d", edit.SequenceNumber, edit.GraphDataID)
		}
	}
	cp := *edit
	cp.ID = s.allocID()
	s.edits[edit.GraphDataID] = append(s.edits[edit.GraphDataID], &cp)
	out := cp
	return &out, nil
}

func (s *Store) EditsForGraph(ctx context.Context, graphDataID int64, sinceSequence int64) ([]*model.GraphEdit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GraphEdit
	for _, e := range s.edits[graphDataID] {
		if e.SequenceNumber > sinceSequence {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *Store) UpdateEdit(ctx context.Context, edit *model.GraphEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.edits[edit.GraphDataID]
	for i, e := range list {
		if e.ID == edit.ID {
			cp := *edit
			list[i] = &cp
			return nil
		}
	}
	return apperr.NotFoundf("edit %d not found for graph %d", edit.ID, edit.GraphDataID)
}

func (s *Store) ClearEdits(ctx context.Context, graphDataID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edits, graphDataID)
	s.editSeq[graphDataID] = 0
	return nil
}

// ---- Layers ----

func (s *Store) UpsertProjectLayer(ctx context.Context, l *model.ProjectLayer) (*model.ProjectLayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.layers {
		if existing.ProjectID == l.ProjectID && existing.LayerID == l.LayerID && existing.SourceDatasetID == l.SourceDatasetID {
			cp := *l
			cp.ID = existing.ID
			cp.CreatedAt = existing.CreatedAt
			cp.UpdatedAt = now
			s.layers[cp.ID] = &cp
			out := cp
			return &out, nil
		}
	}
	cp := *l
	cp.ID = s.allocID()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.layers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ProjectLayers(ctx context.Context, projectID int64) ([]*model.ProjectLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ProjectLayer
	for _, l := range s.layers {
		if l.ProjectID == projectID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LayerID < out[j].LayerID })
	return out, nil
}

func (s *Store) ProjectLayer(ctx context.Context, projectID int64, layerID string, sourceDatasetID int64) (*model.ProjectLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.layers {
		if l.ProjectID == projectID && l.LayerID == layerID && l.SourceDatasetID == sourceDatasetID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, apperr.NotFoundf("layer %q not found for project %d", layerID, projectID)
}

func (s *Store) LayerAliases(ctx context.Context, projectID int64) ([]*model.LayerAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.LayerAlias
	for _, a := range s.aliases {
		if a.ProjectID == projectID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpsertLayerAlias(ctx context.Context, a *model.LayerAlias) (*model.LayerAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.aliases {
		if existing.ProjectID == a.ProjectID && existing.FromLayerID == a.FromLayerID {
			cp := *a
			cp.ID = existing.ID
			s.aliases[cp.ID] = &cp
			out := cp
			return &out, nil
		}
	}
	cp := *a
	cp.ID = s.allocID()
	s.aliases[cp.ID] = &cp
	out := cp
	return &out, nil
}

// ---- Projections ----

func (s *Store) CreateProjection(ctx context.Context, p *model.Projection) (*model.Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphData[p.GraphDataID]; !ok {
		return nil, apperr.NotFoundf("graph data %d not found", p.GraphDataID)
	}
	now := time.Now().UTC()
	cp := *p
	cp.ID = s.allocID()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.projections[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetProjection(ctx context.Context, id int64) (*model.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projections[id]
	if !ok {
		return nil, apperr.NotFoundf("projection %d not found", id)
	}
	out := *p
	return &out, nil
}

func (s *Store) ProjectionsForGraph(ctx context.Context, graphDataID int64) ([]*model.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Projection
	for _, p := range s.projections {
		if p.GraphDataID == graphDataID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteProjection(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projections[id]; !ok {
		return apperr.NotFoundf("projection %d not found", id)
	}
	delete(s.projections, id)
	return nil
}
