// Package redis implements store.Store over Redis: each entity is a
// JSON blob at an id-addressed key, with Redis sets indexing the
// range-query relationships (project -> plans, plan -> nodes/edges,
// project -> graph-data). INCR supplies atomic id allocation and edit
// sequence numbers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// Store implements store.Store on top of a Redis client.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// Options configures the Redis-backed store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "layercake:"
}

// New returns a Store using a fresh Redis client.
func New(opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "layercake:"
	}
	return &Store{
		client: goredis.NewClient(&goredis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}),
		prefix: prefix,
	}
}

// NewWithClient wraps an existing client, e.g. one pointed at
// miniredis in tests.
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "layercake:"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(parts ...any) string {
	out := s.prefix
	for _, p := range parts {
		out += fmt.Sprintf("%v:", p)
	}
	return out[:len(out)-1]
}

func (s *Store) nextID(ctx context.Context, counter string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key("seq", counter)).Result()
	if err != nil {
		return 0, apperr.Internalf(err, "allocate id")
	}
	return n, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, goredis.Nil) {
		return apperr.NotFoundf(format, args...)
	}
	return apperr.Internalf(err, format, args...)
}

func save(ctx context.Context, client *goredis.Client, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return apperr.Internalf(err, "marshal %s", key)
	}
	if err := client.Set(ctx, key, b, 0).Err(); err != nil {
		return apperr.Internalf(err, "save %s", key)
	}
	return nil
}

func load[T any](ctx context.Context, client *goredis.Client, key string, notFoundFmt string, args ...any) (*T, error) {
	b, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, notFound(err, notFoundFmt, args...)
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, apperr.Internalf(err, "unmarshal %s", key)
	}
	return &v, nil
}

// ---- Project ----

func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	id, err := s.nextID(ctx, "project")
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	if err := save(ctx, s.client, s.key("project", id), &cp); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.key("projects"), id).Err(); err != nil {
		return nil, apperr.Internalf(err, "index project")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	return load[model.Project](ctx, s.client, s.key("project", id), "project %d not found", id)
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	if _, err := s.GetProject(ctx, p.ID); err != nil {
		return nil, err
	}
	if err := save(ctx, s.client, s.key("project", p.ID), p); err != nil {
		return nil, err
	}
	out := *p
	return &out, nil
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	plans, _ := s.PlansForProject(ctx, id)
	for _, p := range plans {
		_ = s.DeletePlan(ctx, p.ID)
	}
	gds, _ := s.GraphDataForProject(ctx, id)
	for _, g := range gds {
		_ = s.DeleteGraphData(ctx, g.ID)
	}
	layerKeys, _ := s.client.SMembers(ctx, s.key("project", id, "layers")).Result()
	aliasKeys, _ := s.client.SMembers(ctx, s.key("project", id, "aliases")).Result()
	for _, k := range append(layerKeys, aliasKeys...) {
		s.client.Del(ctx, k)
	}
	s.client.Del(ctx, s.key("project", id))
	s.client.SRem(ctx, s.key("projects"), id)
	s.client.Del(ctx, s.key("project", id, "plans"), s.key("project", id, "graphdata"), s.key("project", id, "layers"), s.key("project", id, "aliases"))
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	ids, err := s.client.SMembers(ctx, s.key("projects")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list projects")
	}
	var out []*model.Project
	for _, idStr := range ids {
		var id int64
		fmt.Sscanf(idStr, "%d", &id)
		p, err := s.GetProject(ctx, id)
		if err == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Plan ----

func (s *Store) CreatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	id, err := s.nextID(ctx, "plan")
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	if cp.Status == "" {
		cp.Status = model.PlanDraft
	}
	if err := save(ctx, s.client, s.key("plan", id), &cp); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.key("project", cp.ProjectID, "plans"), id).Err(); err != nil {
		return nil, apperr.Internalf(err, "index plan")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	return load[model.Plan](ctx, s.client, s.key("plan", id), "plan %d not found", id)
}

func (s *Store) UpdatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	existing, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.Version = existing.Version + 1
	if err := save(ctx, s.client, s.key("plan", cp.ID), &cp); err != nil {
		return nil, err
	}
	out := cp
	return &out, nil
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	p, err := s.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	nodeIDs, _ := s.client.SMembers(ctx, s.key("plan", id, "nodes")).Result()
	for _, nid := range nodeIDs {
		s.client.Del(ctx, s.key("plan", id, "node", nid))
	}
	edgeIDs, _ := s.client.SMembers(ctx, s.key("plan", id, "edges")).Result()
	for _, eid := range edgeIDs {
		s.client.Del(ctx, s.key("plan", id, "edge", eid))
	}
	s.client.Del(ctx, s.key("plan", id, "nodes"), s.key("plan", id, "edges"), s.key("plan", id))
	s.client.SRem(ctx, s.key("project", p.ProjectID, "plans"), id)
	return nil
}

func (s *Store) PlansForProject(ctx context.Context, projectID int64) ([]*model.Plan, error) {
	ids, err := s.client.SMembers(ctx, s.key("project", projectID, "plans")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list plans")
	}
	var out []*model.Plan
	for _, idStr := range ids {
		var id int64
		fmt.Sscanf(idStr, "%d", &id)
		if p, err := s.GetPlan(ctx, id); err == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- DAG ----

func (s *Store) NodesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGNode, error) {
	ids, err := s.client.SMembers(ctx, s.key("plan", planID, "nodes")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list nodes")
	}
	var out []*model.PlanDAGNode
	for _, id := range ids {
		if n, err := load[model.PlanDAGNode](ctx, s.client, s.key("plan", planID, "node", id), ""); err == nil {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EdgesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGEdge, error) {
	ids, err := s.client.SMembers(ctx, s.key("plan", planID, "edges")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list edges")
	}
	var out []*model.PlanDAGEdge
	for _, id := range ids {
		if e, err := load[model.PlanDAGEdge](ctx, s.client, s.key("plan", planID, "edge", id), ""); err == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplaceDAG(ctx context.Context, planID int64, nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) error {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	oldNodeIDs, _ := s.client.SMembers(ctx, s.key("plan", planID, "nodes")).Result()
	for _, id := range oldNodeIDs {
		pipe.Del(ctx, s.key("plan", planID, "node", id))
	}
	oldEdgeIDs, _ := s.client.SMembers(ctx, s.key("plan", planID, "edges")).Result()
	for _, id := range oldEdgeIDs {
		pipe.Del(ctx, s.key("plan", planID, "edge", id))
	}
	pipe.Del(ctx, s.key("plan", planID, "nodes"), s.key("plan", planID, "edges"))

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			return apperr.Conflictf("duplicate node id %q in plan %d", n.ID, planID)
		}
		seen[n.ID] = true
		cp := *n
		cp.PlanID = planID
		b, err := json.Marshal(&cp)
		if err != nil {
			return apperr.Internalf(err, "marshal node")
		}
		pipe.Set(ctx, s.key("plan", planID, "node", n.ID), b, 0)
		pipe.SAdd(ctx, s.key("plan", planID, "nodes"), n.ID)
	}
	seenEdges := make(map[string]bool, len(edges))
	for _, e := range edges {
		if seenEdges[e.ID] {
			return apperr.Conflictf("duplicate edge id %q in plan %d", e.ID, planID)
		}
		seenEdges[e.ID] = true
		cp := *e
		cp.PlanID = planID
		b, err := json.Marshal(&cp)
		if err != nil {
			return apperr.Internalf(err, "marshal edge")
		}
		pipe.Set(ctx, s.key("plan", planID, "edge", e.ID), b, 0)
		pipe.SAdd(ctx, s.key("plan", planID, "edges"), e.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Internalf(err, "replace dag")
	}
	return nil
}

// ---- GraphData ----

func (s *Store) CreateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	id, err := s.nextID(ctx, "graphdata")
	if err != nil {
		return nil, err
	}
	cp := *g
	cp.ID = id
	if err := save(ctx, s.client, s.key("graphdata", id), &cp); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.key("project", cp.ProjectID, "graphdata"), id).Err(); err != nil {
		return nil, apperr.Internalf(err, "index graph data")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetGraphData(ctx context.Context, id int64) (*model.GraphData, error) {
	return load[model.GraphData](ctx, s.client, s.key("graphdata", id), "graph data %d not found", id)
}

func (s *Store) UpdateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	if _, err := s.GetGraphData(ctx, g.ID); err != nil {
		return nil, err
	}
	if err := save(ctx, s.client, s.key("graphdata", g.ID), g); err != nil {
		return nil, err
	}
	out := *g
	return &out, nil
}

func (s *Store) DeleteGraphData(ctx context.Context, id int64) error {
	g, err := s.GetGraphData(ctx, id)
	if err != nil {
		return err
	}
	projections, _ := s.ProjectionsForGraph(ctx, id)
	for _, p := range projections {
		_ = s.DeleteProjection(ctx, p.ID)
	}
	s.client.Del(ctx, s.key("graphdata", id), s.key("graphdata", id, "nodes"), s.key("graphdata", id, "edges"), s.key("graphdata", id, "edits"), s.key("graphdata", id, "projections"), s.key("seq", "graphedit", id))
	s.client.SRem(ctx, s.key("project", g.ProjectID, "graphdata"), id)
	return nil
}

func (s *Store) GraphDataForProject(ctx context.Context, projectID int64) ([]*model.GraphData, error) {
	ids, err := s.client.SMembers(ctx, s.key("project", projectID, "graphdata")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list graph data")
	}
	var out []*model.GraphData
	for _, idStr := range ids {
		var id int64
		fmt.Sscanf(idStr, "%d", &id)
		if g, err := s.GetGraphData(ctx, id); err == nil {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GraphDataNodes(ctx context.Context, graphDataID int64) ([]*model.GraphDataNode, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, s.key("graphdata", graphDataID, "nodes")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list graph data nodes")
	}
	out := make([]*model.GraphDataNode, 0, len(raw))
	for _, v := range raw {
		var n model.GraphDataNode
		if err := json.Unmarshal([]byte(v), &n); err == nil {
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *Store) GraphDataEdges(ctx context.Context, graphDataID int64) ([]*model.GraphDataEdge, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, s.key("graphdata", graphDataID, "edges")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list graph data edges")
	}
	out := make([]*model.GraphDataEdge, 0, len(raw))
	for _, v := range raw {
		var e model.GraphDataEdge
		if err := json.Unmarshal([]byte(v), &e); err == nil {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *Store) ReplaceChildren(ctx context.Context, graphDataID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return err
	}
	nodesKey, edgesKey := s.key("graphdata", graphDataID, "nodes"), s.key("graphdata", graphDataID, "edges")
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, nodesKey, edgesKey)
	for _, n := range nodes {
		cp := *n
		cp.GraphDataID = graphDataID
		b, err := json.Marshal(&cp)
		if err != nil {
			return apperr.Internalf(err, "marshal graph data node")
		}
		pipe.HSet(ctx, nodesKey, n.ExternalID, b)
	}
	for _, e := range edges {
		cp := *e
		cp.GraphDataID = graphDataID
		b, err := json.Marshal(&cp)
		if err != nil {
			return apperr.Internalf(err, "marshal graph data edge")
		}
		pipe.HSet(ctx, edgesKey, e.ExternalID, b)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Internalf(err, "replace children")
	}
	return nil
}

// ---- Edits ----

func (s *Store) NextSequence(ctx context.Context, graphDataID int64) (int64, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return 0, err
	}
	return s.nextID(ctx, fmt.Sprintf("graphedit:%d", graphDataID))
}

func (s *Store) AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error) {
	seq := fmt.Sprintf("%d", edit.SequenceNumber)
	used, err := s.client.ZCount(ctx, s.key("graphdata", edit.GraphDataID, "edits"), seq, seq).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "check edit sequence")
	}
	if used > 0 {
		return nil, apperr.Conflictf("sequence %d already used for graph %d", edit.SequenceNumber, edit.GraphDataID)
	}
	id, err := s.nextID(ctx, "edit")
	if err != nil {
		return nil, err
	}
	cp := *edit
	cp.ID = id
	b, err := json.Marshal(&cp)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal edit")
	}
	score := float64(cp.SequenceNumber)
	if err := s.client.ZAdd(ctx, s.key("graphdata", edit.GraphDataID, "edits"), goredis.Z{Score: score, Member: b}).Err(); err != nil {
		return nil, apperr.Internalf(err, "append edit")
	}
	out := cp
	return &out, nil
}

func (s *Store) EditsForGraph(ctx context.Context, graphDataID int64, sinceSequence int64) ([]*model.GraphEdit, error) {
	raw, err := s.client.ZRangeByScore(ctx, s.key("graphdata", graphDataID, "edits"), &goredis.ZRangeBy{
		Min: fmt.Sprintf("(%d", sinceSequence), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list edits")
	}
	out := make([]*model.GraphEdit, 0, len(raw))
	for _, v := range raw {
		var e model.GraphEdit
		if err := json.Unmarshal([]byte(v), &e); err == nil {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (s *Store) UpdateEdit(ctx context.Context, edit *model.GraphEdit) error {
	key := s.key("graphdata", edit.GraphDataID, "edits")
	raw, err := s.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: fmt.Sprintf("%d", edit.SequenceNumber), Max: fmt.Sprintf("%d", edit.SequenceNumber),
	}).Result()
	if err != nil || len(raw) == 0 {
		return apperr.NotFoundf("edit seq %d not found for graph %d", edit.SequenceNumber, edit.GraphDataID)
	}
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, key, raw[0])
	b, err := json.Marshal(edit)
	if err != nil {
		return apperr.Internalf(err, "marshal edit")
	}
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(edit.SequenceNumber), Member: b})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperr.Internalf(err, "update edit")
	}
	return nil
}

func (s *Store) ClearEdits(ctx context.Context, graphDataID int64) error {
	s.client.Del(ctx, s.key("graphdata", graphDataID, "edits"))
	s.client.Del(ctx, s.key("seq", fmt.Sprintf("graphedit:%d", graphDataID)))
	return nil
}

// ---- Projections ----

func (s *Store) CreateProjection(ctx context.Context, p *model.Projection) (*model.Projection, error) {
	if _, err := s.GetGraphData(ctx, p.GraphDataID); err != nil {
		return nil, err
	}
	id, err := s.nextID(ctx, "projection")
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	if err := save(ctx, s.client, s.key("projection", id), &cp); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.key("graphdata", p.GraphDataID, "projections"), id).Err(); err != nil {
		return nil, apperr.Internalf(err, "index projection")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetProjection(ctx context.Context, id int64) (*model.Projection, error) {
	return load[model.Projection](ctx, s.client, s.key("projection", id), "projection %d not found", id)
}

func (s *Store) ProjectionsForGraph(ctx context.Context, graphDataID int64) ([]*model.Projection, error) {
	ids, err := s.client.SMembers(ctx, s.key("graphdata", graphDataID, "projections")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list projections")
	}
	var out []*model.Projection
	for _, idStr := range ids {
		var id int64
		fmt.Sscanf(idStr, "%d", &id)
		if p, err := s.GetProjection(ctx, id); err == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteProjection(ctx context.Context, id int64) error {
	p, err := s.GetProjection(ctx, id)
	if err != nil {
		return err
	}
	s.client.Del(ctx, s.key("projection", id))
	s.client.SRem(ctx, s.key("graphdata", p.GraphDataID, "projections"), id)
	return nil
}

// ---- Layers ----

func (s *Store) layerKey(projectID int64, layerID string, sourceDatasetID int64) string {
	return s.key("project", projectID, "layer", layerID, sourceDatasetID)
}

func (s *Store) UpsertProjectLayer(ctx context.Context, l *model.ProjectLayer) (*model.ProjectLayer, error) {
	existing, err := s.ProjectLayer(ctx, l.ProjectID, l.LayerID, l.SourceDatasetID)
	cp := *l
	if err == nil {
		cp.ID = existing.ID
	} else {
		id, aerr := s.nextID(ctx, "layer")
		if aerr != nil {
			return nil, aerr
		}
		cp.ID = id
	}
	if err := save(ctx, s.client, s.layerKey(l.ProjectID, l.LayerID, l.SourceDatasetID), &cp); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.key("project", l.ProjectID, "layers"), s.layerKey(l.ProjectID, l.LayerID, l.SourceDatasetID)).Err(); err != nil {
		return nil, apperr.Internalf(err, "index layer")
	}
	out := cp
	return &out, nil
}

func (s *Store) ProjectLayers(ctx context.Context, projectID int64) ([]*model.ProjectLayer, error) {
	keys, err := s.client.SMembers(ctx, s.key("project", projectID, "layers")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list layers")
	}
	var out []*model.ProjectLayer
	for _, k := range keys {
		if l, err := load[model.ProjectLayer](ctx, s.client, k, ""); err == nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LayerID < out[j].LayerID })
	return out, nil
}

func (s *Store) ProjectLayer(ctx context.Context, projectID int64, layerID string, sourceDatasetID int64) (*model.ProjectLayer, error) {
	return load[model.ProjectLayer](ctx, s.client, s.layerKey(projectID, layerID, sourceDatasetID), "layer %q not found for project %d", layerID, projectID)
}

func (s *Store) LayerAliases(ctx context.Context, projectID int64) ([]*model.LayerAlias, error) {
	keys, err := s.client.SMembers(ctx, s.key("project", projectID, "aliases")).Result()
	if err != nil {
		return nil, apperr.Internalf(err, "list aliases")
	}
	var out []*model.LayerAlias
	for _, k := range keys {
		if a, err := load[model.LayerAlias](ctx, s.client, k, ""); err == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) UpsertLayerAlias(ctx context.Context, a *model.LayerAlias) (*model.LayerAlias, error) {
	key := s.key("project", a.ProjectID, "alias", a.FromLayerID)
	existing, err := load[model.LayerAlias](ctx, s.client, key, "")
	cp := *a
	if err == nil {
		cp.ID = existing.ID
	} else {
		id, aerr := s.nextID(ctx, "alias")
		if aerr != nil {
			return nil, aerr
		}
		cp.ID = id
	}
	if err := save(ctx, s.client, key, &cp); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.key("project", a.ProjectID, "aliases"), key).Err(); err != nil {
		return nil, apperr.Internalf(err, "index alias")
	}
	out := cp
	return &out, nil
}
