// Package badger implements store.Store over BadgerDB: single-byte key
// prefixes per entity kind, JSON-encoded values. An embedded backend
// for single-process deployments with no external database.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// Key prefixes, one byte per entity kind.
const (
	prefixProject       = byte(0x01) // project:id -> Project
	prefixPlan          = byte(0x02) // plan:id -> Plan
	prefixPlanNode      = byte(0x03) // planNode:planID:nodeID -> PlanDAGNode
	prefixPlanEdge      = byte(0x04) // planEdge:planID:edgeID -> PlanDAGEdge
	prefixGraphData     = byte(0x05) // graphData:id -> GraphData
	prefixGraphDataNode = byte(0x06) // graphDataNode:graphDataID:externalID -> GraphDataNode
	prefixGraphDataEdge = byte(0x07) // graphDataEdge:graphDataID:externalID -> GraphDataEdge
	prefixEdit          = byte(0x08) // edit:graphDataID:sequence -> GraphEdit
	prefixEditSeq       = byte(0x09) // editSeq:graphDataID -> counter
	prefixLayer         = byte(0x0a) // layer:projectID:layerID:sourceDatasetID -> ProjectLayer
	prefixAlias         = byte(0x0b) // alias:projectID:fromLayerID -> LayerAlias
	prefixCounter       = byte(0x0c) // counter:kind -> id sequence
	prefixProjection    = byte(0x0d) // projection:graphDataID:id -> Projection
)

// Store implements store.Store on top of a BadgerDB instance.
type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if absent) a BadgerDB at dir. An empty dir runs
// BadgerDB in memory-only mode, useful for tests.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.Internalf(err, "open badger database")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// key joins parts after the prefix byte and ends with ':', so an owner
// prefix such as planNode:1: never matches planNode:10:.
func key(prefix byte, parts ...any) []byte {
	out := []byte{prefix}
	for _, p := range parts {
		out = append(out, []byte(fmt.Sprintf(":%v", p))...)
	}
	return append(out, ':')
}

func now() time.Time { return time.Now().UTC() }

func (s *Store) nextID(kind string) (int64, error) {
	var id int64
	err := s.db.Update(func(txn *badger.Txn) error {
		k := key(prefixCounter, kind)
		var cur int64
		item, err := txn.Get(k)
		if err == nil {
			if verr := item.Value(func(v []byte) error { cur = btoi(v); return nil }); verr != nil {
				return verr
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		id = cur + 1
		return txn.Set(k, itob(id))
	})
	if err != nil {
		return 0, apperr.Internalf(err, "allocate id")
	}
	return id, nil
}

func itob(v int64) []byte { return []byte(fmt.Sprintf("%020d", v)) }
func btoi(b []byte) int64 { var v int64; fmt.Sscanf(string(b), "%d", &v); return v }

func put(txn *badger.Txn, k []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return apperr.Internalf(err, "marshal %s", k)
	}
	return txn.Set(k, b)
}

func getInto(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return apperr.NotFoundf("not found: %s", k)
	}
	if err != nil {
		return apperr.Internalf(err, "get %s", k)
	}
	return item.Value(func(raw []byte) error { return json.Unmarshal(raw, v) })
}

func scanPrefixRaw(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ---- Project ----

func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	id, err := s.nextID("project")
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	cp.CreatedAt, cp.UpdatedAt = now(), now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, key(prefixProject, id), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "create project")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var p model.Project
	err := s.db.View(func(txn *badger.Txn) error { return getInto(txn, key(prefixProject, id), &p) })
	if err != nil {
		return nil, annotateNotFound(err, "project %d not found", id)
	}
	return &p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	if _, err := s.GetProject(ctx, p.ID); err != nil {
		return nil, err
	}
	cp := *p
	cp.UpdatedAt = now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, key(prefixProject, p.ID), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "update project")
	}
	out := cp
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
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key(prefixProject, id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixLayer, id)); err != nil {
			return err
		}
		return deletePrefix(txn, key(prefixAlias, id))
	})
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	var out []*model.Project
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, []byte{prefixProject}, func(raw []byte) error {
			var p model.Project
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list projects")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func annotateNotFound(err error, format string, args ...any) error {
	if apperr.KindOf(err) == apperr.KindNotFound {
		return apperr.NotFoundf(format, args...)
	}
	return err
}

// ---- Plan ----

func (s *Store) CreatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	id, err := s.nextID("plan")
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	if cp.Status == "" {
		cp.Status = model.PlanDraft
	}
	cp.CreatedAt, cp.UpdatedAt = now(), now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, key(prefixPlan, id), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "create plan")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	var p model.Plan
	err := s.db.View(func(txn *badger.Txn) error { return getInto(txn, key(prefixPlan, id), &p) })
	if err != nil {
		return nil, annotateNotFound(err, "plan %d not found", id)
	}
	return &p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	existing, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.Version = existing.Version + 1
	cp.UpdatedAt = now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, key(prefixPlan, p.ID), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "update plan")
	}
	out := cp
	return &out, nil
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	if _, err := s.GetPlan(ctx, id); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key(prefixPlan, id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixPlanNode, id)); err != nil {
			return err
		}
		return deletePrefix(txn, key(prefixPlanEdge, id))
	})
}

func (s *Store) PlansForProject(ctx context.Context, projectID int64) ([]*model.Plan, error) {
	all, err := s.allPlans()
	if err != nil {
		return nil, err
	}
	var out []*model.Plan
	for _, p := range all {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) allPlans() ([]*model.Plan, error) {
	var out []*model.Plan
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, []byte{prefixPlan}, func(raw []byte) error {
			var p model.Plan
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list plans")
	}
	return out, nil
}

// ---- DAG ----

func (s *Store) NodesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGNode, error) {
	var out []*model.PlanDAGNode
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixPlanNode, planID), func(raw []byte) error {
			var n model.PlanDAGNode
			if err := json.Unmarshal(raw, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list plan nodes")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EdgesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGEdge, error) {
	var out []*model.PlanDAGEdge
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixPlanEdge, planID), func(raw []byte) error {
			var e model.PlanDAGEdge
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list plan edges")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplaceDAG(ctx context.Context, planID int64, nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) error {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	tstamp := now()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, key(prefixPlanNode, planID)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixPlanEdge, planID)); err != nil {
			return err
		}
		seen := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			if seen[n.ID] {
				return apperr.Conflictf("duplicate node id %q in plan %d", n.ID, planID)
			}
			seen[n.ID] = true
			cp := *n
			cp.PlanID = planID
			cp.UpdatedAt = tstamp
			if cp.CreatedAt.IsZero() {
				cp.CreatedAt = tstamp
			}
			if err := put(txn, key(prefixPlanNode, planID, n.ID), &cp); err != nil {
				return err
			}
		}
		seenEdges := make(map[string]bool, len(edges))
		for _, e := range edges {
			if seenEdges[e.ID] {
				return apperr.Conflictf("duplicate edge id %q in plan %d", e.ID, planID)
			}
			seenEdges[e.ID] = true
			cp := *e
			cp.PlanID = planID
			if cp.CreatedAt.IsZero() {
				cp.CreatedAt = tstamp
			}
			if err := put(txn, key(prefixPlanEdge, planID, e.ID), &cp); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- GraphData ----

func (s *Store) CreateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	id, err := s.nextID("graphdata")
	if err != nil {
		return nil, err
	}
	cp := *g
	cp.ID = id
	cp.CreatedAt, cp.UpdatedAt = now(), now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, key(prefixGraphData, id), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "create graph data")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetGraphData(ctx context.Context, id int64) (*model.GraphData, error) {
	var g model.GraphData
	err := s.db.View(func(txn *badger.Txn) error { return getInto(txn, key(prefixGraphData, id), &g) })
	if err != nil {
		return nil, annotateNotFound(err, "graph data %d not found", id)
	}
	return &g, nil
}

func (s *Store) UpdateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	if _, err := s.GetGraphData(ctx, g.ID); err != nil {
		return nil, err
	}
	cp := *g
	cp.UpdatedAt = now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, key(prefixGraphData, g.ID), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "update graph data")
	}
	out := cp
	return &out, nil
}

func (s *Store) DeleteGraphData(ctx context.Context, id int64) error {
	if _, err := s.GetGraphData(ctx, id); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key(prefixGraphData, id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixGraphDataNode, id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixGraphDataEdge, id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixEdit, id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixProjection, id)); err != nil {
			return err
		}
		return txn.Delete(key(prefixEditSeq, id))
	})
}

func (s *Store) GraphDataForProject(ctx context.Context, projectID int64) ([]*model.GraphData, error) {
	var out []*model.GraphData
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, []byte{prefixGraphData}, func(raw []byte) error {
			var g model.GraphData
			if err := json.Unmarshal(raw, &g); err != nil {
				return err
			}
			if g.ProjectID == projectID {
				out = append(out, &g)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list graph data")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GraphDataNodes(ctx context.Context, graphDataID int64) ([]*model.GraphDataNode, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	var out []*model.GraphDataNode
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixGraphDataNode, graphDataID), func(raw []byte) error {
			var n model.GraphDataNode
			if err := json.Unmarshal(raw, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list graph data nodes")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *Store) GraphDataEdges(ctx context.Context, graphDataID int64) ([]*model.GraphDataEdge, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	var out []*model.GraphDataEdge
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixGraphDataEdge, graphDataID), func(raw []byte) error {
			var e model.GraphDataEdge
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list graph data edges")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *Store) ReplaceChildren(ctx context.Context, graphDataID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, key(prefixGraphDataNode, graphDataID)); err != nil {
			return err
		}
		if err := deletePrefix(txn, key(prefixGraphDataEdge, graphDataID)); err != nil {
			return err
		}
		for _, n := range nodes {
			cp := *n
			cp.GraphDataID = graphDataID
			if err := put(txn, key(prefixGraphDataNode, graphDataID, n.ExternalID), &cp); err != nil {
				return err
			}
		}
		for _, e := range edges {
			cp := *e
			cp.GraphDataID = graphDataID
			if err := put(txn, key(prefixGraphDataEdge, graphDataID, e.ExternalID), &cp); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- Edits ----

// NextSequence increments the per-graph counter inside a single Badger
// transaction, which serialises against concurrent writers to the same
// key and so keeps assignment exclusive per parent GraphData.
func (s *Store) NextSequence(ctx context.Context, graphDataID int64) (int64, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return 0, err
	}
	var next int64
	err := s.db.Update(func(txn *badger.Txn) error {
		k := key(prefixEditSeq, graphDataID)
		var cur int64
		item, err := txn.Get(k)
		if err == nil {
			if verr := item.Value(func(v []byte) error { cur = btoi(v); return nil }); verr != nil {
				return verr
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		next = cur + 1
		return txn.Set(k, itob(next))
	})
	if err != nil {
		return 0, apperr.Internalf(err, "allocate sequence")
	}
	return next, nil
}

func (s *Store) AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error) {
	id, err := s.nextID("edit")
	if err != nil {
		return nil, err
	}
	cp := *edit
	cp.ID = id
	err = s.db.Update(func(txn *badger.Txn) error {
		k := key(prefixEdit, edit.GraphDataID, fmt.Sprintf("%020d", edit.SequenceNumber))
		if _, getErr := txn.Get(k); getErr == nil {
			return apperr.Conflictf("sequence %d already used for graph %d", edit.SequenceNumber, edit.GraphDataID)
		}
		return put(txn, k, &cp)
	})
	if err != nil {
		return nil, err
	}
	out := cp
	return &out, nil
}

func (s *Store) EditsForGraph(ctx context.Context, graphDataID int64, sinceSequence int64) ([]*model.GraphEdit, error) {
	var out []*model.GraphEdit
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixEdit, graphDataID), func(raw []byte) error {
			var e model.GraphEdit
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if e.SequenceNumber > sinceSequence {
				out = append(out, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list edits")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *Store) UpdateEdit(ctx context.Context, edit *model.GraphEdit) error {
	k := key(prefixEdit, edit.GraphDataID, fmt.Sprintf("%020d", edit.SequenceNumber))
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err != nil {
			return apperr.NotFoundf("edit seq %d not found for graph %d", edit.SequenceNumber, edit.GraphDataID)
		}
		return put(txn, k, edit)
	})
}

func (s *Store) ClearEdits(ctx context.Context, graphDataID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, key(prefixEdit, graphDataID)); err != nil {
			return err
		}
		return txn.Delete(key(prefixEditSeq, graphDataID))
	})
}

// ---- Projections ----

func (s *Store) CreateProjection(ctx context.Context, p *model.Projection) (*model.Projection, error) {
	if _, err := s.GetGraphData(ctx, p.GraphDataID); err != nil {
		return nil, err
	}
	id, err := s.nextID("projection")
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.ID = id
	cp.CreatedAt, cp.UpdatedAt = now(), now()
	if err := s.db.Update(func(txn *badger.Txn) error {
		return put(txn, key(prefixProjection, cp.GraphDataID, id), &cp)
	}); err != nil {
		return nil, apperr.Internalf(err, "create projection")
	}
	out := cp
	return &out, nil
}

func (s *Store) GetProjection(ctx context.Context, id int64) (*model.Projection, error) {
	var found *model.Projection
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, []byte{prefixProjection}, func(raw []byte) error {
			var p model.Projection
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			if p.ID == id {
				found = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "get projection")
	}
	if found == nil {
		return nil, apperr.NotFoundf("projection %d not found", id)
	}
	return found, nil
}

func (s *Store) ProjectionsForGraph(ctx context.Context, graphDataID int64) ([]*model.Projection, error) {
	var out []*model.Projection
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixProjection, graphDataID), func(raw []byte) error {
			var p model.Projection
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list projections")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteProjection(ctx context.Context, id int64) error {
	p, err := s.GetProjection(ctx, id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(prefixProjection, p.GraphDataID, id))
	})
}

// ---- Layers ----

func (s *Store) layerKey(l *model.ProjectLayer) []byte {
	return key(prefixLayer, l.ProjectID, l.LayerID, l.SourceDatasetID)
}

func (s *Store) UpsertProjectLayer(ctx context.Context, l *model.ProjectLayer) (*model.ProjectLayer, error) {
	cp := *l
	existing, err := s.ProjectLayer(ctx, l.ProjectID, l.LayerID, l.SourceDatasetID)
	if err == nil {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		id, aerr := s.nextID("layer")
		if aerr != nil {
			return nil, aerr
		}
		cp.ID = id
		cp.CreatedAt = now()
	}
	cp.UpdatedAt = now()
	if err := s.db.Update(func(txn *badger.Txn) error { return put(txn, s.layerKey(&cp), &cp) }); err != nil {
		return nil, apperr.Internalf(err, "upsert layer")
	}
	out := cp
	return &out, nil
}

func (s *Store) ProjectLayers(ctx context.Context, projectID int64) ([]*model.ProjectLayer, error) {
	var out []*model.ProjectLayer
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixLayer, projectID), func(raw []byte) error {
			var l model.ProjectLayer
			if err := json.Unmarshal(raw, &l); err != nil {
				return err
			}
			out = append(out, &l)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list layers")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LayerID < out[j].LayerID })
	return out, nil
}

func (s *Store) ProjectLayer(ctx context.Context, projectID int64, layerID string, sourceDatasetID int64) (*model.ProjectLayer, error) {
	var l model.ProjectLayer
	err := s.db.View(func(txn *badger.Txn) error {
		return getInto(txn, key(prefixLayer, projectID, layerID, sourceDatasetID), &l)
	})
	if err != nil {
		return nil, annotateNotFound(err, "layer %q not found for project %d", layerID, projectID)
	}
	return &l, nil
}

func (s *Store) LayerAliases(ctx context.Context, projectID int64) ([]*model.LayerAlias, error) {
	var out []*model.LayerAlias
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefixRaw(txn, key(prefixAlias, projectID), func(raw []byte) error {
			var a model.LayerAlias
			if err := json.Unmarshal(raw, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Internalf(err, "list aliases")
	}
	return out, nil
}

func (s *Store) UpsertLayerAlias(ctx context.Context, a *model.LayerAlias) (*model.LayerAlias, error) {
	k := key(prefixAlias, a.ProjectID, a.FromLayerID)
	cp := *a
	var existing model.LayerAlias
	err := s.db.View(func(txn *badger.Txn) error { return getInto(txn, k, &existing) })
	if err == nil {
		cp.ID = existing.ID
	} else {
		id, aerr := s.nextID("alias")
		if aerr != nil {
			return nil, aerr
		}
		cp.ID = id
	}
	if uerr := s.db.Update(func(txn *badger.Txn) error { return put(txn, k, &cp) }); uerr != nil {
		return nil, apperr.Internalf(uerr, "upsert alias")
	}
	out := cp
	return &out, nil
}
