// Package sqlite implements store.Store over a single SQLite file using
// database/sql and mattn/go-sqlite3. Structured payloads (tags, node
// configs, attributes) are stored as JSON text columns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// Store implements store.Store on top of a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	tags TEXT NOT NULL DEFAULT '[]',
	root_path TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	tags TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'draft',
	version INTEGER NOT NULL DEFAULT 0,
	canonical BLOB,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_project ON plans(project_id);

CREATE TABLE IF NOT EXISTS plan_dag_nodes (
	id TEXT NOT NULL,
	plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	pos_x REAL NOT NULL DEFAULT 0,
	pos_y REAL NOT NULL DEFAULT 0,
	label TEXT,
	description TEXT,
	config TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (plan_id, id)
);

CREATE TABLE IF NOT EXISTS plan_dag_edges (
	id TEXT NOT NULL,
	plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	source_node TEXT NOT NULL,
	target_node TEXT NOT NULL,
	label TEXT,
	data_type TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (plan_id, id)
);

CREATE TABLE IF NOT EXISTS graph_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT,
	source_type TEXT NOT NULL,
	file_format TEXT,
	data_type TEXT,
	origin TEXT,
	filename TEXT,
	raw_bytes BLOB,
	processed_at DATETIME,
	dag_node_id TEXT,
	source_hash TEXT,
	source_dataset_id INTEGER NOT NULL DEFAULT 0,
	computed_date DATETIME,
	last_edit_sequence INTEGER NOT NULL DEFAULT 0,
	has_pending_edits INTEGER NOT NULL DEFAULT 0,
	last_replay_at DATETIME,
	status TEXT NOT NULL DEFAULT 'processing',
	error_message TEXT,
	node_count INTEGER NOT NULL DEFAULT 0,
	edge_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_data_project ON graph_data(project_id);

CREATE TABLE IF NOT EXISTS graph_data_nodes (
	graph_data_id INTEGER NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	label TEXT,
	layer TEXT,
	is_partition INTEGER NOT NULL DEFAULT 0,
	belongs_to TEXT,
	weight REAL NOT NULL DEFAULT 0,
	comment TEXT,
	attributes TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (graph_data_id, external_id)
);

CREATE TABLE IF NOT EXISTS graph_data_edges (
	graph_data_id INTEGER NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	label TEXT,
	layer TEXT,
	weight REAL NOT NULL DEFAULT 0,
	comment TEXT,
	attributes TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (graph_data_id, external_id)
);

CREATE TABLE IF NOT EXISTS graph_edits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	graph_data_id INTEGER NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	field TEXT,
	old_value TEXT,
	new_value TEXT,
	sequence_number INTEGER NOT NULL,
	applied INTEGER NOT NULL DEFAULT 1,
	diagnostic TEXT,
	ts DATETIME NOT NULL,
	author TEXT,
	UNIQUE(graph_data_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS graph_edit_seq (
	graph_data_id INTEGER PRIMARY KEY,
	next_seq INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS project_layers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	layer_id TEXT NOT NULL,
	name TEXT,
	background_color TEXT,
	text_color TEXT,
	border_color TEXT,
	alias TEXT,
	source_dataset_id INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	placeholder INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(project_id, layer_id, source_dataset_id)
);

CREATE TABLE IF NOT EXISTS layer_aliases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	from_layer_id TEXT NOT NULL,
	to_project_layer INTEGER NOT NULL,
	UNIQUE(project_id, from_layer_id)
);

CREATE TABLE IF NOT EXISTS projections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	graph_data_id INTEGER NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projections_graph ON projections(graph_data_id);
`

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

func mapErr(err error, notFound string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf(notFound, args...)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apperr.Conflictf("%s", err.Error())
	}
	return apperr.Internalf(err, "%s", err.Error())
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// ---- Project ----

func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	tags, err := marshalJSON(p.Tags)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal tags")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, tags, root_path, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		p.Name, p.Description, tags, p.RootPath, now, now)
	if err != nil {
		return nil, mapErr(err, "")
	}
	id, _ := res.LastInsertId()
	return s.GetProject(ctx, id)
}

func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, tags, root_path, created_at, updated_at FROM projects WHERE id=?`, id)
	var p model.Project
	var tags string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &tags, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err, "project %d not found", id)
	}
	_ = unmarshalJSON(tags, &p.Tags)
	return &p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	tags, err := marshalJSON(p.Tags)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal tags")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, tags=?, root_path=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, tags, p.RootPath, time.Now().UTC(), p.ID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("project %d not found", p.ID)
	}
	return s.GetProject(ctx, p.ID)
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("project %d not found", id)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, tags, root_path, created_at, updated_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.Project
	for rows.Next() {
		var p model.Project
		var tags string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &tags, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		_ = unmarshalJSON(tags, &p.Tags)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---- Plan ----

func (s *Store) CreatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	tags, _ := marshalJSON(p.Tags)
	if p.Status == "" {
		p.Status = model.PlanDraft
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (project_id, name, description, tags, status, version, canonical, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ProjectID, p.Name, p.Description, tags, p.Status, p.Version, p.Canonical, now, now)
	if err != nil {
		return nil, mapErr(err, "")
	}
	id, _ := res.LastInsertId()
	return s.GetPlan(ctx, id)
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, tags, status, version, canonical, created_at, updated_at FROM plans WHERE id=?`, id)
	var p model.Plan
	var tags string
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &tags, &p.Status, &p.Version, &p.Canonical, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err, "plan %d not found", id)
	}
	_ = unmarshalJSON(tags, &p.Tags)
	return &p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	tags, _ := marshalJSON(p.Tags)
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET name=?, description=?, tags=?, status=?, version=version+1, canonical=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, tags, p.Status, p.Canonical, time.Now().UTC(), p.ID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("plan %d not found", p.ID)
	}
	return s.GetPlan(ctx, p.ID)
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id=?`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("plan %d not found", id)
	}
	return nil
}

func (s *Store) PlansForProject(ctx context.Context, projectID int64) ([]*model.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, description, tags, status, version, canonical, created_at, updated_at FROM plans WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.Plan
	for rows.Next() {
		var p model.Plan
		var tags string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &tags, &p.Status, &p.Version, &p.Canonical, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		_ = unmarshalJSON(tags, &p.Tags)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---- DAG ----

func (s *Store) NodesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_id, kind, pos_x, pos_y, label, description, config, created_at, updated_at FROM plan_dag_nodes WHERE plan_id=? ORDER BY id`, planID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.PlanDAGNode
	for rows.Next() {
		var n model.PlanDAGNode
		var config string
		if err := rows.Scan(&n.ID, &n.PlanID, &n.Kind, &n.Position.X, &n.Position.Y, &n.Metadata.Label, &n.Metadata.Description, &config, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		_ = unmarshalJSON(config, &n.Config)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) EdgesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan_id, source_node, target_node, label, data_type, created_at FROM plan_dag_edges WHERE plan_id=? ORDER BY id`, planID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.PlanDAGEdge
	for rows.Next() {
		var e model.PlanDAGEdge
		if err := rows.Scan(&e.ID, &e.PlanID, &e.SourceNode, &e.TargetNode, &e.Metadata.Label, &e.Metadata.DataType, &e.CreatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceDAG(ctx context.Context, planID int64, nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err, "")
	}
	defer tx.Rollback()

	var exists int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM plans WHERE id=?`, planID).Scan(&exists); err != nil {
		return mapErr(err, "plan %d not found", planID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_dag_nodes WHERE plan_id=?`, planID); err != nil {
		return mapErr(err, "")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_dag_edges WHERE plan_id=?`, planID); err != nil {
		return mapErr(err, "")
	}
	now := time.Now().UTC()
	for _, n := range nodes {
		config, err := marshalJSON(n.Config)
		if err != nil {
			return apperr.Internalf(err, "marshal node config")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plan_dag_nodes (id, plan_id, kind, pos_x, pos_y, label, description, config, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			n.ID, planID, n.Kind, n.Position.X, n.Position.Y, n.Metadata.Label, n.Metadata.Description, config, now, now); err != nil {
			return mapErr(err, "")
		}
	}
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plan_dag_edges (id, plan_id, source_node, target_node, label, data_type, created_at) VALUES (?,?,?,?,?,?,?)`,
			e.ID, planID, e.SourceNode, e.TargetNode, e.Metadata.Label, e.Metadata.DataType, now); err != nil {
			return mapErr(err, "")
		}
	}
	return tx.Commit()
}

// ---- GraphData ----

func (s *Store) CreateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_data (project_id, name, source_type, file_format, data_type, origin, filename, raw_bytes,
			processed_at, dag_node_id, source_hash, source_dataset_id, computed_date, last_edit_sequence, has_pending_edits, last_replay_at,
			status, error_message, node_count, edge_count, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ProjectID, g.Name, g.SourceType, g.FileFormat, g.DataType, g.Origin, g.Filename, g.RawBytes,
		nullTime(g.ProcessedAt), g.DAGNodeID, g.SourceHash, g.SourceDatasetID, nullTime(g.ComputedDate), g.LastEditSeq, g.HasPendingEdits, nullTime(g.LastReplayAt),
		orDefault(string(g.Status), "processing"), g.ErrorMsg, g.NodeCount, g.EdgeCount, now, now)
	if err != nil {
		return nil, mapErr(err, "")
	}
	id, _ := res.LastInsertId()
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO graph_edit_seq (graph_data_id, next_seq) VALUES (?, 1)`, id); err != nil {
		return nil, mapErr(err, "")
	}
	return s.GetGraphData(ctx, id)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Store) scanGraphData(row interface {
	Scan(dest ...any) error
}) (*model.GraphData, error) {
	var g model.GraphData
	var processedAt, computedDate, lastReplayAt sql.NullTime
	if err := row.Scan(&g.ID, &g.ProjectID, &g.Name, &g.SourceType, &g.FileFormat, &g.DataType, &g.Origin, &g.Filename, &g.RawBytes,
		&processedAt, &g.DAGNodeID, &g.SourceHash, &g.SourceDatasetID, &computedDate, &g.LastEditSeq, &g.HasPendingEdits, &lastReplayAt,
		&g.Status, &g.ErrorMsg, &g.NodeCount, &g.EdgeCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.ProcessedAt, g.ComputedDate, g.LastReplayAt = processedAt.Time, computedDate.Time, lastReplayAt.Time
	return &g, nil
}

func (s *Store) GetGraphData(ctx context.Context, id int64) (*model.GraphData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, source_type, file_format, data_type, origin, filename, raw_bytes,
			processed_at, dag_node_id, source_hash, source_dataset_id, computed_date, last_edit_sequence, has_pending_edits, last_replay_at,
			status, error_message, node_count, edge_count, created_at, updated_at
		 FROM graph_data WHERE id=?`, id)
	g, err := s.scanGraphData(row)
	if err != nil {
		return nil, mapErr(err, "graph data %d not found", id)
	}
	return g, nil
}

func (s *Store) UpdateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE graph_data SET name=?, source_type=?, file_format=?, data_type=?, origin=?, filename=?, raw_bytes=?,
			processed_at=?, dag_node_id=?, source_hash=?, source_dataset_id=?, computed_date=?, last_edit_sequence=?, has_pending_edits=?,
			last_replay_at=?, status=?, error_message=?, node_count=?, edge_count=?, updated_at=?
		 WHERE id=?`,
		g.Name, g.SourceType, g.FileFormat, g.DataType, g.Origin, g.Filename, g.RawBytes,
		nullTime(g.ProcessedAt), g.DAGNodeID, g.SourceHash, g.SourceDatasetID, nullTime(g.ComputedDate), g.LastEditSeq, g.HasPendingEdits,
		nullTime(g.LastReplayAt), g.Status, g.ErrorMsg, g.NodeCount, g.EdgeCount, time.Now().UTC(), g.ID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("graph data %d not found", g.ID)
	}
	return s.GetGraphData(ctx, g.ID)
}

func (s *Store) DeleteGraphData(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graph_data WHERE id=?`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("graph data %d not found", id)
	}
	return nil
}

func (s *Store) GraphDataForProject(ctx context.Context, projectID int64) ([]*model.GraphData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, source_type, file_format, data_type, origin, filename, raw_bytes,
			processed_at, dag_node_id, source_hash, source_dataset_id, computed_date, last_edit_sequence, has_pending_edits, last_replay_at,
			status, error_message, node_count, edge_count, created_at, updated_at
		 FROM graph_data WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.GraphData
	for rows.Next() {
		g, err := s.scanGraphData(rows)
		if err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) GraphDataNodes(ctx context.Context, graphDataID int64) ([]*model.GraphDataNode, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT graph_data_id, external_id, label, layer, is_partition, belongs_to, weight, comment, attributes
		 FROM graph_data_nodes WHERE graph_data_id=? ORDER BY external_id`, graphDataID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.GraphDataNode
	for rows.Next() {
		var n model.GraphDataNode
		var attrs string
		if err := rows.Scan(&n.GraphDataID, &n.ExternalID, &n.Label, &n.Layer, &n.IsPartition, &n.BelongsTo, &n.Weight, &n.Comment, &attrs); err != nil {
			return nil, mapErr(err, "")
		}
		_ = unmarshalJSON(attrs, &n.Attributes)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) GraphDataEdges(ctx context.Context, graphDataID int64) ([]*model.GraphDataEdge, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT graph_data_id, external_id, source, target, label, layer, weight, comment, attributes
		 FROM graph_data_edges WHERE graph_data_id=? ORDER BY external_id`, graphDataID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.GraphDataEdge
	for rows.Next() {
		var e model.GraphDataEdge
		var attrs string
		if err := rows.Scan(&e.GraphDataID, &e.ExternalID, &e.Source, &e.Target, &e.Label, &e.Layer, &e.Weight, &e.Comment, &attrs); err != nil {
			return nil, mapErr(err, "")
		}
		_ = unmarshalJSON(attrs, &e.Attributes)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceChildren(ctx context.Context, graphDataID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err, "")
	}
	defer tx.Rollback()

	var exists int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM graph_data WHERE id=?`, graphDataID).Scan(&exists); err != nil {
		return mapErr(err, "graph data %d not found", graphDataID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_data_nodes WHERE graph_data_id=?`, graphDataID); err != nil {
		return mapErr(err, "")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_data_edges WHERE graph_data_id=?`, graphDataID); err != nil {
		return mapErr(err, "")
	}
	for _, n := range nodes {
		attrs, err := marshalJSON(n.Attributes)
		if err != nil {
			return apperr.Internalf(err, "marshal node attributes")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_data_nodes (graph_data_id, external_id, label, layer, is_partition, belongs_to, weight, comment, attributes)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			graphDataID, n.ExternalID, n.Label, n.Layer, n.IsPartition, n.BelongsTo, n.Weight, n.Comment, attrs); err != nil {
			return mapErr(err, "")
		}
	}
	for _, e := range edges {
		attrs, err := marshalJSON(e.Attributes)
		if err != nil {
			return apperr.Internalf(err, "marshal edge attributes")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_data_edges (graph_data_id, external_id, source, target, label, layer, weight, comment, attributes)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			graphDataID, e.ExternalID, e.Source, e.Target, e.Label, e.Layer, e.Weight, e.Comment, attrs); err != nil {
			return mapErr(err, "")
		}
	}
	return tx.Commit()
}

// ---- Edits ----

// NextSequence assigns the next sequence number inside a transaction,
// which holds sqlite's write lock for the duration and so serialises
// assignment per parent GraphData.
func (s *Store) NextSequence(ctx context.Context, graphDataID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, mapErr(err, "")
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next_seq FROM graph_edit_seq WHERE graph_data_id=?`, graphDataID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM graph_data WHERE id=?`, graphDataID).Scan(&exists); err != nil {
			return 0, mapErr(err, "graph data %d not found", graphDataID)
		}
		next = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO graph_edit_seq (graph_data_id, next_seq) VALUES (?, ?)`, graphDataID, next+1); err != nil {
			return 0, mapErr(err, "")
		}
	} else if err != nil {
		return 0, mapErr(err, "")
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE graph_edit_seq SET next_seq=? WHERE graph_data_id=?`, next+1, graphDataID); err != nil {
			return 0, mapErr(err, "")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, mapErr(err, "")
	}
	return next, nil
}

func (s *Store) AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_edits (graph_data_id, target_type, target_id, operation, field, old_value, new_value, sequence_number, applied, diagnostic, ts, author)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		edit.GraphDataID, edit.TargetType, edit.TargetID, edit.Operation, edit.Field, edit.OldValue, edit.NewValue,
		edit.SequenceNumber, edit.Applied, edit.Diagnostic, edit.Timestamp, edit.Author)
	if err != nil {
		return nil, mapErr(err, "")
	}
	id, _ := res.LastInsertId()
	out := *edit
	out.ID = id
	return &out, nil
}

func (s *Store) EditsForGraph(ctx context.Context, graphDataID int64, sinceSequence int64) ([]*model.GraphEdit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_data_id, target_type, target_id, operation, field, old_value, new_value, sequence_number, applied, diagnostic, ts, author
		 FROM graph_edits WHERE graph_data_id=? AND sequence_number>? ORDER BY sequence_number`, graphDataID, sinceSequence)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.GraphEdit
	for rows.Next() {
		var e model.GraphEdit
		if err := rows.Scan(&e.ID, &e.GraphDataID, &e.TargetType, &e.TargetID, &e.Operation, &e.Field, &e.OldValue, &e.NewValue,
			&e.SequenceNumber, &e.Applied, &e.Diagnostic, &e.Timestamp, &e.Author); err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEdit(ctx context.Context, edit *model.GraphEdit) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE graph_edits SET applied=?, diagnostic=? WHERE id=?`, edit.Applied, edit.Diagnostic, edit.ID)
	if err != nil {
		return mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("edit %d not found", edit.ID)
	}
	return nil
}

func (s *Store) ClearEdits(ctx context.Context, graphDataID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM graph_edits WHERE graph_data_id=?`, graphDataID); err != nil {
		return mapErr(err, "")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE graph_edit_seq SET next_seq=1 WHERE graph_data_id=?`, graphDataID)
	return mapErr(err, "")
}

// ---- Layers ----

func (s *Store) UpsertProjectLayer(ctx context.Context, l *model.ProjectLayer) (*model.ProjectLayer, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_layers (project_id, layer_id, name, background_color, text_color, border_color, alias, source_dataset_id, enabled, placeholder, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(project_id, layer_id, source_dataset_id) DO UPDATE SET
			name=excluded.name, background_color=excluded.background_color, text_color=excluded.text_color,
			border_color=excluded.border_color, alias=excluded.alias, enabled=excluded.enabled,
			placeholder=excluded.placeholder, updated_at=excluded.updated_at`,
		l.ProjectID, l.LayerID, l.Name, l.BackgroundColor, l.TextColor, l.BorderColor, l.Alias, l.SourceDatasetID, l.Enabled, l.Placeholder, now, now)
	if err != nil {
		return nil, mapErr(err, "")
	}
	return s.ProjectLayer(ctx, l.ProjectID, l.LayerID, l.SourceDatasetID)
}

func (s *Store) ProjectLayers(ctx context.Context, projectID int64) ([]*model.ProjectLayer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, layer_id, name, background_color, text_color, border_color, alias, source_dataset_id, enabled, placeholder, created_at, updated_at
		 FROM project_layers WHERE project_id=? ORDER BY layer_id`, projectID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.ProjectLayer
	for rows.Next() {
		var l model.ProjectLayer
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.LayerID, &l.Name, &l.BackgroundColor, &l.TextColor, &l.BorderColor, &l.Alias, &l.SourceDatasetID, &l.Enabled, &l.Placeholder, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *Store) ProjectLayer(ctx context.Context, projectID int64, layerID string, sourceDatasetID int64) (*model.ProjectLayer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, layer_id, name, background_color, text_color, border_color, alias, source_dataset_id, enabled, placeholder, created_at, updated_at
		 FROM project_layers WHERE project_id=? AND layer_id=? AND source_dataset_id=?`, projectID, layerID, sourceDatasetID)
	var l model.ProjectLayer
	if err := row.Scan(&l.ID, &l.ProjectID, &l.LayerID, &l.Name, &l.BackgroundColor, &l.TextColor, &l.BorderColor, &l.Alias, &l.SourceDatasetID, &l.Enabled, &l.Placeholder, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, mapErr(err, "layer %q not found for project %d", layerID, projectID)
	}
	return &l, nil
}

func (s *Store) LayerAliases(ctx context.Context, projectID int64) ([]*model.LayerAlias, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, from_layer_id, to_project_layer FROM layer_aliases WHERE project_id=?`, projectID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.LayerAlias
	for rows.Next() {
		var a model.LayerAlias
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.FromLayerID, &a.ToProjectLayer); err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertLayerAlias(ctx context.Context, a *model.LayerAlias) (*model.LayerAlias, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO layer_aliases (project_id, from_layer_id, to_project_layer) VALUES (?,?,?)
		 ON CONFLICT(project_id, from_layer_id) DO UPDATE SET to_project_layer=excluded.to_project_layer`,
		a.ProjectID, a.FromLayerID, a.ToProjectLayer)
	if err != nil {
		return nil, mapErr(err, "")
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, project_id, from_layer_id, to_project_layer FROM layer_aliases WHERE project_id=? AND from_layer_id=?`, a.ProjectID, a.FromLayerID)
	var out model.LayerAlias
	if err := row.Scan(&out.ID, &out.ProjectID, &out.FromLayerID, &out.ToProjectLayer); err != nil {
		return nil, mapErr(err, "")
	}
	return &out, nil
}

// ---- Projections ----

func (s *Store) CreateProjection(ctx context.Context, p *model.Projection) (*model.Projection, error) {
	if _, err := s.GetGraphData(ctx, p.GraphDataID); err != nil {
		return nil, err
	}
	config, err := marshalJSON(p.Config)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal projection config")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projections (graph_data_id, kind, config, created_at, updated_at) VALUES (?,?,?,?,?)`,
		p.GraphDataID, p.Kind, config, now, now)
	if err != nil {
		return nil, mapErr(err, "")
	}
	id, _ := res.LastInsertId()
	return s.GetProjection(ctx, id)
}

func (s *Store) GetProjection(ctx context.Context, id int64) (*model.Projection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_data_id, kind, config, created_at, updated_at FROM projections WHERE id=?`, id)
	var p model.Projection
	var config string
	if err := row.Scan(&p.ID, &p.GraphDataID, &p.Kind, &config, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err, "projection %d not found", id)
	}
	_ = unmarshalJSON(config, &p.Config)
	return &p, nil
}

func (s *Store) ProjectionsForGraph(ctx context.Context, graphDataID int64) ([]*model.Projection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_data_id, kind, config, created_at, updated_at FROM projections WHERE graph_data_id=? ORDER BY id`, graphDataID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.Projection
	for rows.Next() {
		var p model.Projection
		var config string
		if err := rows.Scan(&p.ID, &p.GraphDataID, &p.Kind, &config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		_ = unmarshalJSON(config, &p.Config)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProjection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projections WHERE id=?`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("projection %d not found", id)
	}
	return nil
}
