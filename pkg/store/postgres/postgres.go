// Package postgres implements store.Store over PostgreSQL using
// jackc/pgx/v5. The pool sits behind the DBPool interface so tests can
// substitute pgxmock.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// DBPool is the subset of *pgxpool.Pool the store needs, so tests can
// substitute github.com/pashagolub/pgxmock/v3.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements store.Store on top of PostgreSQL.
type Store struct {
	pool DBPool
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL at connString and ensures the schema
// exists.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, apperr.Internalf(err, "connect to postgres")
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool (or a pgxmock double in tests).
func NewWithPool(pool DBPool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	tags JSONB NOT NULL DEFAULT '[]',
	root_path TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	tags JSONB NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'draft',
	version BIGINT NOT NULL DEFAULT 0,
	canonical BYTEA,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_project ON plans(project_id);

CREATE TABLE IF NOT EXISTS plan_dag_nodes (
	id TEXT NOT NULL,
	plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	pos_x DOUBLE PRECISION NOT NULL DEFAULT 0,
	pos_y DOUBLE PRECISION NOT NULL DEFAULT 0,
	label TEXT,
	description TEXT,
	config JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (plan_id, id)
);

CREATE TABLE IF NOT EXISTS plan_dag_edges (
	id TEXT NOT NULL,
	plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	source_node TEXT NOT NULL,
	target_node TEXT NOT NULL,
	label TEXT,
	data_type TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (plan_id, id)
);

CREATE TABLE IF NOT EXISTS graph_data (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT,
	source_type TEXT NOT NULL,
	file_format TEXT,
	data_type TEXT,
	origin TEXT,
	filename TEXT,
	raw_bytes BYTEA,
	processed_at TIMESTAMPTZ,
	dag_node_id TEXT,
	source_hash TEXT,
	source_dataset_id BIGINT NOT NULL DEFAULT 0,
	computed_date TIMESTAMPTZ,
	last_edit_sequence BIGINT NOT NULL DEFAULT 0,
	has_pending_edits BOOLEAN NOT NULL DEFAULT FALSE,
	last_replay_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'processing',
	error_message TEXT,
	node_count INT NOT NULL DEFAULT 0,
	edge_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_data_project ON graph_data(project_id);

CREATE TABLE IF NOT EXISTS graph_data_nodes (
	graph_data_id BIGINT NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	label TEXT,
	layer TEXT,
	is_partition BOOLEAN NOT NULL DEFAULT FALSE,
	belongs_to TEXT,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0,
	comment TEXT,
	attributes JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (graph_data_id, external_id)
);

CREATE TABLE IF NOT EXISTS graph_data_edges (
	graph_data_id BIGINT NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	label TEXT,
	layer TEXT,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0,
	comment TEXT,
	attributes JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (graph_data_id, external_id)
);

CREATE TABLE IF NOT EXISTS graph_edits (
	id BIGSERIAL PRIMARY KEY,
	graph_data_id BIGINT NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	field TEXT,
	old_value JSONB,
	new_value JSONB,
	sequence_number BIGINT NOT NULL,
	applied BOOLEAN NOT NULL DEFAULT TRUE,
	diagnostic TEXT,
	ts TIMESTAMPTZ NOT NULL,
	author TEXT,
	UNIQUE(graph_data_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS graph_edit_seq (
	graph_data_id BIGINT PRIMARY KEY,
	next_seq BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS project_layers (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	layer_id TEXT NOT NULL,
	name TEXT,
	background_color TEXT,
	text_color TEXT,
	border_color TEXT,
	alias TEXT,
	source_dataset_id BIGINT NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	placeholder BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(project_id, layer_id, source_dataset_id)
);

CREATE TABLE IF NOT EXISTS layer_aliases (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	from_layer_id TEXT NOT NULL,
	to_project_layer BIGINT NOT NULL,
	UNIQUE(project_id, from_layer_id)
);

CREATE TABLE IF NOT EXISTS projections (
	id BIGSERIAL PRIMARY KEY,
	graph_data_id BIGINT NOT NULL REFERENCES graph_data(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	config JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projections_graph ON projections(graph_data_id);
`

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return apperr.Internalf(err, "init postgres schema")
	}
	return nil
}

func mapErr(err error, notFound string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFoundf(notFound, args...)
	}
	if strings.Contains(err.Error(), "duplicate key value") {
		return apperr.Conflictf("%s", err.Error())
	}
	return apperr.Internalf(err, "%s", err.Error())
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// ---- Project ----

func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	now := time.Now().UTC()
	var id int64
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, description, tags, root_path, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		p.Name, p.Description, tags, p.RootPath, now, now).Scan(&id)
	if err != nil {
		return nil, mapErr(err, "")
	}
	return s.GetProject(ctx, id)
}

func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, description, tags, root_path, created_at, updated_at FROM projects WHERE id=$1`, id)
	var p model.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Tags, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err, "project %d not found", id)
	}
	return &p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET name=$1, description=$2, tags=$3, root_path=$4, updated_at=$5 WHERE id=$6`,
		p.Name, p.Description, p.Tags, p.RootPath, time.Now().UTC(), p.ID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.NotFoundf("project %d not found", p.ID)
	}
	return s.GetProject(ctx, p.ID)
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("project %d not found", id)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, tags, root_path, created_at, updated_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Tags, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---- Plan ----

func (s *Store) CreatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	if p.Status == "" {
		p.Status = model.PlanDraft
	}
	now := time.Now().UTC()
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO plans (project_id, name, description, tags, status, version, canonical, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		p.ProjectID, p.Name, p.Description, tags, p.Status, p.Version, p.Canonical, now, now).Scan(&id)
	if err != nil {
		return nil, mapErr(err, "")
	}
	return s.GetPlan(ctx, id)
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, description, tags, status, version, canonical, created_at, updated_at FROM plans WHERE id=$1`, id)
	var p model.Plan
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.Tags, &p.Status, &p.Version, &p.Canonical, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err, "plan %d not found", id)
	}
	return &p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET name=$1, description=$2, tags=$3, status=$4, version=version+1, canonical=$5, updated_at=$6 WHERE id=$7`,
		p.Name, p.Description, p.Tags, p.Status, p.Canonical, time.Now().UTC(), p.ID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.NotFoundf("plan %d not found", p.ID)
	}
	return s.GetPlan(ctx, p.ID)
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plans WHERE id=$1`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("plan %d not found", id)
	}
	return nil
}

func (s *Store) PlansForProject(ctx context.Context, projectID int64) ([]*model.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, description, tags, status, version, canonical, created_at, updated_at FROM plans WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.Plan
	for rows.Next() {
		var p model.Plan
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.Tags, &p.Status, &p.Version, &p.Canonical, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---- DAG ----

func (s *Store) NodesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGNode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, plan_id, kind, pos_x, pos_y, label, description, config, created_at, updated_at FROM plan_dag_nodes WHERE plan_id=$1 ORDER BY id`, planID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.PlanDAGNode
	for rows.Next() {
		var n model.PlanDAGNode
		var config []byte
		if err := rows.Scan(&n.ID, &n.PlanID, &n.Kind, &n.Position.X, &n.Position.Y, &n.Metadata.Label, &n.Metadata.Description, &config, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		_ = json.Unmarshal(config, &n.Config)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) EdgesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, plan_id, source_node, target_node, label, data_type, created_at FROM plan_dag_edges WHERE plan_id=$1 ORDER BY id`, planID)
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err, "")
	}
	defer tx.Rollback(ctx)

	var exists int64
	if err := tx.QueryRow(ctx, `SELECT id FROM plans WHERE id=$1`, planID).Scan(&exists); err != nil {
		return mapErr(err, "plan %d not found", planID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM plan_dag_nodes WHERE plan_id=$1`, planID); err != nil {
		return mapErr(err, "")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM plan_dag_edges WHERE plan_id=$1`, planID); err != nil {
		return mapErr(err, "")
	}
	now := time.Now().UTC()
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			return apperr.Conflictf("duplicate node id %q in plan %d", n.ID, planID)
		}
		seen[n.ID] = true
		config, err := json.Marshal(n.Config)
		if err != nil {
			return apperr.Internalf(err, "marshal node config")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO plan_dag_nodes (id, plan_id, kind, pos_x, pos_y, label, description, config, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			n.ID, planID, n.Kind, n.Position.X, n.Position.Y, n.Metadata.Label, n.Metadata.Description, config, now, now); err != nil {
			return mapErr(err, "")
		}
	}
	for _, e := range edges {
		if _, err := tx.Exec(ctx,
			`INSERT INTO plan_dag_edges (id, plan_id, source_node, target_node, label, data_type, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, planID, e.SourceNode, e.TargetNode, e.Metadata.Label, e.Metadata.DataType, now); err != nil {
			return mapErr(err, "")
		}
	}
	return tx.Commit(ctx)
}

// ---- GraphData ----

func (s *Store) CreateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	now := time.Now().UTC()
	status := g.Status
	if status == "" {
		status = model.GraphDataProcessing
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO graph_data (project_id, name, source_type, file_format, data_type, origin, filename, raw_bytes,
			processed_at, dag_node_id, source_hash, source_dataset_id, computed_date, last_edit_sequence, has_pending_edits, last_replay_at,
			status, error_message, node_count, edge_count, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22) RETURNING id`,
		g.ProjectID, g.Name, g.SourceType, g.FileFormat, g.DataType, g.Origin, g.Filename, g.RawBytes,
		nullTime(g.ProcessedAt), g.DAGNodeID, g.SourceHash, g.SourceDatasetID, nullTime(g.ComputedDate), g.LastEditSeq, g.HasPendingEdits,
		nullTime(g.LastReplayAt), status, g.ErrorMsg, g.NodeCount, g.EdgeCount, now, now).Scan(&id)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO graph_edit_seq (graph_data_id, next_seq) VALUES ($1, 1) ON CONFLICT DO NOTHING`, id); err != nil {
		return nil, mapErr(err, "")
	}
	return s.GetGraphData(ctx, id)
}

func (s *Store) scanGraphData(row pgx.Row) (*model.GraphData, error) {
	var g model.GraphData
	var processedAt, computedDate, lastReplayAt *time.Time
	if err := row.Scan(&g.ID, &g.ProjectID, &g.Name, &g.SourceType, &g.FileFormat, &g.DataType, &g.Origin, &g.Filename, &g.RawBytes,
		&processedAt, &g.DAGNodeID, &g.SourceHash, &g.SourceDatasetID, &computedDate, &g.LastEditSeq, &g.HasPendingEdits, &lastReplayAt,
		&g.Status, &g.ErrorMsg, &g.NodeCount, &g.EdgeCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if processedAt != nil {
		g.ProcessedAt = *processedAt
	}
	if computedDate != nil {
		g.ComputedDate = *computedDate
	}
	if lastReplayAt != nil {
		g.LastReplayAt = *lastReplayAt
	}
	return &g, nil
}

const graphDataCols = `id, project_id, name, source_type, file_format, data_type, origin, filename, raw_bytes,
			processed_at, dag_node_id, source_hash, source_dataset_id, computed_date, last_edit_sequence, has_pending_edits, last_replay_at,
			status, error_message, node_count, edge_count, created_at, updated_at`

func (s *Store) GetGraphData(ctx context.Context, id int64) (*model.GraphData, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM graph_data WHERE id=$1`, graphDataCols), id)
	g, err := s.scanGraphData(row)
	if err != nil {
		return nil, mapErr(err, "graph data %d not found", id)
	}
	return g, nil
}

func (s *Store) UpdateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE graph_data SET name=$1, source_type=$2, file_format=$3, data_type=$4, origin=$5, filename=$6, raw_bytes=$7,
			processed_at=$8, dag_node_id=$9, source_hash=$10, source_dataset_id=$11, computed_date=$12, last_edit_sequence=$13, has_pending_edits=$14,
			last_replay_at=$15, status=$16, error_message=$17, node_count=$18, edge_count=$19, updated_at=$20
		 WHERE id=$21`,
		g.Name, g.SourceType, g.FileFormat, g.DataType, g.Origin, g.Filename, g.RawBytes,
		nullTime(g.ProcessedAt), g.DAGNodeID, g.SourceHash, g.SourceDatasetID, nullTime(g.ComputedDate), g.LastEditSeq, g.HasPendingEdits,
		nullTime(g.LastReplayAt), g.Status, g.ErrorMsg, g.NodeCount, g.EdgeCount, time.Now().UTC(), g.ID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.NotFoundf("graph data %d not found", g.ID)
	}
	return s.GetGraphData(ctx, g.ID)
}

func (s *Store) DeleteGraphData(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM graph_data WHERE id=$1`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("graph data %d not found", id)
	}
	return nil
}

func (s *Store) GraphDataForProject(ctx context.Context, projectID int64) ([]*model.GraphData, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM graph_data WHERE project_id=$1 ORDER BY id`, graphDataCols), projectID)
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
	rows, err := s.pool.Query(ctx,
		`SELECT graph_data_id, external_id, label, layer, is_partition, belongs_to, weight, comment, attributes
		 FROM graph_data_nodes WHERE graph_data_id=$1 ORDER BY external_id`, graphDataID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.GraphDataNode
	for rows.Next() {
		var n model.GraphDataNode
		var attrs []byte
		if err := rows.Scan(&n.GraphDataID, &n.ExternalID, &n.Label, &n.Layer, &n.IsPartition, &n.BelongsTo, &n.Weight, &n.Comment, &attrs); err != nil {
			return nil, mapErr(err, "")
		}
		_ = json.Unmarshal(attrs, &n.Attributes)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) GraphDataEdges(ctx context.Context, graphDataID int64) ([]*model.GraphDataEdge, error) {
	if _, err := s.GetGraphData(ctx, graphDataID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT graph_data_id, external_id, source, target, label, layer, weight, comment, attributes
		 FROM graph_data_edges WHERE graph_data_id=$1 ORDER BY external_id`, graphDataID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.GraphDataEdge
	for rows.Next() {
		var e model.GraphDataEdge
		var attrs []byte
		if err := rows.Scan(&e.GraphDataID, &e.ExternalID, &e.Source, &e.Target, &e.Label, &e.Layer, &e.Weight, &e.Comment, &attrs); err != nil {
			return nil, mapErr(err, "")
		}
		_ = json.Unmarshal(attrs, &e.Attributes)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceChildren(ctx context.Context, graphDataID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err, "")
	}
	defer tx.Rollback(ctx)

	var exists int64
	if err := tx.QueryRow(ctx, `SELECT id FROM graph_data WHERE id=$1`, graphDataID).Scan(&exists); err != nil {
		return mapErr(err, "graph data %d not found", graphDataID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_data_nodes WHERE graph_data_id=$1`, graphDataID); err != nil {
		return mapErr(err, "")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_data_edges WHERE graph_data_id=$1`, graphDataID); err != nil {
		return mapErr(err, "")
	}
	for _, n := range nodes {
		attrs, err := json.Marshal(n.Attributes)
		if err != nil {
			return apperr.Internalf(err, "marshal node attributes")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO graph_data_nodes (graph_data_id, external_id, label, layer, is_partition, belongs_to, weight, comment, attributes)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			graphDataID, n.ExternalID, n.Label, n.Layer, n.IsPartition, n.BelongsTo, n.Weight, n.Comment, attrs); err != nil {
			return mapErr(err, "")
		}
	}
	for _, e := range edges {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return apperr.Internalf(err, "marshal edge attributes")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO graph_data_edges (graph_data_id, external_id, source, target, label, layer, weight, comment, attributes)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			graphDataID, e.ExternalID, e.Source, e.Target, e.Label, e.Layer, e.Weight, e.Comment, attrs); err != nil {
			return mapErr(err, "")
		}
	}
	return tx.Commit(ctx)
}

// ---- Edits ----

// NextSequence assigns the next sequence number inside a transaction
// using SELECT ... FOR UPDATE on the counter row, serialising
// assignment per parent GraphData.
func (s *Store) NextSequence(ctx context.Context, graphDataID int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, mapErr(err, "")
	}
	defer tx.Rollback(ctx)

	var next int64
	err = tx.QueryRow(ctx, `SELECT next_seq FROM graph_edit_seq WHERE graph_data_id=$1 FOR UPDATE`, graphDataID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists int64
		if err := tx.QueryRow(ctx, `SELECT id FROM graph_data WHERE id=$1`, graphDataID).Scan(&exists); err != nil {
			return 0, mapErr(err, "graph data %d not found", graphDataID)
		}
		next = 1
		if _, err := tx.Exec(ctx, `INSERT INTO graph_edit_seq (graph_data_id, next_seq) VALUES ($1, $2)`, graphDataID, next+1); err != nil {
			return 0, mapErr(err, "")
		}
	} else if err != nil {
		return 0, mapErr(err, "")
	} else {
		if _, err := tx.Exec(ctx, `UPDATE graph_edit_seq SET next_seq=$1 WHERE graph_data_id=$2`, next+1, graphDataID); err != nil {
			return 0, mapErr(err, "")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, mapErr(err, "")
	}
	return next, nil
}

func (s *Store) AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO graph_edits (graph_data_id, target_type, target_id, operation, field, old_value, new_value, sequence_number, applied, diagnostic, ts, author)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		edit.GraphDataID, edit.TargetType, edit.TargetID, edit.Operation, edit.Field, edit.OldValue, edit.NewValue,
		edit.SequenceNumber, edit.Applied, edit.Diagnostic, edit.Timestamp, edit.Author).Scan(&id)
	if err != nil {
		return nil, mapErr(err, "")
	}
	out := *edit
	out.ID = id
	return &out, nil
}

func (s *Store) EditsForGraph(ctx context.Context, graphDataID int64, sinceSequence int64) ([]*model.GraphEdit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, graph_data_id, target_type, target_id, operation, field, old_value, new_value, sequence_number, applied, diagnostic, ts, author
		 FROM graph_edits WHERE graph_data_id=$1 AND sequence_number>$2 ORDER BY sequence_number`, graphDataID, sinceSequence)
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
	tag, err := s.pool.Exec(ctx, `UPDATE graph_edits SET applied=$1, diagnostic=$2 WHERE id=$3`, edit.Applied, edit.Diagnostic, edit.ID)
	if err != nil {
		return mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("edit %d not found", edit.ID)
	}
	return nil
}

func (s *Store) ClearEdits(ctx context.Context, graphDataID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_edits WHERE graph_data_id=$1`, graphDataID); err != nil {
		return mapErr(err, "")
	}
	_, err := s.pool.Exec(ctx, `UPDATE graph_edit_seq SET next_seq=1 WHERE graph_data_id=$1`, graphDataID)
	return mapErr(err, "")
}

// ---- Layers ----

func (s *Store) UpsertProjectLayer(ctx context.Context, l *model.ProjectLayer) (*model.ProjectLayer, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_layers (project_id, layer_id, name, background_color, text_color, border_color, alias, source_dataset_id, enabled, placeholder, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (project_id, layer_id, source_dataset_id) DO UPDATE SET
			name=EXCLUDED.name, background_color=EXCLUDED.background_color, text_color=EXCLUDED.text_color,
			border_color=EXCLUDED.border_color, alias=EXCLUDED.alias, enabled=EXCLUDED.enabled,
			placeholder=EXCLUDED.placeholder, updated_at=EXCLUDED.updated_at`,
		l.ProjectID, l.LayerID, l.Name, l.BackgroundColor, l.TextColor, l.BorderColor, l.Alias, l.SourceDatasetID, l.Enabled, l.Placeholder, now, now)
	if err != nil {
		return nil, mapErr(err, "")
	}
	return s.ProjectLayer(ctx, l.ProjectID, l.LayerID, l.SourceDatasetID)
}

func (s *Store) ProjectLayers(ctx context.Context, projectID int64) ([]*model.ProjectLayer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, layer_id, name, background_color, text_color, border_color, alias, source_dataset_id, enabled, placeholder, created_at, updated_at
		 FROM project_layers WHERE project_id=$1 ORDER BY layer_id`, projectID)
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
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, layer_id, name, background_color, text_color, border_color, alias, source_dataset_id, enabled, placeholder, created_at, updated_at
		 FROM project_layers WHERE project_id=$1 AND layer_id=$2 AND source_dataset_id=$3`, projectID, layerID, sourceDatasetID)
	var l model.ProjectLayer
	if err := row.Scan(&l.ID, &l.ProjectID, &l.LayerID, &l.Name, &l.BackgroundColor, &l.TextColor, &l.BorderColor, &l.Alias, &l.SourceDatasetID, &l.Enabled, &l.Placeholder, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, mapErr(err, "layer %q not found for project %d", layerID, projectID)
	}
	return &l, nil
}

func (s *Store) LayerAliases(ctx context.Context, projectID int64) ([]*model.LayerAlias, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, project_id, from_layer_id, to_project_layer FROM layer_aliases WHERE project_id=$1`, projectID)
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO layer_aliases (project_id, from_layer_id, to_project_layer) VALUES ($1,$2,$3)
		 ON CONFLICT (project_id, from_layer_id) DO UPDATE SET to_project_layer=EXCLUDED.to_project_layer`,
		a.ProjectID, a.FromLayerID, a.ToProjectLayer)
	if err != nil {
		return nil, mapErr(err, "")
	}
	row := s.pool.QueryRow(ctx, `SELECT id, project_id, from_layer_id, to_project_layer FROM layer_aliases WHERE project_id=$1 AND from_layer_id=$2`, a.ProjectID, a.FromLayerID)
	var out model.LayerAlias
	if err := row.Scan(&out.ID, &out.ProjectID, &out.FromLayerID, &out.ToProjectLayer); err != nil {
		return nil, mapErr(err, "")
	}
	return &out, nil
}

// ---- Projections ----

func (s *Store) CreateProjection(ctx context.Context, p *model.Projection) (*model.Projection, error) {
	config, err := json.Marshal(p.Config)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal projection config")
	}
	now := time.Now().UTC()
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO projections (graph_data_id, kind, config, created_at, updated_at) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		p.GraphDataID, p.Kind, config, now, now).Scan(&id)
	if err != nil {
		return nil, mapErr(err, "")
	}
	return s.GetProjection(ctx, id)
}

func (s *Store) GetProjection(ctx context.Context, id int64) (*model.Projection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, graph_data_id, kind, config, created_at, updated_at FROM projections WHERE id=$1`, id)
	var p model.Projection
	var config []byte
	if err := row.Scan(&p.ID, &p.GraphDataID, &p.Kind, &config, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err, "projection %d not found", id)
	}
	_ = json.Unmarshal(config, &p.Config)
	return &p, nil
}

func (s *Store) ProjectionsForGraph(ctx context.Context, graphDataID int64) ([]*model.Projection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, graph_data_id, kind, config, created_at, updated_at FROM projections WHERE graph_data_id=$1 ORDER BY id`, graphDataID)
	if err != nil {
		return nil, mapErr(err, "")
	}
	defer rows.Close()
	var out []*model.Projection
	for rows.Next() {
		var p model.Projection
		var config []byte
		if err := rows.Scan(&p.ID, &p.GraphDataID, &p.Kind, &config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err, "")
		}
		_ = json.Unmarshal(config, &p.Config)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProjection(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projections WHERE id=$1`, id)
	if err != nil {
		return mapErr(err, "")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("projection %d not found", id)
	}
	return nil
}
