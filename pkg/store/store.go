// Package store defines the entity store's repository facade: typed
// CRUD plus range queries and a transactional DAG-replace operation,
// implemented by the memory, sqlite, postgres, redis and badger
// backends.
package store

import (
	"context"

	"github.com/layercake/layercake/pkg/model"
)

// Store is the full entity-store contract. Every mutating operation
// stamps UpdatedAt; deletes cascade down the ownership tree; reads
// observe committed state only.
type Store interface {
	ProjectStore
	PlanStore
	DAGStore
	GraphDataStore
	EditStore
	LayerStore
	ProjectionStore

	// Close releases any underlying connection/handle.
	Close() error
}

// ProjectStore covers Project CRUD.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) (*model.Project, error)
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) (*model.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	ListProjects(ctx context.Context) ([]*model.Project, error)
}

// PlanStore covers Plan CRUD and the project-scoped range query.
type PlanStore interface {
	CreatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error)
	GetPlan(ctx context.Context, id int64) (*model.Plan, error)
	UpdatePlan(ctx context.Context, p *model.Plan) (*model.Plan, error)
	DeletePlan(ctx context.Context, id int64) error
	PlansForProject(ctx context.Context, projectID int64) ([]*model.Plan, error)
}

// DAGStore covers PlanDAGNode/PlanDAGEdge CRUD, the plan-scoped range
// queries, and the transactional replace used by DAG editors.
type DAGStore interface {
	NodesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGNode, error)
	EdgesForPlan(ctx context.Context, planID int64) ([]*model.PlanDAGEdge, error)

	// ReplaceDAG atomically replaces every node and edge belonging to
	// planID with the given sets.
	ReplaceDAG(ctx context.Context, planID int64, nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) error
}

// GraphDataStore covers GraphData and its child rows.
type GraphDataStore interface {
	CreateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error)
	GetGraphData(ctx context.Context, id int64) (*model.GraphData, error)
	UpdateGraphData(ctx context.Context, g *model.GraphData) (*model.GraphData, error)
	DeleteGraphData(ctx context.Context, id int64) error
	GraphDataForProject(ctx context.Context, projectID int64) ([]*model.GraphData, error)

	GraphDataNodes(ctx context.Context, graphDataID int64) ([]*model.GraphDataNode, error)
	GraphDataEdges(ctx context.Context, graphDataID int64) ([]*model.GraphDataEdge, error)

	// ReplaceChildren truncates and rewrites the node/edge child rows
	// for graphDataID within a single transaction.
	ReplaceChildren(ctx context.Context, graphDataID int64, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error
}

// EditStore covers the GraphEdit journal.
type EditStore interface {
	AppendEdit(ctx context.Context, edit *model.GraphEdit) (*model.GraphEdit, error)
	EditsForGraph(ctx context.Context, graphDataID int64, sinceSequence int64) ([]*model.GraphEdit, error)
	UpdateEdit(ctx context.Context, edit *model.GraphEdit) error
	ClearEdits(ctx context.Context, graphDataID int64) error
	// NextSequence returns the next monotonic sequence number for
	// graphDataID. Implementations serialise assignment per graph:
	// postgres locks the graph's counter row (SELECT ... FOR UPDATE),
	// sqlite and badger assign inside a write transaction, redis uses
	// INCR, and memory holds its store mutex.
	NextSequence(ctx context.Context, graphDataID int64) (int64, error)
}

// LayerStore covers ProjectLayer and LayerAlias.
type LayerStore interface {
	UpsertProjectLayer(ctx context.Context, l *model.ProjectLayer) (*model.ProjectLayer, error)
	ProjectLayers(ctx context.Context, projectID int64) ([]*model.ProjectLayer, error)
	ProjectLayer(ctx context.Context, projectID int64, layerID string, sourceDatasetID int64) (*model.ProjectLayer, error)
	LayerAliases(ctx context.Context, projectID int64) ([]*model.LayerAlias, error)
	UpsertLayerAlias(ctx context.Context, a *model.LayerAlias) (*model.LayerAlias, error)
}

// ProjectionStore covers persisted layout projections attached to
// computed graphs.
type ProjectionStore interface {
	CreateProjection(ctx context.Context, p *model.Projection) (*model.Projection, error)
	GetProjection(ctx context.Context, id int64) (*model.Projection, error)
	ProjectionsForGraph(ctx context.Context, graphDataID int64) ([]*model.Projection, error)
	DeleteProjection(ctx context.Context, id int64) error
}
