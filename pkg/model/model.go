// Package model defines the entity types persisted by the entity store:
// projects, plans, plan DAG nodes/edges, graph-data and its children,
// the edit journal, layer palettes, projections, and the narrative
// entities.
package model

import "time"

// PlanStatus is the lifecycle state of a Plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanExecuting PlanStatus = "executing"
	PlanError     PlanStatus = "error"
)

// NodeKind enumerates the plan DAG node kinds.
type NodeKind string

const (
	NodeDataSet          NodeKind = "DataSet"
	NodeGraph            NodeKind = "Graph"
	NodeTransform        NodeKind = "Transform"
	NodeFilter           NodeKind = "Filter"
	NodeMerge            NodeKind = "Merge"
	NodeGraphArtefact    NodeKind = "GraphArtefact"
	NodeTreeArtefact     NodeKind = "TreeArtefact"
	NodeProjection       NodeKind = "Projection"
	NodeStory            NodeKind = "Story"
	NodeSequenceArtefact NodeKind = "SequenceArtefact"
)

// EdgeDataType is the payload kind carried by a plan DAG edge.
type EdgeDataType string

const (
	EdgeGraphData      EdgeDataType = "GraphData"
	EdgeGraphReference EdgeDataType = "GraphReference"
	EdgeSequenceData   EdgeDataType = "SequenceData"
)

// Project is the top-level container owning plans, graph-data, layers
// and stories. Deletion cascades to everything it owns.
type Project struct {
	ID          int64
	Name        string
	Description string
	Tags        []string
	RootPath    string // optional import/export filesystem root
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Plan is a DAG definition belonging to a Project.
type Plan struct {
	ID          int64
	ProjectID   int64
	Name        string
	Description string
	Tags        []string
	Status      PlanStatus
	Version     int64
	Canonical   []byte // serialised canonical form for diff/rollback, optional
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Position is a canvas coordinate, rendering-only.
type Position struct {
	X float64
	Y float64
}

// NodeMetadata carries presentational fields that never affect
// execution semantics.
type NodeMetadata struct {
	Label       string
	Description string
}

// PlanDAGNode is one node in a plan's DAG. Config is the kind-specific
// configuration payload; its shape is dictated by Kind.
type PlanDAGNode struct {
	ID        string
	PlanID    int64
	Kind      NodeKind
	Position  Position
	Metadata  NodeMetadata
	Config    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EdgeMetadata carries an optional display label and the data-type
// flowing across the edge.
type EdgeMetadata struct {
	Label    string
	DataType EdgeDataType
}

// PlanDAGEdge is one directed edge in a plan's DAG.
type PlanDAGEdge struct {
	ID         string
	PlanID     int64
	SourceNode string
	TargetNode string
	Metadata   EdgeMetadata
	CreatedAt  time.Time
}

// SourceType distinguishes the three GraphData origins.
type SourceType string

const (
	SourceDataset  SourceType = "dataset"
	SourceComputed SourceType = "computed"
	SourceManual   SourceType = "manual"
)

// GraphDataStatus is the lifecycle status of a GraphData row.
type GraphDataStatus string

const (
	GraphDataProcessing GraphDataStatus = "processing"
	GraphDataActive     GraphDataStatus = "active"
	GraphDataError      GraphDataStatus = "error"
)

// FileFormat is a dataset's import file format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatTSV     FileFormat = "tsv"
	FormatJSON    FileFormat = "json"
	FormatXLSX    FileFormat = "xlsx"
	FormatODS     FileFormat = "ods"
	FormatParquet FileFormat = "parquet"
)

// DataType is what a dataset's rows represent.
type DataType string

const (
	DataTypeNodes  DataType = "nodes"
	DataTypeEdges  DataType = "edges"
	DataTypeLayers DataType = "layers"
	DataTypeGraph  DataType = "graph"
)

// Origin records how a dataset's bytes arrived.
type Origin string

const (
	OriginFileUpload Origin = "file_upload"
	OriginRAGAgent   Origin = "rag_agent"
	OriginManualEdit Origin = "manual_edit"
)

// GraphData unifies datasets, computed graphs, and manually-authored
// graphs under one record. Fields that apply only to a subset of
// SourceType values are zero-valued when not applicable.
type GraphData struct {
	ID         int64
	ProjectID  int64
	Name       string
	SourceType SourceType

	// Dataset fields (SourceType == dataset).
	FileFormat  FileFormat
	DataType    DataType
	Origin      Origin
	Filename    string
	RawBytes    []byte
	ProcessedAt time.Time

	// Computed-graph fields (SourceType == computed).
	DAGNodeID       string
	SourceHash      string
	ComputedDate    time.Time
	LastEditSeq     int64
	HasPendingEdits bool
	LastReplayAt    time.Time
	// SourceDatasetID is the GraphData.ID of the imported dataset this
	// computed graph descended from, when the DAG node materializing it
	// consumed a dataset artefact directly. The layer resolver keys its
	// dataset-scoped lookup off it. Zero when the lineage is indirect
	// or unknown.
	SourceDatasetID int64

	Status    GraphDataStatus
	ErrorMsg  string
	NodeCount int
	EdgeCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GraphDataNode is a child row of a GraphData, keyed by
// (GraphDataID, ExternalID).
type GraphDataNode struct {
	GraphDataID int64
	ExternalID  string
	Label       string
	Layer       string
	IsPartition bool
	BelongsTo   string // external_id of containing partition, optional
	Weight      float64
	Comment     string
	Attributes  map[string]any
}

// GraphDataEdge is a child row of a GraphData. Source/Target are
// external_ids that may not (yet) exist as nodes: endpoint existence
// is checked at render/validation time, not at the storage layer, so
// an edit or a replay can materialise the endpoint later.
type GraphDataEdge struct {
	GraphDataID int64
	ExternalID  string
	Source      string
	Target      string
	Label       string
	Layer       string
	Weight      float64
	Comment     string
	Attributes  map[string]any
}

// EditTargetType is what kind of child row a GraphEdit mutates.
type EditTargetType string

const (
	EditTargetNode  EditTargetType = "node"
	EditTargetEdge  EditTargetType = "edge"
	EditTargetLayer EditTargetType = "layer"
)

// EditOperation is the mutation kind recorded by a GraphEdit.
type EditOperation string

const (
	EditCreate  EditOperation = "create"
	EditUpdate  EditOperation = "update"
	EditDelete  EditOperation = "delete"
	EditRestore EditOperation = "restore"
)

// GraphEdit is one append-only journal row recording a mutation applied
// to a computed graph. (GraphDataID, SequenceNumber) is unique and the
// sequence strictly increases per graph.
type GraphEdit struct {
	ID             int64
	GraphDataID    int64
	TargetType     EditTargetType
	TargetID       string
	Operation      EditOperation
	Field          string // optional, for partial updates
	OldValue       []byte // JSON, optional
	NewValue       []byte // JSON, optional
	SequenceNumber int64
	Applied        bool
	Diagnostic     string
	Timestamp      time.Time
	Author         string // optional
}

// ProjectLayer is a styling entry bound to a project, scoped to an
// optional source dataset. Uniqueness is
// (ProjectID, LayerID, SourceDatasetID).
type ProjectLayer struct {
	ID              int64
	ProjectID       int64
	LayerID         string
	Name            string
	BackgroundColor string
	TextColor       string
	BorderColor     string
	Alias           string
	SourceDatasetID int64 // 0 means project-wide, not dataset-scoped
	Enabled         bool
	Placeholder     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LayerAlias maps a missing layer id in a graph to an existing
// ProjectLayer, enabling graceful rendering across datasets.
type LayerAlias struct {
	ID             int64
	ProjectID      int64
	FromLayerID    string
	ToProjectLayer int64
}

// Projection is a persisted layout (for example 3D force-directed
// coordinates) attached to a computed graph.
type Projection struct {
	ID          int64
	GraphDataID int64
	Kind        string // "force_3d" or a custom layout name
	Config      map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Story is a narrative organisation of a graph; orthogonal to
// execution.
type Story struct {
	ID          int64
	ProjectID   int64
	GraphDataID int64
	Name        string
	Config      map[string]any
}

// Sequence is one narrative ordering belonging to a Story.
type Sequence struct {
	ID      int64
	StoryID int64
	Name    string
	Order   int
}

// SequenceContext carries per-sequence render context (participants,
// active layer filters).
type SequenceContext struct {
	SequenceID int64
	Context    map[string]any
}
