// Package nodeexec implements the per-node-kind executors: pure
// functions of (config, upstream artefacts, context) that produce an
// Artefact or an ExecutorError.
package nodeexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/graphdata"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/render"
	"github.com/layercake/layercake/pkg/store"
)

// ErrorKind enumerates the four executor error conditions shared by
// every node kind.
type ErrorKind string

const (
	ErrMissingConfig    ErrorKind = "MissingConfig"
	ErrInvalidConfig    ErrorKind = "InvalidConfig"
	ErrUpstreamMismatch ErrorKind = "UpstreamMismatch"
	ErrBackendFailure   ErrorKind = "BackendFailure"
)

// ExecutorError is the error type every node executor returns on
// failure.
type ExecutorError struct {
	Kind    ErrorKind
	Field   string
	Message string
	Cause   error
}

func (e *ExecutorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutorError) Unwrap() error { return e.Cause }

func MissingConfig(field string) *ExecutorError {
	return &ExecutorError{Kind: ErrMissingConfig, Field: field, Message: "required config field is absent"}
}

func InvalidConfig(reason string) *ExecutorError {
	return &ExecutorError{Kind: ErrInvalidConfig, Message: reason}
}

func UpstreamMismatch(expected, got string) *ExecutorError {
	return &ExecutorError{Kind: ErrUpstreamMismatch, Message: fmt.Sprintf("expected %s, got %s", expected, got)}
}

func BackendFailure(cause error) *ExecutorError {
	return &ExecutorError{Kind: ErrBackendFailure, Message: cause.Error(), Cause: cause}
}

// Artefact is the typed output of one node kind, flowing downstream via
// the executor's in-memory artefact map.
type Artefact struct {
	DataType model.EdgeDataType // "" for terminal (sink) artefacts

	GraphDataID int64
	Nodes       []*model.GraphDataNode
	Edges       []*model.GraphDataEdge

	// Terminal-artefact payload (GraphArtefact/TreeArtefact/SequenceArtefact).
	Bytes      []byte
	OutputPath string

	// ProjectionID identifies the record a Projection node persists.
	// SequenceID is not assigned by any executor in this package; Story
	// carries its nodes and edges forward as SequenceData instead.
	ProjectionID int64
	SequenceID   int64

	Diagnostics []string
}

// Context bundles the dependencies executors need: storage, the
// graph-data lifecycle service, the renderer facade and the project's
// import/export root directory. Artefact output paths resolve under
// RootPath. When RootPath is empty, an artefact with no output_path is
// returned as a byte blob only, and a configured output_path is
// rejected as InvalidConfig.
type Context struct {
	Ctx       context.Context
	Store     store.Store
	GraphData *graphdata.Service
	Renderer  render.Renderer
	RootPath  string
}

// Dispatch routes to the executor for kind.
func Dispatch(nc *Context, kind model.NodeKind, config map[string]any, upstream map[string]Artefact) (Artefact, error) {
	switch kind {
	case model.NodeDataSet:
		return DataSet(nc, config)
	case model.NodeFilter:
		return Filter(config, soleUpstream(upstream))
	case model.NodeTransform:
		return Transform(config, soleUpstream(upstream))
	case model.NodeMerge:
		return Merge(config, upstream)
	case model.NodeGraph:
		return Graph(nc, config, soleUpstream(upstream))
	case model.NodeGraphArtefact:
		return GraphArtefact(nc, config, soleUpstream(upstream))
	case model.NodeTreeArtefact:
		return TreeArtefact(nc, config, soleUpstream(upstream))
	case model.NodeProjection:
		return Projection(nc, config, soleUpstream(upstream))
	case model.NodeStory:
		return Story(nc, config, upstream)
	case model.NodeSequenceArtefact:
		return SequenceArtefact(nc, config, soleUpstream(upstream))
	default:
		return Artefact{}, InvalidConfig(fmt.Sprintf("unknown node kind %q", kind))
	}
}

func soleUpstream(upstream map[string]Artefact) Artefact {
	for _, a := range upstream {
		return a
	}
	return Artefact{}
}

// DataSet resolves a referenced dataset GraphData by id and returns its
// artefact. Errors: missing config, dataset not found, dataset in
// error status.
func DataSet(nc *Context, config map[string]any) (Artefact, error) {
	raw, ok := config["dataset_id"]
	if !ok {
		return Artefact{}, MissingConfig("dataset_id")
	}
	id, ok := asInt64(raw)
	if !ok {
		return Artefact{}, InvalidConfig("dataset_id must be an integer")
	}
	gd, err := nc.Store.GetGraphData(nc.Ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return Artefact{}, BackendFailure(apperr.NotFoundf("dataset %d not found", id))
		}
		return Artefact{}, BackendFailure(err)
	}
	if gd.SourceType != model.SourceDataset {
		return Artefact{}, InvalidConfig(fmt.Sprintf("graph data %d is not a dataset (source_type=%s)", id, gd.SourceType))
	}
	if gd.Status == model.GraphDataError {
		return Artefact{}, BackendFailure(fmt.Errorf("dataset %d is in error status: %s", id, gd.ErrorMsg))
	}
	nodes, err := nc.Store.GraphDataNodes(nc.Ctx, id)
	if err != nil {
		return Artefact{}, BackendFailure(err)
	}
	edges, err := nc.Store.GraphDataEdges(nc.Ctx, id)
	if err != nil {
		return Artefact{}, BackendFailure(err)
	}
	return Artefact{DataType: model.EdgeGraphData, GraphDataID: id, Nodes: nodes, Edges: edges}, nil
}

// predicate is a single Filter rule over nodes or edges.
type predicate struct {
	Field string // "layer", "label", "attribute", "weight"
	Op    string // "equals", "regex", "range"
	Value any
	Min   *float64
	Max   *float64
	Attr  string
	Keep  bool // true = keep matches, false = drop matches

	re *regexp.Regexp // compiled when Op is "regex"
}

// Filter evaluates a configured predicate DSL over nodes/edges. Output
// preserves surviving nodes and edges; edges whose endpoint was
// dropped are removed and recorded in diagnostics.
func Filter(config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeGraphData {
		return Artefact{}, UpstreamMismatch("GraphData", string(in.DataType))
	}
	raw, ok := config["predicate"]
	if !ok {
		return Artefact{}, MissingConfig("predicate")
	}
	rules, err := parsePredicates(raw)
	if err != nil {
		return Artefact{}, InvalidConfig(err.Error())
	}

	var survivors []*model.GraphDataNode
	surviving := make(map[string]bool, len(in.Nodes))
	for _, n := range in.Nodes {
		if matchesAll(rules, n) {
			survivors = append(survivors, n)
			surviving[n.ExternalID] = true
		}
	}

	var diagnostics []string
	var edges []*model.GraphDataEdge
	for _, e := range in.Edges {
		if !surviving[e.Source] || !surviving[e.Target] {
			diagnostics = append(diagnostics, fmt.Sprintf("dropped edge %s→%s (missing endpoint)", e.Source, e.Target))
			continue
		}
		if matchesAllEdge(rules, e) {
			edges = append(edges, e)
		} else {
			diagnostics = append(diagnostics, fmt.Sprintf("dropped edge %q by predicate", e.ExternalID))
		}
	}

	return Artefact{DataType: model.EdgeGraphData, GraphDataID: in.GraphDataID, Nodes: survivors, Edges: edges, Diagnostics: diagnostics}, nil
}

func parsePredicates(raw any) ([]predicate, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("predicate must be a list of rule objects")
	}
	out := make([]predicate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("predicate rule must be an object")
		}
		p := predicate{Keep: true}
		if v, ok := m["field"].(string); ok {
			p.Field = v
		}
		if v, ok := m["op"].(string); ok {
			p.Op = v
		}
		if v, ok := m["keep"].(bool); ok {
			p.Keep = v
		}
		if v, ok := m["value"]; ok {
			p.Value = v
		}
		if v, ok := m["attribute"].(string); ok {
			p.Attr = v
		}
		if v, ok := asFloat(m["min"]); ok {
			p.Min = &v
		}
		if v, ok := asFloat(m["max"]); ok {
			p.Max = &v
		}
		if p.Op == "regex" {
			re, err := regexp.Compile(fmt.Sprint(p.Value))
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %v", p.Value, err)
			}
			p.re = re
		}
		out = append(out, p)
	}
	return out, nil
}

func matchesAll(rules []predicate, n *model.GraphDataNode) bool {
	for _, r := range rules {
		if !matchOne(r, n.Layer, n.Label, n.Weight, n.Attributes) {
			return false
		}
	}
	return true
}

func matchesAllEdge(rules []predicate, e *model.GraphDataEdge) bool {
	for _, r := range rules {
		if !matchOne(r, e.Layer, e.Label, e.Weight, e.Attributes) {
			return false
		}
	}
	return true
}

func matchOne(r predicate, layer, label string, weight float64, attrs map[string]any) bool {
	var matched bool
	switch r.Field {
	case "layer":
		matched = layer == fmt.Sprint(r.Value)
	case "label":
		if r.re != nil {
			matched = r.re.MatchString(label)
		} else {
			matched = label == fmt.Sprint(r.Value)
		}
	case "attribute":
		matched = attrs != nil && fmt.Sprint(attrs[r.Attr]) == fmt.Sprint(r.Value)
	case "weight":
		matched = true
		if r.Min != nil && weight < *r.Min {
			matched = false
		}
		if r.Max != nil && weight > *r.Max {
			matched = false
		}
	default:
		matched = true
	}
	if r.Keep {
		return matched
	}
	return !matched
}

// Transform applies named, order-sensitive operations to a GraphData
// artefact.
func Transform(config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeGraphData {
		return Artefact{}, UpstreamMismatch("GraphData", string(in.DataType))
	}
	raw, ok := config["operations"]
	if !ok {
		return Artefact{}, MissingConfig("operations")
	}
	ops, ok := raw.([]any)
	if !ok {
		return Artefact{}, InvalidConfig("operations must be a list")
	}

	nodes := cloneNodes(in.Nodes)
	edges := cloneEdges(in.Edges)

	for _, raw := range ops {
		op, ok := raw.(map[string]any)
		if !ok {
			return Artefact{}, InvalidConfig("each operation must be an object")
		}
		name, _ := op["op"].(string)
		var err error
		switch name {
		case "add_attribute":
			err = opAddAttribute(op, nodes, edges)
		case "rename_layer":
			err = opRenameLayer(op, nodes, edges)
		case "set_weight_default":
			err = opSetWeightDefault(op, nodes, edges)
		case "invert_direction":
			for _, e := range edges {
				e.Source, e.Target = e.Target, e.Source
			}
		case "collapse_partitions":
			nodes, edges, err = opCollapsePartitions(op, nodes, edges)
		case "aggregate_parallel_edges":
			edges = opAggregateParallelEdges(edges)
		default:
			return Artefact{}, InvalidConfig(fmt.Sprintf("unknown transform operation %q", name))
		}
		if err != nil {
			return Artefact{}, err
		}
	}

	return Artefact{DataType: model.EdgeGraphData, GraphDataID: in.GraphDataID, Nodes: nodes, Edges: edges}, nil
}

func cloneNodes(in []*model.GraphDataNode) []*model.GraphDataNode {
	out := make([]*model.GraphDataNode, len(in))
	for i, n := range in {
		cp := *n
		if n.Attributes != nil {
			cp.Attributes = make(map[string]any, len(n.Attributes))
			for k, v := range n.Attributes {
				cp.Attributes[k] = v
			}
		}
		out[i] = &cp
	}
	return out
}

func cloneEdges(in []*model.GraphDataEdge) []*model.GraphDataEdge {
	out := make([]*model.GraphDataEdge, len(in))
	for i, e := range in {
		cp := *e
		if e.Attributes != nil {
			cp.Attributes = make(map[string]any, len(e.Attributes))
			for k, v := range e.Attributes {
				cp.Attributes[k] = v
			}
		}
		out[i] = &cp
	}
	return out
}

func opAddAttribute(op map[string]any, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	key, _ := op["key"].(string)
	if key == "" {
		return InvalidConfig("add_attribute requires a non-empty key")
	}
	value := op["value"]
	target, _ := op["target"].(string) // "nodes" | "edges" | "" (both)
	if target != "edges" {
		for _, n := range nodes {
			if n.Attributes == nil {
				n.Attributes = map[string]any{}
			}
			n.Attributes[key] = value
		}
	}
	if target != "nodes" {
		for _, e := range edges {
			if e.Attributes == nil {
				e.Attributes = map[string]any{}
			}
			e.Attributes[key] = value
		}
	}
	return nil
}

func opRenameLayer(op map[string]any, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	from, _ := op["from"].(string)
	to, _ := op["to"].(string)
	if from == "" || to == "" {
		return InvalidConfig("rename_layer requires from and to")
	}
	for _, n := range nodes {
		if n.Layer == from {
			n.Layer = to
		}
	}
	for _, e := range edges {
		if e.Layer == from {
			e.Layer = to
		}
	}
	return nil
}

func opSetWeightDefault(op map[string]any, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) error {
	def, ok := asFloat(op["value"])
	if !ok {
		return InvalidConfig("set_weight_default requires a numeric value")
	}
	for _, n := range nodes {
		if n.Weight == 0 {
			n.Weight = def
		}
	}
	for _, e := range edges {
		if e.Weight == 0 {
			e.Weight = def
		}
	}
	return nil
}

func opCollapsePartitions(op map[string]any, nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) ([]*model.GraphDataNode, []*model.GraphDataEdge, error) {
	levels := 1
	if v, ok := asFloat(op["levels"]); ok {
		levels = int(v)
	}
	for i := 0; i < levels; i++ {
		changed := false
		byID := make(map[string]*model.GraphDataNode, len(nodes))
		for _, n := range nodes {
			byID[n.ExternalID] = n
		}
		remap := make(map[string]string)
		var kept []*model.GraphDataNode
		for _, n := range nodes {
			if n.IsPartition {
				remap[n.ExternalID] = n.BelongsTo
				changed = true
				continue
			}
			if n.BelongsTo != "" {
				if parent, ok := byID[n.BelongsTo]; ok && parent.IsPartition {
					n.BelongsTo = parent.BelongsTo
				}
			}
			kept = append(kept, n)
		}
		nodes = kept
		if !changed {
			break
		}
		for _, e := range edges {
			if to, ok := remap[e.Source]; ok {
				e.Source = to
			}
			if to, ok := remap[e.Target]; ok {
				e.Target = to
			}
		}
	}
	return nodes, edges, nil
}

func opAggregateParallelEdges(edges []*model.GraphDataEdge) []*model.GraphDataEdge {
	byPair := make(map[[2]string]*model.GraphDataEdge)
	var order [][2]string
	for _, e := range edges {
		key := [2]string{e.Source, e.Target}
		if existing, ok := byPair[key]; ok {
			existing.Weight += e.Weight
			continue
		}
		cp := *e
		byPair[key] = &cp
		order = append(order, key)
	}
	out := make([]*model.GraphDataEdge, 0, len(order))
	for _, key := range order {
		out = append(out, byPair[key])
	}
	return out
}

// Merge unions multiple GraphData inputs. Node and edge id collisions
// are resolved by the configured policy and recorded in diagnostics;
// inputs are visited in upstream-node-id order, so "first"/"last" are
// deterministic.
func Merge(config map[string]any, upstream map[string]Artefact) (Artefact, error) {
	policy, _ := config["collision_policy"].(string)
	if policy == "" {
		return Artefact{}, MissingConfig("collision_policy")
	}
	switch policy {
	case "first_wins", "last_wins", "error", "merge_attrs":
	default:
		return Artefact{}, InvalidConfig(fmt.Sprintf("unknown collision_policy %q", policy))
	}

	keys := make([]string, 0, len(upstream))
	for k := range upstream {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make(map[string]*model.GraphDataNode)
	edges := make(map[string]*model.GraphDataEdge)
	var diagnostics []string

	for _, k := range keys {
		art := upstream[k]
		if art.DataType != model.EdgeGraphData {
			return Artefact{}, UpstreamMismatch("GraphData", string(art.DataType))
		}
		for _, n := range art.Nodes {
			if existing, dup := nodes[n.ExternalID]; dup {
				merged, err := mergeNode(policy, existing, n)
				if err != nil {
					return Artefact{}, err
				}
				diagnostics = append(diagnostics, fmt.Sprintf("node id collision %q resolved by %s", n.ExternalID, policy))
				nodes[n.ExternalID] = merged
				continue
			}
			cp := *n
			nodes[n.ExternalID] = &cp
		}
		for _, e := range art.Edges {
			if existing, dup := edges[e.ExternalID]; dup {
				merged, err := mergeEdge(policy, existing, e)
				if err != nil {
					return Artefact{}, err
				}
				diagnostics = append(diagnostics, fmt.Sprintf("edge id collision %q resolved by %s", e.ExternalID, policy))
				edges[e.ExternalID] = merged
				continue
			}
			cp := *e
			edges[e.ExternalID] = &cp
		}
	}

	outNodes := make([]*model.GraphDataNode, 0, len(nodes))
	for _, n := range nodes {
		outNodes = append(outNodes, n)
	}
	sort.Slice(outNodes, func(i, j int) bool { return outNodes[i].ExternalID < outNodes[j].ExternalID })
	outEdges := make([]*model.GraphDataEdge, 0, len(edges))
	for _, e := range edges {
		outEdges = append(outEdges, e)
	}
	sort.Slice(outEdges, func(i, j int) bool { return outEdges[i].ExternalID < outEdges[j].ExternalID })

	return Artefact{DataType: model.EdgeGraphData, Nodes: outNodes, Edges: outEdges, Diagnostics: diagnostics}, nil
}

func mergeNode(policy string, existing, incoming *model.GraphDataNode) (*model.GraphDataNode, error) {
	switch policy {
	case "first_wins":
		return existing, nil
	case "last_wins":
		cp := *incoming
		return &cp, nil
	case "error":
		return nil, InvalidConfig(fmt.Sprintf("node id collision %q under collision_policy=error", existing.ExternalID))
	case "merge_attrs":
		cp := *existing
		cp.Attributes = mergeAttrs(existing.Attributes, incoming.Attributes)
		return &cp, nil
	default:
		return existing, nil
	}
}

func mergeEdge(policy string, existing, incoming *model.GraphDataEdge) (*model.GraphDataEdge, error) {
	switch policy {
	case "first_wins":
		return existing, nil
	case "last_wins":
		cp := *incoming
		return &cp, nil
	case "error":
		return nil, InvalidConfig(fmt.Sprintf("edge id collision %q under collision_policy=error", existing.ExternalID))
	case "merge_attrs":
		cp := *existing
		cp.Attributes = mergeAttrs(existing.Attributes, incoming.Attributes)
		return &cp, nil
	default:
		return existing, nil
	}
}

func mergeAttrs(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Graph materialises an upstream GraphData into a stored computed-graph
// row, content-addressed by a hash of its children. The row is keyed by
// the DAG node that produces it: a later run of the same node recomputes
// the existing row rather than creating a new one, replaying the edit
// journal on top of the fresh children. An unchanged source hash on an
// active row is a cache hit and skips the rewrite.
func Graph(nc *Context, config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeGraphData {
		return Artefact{}, UpstreamMismatch("GraphData", string(in.DataType))
	}
	projectID, ok := asInt64(config["project_id"])
	if !ok {
		return Artefact{}, MissingConfig("project_id")
	}
	nodeID, _ := config["dag_node_id"].(string)
	hash := contentHash(in.Nodes, in.Edges)

	existing, err := findComputedGraph(nc, projectID, nodeID)
	if err != nil {
		return Artefact{}, BackendFailure(err)
	}

	var gd *model.GraphData
	switch {
	case existing == nil:
		created, err := nc.GraphData.CreateComputedGraph(nc.Ctx, projectID, nodeID, hash, in.GraphDataID)
		if err != nil {
			return Artefact{}, BackendFailure(err)
		}
		if err := nc.GraphData.ReplaceChildren(nc.Ctx, created.ID, in.Nodes, in.Edges); err != nil {
			return Artefact{}, BackendFailure(err)
		}
		gd, err = nc.GraphData.FinalizeGraph(nc.Ctx, created.ID, len(in.Nodes), len(in.Edges))
		if err != nil {
			return Artefact{}, BackendFailure(err)
		}
	case existing.SourceHash == hash && existing.Status == model.GraphDataActive && !existing.HasPendingEdits:
		gd = existing
	default:
		gd, err = nc.GraphData.RecomputeGraph(nc.Ctx, existing.ID, hash, in.Nodes, in.Edges)
		if err != nil {
			return Artefact{}, BackendFailure(err)
		}
	}

	nodes, err := nc.Store.GraphDataNodes(nc.Ctx, gd.ID)
	if err != nil {
		return Artefact{}, BackendFailure(err)
	}
	edges, err := nc.Store.GraphDataEdges(nc.Ctx, gd.ID)
	if err != nil {
		return Artefact{}, BackendFailure(err)
	}
	return Artefact{DataType: model.EdgeGraphReference, GraphDataID: gd.ID, Nodes: nodes, Edges: edges}, nil
}

// findComputedGraph locates the computed GraphData row a DAG node
// produced on an earlier run, if any.
func findComputedGraph(nc *Context, projectID int64, dagNodeID string) (*model.GraphData, error) {
	if dagNodeID == "" {
		return nil, nil
	}
	all, err := nc.Store.GraphDataForProject(nc.Ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, g := range all {
		if g.SourceType == model.SourceComputed && g.DAGNodeID == dagNodeID {
			return g, nil
		}
	}
	return nil, nil
}

func contentHash(nodes []*model.GraphDataNode, edges []*model.GraphDataEdge) string {
	var b strings.Builder
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ExternalID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte(';')
	}
	eids := make([]string, 0, len(edges))
	for _, e := range edges {
		eids = append(eids, e.ExternalID)
	}
	sort.Strings(eids)
	for _, id := range eids {
		b.WriteString(id)
		b.WriteByte(';')
	}
	return fmt.Sprintf("sha:%x", simpleHash(b.String()))
}

// simpleHash is a small FNV-1a style hash; content-addressing here only
// needs stability and near-collision-freeness, not cryptographic
// strength.
func simpleHash(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// GraphArtefact renders the input to a target format, writes it under
// the import/export root when an output path is configured, and returns
// it as a terminal artefact.
func GraphArtefact(nc *Context, config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeGraphData && in.DataType != model.EdgeGraphReference {
		return Artefact{}, UpstreamMismatch("GraphData or GraphReference", string(in.DataType))
	}
	format, _ := config["format"].(string)
	if format == "" {
		return Artefact{}, MissingConfig("format")
	}
	b, diags, err := nc.Renderer.RenderWithDiagnostics(render.Format(format), in.Nodes, in.Edges, config)
	if err != nil {
		return Artefact{}, InvalidConfig(err.Error())
	}
	path, err := writeArtefact(nc, config, b)
	if err != nil {
		return Artefact{}, err
	}
	return Artefact{Bytes: b, OutputPath: path, Diagnostics: diags}, nil
}

// TreeArtefact produces a hierarchical view via belongs_to relations
// then renders it; broken belongs_to cycles surface as diagnostics.
func TreeArtefact(nc *Context, config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeGraphData && in.DataType != model.EdgeGraphReference {
		return Artefact{}, UpstreamMismatch("GraphData or GraphReference", string(in.DataType))
	}
	format, _ := config["format"].(string)
	if format == "" {
		return Artefact{}, MissingConfig("format")
	}
	b, diags, err := nc.Renderer.RenderWithDiagnostics(render.Format(format), in.Nodes, in.Edges, config)
	if err != nil {
		return Artefact{}, InvalidConfig(err.Error())
	}
	path, err := writeArtefact(nc, config, b)
	if err != nil {
		return Artefact{}, err
	}
	return Artefact{Bytes: b, OutputPath: path, Diagnostics: diags}, nil
}

// writeArtefact writes rendered bytes to the configured output path.
// Relative paths resolve under the context's import/export root;
// absolute paths outside the root are rejected. An empty output_path
// means the artefact is returned as a blob only.
func writeArtefact(nc *Context, config map[string]any, b []byte) (string, error) {
	path, _ := config["output_path"].(string)
	if path == "" {
		return "", nil
	}
	if nc.RootPath == "" {
		return "", InvalidConfig("output_path configured but the project has no import/export root")
	}
	root, err := filepath.Abs(nc.RootPath)
	if err != nil {
		return "", BackendFailure(err)
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", InvalidConfig(fmt.Sprintf("output path %q escapes the import/export root", path))
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", BackendFailure(err)
	}
	if err := os.WriteFile(resolved, b, 0o644); err != nil {
		return "", BackendFailure(err)
	}
	return resolved, nil
}

// Projection persists a layout-projection record referencing the
// computed graph.
func Projection(nc *Context, config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeGraphReference {
		return Artefact{}, UpstreamMismatch("GraphReference", string(in.DataType))
	}
	kind, ok := config["kind"].(string)
	if !ok || kind == "" {
		return Artefact{}, MissingConfig("kind")
	}
	cfg, _ := config["projection"].(map[string]any)
	p, err := nc.Store.CreateProjection(nc.Ctx, &model.Projection{
		GraphDataID: in.GraphDataID,
		Kind:        kind,
		Config:      cfg,
	})
	if err != nil {
		return Artefact{}, BackendFailure(err)
	}
	return Artefact{ProjectionID: p.ID}, nil
}

// Story assembles narrative sequences from one or more computed
// graphs' nodes and edges per the story configuration.
func Story(nc *Context, config map[string]any, upstream map[string]Artefact) (Artefact, error) {
	if _, ok := config["sequences"]; !ok {
		return Artefact{}, MissingConfig("sequences")
	}
	if len(upstream) == 0 {
		return Artefact{}, UpstreamMismatch("at least one GraphData", "none")
	}
	var allNodes []*model.GraphDataNode
	var allEdges []*model.GraphDataEdge
	keys := make([]string, 0, len(upstream))
	for k := range upstream {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		art := upstream[k]
		if art.DataType != model.EdgeGraphData && art.DataType != model.EdgeGraphReference {
			return Artefact{}, UpstreamMismatch("GraphData", string(art.DataType))
		}
		allNodes = append(allNodes, art.Nodes...)
		allEdges = append(allEdges, art.Edges...)
	}
	return Artefact{DataType: model.EdgeSequenceData, Nodes: allNodes, Edges: allEdges}, nil
}

// SequenceArtefact renders a Story's output to Mermaid/PlantUML sequence
// syntax.
func SequenceArtefact(nc *Context, config map[string]any, in Artefact) (Artefact, error) {
	if in.DataType != model.EdgeSequenceData {
		return Artefact{}, UpstreamMismatch("SequenceData", string(in.DataType))
	}
	format, _ := config["format"].(string)
	if format == "" {
		return Artefact{}, MissingConfig("format")
	}
	b, diags, err := nc.Renderer.RenderWithDiagnostics(render.Format(format), in.Nodes, in.Edges, config)
	if err != nil {
		return Artefact{}, InvalidConfig(err.Error())
	}
	path, err := writeArtefact(nc, config, b)
	if err != nil {
		return Artefact{}, err
	}
	return Artefact{Bytes: b, OutputPath: path, Diagnostics: diags}, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
