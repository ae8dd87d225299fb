// Package validator implements the pure plan DAG validator: a
// duplicate-id check, dangling-edge check, cycle detection by DFS
// colouring, fan-in contract enforcement per node kind, and per-kind
// configuration shape checks.
package validator

import (
	"fmt"
	"sort"

	"github.com/layercake/layercake/pkg/model"
)

// Error is one validation failure. A plan DAG may accumulate many.
type Error struct {
	NodeID  string
	EdgeID  string
	Message string
}

func (e Error) Error() string { return e.Message }

// Result is the outcome of Validate: either ok, or a list of Errors.
type Result struct {
	Errors []Error
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

// contract describes the fan-in/fan-out rule for one node kind.
type contract struct {
	accepts  model.EdgeDataType
	min, max int // max == -1 means unbounded
	produces model.EdgeDataType
}

var contracts = map[model.NodeKind]contract{
	model.NodeDataSet:          {accepts: "", min: 0, max: 0, produces: model.EdgeGraphData},
	model.NodeFilter:           {accepts: model.EdgeGraphData, min: 1, max: 1, produces: model.EdgeGraphData},
	model.NodeTransform:        {accepts: model.EdgeGraphData, min: 1, max: 1, produces: model.EdgeGraphData},
	model.NodeMerge:            {accepts: model.EdgeGraphData, min: 2, max: -1, produces: model.EdgeGraphData},
	model.NodeGraph:            {accepts: model.EdgeGraphData, min: 1, max: 1, produces: model.EdgeGraphReference},
	model.NodeGraphArtefact:    {accepts: model.EdgeGraphData, min: 1, max: 1, produces: ""},
	model.NodeTreeArtefact:     {accepts: model.EdgeGraphData, min: 1, max: 1, produces: ""},
	model.NodeProjection:       {accepts: model.EdgeGraphReference, min: 1, max: 1, produces: ""},
	model.NodeStory:            {accepts: model.EdgeGraphData, min: 1, max: -1, produces: model.EdgeSequenceData},
	model.NodeSequenceArtefact: {accepts: model.EdgeSequenceData, min: 1, max: 1, produces: ""},
}

// requiredConfigFields lists the config keys each node kind's shape
// check demands be present (values are not otherwise interpreted here).
var requiredConfigFields = map[model.NodeKind][]string{
	model.NodeDataSet:          {"dataset_id"},
	model.NodeFilter:           {"predicate"},
	model.NodeTransform:        {"operations"},
	model.NodeMerge:            {"collision_policy"},
	model.NodeGraph:            {},
	model.NodeGraphArtefact:    {"format"},
	model.NodeTreeArtefact:     {"format"},
	model.NodeProjection:       {"kind"},
	model.NodeStory:            {"sequences"},
	model.NodeSequenceArtefact: {"format"},
}

// Validate runs every structural check over a plan's nodes and edges.
// It never mutates its arguments.
func Validate(nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) Result {
	var res Result

	nodeByID := make(map[string]*model.PlanDAGNode, len(nodes))
	for _, n := range nodes {
		if _, dup := nodeByID[n.ID]; dup {
			res.Errors = append(res.Errors, Error{NodeID: n.ID, Message: fmt.Sprintf("duplicate node id %q", n.ID)})
			continue
		}
		nodeByID[n.ID] = n
	}

	edgeByID := make(map[string]*model.PlanDAGEdge, len(edges))
	var liveEdges []*model.PlanDAGEdge
	for _, e := range edges {
		if _, dup := edgeByID[e.ID]; dup {
			res.Errors = append(res.Errors, Error{EdgeID: e.ID, Message: fmt.Sprintf("duplicate edge id %q", e.ID)})
			continue
		}
		edgeByID[e.ID] = e

		missingSrc := nodeByID[e.SourceNode] == nil
		missingDst := nodeByID[e.TargetNode] == nil
		if missingSrc || missingDst {
			res.Errors = append(res.Errors, Error{
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge %q references missing endpoint(s): source=%q target=%q", e.ID, e.SourceNode, e.TargetNode),
			})
			continue
		}
		liveEdges = append(liveEdges, e)
	}

	adjacency := make(map[string][]string, len(nodeByID))
	for _, e := range liveEdges {
		adjacency[e.SourceNode] = append(adjacency[e.SourceNode], e.TargetNode)
	}
	for id := range adjacency {
		sort.Strings(adjacency[id])
	}

	if cycle := findCycle(nodeByID, adjacency); cycle != nil {
		res.Errors = append(res.Errors, Error{Message: fmt.Sprintf("Cycle detected in graph: %s", formatCycle(cycle))})
	}

	incoming := make(map[string][]*model.PlanDAGEdge, len(nodeByID))
	for _, e := range liveEdges {
		incoming[e.TargetNode] = append(incoming[e.TargetNode], e)
	}

	for id, n := range nodeByID {
		c, known := contracts[n.Kind]
		if !known {
			res.Errors = append(res.Errors, Error{NodeID: id, Message: fmt.Sprintf("unknown node kind %q", n.Kind)})
			continue
		}
		ins := incoming[id]
		count := 0
		for _, e := range ins {
			if c.accepts != "" && e.Metadata.DataType != c.accepts {
				res.Errors = append(res.Errors, Error{
					NodeID: id, EdgeID: e.ID,
					Message: fmt.Sprintf("node %q (%s) does not accept edge data-type %q on edge %q", id, n.Kind, e.Metadata.DataType, e.ID),
				})
				continue
			}
			count++
		}
		if count < c.min || (c.max != -1 && count > c.max) {
			res.Errors = append(res.Errors, Error{
				NodeID:  id,
				Message: fmt.Sprintf("node %q (%s) has %d qualifying input edge(s), contract requires %s", id, n.Kind, count, fanInDescription(c)),
			})
		}

		for _, field := range requiredConfigFields[n.Kind] {
			if n.Config == nil {
				res.Errors = append(res.Errors, Error{NodeID: id, Message: fmt.Sprintf("node %q (%s) missing required config field %q", id, n.Kind, field)})
				continue
			}
			if _, ok := n.Config[field]; !ok {
				res.Errors = append(res.Errors, Error{NodeID: id, Message: fmt.Sprintf("node %q (%s) missing required config field %q", id, n.Kind, field)})
			}
		}
	}

	return res
}

func fanInDescription(c contract) string {
	if c.min == 0 && c.max == 0 {
		return "no input edges"
	}
	if c.max == -1 {
		return fmt.Sprintf("at least %d", c.min)
	}
	if c.min == c.max {
		return fmt.Sprintf("exactly %d", c.min)
	}
	return fmt.Sprintf("between %d and %d", c.min, c.max)
}

// findCycle runs DFS colouring (white/grey/black) over the adjacency
// list and returns the first cycle encountered as an ordered node-id
// path A, B, C, A, or nil if the graph is acyclic.
func findCycle(nodeByID map[string]*model.PlanDAGNode, adjacency map[string][]string) []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(nodeByID))

	ids := make([]string, 0, len(nodeByID))
	for id := range nodeByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		path = append(path, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case grey:
				idx := indexOf(path, next)
				cycle = append(append([]string{}, path[idx:]...), next)
				return true
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func formatCycle(cycle []string) string {
	out := cycle[0]
	for _, id := range cycle[1:] {
		out += " -> " + id
	}
	return out
}
