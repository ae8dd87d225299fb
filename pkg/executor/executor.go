// Package executor implements the plan DAG executor: validates a plan,
// computes a lexicographically tie-broken topological order, evaluates
// each node against an in-memory upstream-artefact map, and publishes
// per-node status events.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/eventbus"
	"github.com/layercake/layercake/pkg/log"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/nodeexec"
	"github.com/layercake/layercake/pkg/store"
	"github.com/layercake/layercake/pkg/validator"
)

// NodeStatus is the lifecycle a node's status events move through:
// Pending -> Processing -> Completed|Error|Cancelled.
type NodeStatus string

const (
	StatusPending    NodeStatus = "Pending"
	StatusProcessing NodeStatus = "Processing"
	StatusCompleted  NodeStatus = "Completed"
	StatusError      NodeStatus = "Error"
	StatusCancelled  NodeStatus = "Cancelled"
)

// NodeResult records one node's outcome after a plan run.
type NodeResult struct {
	NodeID   string
	Status   NodeStatus
	Error    string
	Artefact nodeexec.Artefact
}

// Result is the outcome of one ExecutePlan call.
type Result struct {
	PlanID int64
	Status model.PlanStatus
	Nodes  []NodeResult
}

// Executor runs plans. Concurrency across plans is unbounded; each
// plan execution holds an exclusive advisory lock on its plan id,
// acquired through the per-executor lock registry.
type Executor struct {
	store store.Store
	bus   *eventbus.Coordinator
	nc    *nodeexec.Context
	log   log.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(st store.Store, bus *eventbus.Coordinator, nc *nodeexec.Context, logger log.Logger) *Executor {
	return &Executor{store: st, bus: bus, nc: nc, log: log.OrDefault(logger), locks: make(map[int64]*sync.Mutex)}
}

func (e *Executor) lockFor(planID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[planID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[planID] = l
	}
	return l
}

// ExecutePlan runs planID to completion or cancellation. It acquires
// the plan's exclusive advisory lock for the duration of the run, so
// concurrent calls for the same plan id serialize.
func (e *Executor) ExecutePlan(ctx context.Context, planID int64) (*Result, error) {
	lock := e.lockFor(planID)
	lock.Lock()
	defer lock.Unlock()

	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.NodesForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.EdgesForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if res := validator.Validate(nodes, edges); !res.OK() {
		plan.Status = model.PlanError
		_, _ = e.store.UpdatePlan(ctx, plan)
		if e.bus != nil {
			e.bus.PublishNodeStatus(planID, "", "error", res.Errors)
		}
		return nil, apperr.Validationf("plan %d failed validation: %v", planID, res.Errors)
	}

	plan.Status = model.PlanExecuting
	if _, err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}

	order, err := topoOrder(nodes, edges)
	if err != nil {
		return nil, err
	}
	nodeByID := make(map[string]*model.PlanDAGNode, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}
	predecessors := make(map[string][]string)
	for _, e := range edges {
		predecessors[e.TargetNode] = append(predecessors[e.TargetNode], e.SourceNode)
	}
	for id := range predecessors {
		sort.Strings(predecessors[id])
	}

	artefacts := make(map[string]nodeexec.Artefact)
	results := make([]NodeResult, 0, len(order))
	anyError := false
	cancelled := false

	for _, nodeID := range order {
		if cancelled {
			results = append(results, NodeResult{NodeID: nodeID, Status: StatusCancelled})
			e.publish(planID, nodeID, StatusCancelled, nil)
			continue
		}
		select {
		case <-ctx.Done():
			cancelled = true
			results = append(results, NodeResult{NodeID: nodeID, Status: StatusCancelled})
			e.publish(planID, nodeID, StatusCancelled, nil)
			continue
		default:
		}

		e.publish(planID, nodeID, StatusPending, nil)
		e.publish(planID, nodeID, StatusProcessing, nil)

		n := nodeByID[nodeID]
		upstream, failedPreds := gatherUpstream(predecessors[nodeID], artefacts)
		if len(failedPreds) > 0 {
			msg := fmt.Sprintf("upstream failed: %v", failedPreds)
			results = append(results, NodeResult{NodeID: nodeID, Status: StatusError, Error: msg})
			e.publish(planID, nodeID, StatusError, msg)
			anyError = true
			continue
		}

		art, execErr := nodeexec.Dispatch(e.nc, n.Kind, n.Config, upstream)
		if execErr != nil {
			results = append(results, NodeResult{NodeID: nodeID, Status: StatusError, Error: execErr.Error()})
			e.publish(planID, nodeID, StatusError, execErr.Error())
			anyError = true
			continue
		}

		artefacts[nodeID] = art
		results = append(results, NodeResult{NodeID: nodeID, Status: StatusCompleted, Artefact: art})
		e.publish(planID, nodeID, StatusCompleted, completionPayload(art))
	}

	finalStatus := model.PlanActive
	switch {
	case cancelled:
		finalStatus = model.PlanActive
	case anyError:
		finalStatus = model.PlanError
	}
	plan.Status = finalStatus
	if _, err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}

	// The terminal plan event is a distinct vocabulary from both the
	// persisted Plan.Status enum (draft|active|executing|error) and
	// the per-node NodeStatus lifecycle: subscribers see the literal
	// events "completed"/"error"/"cancelled".
	terminalEvent := terminalEventCompleted
	switch {
	case cancelled:
		terminalEvent = terminalEventCancelled
	case anyError:
		terminalEvent = terminalEventError
	}
	if e.bus != nil {
		e.bus.PublishNodeStatus(planID, "", terminalEvent, nil)
	}

	return &Result{PlanID: planID, Status: finalStatus, Nodes: results}, nil
}

// Terminal plan-event literals published once per ExecutePlan call,
// after every per-node event.
const (
	terminalEventCompleted = "completed"
	terminalEventError     = "error"
	terminalEventCancelled = "cancelled"
)

func (e *Executor) publish(planID int64, nodeID string, status NodeStatus, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.PublishNodeStatus(planID, nodeID, string(status), payload)
}

func completionPayload(art nodeexec.Artefact) map[string]any {
	return map[string]any{
		"node_count":    len(art.Nodes),
		"edge_count":    len(art.Edges),
		"graph_data_id": art.GraphDataID,
	}
}

func gatherUpstream(preds []string, artefacts map[string]nodeexec.Artefact) (map[string]nodeexec.Artefact, []string) {
	upstream := make(map[string]nodeexec.Artefact, len(preds))
	var failed []string
	for _, p := range preds {
		art, ok := artefacts[p]
		if !ok {
			failed = append(failed, p)
			continue
		}
		upstream[p] = art
	}
	return upstream, failed
}

// topoOrder computes a topological order over nodes/edges via Kahn's
// algorithm, breaking ties by ascending node id so identical plans
// always produce identical schedules. Callers are expected to have
// already validated acyclicity; a cycle here returns an error rather
// than panicking.
func topoOrder(nodes []*model.PlanDAGNode, edges []*model.PlanDAGEdge) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n.ID] = 0
	}
	for _, e := range edges {
		if _, ok := indegree[e.TargetNode]; !ok {
			continue
		}
		if _, ok := indegree[e.SourceNode]; !ok {
			continue
		}
		indegree[e.TargetNode]++
		adjacency[e.SourceNode] = append(adjacency[e.SourceNode], e.TargetNode)
	}
	for id := range adjacency {
		sort.Strings(adjacency[id])
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, succ := range adjacency[next] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, apperr.Internalf(nil, "topological sort could not order all nodes; validator should have caught a cycle")
	}
	return order, nil
}
