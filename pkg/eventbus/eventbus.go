// Package eventbus implements the actor-style presence coordinator and
// the per-plan node-status broadcast: one cooperative loop owning a map
// of per-project actors, each fanning commands and broadcasts out to
// per-user channels with backpressure and slow-consumer drop semantics.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/layercake/layercake/pkg/log"
)

// dropAfter is the number of consecutive failed sends to a user's
// outbound channel before that subscriber is dropped.
const dropAfter = 3

// CommandKind enumerates coordinator commands.
type CommandKind string

const (
	CmdJoin           CommandKind = "join"
	CmdLeave          CommandKind = "leave"
	CmdCursorUpdate   CommandKind = "cursor_update"
	CmdSwitchDocument CommandKind = "switch_document"
	CmdGetHealth      CommandKind = "get_health"
	CmdShutdown       CommandKind = "shutdown"
)

// Command is one request sent to the coordinator's input channel.
type Command struct {
	Kind      CommandKind
	ProjectID int64
	UserID    string
	Cursor    any
	Document  string
	Reply     chan Response
}

// Response is returned to a command's caller via its Reply channel.
type Response struct {
	OK     bool
	Err    error
	Health ProjectHealth
	Outbox <-chan Event
}

// ProjectHealth summarises one project actor's live state.
type ProjectHealth struct {
	ProjectID  int64
	UserCount  int
	DroppedIDs []string
}

// Event is a message broadcast to project subscribers: presence
// updates and (when routed from the executor) node status events.
type Event struct {
	ProjectID int64
	Kind      string
	PlanID    int64
	NodeID    string
	Payload   any
}

type userState struct {
	outbox       chan Event
	cursor       any
	document     string
	consecFailed int
}

type projectActor struct {
	projectID int64
	users     map[string]*userState
	dropped   map[string]bool
}

func newProjectActor(id int64) *projectActor {
	return &projectActor{projectID: id, users: make(map[string]*userState), dropped: make(map[string]bool)}
}

// Coordinator is the single-loop actor owning every project's presence
// state. External callers talk to it only through its input channel;
// the loop itself never blocks on a slow subscriber.
type Coordinator struct {
	log      log.Logger
	commands chan Command

	mu       sync.Mutex
	actors   map[int64]*projectActor
	planSubs map[int64][]chan Event

	done chan struct{}
}

// New builds a Coordinator with the given command-channel capacity.
// Send blocks once this buffer is full.
func New(capacity int, logger log.Logger) *Coordinator {
	return &Coordinator{
		log:      log.OrDefault(logger),
		commands: make(chan Command, capacity),
		actors:   make(map[int64]*projectActor),
		planSubs: make(map[int64][]chan Event),
		done:     make(chan struct{}),
	}
}

// Send enqueues cmd. It blocks if the input channel is saturated,
// unless ctx is cancelled first.
func (c *Coordinator) Send(ctx context.Context, cmd Command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the coordinator's cooperative loop until ctx is cancelled
// or a shutdown command is processed. Intended to run on its own
// goroutine; the loop itself never spawns goroutines for command
// handling, preserving single-threaded interior semantics.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			if !c.handle(cmd) {
				return
			}
		}
	}
}

// Done signals when Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) handle(cmd Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Kind {
	case CmdShutdown:
		c.log.Info("eventbus: shutdown received, draining %d projects", len(c.actors))
		for _, actor := range c.actors {
			for _, u := range actor.users {
				close(u.outbox)
			}
		}
		c.actors = make(map[int64]*projectActor)
		reply(cmd, Response{OK: true})
		return false

	case CmdJoin:
		actor := c.actorFor(cmd.ProjectID)
		actor.users[cmd.UserID] = &userState{outbox: make(chan Event, 16)}
		reply(cmd, Response{OK: true, Outbox: actor.users[cmd.UserID].outbox})

	case CmdLeave:
		actor := c.actorFor(cmd.ProjectID)
		if u, ok := actor.users[cmd.UserID]; ok {
			close(u.outbox)
			delete(actor.users, cmd.UserID)
		}
		reply(cmd, Response{OK: true})

	case CmdCursorUpdate:
		actor := c.actorFor(cmd.ProjectID)
		if u, ok := actor.users[cmd.UserID]; ok {
			u.cursor = cmd.Cursor
			c.broadcastLocked(actor, cmd.UserID, Event{ProjectID: cmd.ProjectID, Kind: "cursor_update", Payload: cmd.Cursor})
		}
		reply(cmd, Response{OK: true})

	case CmdSwitchDocument:
		actor := c.actorFor(cmd.ProjectID)
		if u, ok := actor.users[cmd.UserID]; ok {
			u.document = cmd.Document
			c.broadcastLocked(actor, cmd.UserID, Event{ProjectID: cmd.ProjectID, Kind: "switch_document", Payload: cmd.Document})
		}
		reply(cmd, Response{OK: true})

	case CmdGetHealth:
		actor := c.actorFor(cmd.ProjectID)
		dropped := make([]string, 0, len(actor.dropped))
		for id := range actor.dropped {
			dropped = append(dropped, id)
		}
		reply(cmd, Response{OK: true, Health: ProjectHealth{ProjectID: cmd.ProjectID, UserCount: len(actor.users), DroppedIDs: dropped}})

	default:
		reply(cmd, Response{OK: false, Err: fmt.Errorf("unknown command %q", cmd.Kind)})
	}
	return true
}

func (c *Coordinator) actorFor(projectID int64) *projectActor {
	a, ok := c.actors[projectID]
	if !ok {
		a = newProjectActor(projectID)
		c.actors[projectID] = a
	}
	return a
}

// broadcastLocked fans ev out to every other user in actor, dropping a
// subscriber after dropAfter consecutive non-blocking send failures.
// Must be called with c.mu held.
func (c *Coordinator) broadcastLocked(actor *projectActor, fromUser string, ev Event) {
	for userID, u := range actor.users {
		if userID == fromUser {
			continue
		}
		select {
		case u.outbox <- ev:
			u.consecFailed = 0
		default:
			u.consecFailed++
			if u.consecFailed >= dropAfter {
				c.log.Warn("eventbus: dropping slow subscriber %s in project %d", userID, actor.projectID)
				close(u.outbox)
				delete(actor.users, userID)
				actor.dropped[userID] = true
			}
		}
	}
}

func reply(cmd Command, resp Response) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- resp:
	default:
	}
}

// SubscribePlan registers a channel that receives node-status events
// for planID. Late subscribers see only events emitted after they
// subscribe; there is no replay.
func (c *Coordinator) SubscribePlan(planID int64) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Event, 64)
	c.planSubs[planID] = append(c.planSubs[planID], ch)
	return ch
}

// PublishNodeStatus routes a node status event to planID's subscribers.
// Non-blocking per-subscriber; a full subscriber buffer simply drops
// the event rather than stalling other subscribers or the publisher.
func (c *Coordinator) PublishNodeStatus(planID int64, nodeID, status string, payload any) {
	c.mu.Lock()
	subs := append([]chan Event{}, c.planSubs[planID]...)
	c.mu.Unlock()

	ev := Event{PlanID: planID, NodeID: nodeID, Kind: status, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			c.log.Warn("eventbus: dropping node status event for plan %d node %s, subscriber buffer full", planID, nodeID)
		}
	}
}
