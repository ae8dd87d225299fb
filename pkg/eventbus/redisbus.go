package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/layercake/layercake/pkg/log"
)

// RedisBridge fans node-status events out across processes via Redis
// pub/sub. A publishing process calls PublishNodeStatus after (or
// instead of) the in-process Coordinator; subscribing processes get a
// channel with the same no-replay semantics as SubscribePlan.
type RedisBridge struct {
	client *goredis.Client
	prefix string
	log    log.Logger
}

// NewRedisBridge wraps an existing Redis client. An empty prefix
// defaults to "layercake:".
func NewRedisBridge(client *goredis.Client, prefix string, logger log.Logger) *RedisBridge {
	if prefix == "" {
		prefix = "layercake:"
	}
	return &RedisBridge{client: client, prefix: prefix, log: log.OrDefault(logger)}
}

func (b *RedisBridge) channel(planID int64) string {
	return fmt.Sprintf("%splan:%d:status", b.prefix, planID)
}

// PublishNodeStatus publishes one node-status event to planID's
// channel. Publish failures are logged, not returned: a broken bridge
// must not fail the plan execution it is reporting on.
func (b *RedisBridge) PublishNodeStatus(ctx context.Context, planID int64, nodeID, status string, payload any) {
	ev := Event{PlanID: planID, NodeID: nodeID, Kind: status, Payload: payload}
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("eventbus: marshal node status event for plan %d: %v", planID, err)
		return
	}
	if err := b.client.Publish(ctx, b.channel(planID), raw).Err(); err != nil {
		b.log.Warn("eventbus: publish node status event for plan %d: %v", planID, err)
	}
}

// SubscribePlan subscribes to planID's status channel and returns a
// channel of decoded events. The channel closes when ctx is cancelled.
func (b *RedisBridge) SubscribePlan(ctx context.Context, planID int64) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel(planID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn("eventbus: drop undecodable status event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
