// Package events broadcasts flow status changes so observers outside the
// process (dashboards, other service instances) can follow a run.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/collection-cli/internal/model"
)

// DefaultChannel is the pub/sub channel status events are published on.
const DefaultChannel = "collection:flow_status"

// StatusEvent announces that a flow entered a new status.
type StatusEvent struct {
	FlowID string           `json:"flow_id"`
	From   model.FlowStatus `json:"from"`
	Status model.FlowStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
	At     time.Time        `json:"at"`
}

// Publisher delivers status events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, StatusEvent) error { return nil }

// RedisPublisher publishes JSON-encoded events on a Redis channel.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher on channel (DefaultChannel when empty).
func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal")
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return eris.Wrapf(err, "events: publish to %s", p.channel)
	}
	return nil
}

// Recorder keeps events in memory. It is used by tests and by the status
// server to show the most recent transitions of a flow.
type Recorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *Recorder) Publish(_ context.Context, ev StatusEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the events recorded for flowID, oldest first. An
// empty flowID returns everything.
func (r *Recorder) Events(flowID string) []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusEvent
	for _, ev := range r.events {
		if flowID == "" || ev.FlowID == flowID {
			out = append(out, ev)
		}
	}
	return out
}

