package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"planforge/branch"
)

// CommitPublisher broadcasts appended commits to observers, the role the
// teacher's features/stream/pulse.Sink plays for runtime events: an
// envelope wraps the payload, a transport-specific client delivers it.
// Here the transport is a plain Redis pub/sub channel rather than a Pulse
// stream (goa.design/pulse is not part of this module, see DESIGN.md).
type CommitPublisher interface {
	Publish(ctx context.Context, taskID string, commit branch.Commit) error
}

// CommitEnvelope is the JSON payload published on a task's commit channel.
type CommitEnvelope struct {
	TaskID    string        `json:"task_id"`
	Branch    string        `json:"branch"`
	Timestamp time.Time     `json:"timestamp"`
	Commit    branch.Commit `json:"commit"`
}

// RedisPublisher publishes CommitEnvelope values to "planforge:commits:<taskID>",
// the channel httpapi's SSE stream handler subscribes to.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher returns a RedisPublisher using client, namespacing
// channels under prefix (default "planforge:commits:").
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "planforge:commits:"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel name a taskID's commits are published
// to, exported so httpapi can subscribe to the same name.
func (p *RedisPublisher) Channel(taskID string) string {
	return p.prefix + taskID
}

// Publish implements CommitPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, taskID string, commit branch.Commit) error {
	env := CommitEnvelope{
		TaskID:    taskID,
		Branch:    commit.Branch,
		Timestamp: time.Now().UTC(),
		Commit:    commit,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("engine: marshal commit envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(taskID), payload).Err(); err != nil {
		return fmt.Errorf("engine: publish commit event: %w", err)
	}
	return nil
}
