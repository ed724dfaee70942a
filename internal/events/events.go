package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/telemetry"
)

// DefaultChannel is the Redis pub/sub channel carrying job completions.
const DefaultChannel = "jobs:completed"

// Completion is the payload pushed when a job reaches done. Clients still
// poll job status over HTTP; this channel only shortens the internal path
// between worker and API process.
type Completion struct {
	JobID    string `json:"job_id"`
	Type     string `json:"type"`
	Queue    string `json:"queue"`
	OrgID    string `json:"org_id"`
	ObjectID string `json:"object_id,omitempty"`
}

// Publisher pushes completion events over Redis pub/sub. It satisfies
// jobs.CompletionNotifier.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher constructs a publisher on the given channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// JobCompleted publishes the completion. Publish failures are logged, not
// propagated: the durable job row is the source of truth and pollers will
// still observe the terminal state.
func (p *Publisher) JobCompleted(ctx context.Context, job models.Job) {
	payload, err := json.Marshal(Completion{
		JobID:    job.ID,
		Type:     job.Type,
		Queue:    job.Queue,
		OrgID:    job.OrgID,
		ObjectID: job.ObjectID,
	})
	if err != nil {
		telemetry.Error("marshal completion event", map[string]any{"job_id": job.ID, "err": err.Error()})
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		telemetry.Error("publish completion event", map[string]any{"job_id": job.ID, "err": err.Error()})
	}
}

// Listener consumes completion events.
type Listener struct {
	client  *redis.Client
	channel string
}

// NewListener constructs a listener on the given channel.
func NewListener(client *redis.Client, channel string) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{client: client, channel: channel}
}

// Run subscribes and invokes handle for each completion until the context
// is cancelled. Malformed payloads are logged and skipped.
func (l *Listener) Run(ctx context.Context, handle func(Completion)) error {
	sub := l.client.Subscribe(ctx, l.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var completion Completion
			if err := json.Unmarshal([]byte(msg.Payload), &completion); err != nil {
				telemetry.Error("decode completion event", map[string]any{"err": err.Error()})
				continue
			}
			handle(completion)
		}
	}
}
