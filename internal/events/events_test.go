package events

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"projection-orchestrator/internal/models"
)

func TestCompletionPubSub(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Completion, 1)
	listener := NewListener(client, "")
	go func() {
		_ = listener.Run(ctx, func(c Completion) { got <- c })
	}()
	// Give the subscriber a beat to register before publishing.
	time.Sleep(100 * time.Millisecond)

	publisher := NewPublisher(client, "")
	publisher.JobCompleted(ctx, models.Job{
		ID:       "job-1",
		Type:     models.JobTypeModelRun,
		Queue:    "computation",
		OrgID:    "org-1",
		ObjectID: "run-1",
	})

	select {
	case c := <-got:
		if c.JobID != "job-1" || c.Type != models.JobTypeModelRun || c.ObjectID != "run-1" {
			t.Fatalf("unexpected completion: %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion event")
	}
}
