//go:build integration

package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.10-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	}()

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}

	p, err := New(url, "driftcast.test", testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	// A second publisher on the same stream must not fail.
	p2, err := New(url, "driftcast.test", testLogger)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	p2.Close()

	sub, err := p.conn.SubscribeSync("driftcast.test")
	if err != nil {
		t.Fatal(err)
	}

	b := testBatch(t)
	if err := p.PublishBatch(ctx, b); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var got Summary
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.BatchID != b.ID.String() {
		t.Errorf("batch id = %q, want %q", got.BatchID, b.ID)
	}
	if id := msg.Header.Get(nats.MsgIdHdr); id != b.ID.String() {
		t.Errorf("Nats-Msg-Id = %q, want %q", id, b.ID)
	}
}
