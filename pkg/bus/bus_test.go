package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	pb := NewProgressBus()
	defer pb.Close()

	ev := ProgressEvent{RequestID: "req-1", Stage: StageGeneration, Detail: "asking oracle"}
	if err := pb.Publish(ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, ok := pb.Subscribe(context.Background())
	if !ok {
		t.Fatal("Subscribe returned false")
	}
	if got.RequestID != "req-1" || got.Stage != StageGeneration {
		t.Fatalf("got %+v", got)
	}
	if got.Time.IsZero() {
		t.Error("expected Time stamped on publish")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	pb := NewProgressBus()
	defer pb.Close()

	for i := 0; i < 150; i++ {
		if err := pb.Publish(ProgressEvent{RequestID: "req-1", Stage: StageExecution, Attempt: i}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if pb.Dropped() != 50 {
		t.Fatalf("expected 50 dropped events, got %d", pb.Dropped())
	}
}

func TestPublishAfterClose(t *testing.T) {
	pb := NewProgressBus()
	pb.Close()

	if err := pb.Publish(ProgressEvent{Stage: StageDone}); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	pb := NewProgressBus()
	pb.Close()

	_, ok := pb.Subscribe(context.Background())
	if ok {
		t.Fatal("expected false from Subscribe after Close")
	}
}

func TestSubscribeContextCancel(t *testing.T) {
	pb := NewProgressBus()
	defer pb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := pb.Subscribe(ctx)
	if ok {
		t.Fatal("expected false from Subscribe with cancelled context")
	}
}

func TestCloseIdempotent(t *testing.T) {
	pb := NewProgressBus()
	pb.Close()
	pb.Close() // should not panic
}

func TestSubscribeUnblocksOnClose(t *testing.T) {
	pb := NewProgressBus()

	done := make(chan bool, 1)
	go func() {
		_, ok := pb.Subscribe(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	pb.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not unblock after Close")
	}
}
