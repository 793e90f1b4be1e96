package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRefundQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, taskID, generationID := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, taskID, generationID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["task_id"] != taskID || got.Values["generation_id"] != generationID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRefundQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, taskID, generationID := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, taskID, generationID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
}

func TestRefundQueueHandleMessageMarksDone(t *testing.T) {
	q, ctx, _, taskID, _ := newPendingQueueMessage(t)
	msg := redis.XMessage{ID: "0-1", Values: map[string]any{"task_id": taskID, "generation_id": "gen-1"}}

	var seen RefundTask
	q.handleMessage(ctx, msg, func(_ context.Context, task RefundTask) error {
		seen = task
		return nil
	})
	if seen.GenerationID != "gen-1" || seen.Attempts != 1 {
		t.Fatalf("handler saw %+v", seen)
	}
	task, ok, err := q.GetTask(ctx, taskID)
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if task.Status != StatusDone {
		t.Fatalf("status = %q", task.Status)
	}
}

func TestRefundQueueHandleMessageFailsAfterRetries(t *testing.T) {
	q, ctx, msgID, taskID, generationID := newPendingQueueMessage(t)
	q.maxRetries = 1
	msg := redis.XMessage{ID: msgID, Values: map[string]any{"task_id": taskID, "generation_id": generationID}}

	q.handleMessage(ctx, msg, func(context.Context, RefundTask) error {
		return errors.New("store unavailable")
	})
	task, _, err := q.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != StatusFailed || task.ErrorMessage != "store unavailable" {
		t.Fatalf("task = %+v", task)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("exhausted task should leave the stream, len=%d", n)
	}
}

func TestRefundQueueStartConsumesBacklog(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	q, err := NewRefundQueue(RefundQueueConfig{
		Client:     client,
		Stream:     "test:refunds",
		Group:      "test-group",
		Block:      10 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, "gen-9", "refund commit failed"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var handled atomic.Int32
	done := make(chan string, 1)
	q.Start(ctx, 1, func(_ context.Context, task RefundTask) error {
		if handled.Add(1) == 1 {
			done <- task.GenerationID
		}
		return nil
	})

	select {
	case id := <-done:
		if id != "gen-9" {
			t.Fatalf("generation id = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task enqueued before Start was not consumed")
	}
}

func TestNewRefundQueueValidates(t *testing.T) {
	if _, err := NewRefundQueue(RefundQueueConfig{Stream: "s"}); err == nil {
		t.Fatalf("expected addr error")
	}
	if _, err := NewRefundQueue(RefundQueueConfig{Addr: "127.0.0.1:6379"}); err == nil {
		t.Fatalf("expected stream error")
	}
}

func newPendingQueueMessage(t *testing.T) (*RefundQueue, context.Context, string, string, string) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRefundQueue(RefundQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	task, err := q.Enqueue(ctx, "gen-1", "test")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, task.ID, task.GenerationID
}
