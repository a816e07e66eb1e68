package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_PublishConsume(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx := context.Background()

	received := make(chan *Task, 1)
	stop, err := q.Consume(ctx, High, func(ctx context.Context, task *Task) error {
		received <- task
		return nil
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, q.Publish(ctx, High, &Task{EventID: "ev-1"}))

	select {
	case task := <-received:
		assert.Equal(t, "ev-1", task.EventID)
		assert.Equal(t, High, task.Queue)
	case <-time.After(time.Second):
		t.Fatal("task was not delivered")
	}
}

func TestMemoryQueue_QueuesAreSeparate(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx := context.Background()

	highSeen := make(chan string, 2)
	stop, err := q.Consume(ctx, High, func(ctx context.Context, task *Task) error {
		highSeen <- task.EventID
		return nil
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, q.Publish(ctx, High, &Task{EventID: "fast"}))
	require.NoError(t, q.Publish(ctx, Low, &Task{EventID: "slow"}))

	select {
	case id := <-highSeen:
		assert.Equal(t, "fast", id)
	case <-time.After(time.Second):
		t.Fatal("high-queue task was not delivered")
	}

	select {
	case id := <-highSeen:
		t.Fatalf("low-queue task %q leaked into the high consumer", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryQueue_RedeliversOnHandlerError(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	stop, err := q.Consume(ctx, Retry, func(ctx context.Context, task *Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, q.Publish(ctx, Retry, &Task{EventID: "ev-1"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not redelivered after handler errors")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestMemoryQueue_UnknownQueue(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	err := q.Publish(context.Background(), "bogus", &Task{EventID: "ev-1"})
	assert.Error(t, err)

	_, err = q.Consume(context.Background(), "bogus", func(ctx context.Context, task *Task) error { return nil })
	assert.Error(t, err)
}
