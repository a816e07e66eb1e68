package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaypoint-io/relaypoint/internal/metrics"
)

// MemoryQueue is an in-process Queue used in tests and single-node
// development setups. Tasks that fail are redelivered immediately.
type MemoryQueue struct {
	mu     sync.Mutex
	chans  map[string]chan *Task
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryQueue() *MemoryQueue {
	chans := make(map[string]chan *Task, len(Names))
	for _, name := range Names {
		chans[name] = make(chan *Task, 1024)
	}
	return &MemoryQueue{chans: chans}
}

func (q *MemoryQueue) Publish(ctx context.Context, queue string, task *Task) error {
	q.mu.Lock()
	ch, ok := q.chans[queue]
	closed := q.closed
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown queue %q", queue)
	}
	if closed {
		return fmt.Errorf("queue closed")
	}

	task.Queue = queue
	select {
	case ch <- task:
		metrics.QueuePublished.WithLabelValues(queue).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, queue string, handler Handler) (func(), error) {
	q.mu.Lock()
	ch, ok := q.chans[queue]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-consumeCtx.Done():
				return
			case task, open := <-ch:
				if !open {
					return
				}
				if err := handler(consumeCtx, task); err != nil {
					select {
					case ch <- task:
					default:
					}
				}
			}
		}
	}()

	return cancel, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
