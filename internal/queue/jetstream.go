package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaypoint-io/relaypoint/internal/metrics"
)

const (
	streamName    = "DELIVERIES"
	subjectPrefix = "hub.deliveries."
)

// JetStreamQueue implements Queue on a NATS JetStream work queue. One
// stream captures all delivery subjects; each queue gets its own
// durable consumer so priorities drain independently.
type JetStreamQueue struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

type JetStreamConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	MaxAge        time.Duration
	AckWait       time.Duration
	MaxAckPending int
}

func DefaultJetStreamConfig(url string) JetStreamConfig {
	return JetStreamConfig{
		URL:           url,
		Name:          "relaypoint-hub",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		MaxAge:        24 * time.Hour,
		AckWait:       60 * time.Second,
		MaxAckPending: 256,
	}
}

func NewJetStreamQueue(ctx context.Context, cfg JetStreamConfig) (*JetStreamQueue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &JetStreamQueue{conn: conn, js: js}
	if err := q.ensureTopology(ctx, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

// ensureTopology creates the delivery stream and one durable consumer
// per queue. Safe to run on every startup.
func (q *JetStreamQueue) ensureTopology(ctx context.Context, cfg JetStreamConfig) error {
	_, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		MaxAge:    cfg.MaxAge,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", streamName, err)
	}

	stream, err := q.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	for _, name := range Names {
		_, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          "deliveries-" + name,
			Durable:       "deliveries-" + name,
			FilterSubject: subjectPrefix + name,
			AckWait:       cfg.AckWait,
			MaxAckPending: cfg.MaxAckPending,
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer deliveries-%s: %w", name, err)
		}
	}
	return nil
}

func (q *JetStreamQueue) Publish(ctx context.Context, queue string, task *Task) error {
	task.Queue = queue
	if task.EnqueuedAt == 0 {
		task.EnqueuedAt = time.Now().Unix()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if _, err := q.js.Publish(ctx, subjectPrefix+queue, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	metrics.QueuePublished.WithLabelValues(queue).Inc()
	return nil
}

func (q *JetStreamQueue) Consume(ctx context.Context, queue string, handler Handler) (func(), error) {
	stream, err := q.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, "deliveries-"+queue)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer deliveries-%s: %w", queue, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var task Task
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			// Poison message, drop it.
			_ = msg.Term()
			return
		}

		if err := handler(consumeCtx, &task); err != nil {
			_ = msg.NakWithDelay(5 * time.Second)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}

	return func() {
		cancel()
		cons.Stop()
	}, nil
}

func (q *JetStreamQueue) Close() error {
	q.conn.Close()
	return nil
}
