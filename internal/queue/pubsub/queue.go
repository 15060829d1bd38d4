// Package pubsub delivers jobs through Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/queue"
)

// Config names the topic jobs are published to and the subscription the
// worker pool pulls from.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
	// MaxOutstanding bounds unacked messages held by this process.
	MaxOutstanding int
}

// Queue publishes jobs as JSON messages and hands received messages to
// Dequeue callers. A message is acked once a caller has taken it; failed
// runs are retried by re-publishing with a higher attempt count.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	jobs    chan queue.Job
	start   sync.Once
	recvErr chan error
	cancel  context.CancelFunc
	ctx     context.Context
	owned   bool
}

var _ queue.Queue = (*Queue)(nil)

// New dials Pub/Sub with Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	q, err := NewWithClient(ctx, client, cfg, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil && logger != nil {
			logger.Warn("close pubsub client", zap.Error(closeErr))
		}
		return nil, err
	}
	q.owned = true
	return q, nil
}

// NewWithClient builds a Queue over an existing client. The topic must
// exist; the subscription is only required for consumers.
func NewWithClient(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.Topic, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}
	var sub *pubsub.Subscription
	if cfg.Subscription != "" {
		sub = client.Subscription(cfg.Subscription)
		if cfg.MaxOutstanding > 0 {
			sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
		}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Queue{
		client:  client,
		topic:   topic,
		sub:     sub,
		logger:  logger.Named("pubsub"),
		jobs:    make(chan queue.Job),
		recvErr: make(chan error, 1),
		cancel:  cancel,
		ctx:     runCtx,
	}, nil
}

// Enqueue publishes job and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":   job.RunID,
			"store_id": job.StoreID,
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.RunID, err)
	}
	q.logger.Debug("job published", zap.String("run_id", job.RunID), zap.String("message_id", id))
	return nil
}

// Dequeue returns the next received job. The receive loop starts on the
// first call.
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	if q.sub == nil {
		return queue.Job{}, errors.New("pubsub subscription is not configured")
	}
	q.start.Do(func() { go q.receive() })
	select {
	case <-ctx.Done():
		return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.ctx.Done():
		return queue.Job{}, queue.ErrClosed
	case err := <-q.recvErr:
		return queue.Job{}, err
	case job := <-q.jobs:
		return job, nil
	}
}

func (q *Queue) receive() {
	err := q.sub.Receive(q.ctx, func(ctx context.Context, m *pubsub.Message) {
		var job queue.Job
		if err := json.Unmarshal(m.Data, &job); err != nil {
			q.logger.Error("dropping undecodable job message", zap.String("message_id", m.ID), zap.Error(err))
			m.Ack()
			return
		}
		select {
		case q.jobs <- job:
			m.Ack()
		case <-ctx.Done():
			m.Nack()
		}
	})
	if err != nil && q.ctx.Err() == nil {
		q.recvErr <- fmt.Errorf("pubsub receive: %w", err)
	}
}

// Close stops receiving, flushes pending publishes and closes the client
// when this Queue created it.
func (q *Queue) Close() error {
	q.cancel()
	q.topic.Stop()
	if !q.owned {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
