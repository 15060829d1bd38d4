package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/pipeline"
	"github.com/JakeFAU/hidden-spot/internal/queue"
	memqueue "github.com/JakeFAU/hidden-spot/internal/queue/memory"
	"github.com/JakeFAU/hidden-spot/internal/worker"
)

type countingRunner struct{ n atomic.Int32 }

func (r *countingRunner) Run(_ context.Context, job queue.Job) pipeline.Outcome {
	r.n.Add(1)
	return pipeline.Outcome{Kind: pipeline.Succeeded, RunID: job.RunID}
}

// TestDispatcherRunsJobsAcrossWorkers ensures every enqueued job is run once
// and Run returns after cancel.
func TestDispatcherRunsJobsAcrossWorkers(t *testing.T) {
	t.Parallel()

	q := memqueue.NewQueue(16)
	runner := &countingRunner{}
	workers := []*worker.Worker{
		worker.New(1, q, runner, worker.Config{}, zap.NewNop()),
		worker.New(2, q, runner, worker.Config{}, zap.NewNop()),
	}
	dispatch := New(q, workers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := range 5 {
		require.NoError(t, dispatch.Enqueue(ctx, queue.Job{
			RunID:       fmt.Sprintf("run-%d", i),
			StoreID:     "1001",
			URL:         "https://example.com",
			CollectedAt: "2026-01-02T03:04:05Z",
		}))
	}
	require.Eventually(t, func() bool { return runner.n.Load() == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)
	err := dispatch.Enqueue(context.Background(), queue.Job{RunID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, queue.Job) error { return q.err }

func (q *errorQueue) Dequeue(ctx context.Context) (queue.Job, error) {
	<-ctx.Done()
	return queue.Job{}, ctx.Err()
}

func (q *errorQueue) Close() error { return nil }
