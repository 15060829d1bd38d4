// Package queue defines the job descriptor handed from the API to the
// worker pool and the delivery contract queue backends implement.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by Dequeue once the queue is shut down.
var ErrClosed = errors.New("queue closed")

// Job is one pipeline run request.
type Job struct {
	RunID       string `json:"run_id"`
	StoreID     string `json:"store_id"`
	URL         string `json:"url"`
	CollectedAt string `json:"collected_at"`
	// Attempt counts prior deliveries that ended in a retryable failure.
	Attempt int `json:"attempt,omitempty"`
}

// Validate reports the first missing field.
func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.RunID) == "":
		return fmt.Errorf("job: run_id is required")
	case strings.TrimSpace(j.StoreID) == "":
		return fmt.Errorf("job: store_id is required")
	case strings.TrimSpace(j.URL) == "":
		return fmt.Errorf("job: url is required")
	case strings.TrimSpace(j.CollectedAt) == "":
		return fmt.Errorf("job: collected_at is required")
	}
	return nil
}

// Queue delivers jobs at least once to one consumer at a time.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx ends, or the queue closes.
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}
