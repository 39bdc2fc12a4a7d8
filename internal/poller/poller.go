// Package poller waits for a worker job to leave the worker queue.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/clipvault-api/internal/worker"
)

var (
	// ErrJobIDRequired is returned when no job id is given.
	ErrJobIDRequired = errors.New("poller: job ID is required")
	// ErrInvalidWait is returned when maxWait is not positive.
	ErrInvalidWait = errors.New("poller: max wait must be positive")
	// ErrInvalidInterval is returned when the poll interval is not positive.
	ErrInvalidInterval = errors.New("poller: interval must be positive")
	// ErrTimeout is returned when the job did not finish within maxWait.
	ErrTimeout = errors.New("poller: timed out waiting for job")
	// ErrJobLost is returned when the job is in neither the pending nor the
	// completed set.
	ErrJobLost = errors.New("poller: job disappeared from queue")
	// ErrJobFailed is returned when the worker moved the job to its failed registry.
	ErrJobFailed = errors.New("poller: job failed")
	// ErrNoOutput is returned when a completed job produced no file.
	ErrNoOutput = errors.New("poller: job completed without output file")
	// ErrQueueUnreachable is returned when the queue snapshot cannot be read.
	ErrQueueUnreachable = errors.New("poller: queue unreachable")
)

// Queue provides snapshots of the worker queue.
type Queue interface {
	QueueSnapshot(ctx context.Context) (worker.Snapshot, error)
}

// JobResult describes a completed worker job.
type JobResult struct {
	JobID    string
	FileName string
}

// Poller polls a Queue until a job completes.
type Poller struct {
	queue  Queue
	logger *slog.Logger
}

// New creates a Poller.
func New(queue Queue, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{queue: queue, logger: logger}
}

// AwaitCompletion blocks until jobID leaves the pending set of the queue and
// returns its completed entry. The wait is bounded by maxWait and by ctx.
func (p *Poller) AwaitCompletion(ctx context.Context, jobID string, interval, maxWait time.Duration) (JobResult, error) {
	if jobID == "" {
		return JobResult{}, ErrJobIDRequired
	}
	if maxWait <= 0 {
		return JobResult{}, ErrInvalidWait
	}
	if interval <= 0 {
		return JobResult{}, ErrInvalidInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-waitCtx.Done():
			return JobResult{}, p.stopReason(ctx, jobID)
		case <-timer.C:
		}

		snap, err := p.queue.QueueSnapshot(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				return JobResult{}, p.stopReason(ctx, jobID)
			}
			return JobResult{}, fmt.Errorf("%w: %w", ErrQueueUnreachable, err)
		}

		if snap.IsPending(jobID) {
			p.logger.Debug("worker job still pending",
				slog.String("job_id", jobID),
				slog.Int("poll", polls),
			)
			timer.Reset(interval)
			continue
		}

		if snap.IsFailed(jobID) {
			return JobResult{}, fmt.Errorf("%w: %s", ErrJobFailed, jobID)
		}

		done, ok := snap.CompletedJob(jobID)
		if !ok {
			return JobResult{}, fmt.Errorf("%w: %s", ErrJobLost, jobID)
		}
		if len(done.Files) == 0 || done.Files[0] == "" {
			return JobResult{}, fmt.Errorf("%w: %s", ErrNoOutput, jobID)
		}
		return JobResult{JobID: jobID, FileName: done.Files[0]}, nil
	}
}

// stopReason distinguishes caller cancellation from our own deadline.
func (p *Poller) stopReason(parent context.Context, jobID string) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("poller: waiting for %s: %w", jobID, err)
	}
	p.logger.Warn("worker job wait exceeded", slog.String("job_id", jobID))
	return fmt.Errorf("%w: %s", ErrTimeout, jobID)
}
