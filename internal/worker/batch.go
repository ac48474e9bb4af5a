package worker

import (
	"context"
)

// Keyed is a job that shares a rate limit with other jobs of the same key
type Keyed interface {
	Job
	LimitKey() string
}

// ErrorResult is returned for jobs that never ran
type ErrorResult struct {
	Err error
}

// GetError returns the error that prevented execution
func (r *ErrorResult) GetError() error {
	return r.Err
}

// limitedJob waits on the limiter before executing
type limitedJob struct {
	Keyed
	limiter *Limiter
}

func (j *limitedJob) Execute(ctx context.Context) Result {
	if err := j.limiter.Wait(ctx, j.LimitKey()); err != nil {
		return &ErrorResult{Err: err}
	}
	return j.Keyed.Execute(ctx)
}

// BatchProcessor executes a batch of jobs on a fresh pool
type BatchProcessor struct {
	concurrency int
	limiter     *Limiter
}

// NewBatchProcessor creates a processor. limiter may be nil.
func NewBatchProcessor(concurrency int, limiter *Limiter) *BatchProcessor {
	return &BatchProcessor{
		concurrency: concurrency,
		limiter:     limiter,
	}
}

// Process runs jobs concurrently and returns one result per executed job.
// Results are in completion order.
func (b *BatchProcessor) Process(ctx context.Context, jobs []Job) []Result {
	if len(jobs) == 0 {
		return []Result{}
	}

	concurrency := b.concurrency
	if concurrency > len(jobs) {
		concurrency = len(jobs)
	}
	pool := NewPool(ctx, concurrency)
	pool.Start()

	for _, job := range jobs {
		if k, ok := job.(Keyed); ok && b.limiter != nil {
			job = &limitedJob{Keyed: k, limiter: b.limiter}
		}
		if !pool.Submit(job) {
			break
		}
	}

	return pool.Wait()
}
