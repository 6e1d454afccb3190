package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// ErrPoolStopped is returned by Dispatch once the pool has shut down.
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkItem is a queued job handed to the pool.
type WorkItem struct {
	JobID  uuid.UUID
	Handle string
}

// Pool runs a fixed number of workers consuming a buffered queue. Each job is
// executed end to end by exactly one worker.
type Pool struct {
	exec  *Executor
	jobs  store.JobStore
	cfg   Config
	queue chan WorkItem

	stopOnce sync.Once
	stopped  chan struct{}

	inflight      sync.Map // map[uuid.UUID]struct{}, queued or running
	workerCancels sync.Map // map[uuid.UUID]context.CancelCauseFunc
	metrics       *telemetry.Metrics
}

func NewPool(exec *Executor, jobs store.JobStore, cfg Config) *Pool {
	cfg.ApplyDefaults()
	return &Pool{
		exec:    exec,
		jobs:    jobs,
		cfg:     cfg,
		queue:   make(chan WorkItem, cfg.QueueSize),
		stopped: make(chan struct{}),
		metrics: telemetry.GetMetrics(),
	}
}

// Dispatch enqueues item, waiting for queue space until ctx is done. A job
// already queued or running in this pool is not enqueued twice.
func (p *Pool) Dispatch(ctx context.Context, item WorkItem) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}

	if _, loaded := p.inflight.LoadOrStore(item.JobID, struct{}{}); loaded {
		log.Debug().Str("job_id", item.JobID.String()).Msg("Job already dispatched")
		return nil
	}

	if err := p.enqueue(ctx, item); err != nil {
		p.inflight.Delete(item.JobID)
		return err
	}
	return nil
}

func (p *Pool) enqueue(ctx context.Context, item WorkItem) error {
	select {
	case p.queue <- item:
		return nil
	default:
		p.metrics.DispatchQueueFullTotal.Add(ctx, 1)
		log.Warn().Str("job_id", item.JobID.String()).Msg("Worker queue full, waiting")
	}

	select {
	case p.queue <- item:
		return nil
	case <-p.stopped:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel interrupts a running job. It reports whether the job was running
// in this pool.
func (p *Pool) Cancel(jobID uuid.UUID) bool {
	v, ok := p.workerCancels.Load(jobID)
	if !ok {
		return false
	}
	if cancel, ok := v.(context.CancelCauseFunc); ok {
		cancel(ErrCancelRequested)
	}
	return true
}

// Run starts the workers, re-dispatches jobs left queued or processing by a
// previous process and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	defer p.stopOnce.Do(func() { close(p.stopped) })

	g, ctx := errgroup.WithContext(ctx)

	for i := range p.cfg.Workers {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}

	g.Go(func() error {
		return p.resume(ctx)
	})

	log.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("Worker pool started")

	err := g.Wait()
	log.Info().Msg("Worker pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) resume(ctx context.Context) error {
	jobs, err := p.jobs.ListResumable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resumable jobs: %w", err)
	}

	for _, job := range jobs {
		handle := ""
		if job.TaskHandle != nil {
			handle = *job.TaskHandle
		}
		if err := p.Dispatch(ctx, WorkItem{JobID: job.ID, Handle: handle}); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrPoolStopped) {
				return nil
			}
			return err
		}
		log.Info().Str("job_id", job.ID.String()).Str("status", string(job.Status)).Msg("Re-dispatched job after restart")
	}
	return nil
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			p.execute(ctx, worker, item)
		}
	}
}

func (p *Pool) execute(ctx context.Context, worker int, item WorkItem) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	p.workerCancels.Store(item.JobID, cancel)
	defer func() {
		cancel(nil)
		p.workerCancels.Delete(item.JobID)
		p.inflight.Delete(item.JobID)
	}()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("job_id", item.JobID.String()).Interface("panic", rec).Msg("Panic while executing job")
			if _, err := p.jobs.MarkTerminal(context.WithoutCancel(ctx), item.JobID, models.JobStatusFailed, fmt.Sprintf("panic: %v", rec)); err != nil {
				log.Error().Err(err).Str("job_id", item.JobID.String()).Msg("Failed to mark job failed after panic")
			}
		}
	}()

	log.Debug().Int("worker", worker).Str("job_id", item.JobID.String()).Str("handle", item.Handle).Msg("Executing job")

	if err := p.exec.Run(jobCtx, item.JobID); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("job_id", item.JobID.String()).Msg("Job execution error")
	}
}
