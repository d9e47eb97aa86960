/**
 * @description
 * The submission worker drains the job queue one job at a time. A cron schedule
 * fires a tick every interval; a tick that finds the previous one still running is
 * skipped. Each proceeding tick submits at most one job and applies the bounded
 * retry policy on failure.
 *
 * A popped job whose state could not be written back is held by the worker and
 * written again at the start of the next tick, so a store outage never leaves a job
 * stuck in processing with no queue entry.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Tick scheduling with panic recovery.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/metrics"
	"github.com/remitchain/relayer-service/internal/store"
	"github.com/remitchain/relayer-service/pkg/ledgerclient"
	"github.com/robfig/cron/v3"
)

// Tick outcomes, used as a metrics label and returned by Tick for tests.
const (
	TickSkippedBusy = "skipped_busy"
	TickIdle        = "idle"
	TickSubmitted   = "submitted"
	TickRetrying    = "retrying"
	TickFailed      = "failed"
	TickIgnored     = "ignored"
	TickError       = "error"
)

// Submitter sends a built call to the ledger.
type Submitter interface {
	Submit(ctx context.Context, call ledgerclient.Call) (string, error)
}

// WorkerOptions configure retry bounds and pacing.
type WorkerOptions struct {
	Interval   time.Duration
	MaxRetries int
}

// Worker is the single-flight submission loop.
type Worker struct {
	opts    WorkerOptions
	queue   *JobQueue
	ledger  Submitter
	builder *TxBuilder
	events  eventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	cron    *cron.Cron
	busy    atomic.Bool
	now     func() time.Time

	// Only touched inside a tick, which the busy flag keeps single-flight.
	heldIDs  []string
	heldJobs []*domain.Job
}

func NewWorker(queue *JobQueue, ledger Submitter, builder *TxBuilder, publisher Publisher, m *metrics.Metrics, logger *slog.Logger, opts WorkerOptions) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")
	if opts.Interval < time.Second {
		// cron's @every does not go below one second.
		opts.Interval = time.Second
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	return &Worker{
		opts:    opts,
		queue:   queue,
		ledger:  ledger,
		builder: builder,
		events:  eventSink{publisher: publisher, logger: logger},
		metrics: m,
		logger:  logger,
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger))),
		now:     time.Now,
	}
}

// Start schedules the tick and starts the cron runner.
func (w *Worker) Start() error {
	schedule := fmt.Sprintf("@every %s", w.opts.Interval)
	if _, err := w.cron.AddFunc(schedule, func() { w.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("schedule worker tick: %w", err)
	}
	w.cron.Start()
	w.logger.Info("submission worker started", "interval", w.opts.Interval.String(), "max_retries", w.opts.MaxRetries)
	return nil
}

// Stop halts scheduling; the returned context is done once a running tick finishes.
func (w *Worker) Stop() context.Context {
	return w.cron.Stop()
}

// Tick runs one iteration of the loop and reports what it did.
func (w *Worker) Tick(ctx context.Context) string {
	if !w.busy.CompareAndSwap(false, true) {
		w.metrics.RecordTick(TickSkippedBusy)
		return TickSkippedBusy
	}
	defer w.busy.Store(false)

	outcome := w.process(ctx)
	w.metrics.RecordTick(outcome)
	if depth, err := w.queue.Depth(ctx); err == nil {
		w.metrics.SetQueueDepth(depth)
	}
	return outcome
}

func (w *Worker) process(ctx context.Context) string {
	w.flushHeld(ctx)

	id, ok, err := w.next(ctx)
	if err != nil {
		w.logger.Error("dequeue failed", "error", err)
		return TickError
	}
	if !ok {
		return TickIdle
	}

	job, err := w.queue.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			w.logger.Warn("queued id has no job record; dropping", "job_id", id)
			return TickIgnored
		}
		w.logger.Error("load job failed; holding id for next tick", "job_id", id, "error", err)
		w.heldIDs = append(w.heldIDs, id)
		return TickError
	}
	if job.IsTerminal() {
		w.logger.Warn("terminal job found in queue; ignoring", "job_id", id, "status", job.Status)
		return TickIgnored
	}

	if err := job.Transition(domain.JobStatusProcessing, w.now().UTC()); err != nil {
		w.logger.Warn("job not in a submittable state; ignoring", "job_id", id, "error", err)
		return TickIgnored
	}
	if err := w.queue.Save(ctx, job); err != nil {
		// Nothing was sent yet, so the job can simply be picked up again.
		w.logger.Error("persist processing state failed; holding id for next tick", "job_id", id, "error", err)
		w.heldIDs = append(w.heldIDs, id)
		return TickError
	}
	w.metrics.RecordTransition(domain.JobStatusProcessing)

	txHash, submitErr := w.submit(ctx, job)
	if submitErr == nil {
		return w.markSubmitted(ctx, job, txHash)
	}
	return w.handleFailure(ctx, job, submitErr)
}

func (w *Worker) submit(ctx context.Context, job *domain.Job) (string, error) {
	call, err := w.builder.Build(job.Payload)
	if err != nil {
		return "", err
	}
	start := time.Now()
	txHash, err := w.ledger.Submit(ctx, call)
	w.metrics.ObserveSubmit(time.Since(start))
	return txHash, err
}

func (w *Worker) markSubmitted(ctx context.Context, job *domain.Job, txHash string) string {
	job.TxHash = txHash
	job.Error = ""
	if err := job.Transition(domain.JobStatusSubmitted, w.now().UTC()); err != nil {
		w.logger.Error("submitted transition rejected", "job_id", job.ID, "error", err)
		return TickError
	}
	if err := w.settle(ctx, job); err != nil {
		w.hold(job, err)
		return TickError
	}
	w.logger.Info("job submitted", "job_id", job.ID, "tx_hash", txHash, "attempts", job.Attempts+1)
	return TickSubmitted
}

func (w *Worker) handleFailure(ctx context.Context, job *domain.Job, submitErr error) string {
	job.Attempts++
	job.Error = submitErr.Error()
	now := w.now().UTC()

	if job.Attempts <= w.opts.MaxRetries {
		if err := job.Transition(domain.JobStatusQueued, now); err != nil {
			w.logger.Error("retry transition rejected", "job_id", job.ID, "error", err)
			return TickError
		}
		if err := w.settle(ctx, job); err != nil {
			w.hold(job, err)
			return TickError
		}
		w.logger.Warn("submission failed; requeued", "job_id", job.ID, "attempts", job.Attempts, "max_retries", w.opts.MaxRetries, "error", submitErr)
		return TickRetrying
	}

	if err := job.Transition(domain.JobStatusFailed, now); err != nil {
		w.logger.Error("failed transition rejected", "job_id", job.ID, "error", err)
		return TickError
	}
	if err := w.settle(ctx, job); err != nil {
		w.hold(job, err)
		return TickError
	}
	w.logger.Error("submission failed permanently", "job_id", job.ID, "attempts", job.Attempts, "error", submitErr)
	return TickFailed
}

// settle writes the outcome of an attempt: a job due for retry goes back in line,
// anything else is saved in place. The transition is only recorded once it is stored.
func (w *Worker) settle(ctx context.Context, job *domain.Job) error {
	var err error
	if job.Status == domain.JobStatusQueued {
		err = w.queue.Requeue(ctx, job)
	} else {
		err = w.queue.Save(ctx, job)
	}
	if err != nil {
		return err
	}
	w.metrics.RecordTransition(job.Status)
	switch job.Status {
	case domain.JobStatusQueued:
		w.events.publish(ctx, EventJobRetrying, job)
	case domain.JobStatusSubmitted:
		w.events.publish(ctx, EventJobSubmitted, job)
	case domain.JobStatusFailed:
		w.events.publish(ctx, EventJobFailed, job)
	}
	return nil
}

func (w *Worker) hold(job *domain.Job, err error) {
	w.logger.Error("persist job outcome failed; holding for next tick", "job_id", job.ID, "status", job.Status, "attempts", job.Attempts, "error", err)
	w.heldJobs = append(w.heldJobs, job)
}

// flushHeld retries the writes that failed on earlier ticks.
func (w *Worker) flushHeld(ctx context.Context) {
	if len(w.heldJobs) == 0 {
		return
	}
	remaining := w.heldJobs[:0]
	for _, job := range w.heldJobs {
		if err := w.settle(ctx, job); err != nil {
			w.logger.Warn("held job still not persisted", "job_id", job.ID, "status", job.Status, "error", err)
			remaining = append(remaining, job)
			continue
		}
		w.logger.Info("held job persisted", "job_id", job.ID, "status", job.Status, "attempts", job.Attempts)
	}
	w.heldJobs = remaining
}

// next returns a held id before popping the shared queue.
func (w *Worker) next(ctx context.Context) (string, bool, error) {
	if len(w.heldIDs) > 0 {
		id := w.heldIDs[0]
		w.heldIDs = w.heldIDs[1:]
		return id, true, nil
	}
	return w.queue.Dequeue(ctx)
}

// Held reports how many popped jobs are waiting for their state to be written back.
func (w *Worker) Held() int {
	return len(w.heldIDs) + len(w.heldJobs)
}
