package explain

import (
	"context"
	"log/slog"
	"time"

	"github.com/scoutly/scoutly/internal/jobs"
)

// SnapshotPatcher patches explanation lines inside a persisted result row.
// search.Repository satisfies this.
type SnapshotPatcher interface {
	UpdateReasons(ctx context.Context, searchID, personID string, reasons []string) error
}

// WorkerConfig holds the tunables of the refinement worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// PatchRetries and PatchDelay bound the read-back loop: the persisting
	// transaction may not be visible yet when a task is picked up.
	PatchRetries int
	PatchDelay   time.Duration
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    10,
		PatchRetries: 5,
		PatchDelay:   200 * time.Millisecond,
	}
}

// Worker drains the explanation outbox in the background. It acquires no
// lock on the primary request path and tolerates its own failures silently:
// the deterministic fallback stands whenever refinement does not land.
type Worker struct {
	outbox  Outbox
	refiner Refiner
	patcher SnapshotPatcher
	cfg     WorkerConfig
	metrics *jobs.Metrics
	logger  *slog.Logger
}

// NewWorker creates a refinement worker. Metrics may be nil.
func NewWorker(outbox Outbox, refiner Refiner, patcher SnapshotPatcher, cfg WorkerConfig, metrics *jobs.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg = DefaultWorkerConfig()
	}
	return &Worker{
		outbox:  outbox,
		refiner: refiner,
		patcher: patcher,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "explain_worker"),
	}
}

// Run polls the outbox until the stop channel closes. It blocks and should
// typically be run in a goroutine.
func (w *Worker) Run(stopChan <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.ProcessOnce(context.Background())
		case <-stopChan:
			w.logger.Info("stopping explanation worker")
			return
		}
	}
}

// ProcessOnce claims and processes one batch. Returns the number of tasks
// handled.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	tasks, err := w.outbox.NextPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to claim explanation tasks", "error", err)
		return 0
	}

	for _, t := range tasks {
		start := time.Now()
		err := w.process(ctx, t)
		status := jobs.StatusSuccess
		if err != nil {
			status = jobs.StatusFailure
			w.logger.Warn("explanation refinement failed, fallback stands",
				"task_id", t.ID, "search_id", t.SearchID, "person_id", t.PersonID,
				"attempt", t.Attempts, "error", err)
			if markErr := w.outbox.MarkFailed(ctx, t.ID); markErr != nil {
				w.logger.Error("failed to mark task failed", "task_id", t.ID, "error", markErr)
			}
		} else {
			if markErr := w.outbox.MarkDone(ctx, t.ID); markErr != nil {
				w.logger.Error("failed to mark task done", "task_id", t.ID, "error", markErr)
			}
		}
		if w.metrics != nil {
			w.metrics.IncJobsTotal(jobs.JobTypeExplanationRefine, status)
			w.metrics.ObserveJobDuration(jobs.JobTypeExplanationRefine, time.Since(start).Seconds())
		}
	}
	return len(tasks)
}

func (w *Worker) process(ctx context.Context, t Task) error {
	candidates, err := w.refiner.Refine(ctx, t.Payload)
	if err != nil {
		return err
	}

	accepted := FilterReasons(candidates)
	if len(accepted) == 0 {
		// Nothing valid came back. The deterministic fallback is already
		// stored; the task is done.
		w.logger.Debug("refiner output rejected, keeping fallback",
			"search_id", t.SearchID, "person_id", t.PersonID)
		return nil
	}

	// Read-back retry: the search transaction may not be visible yet.
	var patchErr error
	for attempt := 0; attempt < w.cfg.PatchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.cfg.PatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if patchErr = w.patcher.UpdateReasons(ctx, t.SearchID, t.PersonID, accepted); patchErr == nil {
			return nil
		}
	}
	return patchErr
}
