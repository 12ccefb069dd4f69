package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// EnqueueIngest records one inbound message as a durable ingest task. The
// webhook boundary calls this and acknowledges immediately; workers pick the
// task up asynchronously.
func EnqueueIngest(gdb *gorm.DB, in Inbound) (*models.IngestTask, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal ingest payload: %w", err)
	}
	task := models.IngestTask{
		Channel:       in.Channel,
		Payload:       string(payload),
		Status:        models.TaskPending,
		NextAttemptAt: time.Now(),
	}
	if err := gdb.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("pipeline: enqueue ingest: %w", err)
	}
	return &task, nil
}

// claimTask atomically claims the oldest runnable ingest task for a worker
// using SELECT ... FOR UPDATE SKIP LOCKED. Runnable means pending and due, or
// processing with a claim older than claimTimeout (the worker died; redeliver
// under at-least-once semantics — the pipeline's dedup makes that safe).
// Returns gorm.ErrRecordNotFound (wrapped) when no task is runnable.
func claimTask(gdb *gorm.DB, workerID string, claimTimeout time.Duration) (*models.IngestTask, error) {
	var claimed models.IngestTask

	err := gdb.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		stale := now.Add(-claimTimeout)
		result := db.LockSkipLocked(tx).
			Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND claimed_at < ?)",
				models.TaskPending, now, models.TaskProcessing, stale).
			Order("created_at ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("pipeline: find runnable task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("pipeline: no runnable tasks: %w", gorm.ErrRecordNotFound)
		}

		if err := tx.Model(&models.IngestTask{}).Where("id = ?", claimed.ID).Updates(map[string]interface{}{
			"status":     models.TaskProcessing,
			"claimed_by": workerID,
			"claimed_at": now,
			"attempts":   claimed.Attempts + 1,
		}).Error; err != nil {
			return fmt.Errorf("pipeline: claim task %d: %w", claimed.ID, err)
		}
		claimed.Status = models.TaskProcessing
		claimed.ClaimedBy = workerID
		claimed.ClaimedAt = &now
		claimed.Attempts++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// WorkerPool consumes the ingest task queue with a fixed number of workers.
// Workers block only on the queue and on the pipeline's external calls; a
// task never waits on another task.
type WorkerPool struct {
	db       *gorm.DB
	pipeline *Pipeline
	cfg      config.PipelineConfig
	out      io.Writer
}

// WorkerPoolOpts holds parameters for creating a WorkerPool.
type WorkerPoolOpts struct {
	DB       *gorm.DB
	Pipeline *Pipeline
	Config   config.PipelineConfig
	Out      io.Writer // defaults to os.Stdout
}

// NewWorkerPool creates a WorkerPool.
func NewWorkerPool(opts WorkerPoolOpts) (*WorkerPool, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: worker pool: db is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline: worker pool: pipeline is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &WorkerPool{
		db:       opts.DB,
		pipeline: opts.Pipeline,
		cfg:      opts.Config,
		out:      out,
	}, nil
}

// Run starts the workers and blocks until the context is cancelled.
func (w *WorkerPool) Run(ctx context.Context) {
	workers := w.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	fmt.Fprintf(w.out, "Ingest workers starting (n=%d, poll every %s)\n", workers, w.cfg.PollInterval())

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("ingest-%d", i)
		go func() {
			defer wg.Done()
			w.runWorker(ctx, workerID)
		}()
	}
	wg.Wait()
	fmt.Fprintf(w.out, "Ingest workers stopped\n")
}

// runWorker is one worker's claim-process loop.
func (w *WorkerPool) runWorker(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := claimTask(w.db, workerID, w.cfg.ClaimTimeout())
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("pipeline: %s: claim: %v", workerID, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval()):
			}
			continue
		}

		w.processTask(ctx, workerID, task)
	}
}

// processTask runs one claimed task under the bounded execution timeout and
// records the outcome. Failed tasks are retried up to MaxAttempts, then
// parked as failed.
func (w *WorkerPool) processTask(ctx context.Context, workerID string, task *models.IngestTask) {
	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout())
	defer cancel()

	var in Inbound
	if err := json.Unmarshal([]byte(task.Payload), &in); err != nil {
		// Malformed payloads never become valid; park immediately.
		w.finishTask(task, models.TaskFailed, fmt.Sprintf("decode payload: %v", err))
		return
	}

	if _, err := w.pipeline.Ingest(taskCtx, in); err != nil {
		log.Printf("pipeline: %s: task %d attempt %d failed: %v", workerID, task.ID, task.Attempts, err)
		if task.Attempts >= w.cfg.MaxAttempts {
			w.finishTask(task, models.TaskFailed, err.Error())
			return
		}
		w.requeueTask(task, err.Error())
		return
	}

	w.finishTask(task, models.TaskDone, "")
}

// finishTask records a task's terminal state.
func (w *WorkerPool) finishTask(task *models.IngestTask, status, lastError string) {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": lastError,
	}
	if err := w.db.Model(task).Updates(updates).Error; err != nil {
		log.Printf("pipeline: finish task %d: %v", task.ID, err)
	}
}

// requeueTask returns a failed task to pending with a next-attempt delay
// scaled by the attempt count, so a broken task does not spin ahead of fresh
// work.
func (w *WorkerPool) requeueTask(task *models.IngestTask, lastError string) {
	backoff := time.Duration(task.Attempts) * w.cfg.RetryBackoff()
	updates := map[string]interface{}{
		"status":          models.TaskPending,
		"last_error":      lastError,
		"next_attempt_at": time.Now().Add(backoff),
	}
	if err := w.db.Model(task).Updates(updates).Error; err != nil {
		log.Printf("pipeline: requeue task %d: %v", task.ID, err)
	}
}
