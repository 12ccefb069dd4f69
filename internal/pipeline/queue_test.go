package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:         1,
		PollIntervalSec: 1,
		TaskTimeoutSec:  5,
		MaxAttempts:     3,
		ClaimTimeoutSec: 300,
		RetryBackoffSec: 30,
	}
}

func TestEnqueueIngestPersistsPayload(t *testing.T) {
	db := openTestDB(t)

	in := inboundText("wamid.q1", "queued hello")
	task, err := EnqueueIngest(db, in)
	if err != nil {
		t.Fatalf("EnqueueIngest: %v", err)
	}
	if task.Status != models.TaskPending {
		t.Errorf("status = %s", task.Status)
	}

	var decoded Inbound
	if err := json.Unmarshal([]byte(task.Payload), &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.ProviderMessageID != "wamid.q1" || decoded.Content != "queued hello" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestClaimTaskMarksProcessing(t *testing.T) {
	db := openTestDB(t)

	if _, err := EnqueueIngest(db, inboundText("wamid.q1", "one")); err != nil {
		t.Fatalf("EnqueueIngest: %v", err)
	}

	task, err := claimTask(db, "worker-0", 5*time.Minute)
	if err != nil {
		t.Fatalf("claimTask: %v", err)
	}
	if task.Status != models.TaskProcessing || task.ClaimedBy != "worker-0" {
		t.Errorf("task = %+v", task)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d", task.Attempts)
	}

	// Nothing else to claim.
	_, err = claimTask(db, "worker-1", 5*time.Minute)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("second claim: error = %v", err)
	}
}

func TestClaimTaskRedeliversOrphans(t *testing.T) {
	db := openTestDB(t)

	task, err := EnqueueIngest(db, inboundText("wamid.q1", "one"))
	if err != nil {
		t.Fatalf("EnqueueIngest: %v", err)
	}

	// Simulate a worker that claimed the task and died.
	stale := time.Now().Add(-10 * time.Minute)
	if err := db.Model(task).Updates(map[string]interface{}{
		"status":     models.TaskProcessing,
		"claimed_by": "dead-worker",
		"claimed_at": stale,
		"attempts":   1,
	}).Error; err != nil {
		t.Fatalf("orphan setup: %v", err)
	}

	claimed, err := claimTask(db, "worker-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("claimTask: %v", err)
	}
	if claimed.ID != task.ID || claimed.ClaimedBy != "worker-1" {
		t.Errorf("claimed = %+v", claimed)
	}
	if claimed.Attempts != 2 {
		t.Errorf("attempts = %d", claimed.Attempts)
	}
}

func TestClaimTaskRespectsFreshClaims(t *testing.T) {
	db := openTestDB(t)

	task, err := EnqueueIngest(db, inboundText("wamid.q1", "one"))
	if err != nil {
		t.Fatalf("EnqueueIngest: %v", err)
	}
	now := time.Now()
	if err := db.Model(task).Updates(map[string]interface{}{
		"status":     models.TaskProcessing,
		"claimed_by": "busy-worker",
		"claimed_at": now,
	}).Error; err != nil {
		t.Fatalf("claim setup: %v", err)
	}

	_, err = claimTask(db, "worker-1", 5*time.Minute)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("error = %v, want record not found", err)
	}
}

func TestProcessTaskSuccess(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	pool, err := NewWorkerPool(WorkerPoolOpts{DB: db, Pipeline: p, Config: testPipelineConfig()})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}

	if _, err := EnqueueIngest(db, inboundText("wamid.ok", "hello")); err != nil {
		t.Fatalf("EnqueueIngest: %v", err)
	}
	task, err := claimTask(db, "worker-0", 5*time.Minute)
	if err != nil {
		t.Fatalf("claimTask: %v", err)
	}

	pool.processTask(context.Background(), "worker-0", task)

	var got models.IngestTask
	db.First(&got, task.ID)
	if got.Status != models.TaskDone {
		t.Errorf("status = %s", got.Status)
	}

	var messages int64
	db.Model(&models.Message{}).Count(&messages)
	if messages != 1 {
		t.Errorf("messages = %d", messages)
	}
}

func TestProcessTaskMalformedPayloadFailsImmediately(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	pool, err := NewWorkerPool(WorkerPoolOpts{DB: db, Pipeline: p, Config: testPipelineConfig()})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}

	task := models.IngestTask{Channel: "whatsapp", Payload: "{not json", Status: models.TaskPending}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}

	pool.processTask(context.Background(), "worker-0", &task)

	var got models.IngestTask
	db.First(&got, task.ID)
	if got.Status != models.TaskFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestProcessTaskRetriesThenParksFailed(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	cfg := testPipelineConfig()
	pool, err := NewWorkerPool(WorkerPoolOpts{DB: db, Pipeline: p, Config: cfg})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}

	// An invalid sender fails classification-independent validation every time.
	bad, _ := json.Marshal(Inbound{Channel: "whatsapp", From: "123"})
	task := models.IngestTask{Channel: "whatsapp", Payload: string(bad), Status: models.TaskPending}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		// Make the task due again despite backoff.
		db.Model(&models.IngestTask{}).Where("id = ?", task.ID).
			Update("next_attempt_at", time.Now().Add(-time.Second))
		claimed, err := claimTask(db, "worker-0", 5*time.Minute)
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		pool.processTask(context.Background(), "worker-0", claimed)

		var got models.IngestTask
		db.First(&got, task.ID)
		if attempt < cfg.MaxAttempts {
			if got.Status != models.TaskPending {
				t.Fatalf("attempt %d status = %s, want pending", attempt, got.Status)
			}
		} else if got.Status != models.TaskFailed {
			t.Fatalf("final status = %s, want failed", got.Status)
		}
	}
}

func TestProcessTaskFailureDelaysRetry(t *testing.T) {
	db := openTestDB(t)
	p, _, _ := setupPipeline(t, db)

	pool, err := NewWorkerPool(WorkerPoolOpts{DB: db, Pipeline: p, Config: testPipelineConfig()})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}

	bad, _ := json.Marshal(Inbound{Channel: "whatsapp", From: "123"})
	task := models.IngestTask{Channel: "whatsapp", Payload: string(bad), Status: models.TaskPending}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}

	claimed, err := claimTask(db, "worker-0", 5*time.Minute)
	if err != nil {
		t.Fatalf("claimTask: %v", err)
	}
	pool.processTask(context.Background(), "worker-0", claimed)

	var got models.IngestTask
	db.First(&got, task.ID)
	if got.Status != models.TaskPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if !got.NextAttemptAt.After(time.Now().Add(10 * time.Second)) {
		t.Errorf("next attempt = %s, want backoff in the future", got.NextAttemptAt)
	}

	// The requeued task must not be claimable until the backoff elapses, so it
	// cannot starve fresh work.
	if _, err := claimTask(db, "worker-0", 5*time.Minute); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("immediate reclaim: error = %v, want record not found", err)
	}
}
