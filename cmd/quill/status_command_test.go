package main

import (
	"encoding/json"
	"testing"
	"time"

	"quill/internal/queue"
)

func TestStatusSummarizesDaemonQueueAndPipelines(t *testing.T) {
	env := setupCLITestEnv(t)
	now := time.Now().UTC()
	env.writeQueueState(t, queueState{
		Paused: true,
		Tasks: []*queue.Task{
			{ID: "task-1", Type: "classify", State: queue.StatePending, CreatedAt: now, UpdatedAt: now},
			{ID: "task-2", Type: "generate", State: queue.StateFailed, CreatedAt: now, UpdatedAt: now},
		},
	})
	seedPipelines(t, env)

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	requireContains(t, out, "stopped")
	requireContains(t, out, "paused")
	requireContains(t, out, "1 failed, 1 pending")
	requireContains(t, out, "2 total, 1 active, 1 failed")
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	now := time.Now().UTC()
	env.writeQueueState(t, queueState{
		Paused: true,
		Tasks: []*queue.Task{
			{ID: "task-1", Type: "classify", State: queue.StatePending, CreatedAt: now, UpdatedAt: now},
		},
	})
	seedPipelines(t, env)

	out, err := runCLI(t, env, "status", "--json")
	if err != nil {
		t.Fatalf("status --json failed: %v", err)
	}
	var report struct {
		DaemonRunning   bool           `json:"daemon_running"`
		QueuePaused     bool           `json:"queue_paused"`
		Tasks           map[string]int `json:"tasks"`
		Pipelines       int            `json:"pipelines"`
		ActivePipelines int            `json:"active_pipelines"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status JSON failed: %v", err)
	}
	if report.DaemonRunning {
		t.Fatal("status reported the daemon as running")
	}
	if !report.QueuePaused {
		t.Fatal("status missed the paused queue")
	}
	if report.Tasks["pending"] != 1 {
		t.Fatalf("status counted %d pending tasks, want 1", report.Tasks["pending"])
	}
	if report.Pipelines != 2 || report.ActivePipelines != 1 {
		t.Fatalf("status counted %d pipelines (%d active), want 2 (1 active)",
			report.Pipelines, report.ActivePipelines)
	}
}

func TestStatusWithNoStateFiles(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	requireContains(t, out, "none")
	requireContains(t, out, "0 total, 0 active, 0 failed")
}
