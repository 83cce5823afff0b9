package main

import (
	"encoding/json"
	"testing"
	"time"

	"quill/internal/pipeline"
)

func seedPipelines(t *testing.T, env *cliTestEnv) {
	t.Helper()
	now := time.Now().UTC()
	env.writePipelines(t, []*pipeline.Context{
		{
			ID:         "cccccccc-0000-4000-8000-000000000001",
			Kind:       pipeline.KindCreate,
			Stage:      pipeline.StageReviewDraft,
			NodeID:     "node-graph-theory",
			Title:      "Graph Theory",
			TargetPath: "/notes/graph-theory.md",
			Tags:       []string{"math", "graphs"},
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			ID:           "dddddddd-0000-4000-8000-000000000002",
			Kind:         pipeline.KindAmend,
			Stage:        pipeline.StageFailed,
			NodeID:       "node-topology",
			TargetPath:   "/notes/topology.md",
			ErrorMessage: "provider returned status 500",
			SnapshotID:   7,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	})
}

func TestPipelinesListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPipelines(t, env)

	out, err := runCLI(t, env, "pipelines", "list")
	if err != nil {
		t.Fatalf("pipelines list failed: %v", err)
	}
	requireContains(t, out, "cccccccc")
	requireContains(t, out, "dddddddd")
	requireContains(t, out, "review_draft")
	requireContains(t, out, "/notes/topology.md")

	out, err = runCLI(t, env, "pipelines", "list", "--active")
	if err != nil {
		t.Fatalf("pipelines list --active failed: %v", err)
	}
	requireContains(t, out, "cccccccc")
	requireNotContains(t, out, "dddddddd")

	out, err = runCLI(t, env, "pipelines", "show", "cccccccc")
	if err != nil {
		t.Fatalf("pipelines show failed: %v", err)
	}
	requireContains(t, out, "cccccccc-0000-4000-8000-000000000001")
	requireContains(t, out, "Kind:        create")
	requireContains(t, out, "Title:       Graph Theory")
	requireContains(t, out, "Target:      /notes/graph-theory.md")

	out, err = runCLI(t, env, "pipelines", "show", "dddddddd")
	if err != nil {
		t.Fatalf("pipelines show failed: %v", err)
	}
	requireContains(t, out, "Snapshot:    7")

	if _, err := runCLI(t, env, "pipelines", "show", "missing"); err == nil {
		t.Fatal("pipelines show succeeded for unknown run")
	}
}

func TestPipelinesListJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPipelines(t, env)

	out, err := runCLI(t, env, "pipelines", "list", "--json")
	if err != nil {
		t.Fatalf("pipelines list --json failed: %v", err)
	}
	var pipelines []*pipeline.Context
	if err := json.Unmarshal([]byte(out), &pipelines); err != nil {
		t.Fatalf("decode pipelines JSON failed: %v", err)
	}
	if len(pipelines) != 2 {
		t.Fatalf("expected 2 pipelines in JSON output, got %d", len(pipelines))
	}
}

func TestPipelinesListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "pipelines", "list")
	if err != nil {
		t.Fatalf("pipelines list failed: %v", err)
	}
	requireContains(t, out, "No pipeline runs")
}
