package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"quill/internal/ipc"
	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/services"
)

// fakeEngine records calls and answers with canned contexts.
type fakeEngine struct {
	contexts  map[string]*pipeline.Context
	confirmed []string
	cancelled []string
}

func newFakeEngine(contexts ...*pipeline.Context) *fakeEngine {
	e := &fakeEngine{contexts: make(map[string]*pipeline.Context)}
	for _, c := range contexts {
		e.contexts[c.ID] = c
	}
	return e
}

func (e *fakeEngine) StartCreate(params pipeline.CreateParams) (*pipeline.Context, error) {
	if params.Title == "" {
		return nil, services.NewError(services.KindInvalidState, "pipeline.start_create", "title must not be empty")
	}
	c := &pipeline.Context{ID: "created-run", Kind: pipeline.KindCreate, Stage: pipeline.StageTagging, Title: params.Title}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *fakeEngine) StartAmend(params pipeline.AmendParams) (*pipeline.Context, error) {
	c := &pipeline.Context{ID: "amended-run", Kind: pipeline.KindAmend, Stage: pipeline.StageDrafting, TargetPath: params.Path}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *fakeEngine) StartMerge(params pipeline.MergeParams) (*pipeline.Context, error) {
	c := &pipeline.Context{ID: "merged-run", Kind: pipeline.KindMerge, Stage: pipeline.StageDrafting, TargetPath: params.TargetPath, SourcePath: params.SourcePath}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *fakeEngine) StartVerify(params pipeline.VerifyParams) (*pipeline.Context, error) {
	c := &pipeline.Context{ID: "verify-run", Kind: pipeline.KindVerify, Stage: pipeline.StageVerifying, TargetPath: params.Path}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *fakeEngine) ConfirmDraft(id string) (*pipeline.Context, error) {
	e.confirmed = append(e.confirmed, "draft:"+id)
	c := e.contexts[id]
	c.Stage = pipeline.StageWriting
	return c, nil
}

func (e *fakeEngine) ConfirmWrite(id string) (*pipeline.Context, error) {
	e.confirmed = append(e.confirmed, "write:"+id)
	c := e.contexts[id]
	c.Stage = pipeline.StageWriting
	return c, nil
}

func (e *fakeEngine) Cancel(id string) error {
	e.cancelled = append(e.cancelled, id)
	return nil
}

func (e *fakeEngine) Get(id string) (*pipeline.Context, error) {
	c, ok := e.contexts[id]
	if !ok {
		return nil, services.NewError(services.KindNotFound, "pipeline.get", "pipeline not found")
	}
	return c, nil
}

func (e *fakeEngine) List() []*pipeline.Context {
	out := make([]*pipeline.Context, 0, len(e.contexts))
	for _, c := range e.contexts {
		out = append(out, c)
	}
	return out
}

func dialServer(t *testing.T, engine ipc.Engine) *ipc.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(t.TempDir(), "quilld.sock")
	srv, err := ipc.NewServer(ctx, socket, engine, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping socket test: %v", err)
		}
		t.Fatalf("NewServer failed: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSocketRoundTrip(t *testing.T) {
	engine := newFakeEngine()
	client := dialServer(t, engine)

	created, err := client.Create(ipc.CreateRequest{Title: "Graph Theory"})
	if err != nil {
		t.Fatalf("Create RPC failed: %v", err)
	}
	if created.Pipeline.ID != "created-run" || created.Pipeline.Stage != "tagging" {
		t.Fatalf("unexpected create response: %#v", created.Pipeline)
	}

	amended, err := client.Amend(ipc.AmendRequest{Path: "graph-theory.md", Instruction: "tighten"})
	if err != nil {
		t.Fatalf("Amend RPC failed: %v", err)
	}
	if amended.Pipeline.Kind != "amend" {
		t.Fatalf("unexpected amend response: %#v", amended.Pipeline)
	}

	merged, err := client.Merge(ipc.MergeRequest{TargetPath: "graph-theory.md", SourcePath: "graphs.md"})
	if err != nil {
		t.Fatalf("Merge RPC failed: %v", err)
	}
	if merged.Pipeline.SourcePath != "graphs.md" {
		t.Fatalf("unexpected merge response: %#v", merged.Pipeline)
	}

	verified, err := client.Verify(ipc.VerifyRequest{Path: "graph-theory.md"})
	if err != nil {
		t.Fatalf("Verify RPC failed: %v", err)
	}
	if verified.Pipeline.Kind != "verify" {
		t.Fatalf("unexpected verify response: %#v", verified.Pipeline)
	}

	cancelResp, err := client.Cancel(ipc.CancelRequest{PipelineID: "verify-run"})
	if err != nil {
		t.Fatalf("Cancel RPC failed: %v", err)
	}
	if cancelResp.PipelineID != "verify-run" {
		t.Fatalf("unexpected cancel response: %#v", cancelResp)
	}
	if len(engine.cancelled) != 1 || engine.cancelled[0] != "verify-run" {
		t.Fatalf("cancel not relayed: %v", engine.cancelled)
	}
}

func TestConfirmRoutesByKind(t *testing.T) {
	engine := newFakeEngine(
		&pipeline.Context{ID: "create-1", Kind: pipeline.KindCreate, Stage: pipeline.StageReviewDraft},
		&pipeline.Context{ID: "amend-1", Kind: pipeline.KindAmend, Stage: pipeline.StageReviewChanges},
	)
	client := dialServer(t, engine)

	if _, err := client.Confirm(ipc.ConfirmRequest{PipelineID: "create-1"}); err != nil {
		t.Fatalf("Confirm RPC failed: %v", err)
	}
	if _, err := client.Confirm(ipc.ConfirmRequest{PipelineID: "amend-1"}); err != nil {
		t.Fatalf("Confirm RPC failed: %v", err)
	}
	if len(engine.confirmed) != 2 || engine.confirmed[0] != "draft:create-1" || engine.confirmed[1] != "write:amend-1" {
		t.Fatalf("confirm routing wrong: %v", engine.confirmed)
	}
}

func TestConfirmResolvesUniquePrefix(t *testing.T) {
	engine := newFakeEngine(
		&pipeline.Context{ID: "aaaa-1111", Kind: pipeline.KindCreate, Stage: pipeline.StageReviewDraft},
		&pipeline.Context{ID: "bbbb-2222", Kind: pipeline.KindAmend, Stage: pipeline.StageReviewChanges},
	)
	client := dialServer(t, engine)

	resp, err := client.Confirm(ipc.ConfirmRequest{PipelineID: "aaaa"})
	if err != nil {
		t.Fatalf("Confirm by prefix failed: %v", err)
	}
	if resp.Pipeline.ID != "aaaa-1111" {
		t.Fatalf("prefix resolved to %s", resp.Pipeline.ID)
	}

	if _, err := client.Confirm(ipc.ConfirmRequest{PipelineID: "cccc"}); err == nil {
		t.Fatal("expected an error for an unknown prefix")
	}
}

func TestConfirmRejectsAmbiguousPrefix(t *testing.T) {
	engine := newFakeEngine(
		&pipeline.Context{ID: "aaaa-1111", Kind: pipeline.KindCreate},
		&pipeline.Context{ID: "aaaa-2222", Kind: pipeline.KindCreate},
	)
	client := dialServer(t, engine)

	_, err := client.Confirm(ipc.ConfirmRequest{PipelineID: "aaaa"})
	if err == nil {
		t.Fatal("expected an error for an ambiguous prefix")
	}
	if !strings.Contains(err.Error(), "longer prefix") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartErrorsCrossTheSocket(t *testing.T) {
	client := dialServer(t, newFakeEngine())

	_, err := client.Create(ipc.CreateRequest{})
	if err == nil {
		t.Fatal("expected the engine error to surface")
	}
	if !strings.Contains(err.Error(), "title must not be empty") {
		t.Fatalf("unexpected error: %v", err)
	}
}
