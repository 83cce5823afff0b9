package main

import (
	"context"
	"testing"

	"github.com/gofrs/flock"

	"quill/internal/ipc"
	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/services"
)

// stubEngine answers socket calls with canned pipeline contexts.
type stubEngine struct {
	contexts  map[string]*pipeline.Context
	cancelled []string
}

func newStubEngine(contexts ...*pipeline.Context) *stubEngine {
	e := &stubEngine{contexts: make(map[string]*pipeline.Context)}
	for _, c := range contexts {
		e.contexts[c.ID] = c
	}
	return e
}

func (e *stubEngine) StartCreate(params pipeline.CreateParams) (*pipeline.Context, error) {
	c := &pipeline.Context{
		ID:         "11112222-3333-4444-5555-666677778888",
		Kind:       pipeline.KindCreate,
		Stage:      pipeline.StageTagging,
		Title:      params.Title,
		TargetPath: "/notes/" + params.Title,
	}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *stubEngine) StartAmend(params pipeline.AmendParams) (*pipeline.Context, error) {
	c := &pipeline.Context{ID: "amend-run", Kind: pipeline.KindAmend, Stage: pipeline.StageDrafting, TargetPath: params.Path}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *stubEngine) StartMerge(params pipeline.MergeParams) (*pipeline.Context, error) {
	c := &pipeline.Context{ID: "merge-run", Kind: pipeline.KindMerge, Stage: pipeline.StageDrafting, TargetPath: params.TargetPath}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *stubEngine) StartVerify(params pipeline.VerifyParams) (*pipeline.Context, error) {
	c := &pipeline.Context{ID: "verify-run", Kind: pipeline.KindVerify, Stage: pipeline.StageVerifying, TargetPath: params.Path}
	e.contexts[c.ID] = c
	return c, nil
}

func (e *stubEngine) ConfirmDraft(id string) (*pipeline.Context, error) {
	c := e.contexts[id]
	c.Stage = pipeline.StageWriting
	return c, nil
}

func (e *stubEngine) ConfirmWrite(id string) (*pipeline.Context, error) {
	c := e.contexts[id]
	c.Stage = pipeline.StageWriting
	return c, nil
}

func (e *stubEngine) Cancel(id string) error {
	e.cancelled = append(e.cancelled, id)
	return nil
}

func (e *stubEngine) Get(id string) (*pipeline.Context, error) {
	c, ok := e.contexts[id]
	if !ok {
		return nil, services.NewError(services.KindNotFound, "pipeline.get", "pipeline not found")
	}
	return c, nil
}

func (e *stubEngine) List() []*pipeline.Context {
	out := make([]*pipeline.Context, 0, len(e.contexts))
	for _, c := range e.contexts {
		out = append(out, c)
	}
	return out
}

// startStubDaemon holds the instance lock and serves the control socket
// the way a running quilld would.
func startStubDaemon(t *testing.T, env *cliTestEnv, engine ipc.Engine) {
	t.Helper()

	flk := flock.New(env.cfg.LockFilePath())
	locked, err := flk.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock failed: locked=%v err=%v", locked, err)
	}
	t.Cleanup(func() {
		if err := flk.Unlock(); err != nil {
			t.Fatalf("Unlock failed: %v", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := ipc.NewServer(ctx, env.cfg.SocketPath(), engine, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
}

func TestRunCommandsRequireDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	for _, args := range [][]string{
		{"create", "Graph Theory"},
		{"amend", "graph-theory.md", "tighten the intro"},
		{"merge", "graph-theory.md", "graphs.md"},
		{"verify", "graph-theory.md"},
		{"confirm", "11112222"},
		{"cancel", "11112222"},
	} {
		if _, err := runCLI(t, env, args...); err == nil {
			t.Fatalf("%s must fail without a running daemon", args[0])
		}
	}
}

func TestCreateCommandStartsRunViaSocket(t *testing.T) {
	env := setupCLITestEnv(t)
	startStubDaemon(t, env, newStubEngine())

	output, err := runCLI(t, env, "create", "Graph", "Theory", "--seed", "graphs are everywhere")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	requireContains(t, output, "Started create run 11112222 (tagging)")
	requireContains(t, output, "Target: /notes/Graph Theory")
}

func TestConfirmCommandReportsNewStage(t *testing.T) {
	env := setupCLITestEnv(t)
	startStubDaemon(t, env, newStubEngine(&pipeline.Context{
		ID:    "11112222-3333-4444-5555-666677778888",
		Kind:  pipeline.KindCreate,
		Stage: pipeline.StageReviewDraft,
	}))

	output, err := runCLI(t, env, "confirm", "11112222")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	requireContains(t, output, "Confirmed create run 11112222, now writing")
}

func TestCancelCommandRelaysToDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	engine := newStubEngine(&pipeline.Context{
		ID:    "11112222-3333-4444-5555-666677778888",
		Kind:  pipeline.KindCreate,
		Stage: pipeline.StageTagging,
	})
	startStubDaemon(t, env, engine)

	output, err := runCLI(t, env, "cancel", "11112222-3333-4444-5555-666677778888")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	requireContains(t, output, "Cancelled run 11112222")
	if len(engine.cancelled) != 1 {
		t.Fatalf("cancel not relayed: %v", engine.cancelled)
	}
}
