package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"quill/internal/config"
	"quill/internal/daemon"
	"quill/internal/ipc"
	"quill/internal/lock"
	"quill/internal/logging"
	"quill/internal/notes"
	"quill/internal/notifications"
	"quill/internal/pipeline"
	"quill/internal/provider"
	"quill/internal/queue"
	"quill/internal/snapshot"
	"quill/internal/steps"
	"quill/internal/storage"
	"quill/internal/template"
	"quill/internal/vector"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store := storage.NewStore()
	locks := lock.NewManager()

	templates, err := template.NewBuilder()
	if err != nil {
		logger.Error("load prompt templates", logging.Error(err))
		return
	}
	client := provider.NewClient(cfg.LLM)
	runner := steps.NewRunner(client, templates, logger)

	q := queue.New(queue.OptionsFromConfig(cfg), store, locks, runner, retryHandler(cfg), logger)

	index, err := vector.Open(cfg)
	if err != nil {
		logger.Error("open vector index", logging.Error(err))
		return
	}
	snapshots, err := snapshot.Open(cfg.SnapshotDBPath())
	if err != nil {
		logger.Error("open snapshot store", logging.Error(err))
		return
	}

	repo := notes.NewRepository(cfg.Paths.NotesDir, store)
	orch := pipeline.New(cfg, q, pipeline.Collaborators{
		Notes:     repo,
		Index:     index,
		Snapshots: snapshots,
		Prompts:   templates,
		Probe:     client,
	}, store, logger)

	notifier := notifications.NewService(cfg)
	unsubscribe := orch.Subscribe(notifications.Listener(notifier, orch, logger))
	defer unsubscribe()

	d, err := daemon.New(cfg, q, orch, locks, snapshots, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), orch, logger)
	if err != nil {
		logger.Error("bind control socket", logging.Error(err))
		return
	}
	srv.Serve()
	defer srv.Close()

	<-ctx.Done()
	logger.Info("quilld shutting down")
}
