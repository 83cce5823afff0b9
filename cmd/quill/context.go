package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"quill/internal/config"
	"quill/internal/ipc"
	"quill/internal/pipeline"
	"quill/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// queueState mirrors the daemon's persisted queue snapshot.
type queueState struct {
	Tasks  []*queue.Task `json:"tasks"`
	Paused bool          `json:"paused"`
}

func (c *commandContext) loadQueueState() (queueState, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return queueState{}, err
	}
	data, err := os.ReadFile(cfg.QueueStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return queueState{}, nil
		}
		return queueState{}, fmt.Errorf("read queue state: %w", err)
	}
	var state queueState
	if err := json.Unmarshal(data, &state); err != nil {
		return queueState{}, fmt.Errorf("decode queue state: %w", err)
	}
	return state, nil
}

func (c *commandContext) saveQueueState(state queueState) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}
	tmp := cfg.QueueStatePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue state: %w", err)
	}
	if err := os.Rename(tmp, cfg.QueueStatePath()); err != nil {
		return fmt.Errorf("replace queue state: %w", err)
	}
	return nil
}

// pipelineState mirrors the daemon's persisted pipeline registry.
type pipelineState struct {
	Pipelines []*pipeline.Context `json:"pipelines"`
}

func (c *commandContext) loadPipelines() ([]*pipeline.Context, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(cfg.PipelineStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pipeline state: %w", err)
	}
	var state pipelineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode pipeline state: %w", err)
	}
	return state.Pipelines, nil
}

// dialDaemon connects to the daemon control socket. Mutations need a live
// daemon; report that plainly instead of surfacing a connect error.
func (c *commandContext) dialDaemon() (*ipc.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	running, err := c.daemonRunning()
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, fmt.Errorf("the quill daemon is not running; start quilld first")
	}
	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		return nil, fmt.Errorf("connect to daemon socket: %w", err)
	}
	return client, nil
}

// daemonRunning probes the daemon lock file without holding it.
func (c *commandContext) daemonRunning() (bool, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return false, err
	}
	flk := flock.New(cfg.LockFilePath())
	ok, err := flk.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	if err := flk.Unlock(); err != nil {
		return false, fmt.Errorf("release probe lock: %w", err)
	}
	return false, nil
}

// requireDaemonStopped guards commands that rewrite state files the
// daemon also owns.
func (c *commandContext) requireDaemonStopped() error {
	running, err := c.daemonRunning()
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("the quill daemon is running; stop it before editing queue state directly")
	}
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
