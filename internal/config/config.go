package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	NotesDir  string `toml:"notes_dir"`
	LogDir    string `toml:"log_dir"`
	VectorDir string `toml:"vector_dir"`
}

// LLM contains the connection settings for the chat/embedding provider.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains queue and orchestrator timing and limits.
type Workflow struct {
	QueuePollInterval  int  `toml:"queue_poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	MaxAttempts        int  `toml:"max_attempts"`
	MaxConcurrent      int  `toml:"max_concurrent"`
	LockTTLSeconds     int  `toml:"lock_ttl_seconds"`
	LockSweepInterval  int  `toml:"lock_sweep_interval"`
	AutoVerify         bool `toml:"auto_verify"`
}

// Retry contains backoff tuning for retryable task failures.
type Retry struct {
	BaseDelayMS int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
}

// Vector contains configuration for the embedded vector index.
type Vector struct {
	Collection         string  `toml:"collection"`
	DuplicateThreshold float64 `toml:"duplicate_threshold"`
	SearchTopK         int     `toml:"search_top_k"`
}

// Snapshots contains configuration for the rollback snapshot store.
type Snapshots struct {
	RetentionDays int `toml:"retention_days"`
}

// Notify contains optional push notification settings. An empty topic
// disables notifications.
type Notify struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for quill.
//
// Configuration sections by subsystem:
//   - Paths: state, notes, log, and vector index directories
//   - LLM: provider connection settings for chat and embeddings
//   - Workflow: queue polling, retry limits, lock leases, auto-verify
//   - Retry: backoff tuning for retryable step failures
//   - Vector: embedded index collection and duplicate detection threshold
//   - Snapshots: rollback snapshot retention
//   - Notify: optional ntfy push notifications
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	LLM       LLM       `toml:"llm"`
	Workflow  Workflow  `toml:"workflow"`
	Retry     Retry     `toml:"retry"`
	Vector    Vector    `toml:"vector"`
	Snapshots Snapshots `toml:"snapshots"`
	Notify    Notify    `toml:"notify"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/quill/config.toml")
}

// SampleConfig returns the embedded sample configuration contents.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the engine writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.NotesDir, c.Paths.LogDir, c.Paths.VectorDir}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueStatePath returns the path of the durable queue snapshot.
func (c *Config) QueueStatePath() string {
	return filepath.Join(c.Paths.StateDir, "queue.json")
}

// PipelineStatePath returns the path of the durable pipeline-context snapshot.
func (c *Config) PipelineStatePath() string {
	return filepath.Join(c.Paths.StateDir, "pipelines.json")
}

// SnapshotDBPath returns the path of the rollback snapshot database.
func (c *Config) SnapshotDBPath() string {
	return filepath.Join(c.Paths.StateDir, "snapshots.db")
}

// LockFilePath returns the path of the daemon single-instance lock file.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.StateDir, "quilld.lock")
}

// SocketPath returns the path of the daemon control socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "quilld.sock")
}

func (c *Config) normalize() error {
	fields := []*string{
		&c.Paths.StateDir,
		&c.Paths.NotesDir,
		&c.Paths.LogDir,
		&c.Paths.VectorDir,
	}
	for _, field := range fields {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = strings.TrimSpace(os.Getenv("QUILL_API_KEY"))
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.EmbeddingModel = strings.TrimSpace(c.LLM.EmbeddingModel)
	c.Notify.NtfyTopic = strings.TrimSpace(c.Notify.NtfyTopic)
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home
// directory and returns an absolute path.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
