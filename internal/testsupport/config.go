package testsupport

import (
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, creates the directories, and applies any
// provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.NotesDir = filepath.Join(base, "notes")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.VectorDir = filepath.Join(base, "vector")
	cfg.LLM.APIKey = "test"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Retry.BaseDelayMS = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return &cfg
}

// WithAutoVerify toggles automatic post-write verification.
func WithAutoVerify(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.AutoVerify = enabled
	}
}

// WithMaxAttempts overrides the retry budget on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.MaxAttempts = n
	}
}

// WithAPIKey overrides the provider credential on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.LLM.APIKey = key
	}
}
