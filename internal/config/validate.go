package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateVector(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.NotesDir == "" {
		return errors.New("paths.notes_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.MaxAttempts <= 0 {
		return errors.New("workflow.max_attempts must be positive")
	}
	if c.Workflow.MaxConcurrent <= 0 {
		return errors.New("workflow.max_concurrent must be positive")
	}
	if c.Workflow.LockTTLSeconds <= 0 {
		return errors.New("workflow.lock_ttl_seconds must be positive")
	}
	if c.Workflow.LockSweepInterval <= 0 {
		return errors.New("workflow.lock_sweep_interval must be positive")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.BaseDelayMS <= 0 {
		return errors.New("retry.base_delay_ms must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be at least 1")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be at least retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateVector() error {
	if strings.TrimSpace(c.Vector.Collection) == "" {
		return errors.New("vector.collection must be set")
	}
	if c.Vector.DuplicateThreshold < 0 || c.Vector.DuplicateThreshold > 1 {
		return errors.New("vector.duplicate_threshold must be between 0 and 1")
	}
	if c.Vector.SearchTopK <= 0 {
		return errors.New("vector.search_top_k must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
