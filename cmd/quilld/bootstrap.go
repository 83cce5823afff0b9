package main

import (
	"quill/internal/config"
	"quill/internal/retry"
)

func retryHandler(cfg *config.Config) retry.Handler {
	return retry.NewPolicy(cfg.Retry)
}
