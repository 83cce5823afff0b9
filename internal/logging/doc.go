// Package logging builds the slog loggers used across the engine and keeps
// structured field names consistent between the daemon, the queue, and the
// pipeline orchestrator.
//
// Loggers are constructed once from config (console or JSON format, optional
// file output under the log directory) and passed down explicitly. Helpers
// extract pipeline/task/stage attributes from context so every stage log
// line carries the same correlation fields.
package logging
