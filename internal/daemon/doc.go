// Package daemon assembles the long-running quill process: the task
// queue, the pipeline orchestrator, the lease sweeper, and snapshot
// retention. It enforces single-instance execution with a file lock.
package daemon
