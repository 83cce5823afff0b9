// Package queue implements the durable task queue: scheduling under a
// concurrency cap, per-resource mutual exclusion through leased locks,
// retry with backoff, and crash recovery from an atomic whole-file snapshot.
//
// Every mutation persists the full QueueState (ordered task list plus the
// paused flag) through the storage package, so the on-disk state is always
// the last fully written snapshot. Initialize reloads that snapshot and
// requeues any task found running back to pending, since its executor died with
// the previous process.
//
// Treat this package as the single source of truth for task lifecycle
// semantics; task payload schemas belong to the steps package.
package queue
