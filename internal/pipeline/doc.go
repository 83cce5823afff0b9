// Package pipeline implements the orchestrator that drives create, amend,
// merge, and verify runs over the task queue.
//
// Each run is tracked by a Context whose stage advances only forward along
// its kind's graph (failed is reachable from any non-terminal stage).
// Queued steps are external AI calls; indexing, duplicate detection,
// snapshots, and file writes are direct collaborator calls made from the
// queue-event listener. Confirmation gates pause a run until an explicit
// confirm call, which re-validates that the underlying document has not
// changed since the preview was built; a mismatch is a Conflict and the
// run fails rather than overwriting someone else's edit.
//
// The orchestrator owns pipeline contexts and the task-to-pipeline mapping
// exclusively, and persists both through the storage package so a restart
// can reconstruct in-flight state.
package pipeline
