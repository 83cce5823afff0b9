// Package services defines the typed error taxonomy shared by the queue,
// the pipeline orchestrator, and their collaborators, plus context helpers
// for propagating pipeline/task identifiers into logs.
//
// Every public operation in the engine returns either success or one
// *services.Error carrying a Kind, an operation name, a human-readable
// message, and structured details. Collaborator failures are converted at
// the call site; raw errors never cross the queue/orchestrator boundary.
package services
