// Package main hosts the quill CLI entrypoint and command graph.
//
// The Cobra-based command tree surfaces queue inspection, pipeline
// inspection, and configuration scaffolding by reading the daemon's
// persisted state files directly. Mutating commands refuse to run while
// a daemon instance holds the lock file, since the daemon keeps queue
// state in memory and rewrites the whole snapshot on every change.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
