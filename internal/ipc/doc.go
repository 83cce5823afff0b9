// Package ipc exposes the running daemon's pipeline operations over
// JSON-RPC on a Unix domain socket. The CLI dials the socket to start
// runs, confirm review gates, and cancel runs while the daemon holds the
// instance lock; read-only views keep going straight to the state files.
package ipc
