// Package snapshot persists rollback copies of documents in SQLite.
//
// The orchestrator captures a snapshot immediately before any destructive
// write so a failed or regretted pipeline can be undone by hand. Snapshots
// are transient safety copies, not an archive; prune them on a retention
// window.
package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; users clear the database to adopt the new schema.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Snapshot is one captured rollback copy.
type Snapshot struct {
	ID        int64
	Path      string
	Content   string
	OwnerID   string
	NodeID    string
	CreatedAt time.Time
}

// Store manages snapshot persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the snapshot database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to recreate)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Create inserts a snapshot of previousContent for path and returns its id.
func (s *Store) Create(ctx context.Context, path, previousContent, ownerID, nodeID string) (int64, error) {
	if path == "" || nodeID == "" {
		return 0, errors.New("path and node id must be set")
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO snapshots (path, content, owner_id, node_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		path,
		previousContent,
		ownerID,
		nodeID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// GetByID fetches a snapshot by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, path, content, owner_id, node_id, created_at FROM snapshots WHERE id = ?`,
		id,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// LatestForNode returns the most recent snapshot captured for a node, or nil.
func (s *Store) LatestForNode(ctx context.Context, nodeID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, path, content, owner_id, node_id, created_at
         FROM snapshots WHERE node_id = ? ORDER BY id DESC LIMIT 1`,
		nodeID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// ListForNode returns every snapshot for a node, newest first.
func (s *Store) ListForNode(ctx context.Context, nodeID string) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, path, content, owner_id, node_id, created_at
         FROM snapshots WHERE node_id = ? ORDER BY id DESC`,
		nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// PruneOlderThan removes snapshots created before cutoff and returns the count.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM snapshots WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func scanSnapshot(scanner interface{ Scan(dest ...any) error }) (*Snapshot, error) {
	var (
		snap       Snapshot
		createdRaw string
	)
	if err := scanner.Scan(&snap.ID, &snap.Path, &snap.Content, &snap.OwnerID, &snap.NodeID, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		snap.CreatedAt = created
	}
	return &snap, nil
}
