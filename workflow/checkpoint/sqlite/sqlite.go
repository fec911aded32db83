//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed checkpoint store. It expects an
// initialized *sql.DB using a SQLite driver and creates the required schema
// on construction. Snapshots are stored as JSON blobs, one row per write,
// so checkpoints stay append-only and immutable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	// Registers the sqlite3 driver for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/flowgraph-dev/flowgraph/workflow"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"run_id TEXT NOT NULL, " +
		"key TEXT NOT NULL, " +
		"step INTEGER NOT NULL, " +
		"version INTEGER NOT NULL, " +
		"snapshot BLOB NOT NULL, " +
		"PRIMARY KEY (key, version)" +
		")"

	selectNextVersion = "SELECT COALESCE(MAX(version), -1) + 1 FROM checkpoints WHERE key = ?"

	insertCheckpoint = "INSERT INTO checkpoints (run_id, key, step, version, snapshot) " +
		"VALUES (?, ?, ?, ?, ?)"

	selectLatest = "SELECT snapshot FROM checkpoints WHERE key = ? " +
		"ORDER BY version DESC LIMIT 1"

	selectByVersion = "SELECT snapshot FROM checkpoints WHERE key = ? AND version = ? LIMIT 1"

	selectRunKeys = "SELECT key, step, MAX(version) FROM checkpoints " +
		"WHERE run_id = ? GROUP BY key, step"

	deleteRun = "DELETE FROM checkpoints WHERE run_id = ?"
)

// Store is a SQLite-backed workflow.Store.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at path and prepares the schema. Use
// ":memory:" for an ephemeral database.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return NewStoreFromDB(db)
}

// NewStoreFromDB creates a store over the provided DB, which must use a
// SQLite driver. The constructor creates tables if needed.
func NewStoreFromDB(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write implements workflow.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) (string, error) {
	runID, step, err := workflow.ParseCheckpointKey(key)
	if err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	if err := tx.QueryRowContext(ctx, selectNextVersion, key).Scan(&version); err != nil {
		return "", fmt.Errorf("allocate version for %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, insertCheckpoint, runID, key, step, version, data); err != nil {
		return "", fmt.Errorf("insert checkpoint %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit checkpoint %s: %w", key, err)
	}
	return strconv.FormatInt(version, 10), nil
}

// Read implements workflow.Store. An empty version selects the latest
// write.
func (s *Store) Read(ctx context.Context, key string, version string) ([]byte, error) {
	var row *sql.Row
	if version == "" {
		row = s.db.QueryRowContext(ctx, selectLatest, key)
	} else {
		v, err := strconv.ParseInt(version, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("key %s version %q: %w", key, version, workflow.ErrCheckpointNotFound)
		}
		row = s.db.QueryRowContext(ctx, selectByVersion, key, v)
	}
	var snapshot []byte
	if err := row.Scan(&snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("key %s: %w", key, workflow.ErrCheckpointNotFound)
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return snapshot, nil
}

// ListKeys implements workflow.Store.
func (s *Store) ListKeys(ctx context.Context, runID string) ([]workflow.CheckpointInfo, error) {
	rows, err := s.db.QueryContext(ctx, selectRunKeys, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}
	defer rows.Close()

	var infos []workflow.CheckpointInfo
	for rows.Next() {
		var (
			key     string
			step    int
			version int64
		)
		if err := rows.Scan(&key, &step, &version); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		infos = append(infos, workflow.CheckpointInfo{
			RunID:      runID,
			StepNumber: step,
			Key:        key,
			Version:    strconv.FormatInt(version, 10),
		})
	}
	return infos, rows.Err()
}

// DeleteRun implements workflow.Store.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, deleteRun, runID); err != nil {
		return fmt.Errorf("delete checkpoints for run %s: %w", runID, err)
	}
	return nil
}
