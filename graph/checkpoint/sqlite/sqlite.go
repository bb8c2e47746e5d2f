//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-based checkpoint storage for graph
// execution. The caller opens the database with a driver of its choice.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-graph-go/graph"
)

const (
	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS graph_checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"step INTEGER NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_id TEXT NOT NULL, " +
		"status TEXT NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (thread_id, step)" +
		")"

	sqliteSelectMaxStep = "SELECT COALESCE(MAX(step), 0) FROM graph_checkpoints WHERE thread_id = ?"

	sqliteInsertCheckpoint = "INSERT INTO graph_checkpoints (" +
		"thread_id, step, checkpoint_id, parent_id, status, created_at, checkpoint_json) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?)"

	sqliteTrimThread = "DELETE FROM graph_checkpoints WHERE thread_id = ? AND step <= ?"

	sqliteSelectLatest = "SELECT checkpoint_json FROM graph_checkpoints " +
		"WHERE thread_id = ? ORDER BY step DESC LIMIT 1"

	sqliteSelectHistory = "SELECT checkpoint_json FROM graph_checkpoints " +
		"WHERE thread_id = ? ORDER BY step ASC"

	sqliteDeleteThread = "DELETE FROM graph_checkpoints WHERE thread_id = ?"
)

// Saver is a SQLite-backed implementation of graph.CheckpointSaver. Each
// checkpoint is one row holding the checkpoint as a JSON blob.
//
// SQLite admits a single writer, so Put is serialized across threads.
// Databases shared with other writers should limit the pool with
// db.SetMaxOpenConns(1).
type Saver struct {
	db         *sql.DB
	writeMu    sync.Mutex
	maxHistory int
}

// Option configures a Saver.
type Option func(*Saver)

// WithMaxHistory keeps only the newest n checkpoints of a thread.
func WithMaxHistory(n int) Option {
	return func(s *Saver) { s.maxHistory = n }
}

// NewSaver creates a new saver using the provided DB and creates the table
// if needed.
func NewSaver(db *sql.DB, opts ...Option) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	s := &Saver{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put appends a checkpoint inside a transaction that checks the latest step.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) (err error) {
	if err := graph.ValidatePut(ckpt, 0); err != nil {
		return err
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var latest int
	if err = tx.QueryRowContext(ctx, sqliteSelectMaxStep, ckpt.ThreadID).Scan(&latest); err != nil {
		return fmt.Errorf("select latest step: %w", err)
	}
	if err = graph.ValidatePut(ckpt, latest); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, sqliteInsertCheckpoint,
		ckpt.ThreadID, ckpt.Step, ckpt.ID, ckpt.ParentID, string(ckpt.Status),
		ckpt.CreatedAt.UnixNano(), data,
	); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if s.maxHistory > 0 && ckpt.Step > s.maxHistory {
		if _, err = tx.ExecContext(ctx, sqliteTrimThread, ckpt.ThreadID, ckpt.Step-s.maxHistory); err != nil {
			return fmt.Errorf("trim thread history: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint of a thread.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectLatest, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.NewThreadCheckpoint(threadID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest: %w", err)
	}
	return unmarshal(data)
}

// History returns the checkpoints of a thread in step order.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectHistory, threadID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []*graph.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		ckpt, err := unmarshal(data)
		if err != nil {
			return nil, err
		}
		out = append(out, ckpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter checkpoints: %w", err)
	}
	return out, nil
}

// DeleteThread removes all checkpoints of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, sqliteDeleteThread, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Saver) Close() error {
	return s.db.Close()
}

func unmarshal(data []byte) (*graph.Checkpoint, error) {
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if ckpt.State == nil {
		ckpt.State = graph.State{}
	}
	return &ckpt, nil
}
