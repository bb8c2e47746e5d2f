//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres provides PostgreSQL-based checkpoint storage for graph
// execution, on the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-graph-go/graph"
	storage "trpc.group/trpc-go/trpc-graph-go/storage/postgres"
)

const (
	pgCreateCheckpoints = "CREATE TABLE IF NOT EXISTS graph_checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"step BIGINT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_id TEXT NOT NULL, " +
		"status TEXT NOT NULL, " +
		"created_at TIMESTAMPTZ NOT NULL, " +
		"checkpoint JSONB NOT NULL, " +
		"PRIMARY KEY (thread_id, step)" +
		")"

	// pgLockThread serializes writers of one thread across processes until
	// the transaction ends.
	pgLockThread = "SELECT pg_advisory_xact_lock(hashtext($1))"

	pgSelectMaxStep = "SELECT COALESCE(MAX(step), 0) FROM graph_checkpoints WHERE thread_id = $1"

	pgInsertCheckpoint = "INSERT INTO graph_checkpoints " +
		"(thread_id, step, checkpoint_id, parent_id, status, created_at, checkpoint) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7)"

	pgTrimThread = "DELETE FROM graph_checkpoints WHERE thread_id = $1 AND step <= $2"

	pgSelectLatest = "SELECT checkpoint FROM graph_checkpoints " +
		"WHERE thread_id = $1 ORDER BY step DESC LIMIT 1"

	pgSelectHistory = "SELECT checkpoint FROM graph_checkpoints " +
		"WHERE thread_id = $1 ORDER BY step ASC"

	pgDeleteThread = "DELETE FROM graph_checkpoints WHERE thread_id = $1"
)

// Saver is a PostgreSQL implementation of graph.CheckpointSaver.
type Saver struct {
	client     storage.Client
	maxHistory int
}

type options struct {
	client     storage.Client
	connString string
	instance   string
	builder    []storage.ClientBuilderOpt
	maxHistory int
}

// Option configures a Saver.
type Option func(*options)

// WithClient uses an existing client. The saver closes it on Close.
func WithClient(client storage.Client) Option {
	return func(o *options) { o.client = client }
}

// WithConnString connects with a postgres connection string.
func WithConnString(connString string) Option {
	return func(o *options) { o.connString = connString }
}

// WithInstance uses an instance registered with
// storage/postgres.RegisterPostgresInstance.
func WithInstance(name string) Option {
	return func(o *options) { o.instance = name }
}

// WithBuilderOptions passes extra options, such as pool limits, to the
// client builder. They apply after the instance and connection string.
func WithBuilderOptions(opts ...storage.ClientBuilderOpt) Option {
	return func(o *options) { o.builder = append(o.builder, opts...) }
}

// WithMaxHistory keeps only the newest n checkpoints of a thread.
func WithMaxHistory(n int) Option {
	return func(o *options) { o.maxHistory = n }
}

// NewSaver connects and creates the table if needed.
func NewSaver(ctx context.Context, opts ...Option) (*Saver, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	client := o.client
	if client == nil {
		var builderOpts []storage.ClientBuilderOpt
		if o.instance != "" {
			instanceOpts, ok := storage.GetPostgresInstance(o.instance)
			if !ok {
				return nil, fmt.Errorf("postgres instance %s not found", o.instance)
			}
			builderOpts = append(builderOpts, instanceOpts...)
		}
		if o.connString != "" {
			builderOpts = append(builderOpts, storage.WithClientConnString(o.connString))
		}
		if len(builderOpts) == 0 {
			return nil, errors.New("postgres client is required")
		}
		builderOpts = append(builderOpts, o.builder...)
		var err error
		client, err = storage.GetClientBuilder()(ctx, builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("create postgres client: %w", err)
		}
	}
	if _, err := client.ExecContext(ctx, pgCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Saver{client: client, maxHistory: o.maxHistory}, nil
}

// Put appends a checkpoint under a per-thread advisory lock.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidatePut(ckpt, 0); err != nil {
		return err
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return s.client.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, pgLockThread, ckpt.ThreadID); err != nil {
			return fmt.Errorf("lock thread: %w", err)
		}
		var latest int
		if err := tx.QueryRowContext(ctx, pgSelectMaxStep, ckpt.ThreadID).Scan(&latest); err != nil {
			return fmt.Errorf("select latest step: %w", err)
		}
		if err := graph.ValidatePut(ckpt, latest); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, pgInsertCheckpoint,
			ckpt.ThreadID, ckpt.Step, ckpt.ID, ckpt.ParentID, string(ckpt.Status), ckpt.CreatedAt, data,
		); err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		if s.maxHistory > 0 && ckpt.Step > s.maxHistory {
			if _, err := tx.ExecContext(ctx, pgTrimThread, ckpt.ThreadID, ckpt.Step-s.maxHistory); err != nil {
				return fmt.Errorf("trim thread history: %w", err)
			}
		}
		return nil
	})
}

// Latest returns the newest checkpoint of a thread.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	history, err := s.query(ctx, pgSelectLatest, threadID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return graph.NewThreadCheckpoint(threadID), nil
	}
	return history[0], nil
}

// History returns the checkpoints of a thread in step order.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	return s.query(ctx, pgSelectHistory, threadID)
}

func (s *Saver) query(ctx context.Context, query, threadID string) ([]*graph.Checkpoint, error) {
	var out []*graph.Checkpoint
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return fmt.Errorf("scan checkpoint: %w", err)
			}
			var ckpt graph.Checkpoint
			if err := json.Unmarshal(data, &ckpt); err != nil {
				return fmt.Errorf("unmarshal checkpoint: %w", err)
			}
			if ckpt.State == nil {
				ckpt.State = graph.State{}
			}
			out = append(out, &ckpt)
		}
		return nil
	}, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	return out, nil
}

// DeleteThread removes all checkpoints of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.client.ExecContext(ctx, pgDeleteThread, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Saver) Close() error {
	return s.client.Close()
}
