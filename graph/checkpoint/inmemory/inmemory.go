//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage for graph
// execution. It is suitable for tests and single-process deployments.
package inmemory

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-graph-go/graph"
)

// Saver keeps the checkpoint history of every thread in memory.
type Saver struct {
	mu      sync.RWMutex
	threads map[string][]*graph.Checkpoint // threadID -> checkpoints in step order
	// maxCheckpointsPerThread limits the retained history. Zero keeps all.
	maxCheckpointsPerThread int
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{threads: make(map[string][]*graph.Checkpoint)}
}

// WithMaxCheckpointsPerThread keeps only the newest max checkpoints of a
// thread. The latest checkpoint is always retained.
func (s *Saver) WithMaxCheckpointsPerThread(max int) *Saver {
	s.maxCheckpointsPerThread = max
	return s
}

// Put appends a checkpoint to its thread.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := graph.ValidatePut(ckpt, 0); err != nil {
		return err
	}
	history := s.threads[ckpt.ThreadID]
	latest := 0
	if n := len(history); n > 0 {
		latest = history[n-1].Step
	}
	if err := graph.ValidatePut(ckpt, latest); err != nil {
		return err
	}
	history = append(history, ckpt.Copy())
	if max := s.maxCheckpointsPerThread; max > 0 && len(history) > max {
		history = append([]*graph.Checkpoint(nil), history[len(history)-max:]...)
	}
	s.threads[ckpt.ThreadID] = history
	return nil
}

// Latest returns the newest checkpoint of a thread.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	if len(history) == 0 {
		return graph.NewThreadCheckpoint(threadID), nil
	}
	return history[len(history)-1].Copy(), nil
}

// History returns the retained checkpoints of a thread in step order.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	out := make([]*graph.Checkpoint, len(history))
	for i, ckpt := range history {
		out[i] = ckpt.Copy()
	}
	return out, nil
}

// DeleteThread removes all checkpoints of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, threadID)
	return nil
}

// Close releases resources held by the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = make(map[string][]*graph.Checkpoint)
	return nil
}
