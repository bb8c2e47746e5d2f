//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the state of a thread as recorded by a checkpoint.
type Status string

// Thread statuses.
const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Resumable reports whether a run may continue from this status.
func (s Status) Resumable() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusFailed
}

// Checkpoint is an immutable snapshot of one thread after a superstep.
type Checkpoint struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	ThreadID string `json:"thread_id"`
	// Step orders checkpoints within a thread. The first persisted
	// checkpoint has step 1. Zero marks a thread with no history.
	Step int `json:"step"`
	// Supersteps counts the supersteps the thread has completed.
	Supersteps int    `json:"supersteps"`
	State      State  `json:"state"`
	Status     Status `json:"status"`
	// Frontier lists the nodes of the next superstep.
	Frontier []string `json:"frontier,omitempty"`
	// PausedBefore lists the pause-before nodes that stopped the run.
	PausedBefore []string `json:"paused_before,omitempty"`
	// PausedAfter lists the pause-after nodes that stopped the run.
	PausedAfter []string  `json:"paused_after,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewThreadCheckpoint returns the checkpoint that stands for a thread with
// no history: RUNNING, empty state, step 0. It is never persisted.
func NewThreadCheckpoint(threadID string) *Checkpoint {
	return &Checkpoint{
		ThreadID:  threadID,
		State:     State{},
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
}

// IsNew reports whether the checkpoint stands for a thread with no history.
func (c *Checkpoint) IsNew() bool { return c.Step == 0 }

// Next builds the checkpoint that follows c.
func (c *Checkpoint) Next(state State, status Status, frontier []string) *Checkpoint {
	return &Checkpoint{
		ID:         uuid.New().String(),
		ParentID:   c.ID,
		ThreadID:   c.ThreadID,
		Step:       c.Step + 1,
		Supersteps: c.Supersteps,
		State:      state.Clone(),
		Status:     status,
		Frontier:   slices.Clone(frontier),
		CreatedAt:  time.Now().UTC(),
	}
}

// Copy returns a copy that shares no mutable data with c.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = c.State.Clone()
	cp.Frontier = slices.Clone(c.Frontier)
	cp.PausedBefore = slices.Clone(c.PausedBefore)
	cp.PausedAfter = slices.Clone(c.PausedAfter)
	return &cp
}

// CheckpointSaver persists the checkpoint history of threads.
//
// Implementations must serialize writes per thread and must be safe for
// concurrent use across threads. After Put returns, Latest must return
// that checkpoint.
type CheckpointSaver interface {
	// Put appends a checkpoint. Its step must be greater than the latest
	// step of the thread, otherwise ErrStepConflict is returned.
	Put(ctx context.Context, ckpt *Checkpoint) error
	// Latest returns the newest checkpoint of a thread, or
	// NewThreadCheckpoint when the thread has no history.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
	// History returns every checkpoint of a thread in ascending step order.
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)
	// DeleteThread removes the history of a thread.
	DeleteThread(ctx context.Context, threadID string) error
	// Close releases resources held by the saver.
	Close() error
}

// ValidatePut checks a checkpoint against the latest persisted step of its
// thread. Savers call it inside their write critical section.
func ValidatePut(ckpt *Checkpoint, latestStep int) error {
	if ckpt == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	if ckpt.ThreadID == "" {
		return ErrEmptyThreadID
	}
	if ckpt.Step <= latestStep {
		return fmt.Errorf("%w: thread %s step %d, latest %d", ErrStepConflict, ckpt.ThreadID, ckpt.Step, latestStep)
	}
	return nil
}
