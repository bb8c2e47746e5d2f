//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpointtest holds the behavior every CheckpointSaver must
// share. Saver packages run it from their own tests.
package checkpointtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/graph"
)

// Factory returns an empty saver. The suite closes it.
type Factory func(t *testing.T) graph.CheckpointSaver

// Chain builds n consecutive checkpoints of a thread starting at step 1.
// State values survive a JSON round trip unchanged.
func Chain(threadID string, n int) []*graph.Checkpoint {
	out := make([]*graph.Checkpoint, 0, n)
	prev := graph.NewThreadCheckpoint(threadID)
	for i := 0; i < n; i++ {
		status := graph.StatusRunning
		if i == n-1 {
			status = graph.StatusPaused
		}
		ckpt := prev.Next(graph.State{
			"count": float64(i + 1),
			"log":   []any{fmt.Sprintf("step-%d", i+1)},
		}, status, []string{"worker"})
		ckpt.Supersteps = i + 1
		out = append(out, ckpt)
		prev = ckpt
	}
	return out
}

// Run runs the saver suite.
func Run(t *testing.T, newSaver Factory) {
	t.Run("latest of unknown thread is new", func(t *testing.T) {
		s := open(t, newSaver)
		latest, err := s.Latest(context.Background(), "nobody")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.IsNew())
		assert.Equal(t, graph.StatusRunning, latest.Status)
		assert.Empty(t, latest.State)

		history, err := s.History(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("put then latest", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		for _, ckpt := range Chain("t1", 3) {
			require.NoError(t, s.Put(ctx, ckpt))
			latest, err := s.Latest(ctx, "t1")
			require.NoError(t, err)
			assertSame(t, ckpt, latest)
		}
	})

	t.Run("history is ordered", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		chain := Chain("t1", 4)
		for _, ckpt := range chain {
			require.NoError(t, s.Put(ctx, ckpt))
		}
		history, err := s.History(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, len(chain))
		for i := range chain {
			assertSame(t, chain[i], history[i])
		}
	})

	t.Run("stale step is rejected", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		chain := Chain("t1", 2)
		require.NoError(t, s.Put(ctx, chain[0]))
		require.NoError(t, s.Put(ctx, chain[1]))
		err := s.Put(ctx, chain[0])
		require.ErrorIs(t, err, graph.ErrStepConflict)

		latest, err := s.Latest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Step)
	})

	t.Run("empty thread id", func(t *testing.T) {
		s := open(t, newSaver)
		ckpt := Chain("", 1)[0]
		require.ErrorIs(t, s.Put(context.Background(), ckpt), graph.ErrEmptyThreadID)
	})

	t.Run("stored checkpoint is isolated", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		ckpt := Chain("t1", 1)[0]
		require.NoError(t, s.Put(ctx, ckpt))
		ckpt.State["count"] = float64(99)
		ckpt.Frontier[0] = "mutated"

		latest, err := s.Latest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, float64(1), latest.State["count"])
		assert.Equal(t, []string{"worker"}, latest.Frontier)
	})

	t.Run("threads are independent", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, Chain("a", 1)[0]))
		for _, ckpt := range Chain("b", 2) {
			require.NoError(t, s.Put(ctx, ckpt))
		}
		a, err := s.Latest(ctx, "a")
		require.NoError(t, err)
		b, err := s.Latest(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 1, a.Step)
		assert.Equal(t, 2, b.Step)
	})

	t.Run("delete thread", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		for _, ckpt := range Chain("gone", 2) {
			require.NoError(t, s.Put(ctx, ckpt))
		}
		require.NoError(t, s.Put(ctx, Chain("kept", 1)[0]))
		require.NoError(t, s.DeleteThread(ctx, "gone"))

		latest, err := s.Latest(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, latest.IsNew())
		kept, err := s.Latest(ctx, "kept")
		require.NoError(t, err)
		assert.Equal(t, 1, kept.Step)
		// A deleted thread starts over from step 1.
		require.NoError(t, s.Put(ctx, Chain("gone", 1)[0]))
	})

	t.Run("concurrent writers of distinct threads", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		const threads, steps = 8, 5
		var wg sync.WaitGroup
		errs := make(chan error, threads*steps)
		for i := 0; i < threads; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for _, ckpt := range Chain(id, steps) {
					if err := s.Put(ctx, ckpt); err != nil {
						errs <- err
						return
					}
					if _, err := s.Latest(ctx, id); err != nil {
						errs <- err
						return
					}
				}
			}(fmt.Sprintf("thread-%d", i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		for i := 0; i < threads; i++ {
			history, err := s.History(ctx, fmt.Sprintf("thread-%d", i))
			require.NoError(t, err)
			assert.Len(t, history, steps)
		}
	})

	t.Run("racing writers of one step", func(t *testing.T) {
		s := open(t, newSaver)
		ctx := context.Background()
		base := graph.NewThreadCheckpoint("race")
		const writers = 6
		var wg sync.WaitGroup
		var ok, conflicts atomic.Int32
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ckpt := base.Next(graph.State{"writer": float64(i)}, graph.StatusRunning, nil)
				err := s.Put(ctx, ckpt)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, graph.ErrStepConflict):
					conflicts.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())
	})
}

func open(t *testing.T, newSaver Factory) graph.CheckpointSaver {
	t.Helper()
	s := newSaver(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func assertSame(t *testing.T, want, got *graph.Checkpoint) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ParentID, got.ParentID)
	assert.Equal(t, want.ThreadID, got.ThreadID)
	assert.Equal(t, want.Step, got.Step)
	assert.Equal(t, want.Supersteps, got.Supersteps)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Frontier, got.Frontier)
	assert.Equal(t, want.State, got.State)
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, 0)
}
