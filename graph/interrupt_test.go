//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/graph"
)

func approvalSchema() *graph.Schema {
	return graph.NewSchema().
		AddChannel("draft", graph.Channel{}).
		AddChannel("approved", graph.Channel{}).
		AddChannel("published", graph.Channel{}).
		AddChannel("log", graph.Channel{Reducer: graph.AppendReducer})
}

func approvalFlow(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewStateGraph(approvalSchema()).
		AddNode("write", func(ctx context.Context, state graph.State) (graph.State, error) {
			return graph.State{"draft": "v1", "log": "write"}, nil
		}).
		AddNode("publish", func(ctx context.Context, state graph.State) (graph.State, error) {
			approved, _ := state["approved"].(bool)
			return graph.State{"published": approved, "log": "publish"}, nil
		}).
		AddEdge("write", "publish").
		SetFinishPoint("publish").
		SetEntryPoint("write").
		Compile()
	require.NoError(t, err)
	return g
}

func TestPauseBeforeAndResume(t *testing.T) {
	exec, _ := newExecutor(t, approvalFlow(t), graph.WithInterruptBefore("publish"))
	ctx := context.Background()

	res, err := exec.Invoke(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, res.Status)
	assert.Equal(t, []string{"publish"}, res.PausedBefore)
	assert.Equal(t, []string{"publish"}, res.Next)
	assert.Equal(t, 2, res.Step)
	assert.Equal(t, 1, res.Supersteps)
	assert.Nil(t, res.State["published"])

	ckpt, err := exec.State(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, ckpt.Status)
	assert.Equal(t, "v1", ckpt.State["draft"])

	res, err = exec.Invoke(ctx, "t1", graph.State{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, true, res.State["published"])
	assert.Equal(t, []string{"write", "publish"}, res.State["log"])
	assert.Equal(t, 3, res.Step)
	assert.Equal(t, 2, res.Supersteps)
}

func TestPauseAfterAndResume(t *testing.T) {
	exec, _ := newExecutor(t, approvalFlow(t), graph.WithInterruptAfter("write"))
	ctx := context.Background()

	res, err := exec.Invoke(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, res.Status)
	assert.Equal(t, []string{"write"}, res.PausedAfter)
	assert.Equal(t, []string{"publish"}, res.Next)
	assert.Equal(t, "v1", res.State["draft"])
	assert.Equal(t, 1, res.Step)

	res, err = exec.Invoke(ctx, "t1", graph.State{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, true, res.State["published"])
}

func TestPauseAfterLastNodeCompletesOnResume(t *testing.T) {
	exec, _ := newExecutor(t, approvalFlow(t), graph.WithInterruptAfter("publish"))
	ctx := context.Background()

	res, err := exec.Invoke(ctx, "t1", graph.State{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, res.Status)
	assert.Equal(t, []string{graph.End}, res.Next)

	res, err = exec.Invoke(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, []string{"write", "publish"}, res.State["log"])
	assert.Equal(t, 2, res.Supersteps)
}

func TestResumeEquivalence(t *testing.T) {
	ctx := context.Background()
	plain, _ := newExecutor(t, approvalFlow(t))
	want, err := plain.Invoke(ctx, "t1", graph.State{"approved": true})
	require.NoError(t, err)

	for _, opt := range []graph.ExecutorOption{
		graph.WithInterruptBefore("write", "publish"),
		graph.WithInterruptAfter("write", "publish"),
	} {
		exec, _ := newExecutor(t, approvalFlow(t), opt)
		res, err := exec.Invoke(ctx, "t1", graph.State{"approved": true})
		require.NoError(t, err)
		pauses := 0
		for res.Status == graph.StatusPaused {
			pauses++
			res, err = exec.Invoke(ctx, "t1", nil)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, pauses)
		assert.Equal(t, graph.StatusCompleted, res.Status)
		assert.Equal(t, want.State, res.State)
		assert.Equal(t, want.Supersteps, res.Supersteps)
	}
}

func TestRunInterruptsOverrideExecutor(t *testing.T) {
	exec, _ := newExecutor(t, approvalFlow(t), graph.WithInterruptBefore("publish"))
	ctx := context.Background()

	res, err := exec.Invoke(ctx, "t1", nil, graph.WithRunInterrupts(graph.Interrupts{}))
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)

	// Interrupts are read on every run, so a paused thread can be resumed
	// under a different configuration.
	res, err = exec.Invoke(ctx, "t2", nil)
	require.NoError(t, err)
	require.Equal(t, graph.StatusPaused, res.Status)
	res, err = exec.Invoke(ctx, "t2", nil, graph.WithRunInterrupts(graph.Interrupts{After: []string{"publish"}}))
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, res.Status)
	assert.Equal(t, []string{"publish"}, res.PausedAfter)
}

func TestPauseBeforeEntry(t *testing.T) {
	exec, _ := newExecutor(t, approvalFlow(t), graph.WithInterruptBefore("write"))
	res, err := exec.Invoke(context.Background(), "t1", graph.State{"approved": false})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusPaused, res.Status)
	assert.Equal(t, 1, res.Step)
	assert.Equal(t, 0, res.Supersteps)
	assert.Equal(t, false, res.State["approved"])
	assert.Equal(t, []string{"write"}, res.Next)
}
