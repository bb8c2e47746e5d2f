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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/graph"
)

func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestStreamSuperstepEvents(t *testing.T) {
	exec, _ := newExecutor(t, counterGraph(t))

	ch, err := exec.Stream(context.Background(), "t1", nil)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 4)

	for i, e := range events[:3] {
		assert.Equal(t, event.ObjectTypeSuperstep, e.Object)
		assert.Equal(t, "t1", e.ThreadID)
		assert.Equal(t, graph.AuthorGraphExecutor, e.Author)
		assert.Equal(t, i+1, e.Step)
		assert.Equal(t, []string{"increment"}, e.Nodes)
		assert.Equal(t, i+1, e.Updates["increment"]["count"])
	}
	assert.Equal(t, string(graph.StatusRunning), events[0].Status)
	assert.Equal(t, []string{"increment"}, events[0].Next)
	assert.Equal(t, string(graph.StatusCompleted), events[2].Status)

	done := events[3]
	assert.True(t, done.IsTerminal())
	assert.Equal(t, event.ObjectTypeDone, done.Object)
	assert.Equal(t, 3, done.Step)
	assert.Equal(t, string(graph.StatusCompleted), done.Status)
}

func TestStreamPauseEvent(t *testing.T) {
	exec, _ := newExecutor(t, approvalFlow(t), graph.WithInterruptBefore("publish"))

	ch, err := exec.Stream(context.Background(), "t1", nil)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"write"}, events[0].Nodes)
	// The pause checkpoint ran no node.
	assert.Empty(t, events[1].Nodes)
	assert.Equal(t, string(graph.StatusPaused), events[1].Status)
	assert.Equal(t, []string{"publish"}, events[1].Next)
	assert.Equal(t, event.ObjectTypeDone, events[2].Object)
	assert.Equal(t, string(graph.StatusPaused), events[2].Status)

	// Streaming the same thread again resumes it.
	ch, err = exec.Stream(context.Background(), "t1", graph.State{"approved": true})
	require.NoError(t, err)
	events = collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"publish"}, events[0].Nodes)
	assert.Equal(t, string(graph.StatusCompleted), events[1].Status)
}

func TestStreamErrorEvent(t *testing.T) {
	g, err := graph.NewStateGraph(counterSchema()).
		AddNode("first", increment).
		AddNode("bad", func(ctx context.Context, state graph.State) (graph.State, error) {
			return nil, errors.New("exploded")
		}).
		AddEdge("first", "bad").
		SetEntryPoint("first").
		Compile()
	require.NoError(t, err)
	exec, _ := newExecutor(t, g)

	ch, err := exec.Stream(context.Background(), "t1", nil)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, string(graph.StatusFailed), events[1].Status)
	assert.Equal(t, []string{"bad"}, events[1].Next)

	last := events[2]
	assert.True(t, last.IsTerminal())
	assert.Equal(t, event.ObjectTypeError, last.Object)
	require.NotNil(t, last.Error)
	assert.Equal(t, graph.ErrorTypeNodeExecution, last.Error.Type)
	assert.Equal(t, "bad", last.Error.Node)
	assert.Contains(t, last.Error.Message, "exploded")
	assert.Equal(t, 2, last.Step)
}

func TestStreamFragments(t *testing.T) {
	schema := graph.NewSchema().AddChannel("text", graph.Channel{})
	var invokeEmitted atomic.Bool
	g, err := graph.NewStateGraph(schema).
		AddNode("speak", func(ctx context.Context, state graph.State) (graph.State, error) {
			ok := true
			for _, tok := range []string{"hel", "lo"} {
				ok = graph.EmitFragment(ctx, tok) && ok
			}
			invokeEmitted.Store(ok)
			return graph.State{"text": "hello"}, nil
		}).
		SetEntryPoint("speak").
		Compile()
	require.NoError(t, err)
	exec, _ := newExecutor(t, g)

	ch, err := exec.Stream(context.Background(), "t1", nil)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 4)
	assert.True(t, invokeEmitted.Load())
	for i, want := range []string{"hel", "lo"} {
		assert.Equal(t, event.ObjectTypeFragment, events[i].Object)
		assert.Equal(t, "speak", events[i].Author)
		assert.Equal(t, 1, events[i].Step)
		assert.Equal(t, want, events[i].Fragment)
	}
	assert.Equal(t, event.ObjectTypeSuperstep, events[2].Object)

	_, err = exec.Invoke(context.Background(), "t2", nil)
	require.NoError(t, err)
	assert.False(t, invokeEmitted.Load())
}

type dropCounter struct {
	dropped atomic.Int32
}

func (d *dropCounter) OnSuperstep(string, int, []string, graph.Status, time.Duration) {}
func (d *dropCounter) OnNode(string, string, time.Duration, error)                     {}
func (d *dropCounter) OnEventDropped(string, string)                                    { d.dropped.Add(1) }

func TestSlowConsumerDoesNotBlock(t *testing.T) {
	obs := &dropCounter{}
	exec, _ := newExecutor(t, counterGraph(t),
		graph.WithEventBufferSize(1),
		graph.WithEventSendTimeout(time.Millisecond),
		graph.WithObserver(obs),
	)
	ctx := context.Background()

	ch, err := exec.Stream(ctx, "t1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ckpt, err := exec.State(ctx, "t1")
		return err == nil && ckpt.Status == graph.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	events := collect(t, ch)
	// The buffer kept the first superstep; the rest were dropped.
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Step)
	assert.Equal(t, int32(3), obs.dropped.Load())

	ckpt, err := exec.State(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, ckpt.State["count"])
}

func TestStreamCancelledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	g, err := graph.NewStateGraph(graph.NewSchema()).
		AddNode("block", func(ctx context.Context, state graph.State) (graph.State, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		SetEntryPoint("block").
		Compile()
	require.NoError(t, err)
	exec, _ := newExecutor(t, g)

	ch, err := exec.Stream(ctx, "t1", nil)
	require.NoError(t, err)
	<-started
	cancel()
	events := collect(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, event.ObjectTypeDone, last.Object)
	assert.Equal(t, string(graph.StatusPaused), last.Status)
}
