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
	"database/sql"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // Pure Go SQLite driver.

	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/sqlite"
)

type ticket struct {
	ID    string `json:"id"`
	Votes int    `json:"votes"`
}

func openSQLiteSaver(t *testing.T, path string) *sqlite.Saver {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := sqlite.NewSaver(db)
	require.NoError(t, err)
	return s
}

// A thread paused in one process resumes in another with channel values
// restored to their declared Go types.
func TestDurableResumeAcrossExecutors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	schema := func() *graph.Schema {
		return graph.NewSchema().
			AddChannel("count", graph.Channel{Type: reflect.TypeOf(0), Default: func() any { return 0 }}).
			AddChannel("ticket", graph.Channel{Type: reflect.TypeOf(ticket{})})
	}
	build := func() *graph.Graph {
		return graph.NewStateGraph(schema()).
			AddNode("open", func(ctx context.Context, state graph.State) (graph.State, error) {
				return graph.State{"ticket": ticket{ID: "T-1"}, "count": state["count"].(int) + 1}, nil
			}).
			AddNode("vote", func(ctx context.Context, state graph.State) (graph.State, error) {
				tk := state["ticket"].(ticket)
				tk.Votes++
				return graph.State{"ticket": tk, "count": state["count"].(int) + 1}, nil
			}).
			AddEdge("open", "vote").
			SetEntryPoint("open").
			MustCompile()
	}
	ctx := context.Background()

	saver := openSQLiteSaver(t, path)
	exec, err := graph.NewExecutor(build(), graph.WithCheckpointSaver(saver), graph.WithInterruptBefore("vote"))
	require.NoError(t, err)
	res, err := exec.Invoke(ctx, "t1", nil)
	require.NoError(t, err)
	require.Equal(t, graph.StatusPaused, res.Status)
	exec.Close()
	require.NoError(t, saver.Close())

	saver = openSQLiteSaver(t, path)
	defer saver.Close()
	exec, err = graph.NewExecutor(build(), graph.WithCheckpointSaver(saver), graph.WithInterruptBefore("vote"))
	require.NoError(t, err)
	defer exec.Close()

	ckpt, err := exec.State(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.State["count"])
	assert.Equal(t, ticket{ID: "T-1"}, ckpt.State["ticket"])

	res, err = exec.Invoke(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.State["count"])
	assert.Equal(t, ticket{ID: "T-1", Votes: 1}, res.State["ticket"])

	history, err := exec.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 1, history[0].State["count"])
}

func TestDecodeFailureIsCheckpointError(t *testing.T) {
	saver := inmemory.NewSaver()
	require.NoError(t, saver.Put(context.Background(), &graph.Checkpoint{
		ID: "c1", ThreadID: "t1", Step: 1, Status: graph.StatusPaused,
		State: graph.State{"count": "not a number"}, Frontier: []string{"increment"},
	}))
	exec, err := graph.NewExecutor(counterGraph(t), graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Invoke(context.Background(), "t1", nil)
	var ckErr *graph.CheckpointError
	require.ErrorAs(t, err, &ckErr)
	assert.Equal(t, "decode", ckErr.Op)
}

// chainGraph builds n nodes in a line. Each node appends its id to the log.
func chainGraph(n int) *graph.Graph {
	sg := graph.NewStateGraph(graph.NewSchema().
		AddChannel("log", graph.Channel{Reducer: graph.AppendReducer}))
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("n%d", i)
		sg.AddNode(id, func(ctx context.Context, state graph.State) (graph.State, error) {
			return graph.State{"log": id}, nil
		})
		if i > 0 {
			sg.AddEdge(fmt.Sprintf("n%d", i-1), id)
		}
	}
	return sg.SetEntryPoint("n0").MustCompile()
}

func TestAcyclicGraphsTerminateDeterministically(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("a chain of n nodes completes in n supersteps with the same state every run", prop.ForAll(
		func(n int, pauseAt int) bool {
			g := chainGraph(n)
			exec, err := graph.NewExecutor(g,
				graph.WithCheckpointSaver(inmemory.NewSaver()),
				graph.WithRecursionLimit(n),
			)
			if err != nil {
				return false
			}
			defer exec.Close()
			ctx := context.Background()

			first, err := exec.Invoke(ctx, "a", nil)
			if err != nil || first.Status != graph.StatusCompleted || first.Supersteps != n {
				return false
			}

			// Pausing along the way does not change the outcome.
			pause := fmt.Sprintf("n%d", pauseAt%n)
			res, err := exec.Invoke(ctx, "b", nil, graph.WithRunInterrupts(graph.Interrupts{Before: []string{pause}}))
			for err == nil && res.Status == graph.StatusPaused {
				res, err = exec.Invoke(ctx, "b", nil)
			}
			if err != nil || res.Status != graph.StatusCompleted {
				return false
			}
			history, err := exec.History(ctx, "a")
			if err != nil || len(history) != n {
				return false
			}
			return reflect.DeepEqual(first.State, res.State) && len(first.State["log"].([]string)) == n
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 7),
	))

	properties.TestingRun(t)
}

func TestCheckpointStepsStrictlyIncrease(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("every persisted checkpoint has the next step and links to its parent", prop.ForAll(
		func(limit int) bool {
			exec, err := graph.NewExecutor(counterGraph(t), graph.WithCheckpointSaver(inmemory.NewSaver()))
			if err != nil {
				return false
			}
			defer exec.Close()
			ctx := context.Background()
			// Each low limit fails the thread and the next run raises it.
			for l := limit; l <= 3; l++ {
				_, _ = exec.Invoke(ctx, "t", nil, graph.WithRunRecursionLimit(l))
			}
			history, err := exec.History(ctx, "t")
			if err != nil || len(history) == 0 {
				return false
			}
			for i, ckpt := range history {
				if ckpt.Step != i+1 {
					return false
				}
				if i > 0 && ckpt.ParentID != history[i-1].ID {
					return false
				}
			}
			return history[len(history)-1].Status == graph.StatusCompleted
		},
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
