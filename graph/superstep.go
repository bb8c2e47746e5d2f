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
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-graph-go/event"
	itelemetry "trpc.group/trpc-go/trpc-graph-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-graph-go/log"
	"trpc.group/trpc-go/trpc-graph-go/telemetry/trace"
)

// stepper carries the per run state of the superstep loop.
type stepper struct {
	e        *Executor
	threadID string
	ro       runOptions
	em       *emitter
	// persistCtx outlives cancellation so boundary checkpoints are written.
	persistCtx context.Context

	cur      *Checkpoint
	state    State
	frontier []string
}

// run executes supersteps until the thread completes, pauses or fails.
// On failure the returned Result describes the FAILED checkpoint when one
// was written.
func (e *Executor) run(ctx context.Context, threadID string, input State, ro runOptions, em *emitter) (*Result, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameExecuteGraph)
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyThreadID, threadID))

	latest, err := e.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{Op: "latest", ThreadID: threadID, Err: err}
	}
	if latest == nil {
		latest = NewThreadCheckpoint(threadID)
	}
	latest, err = e.restore(latest)
	if err != nil {
		return nil, err
	}
	if latest.Status == StatusCompleted {
		log.Debugf("graph: thread %s already completed at step %d", threadID, latest.Step)
		return resultFrom(latest, false), nil
	}

	s := &stepper{
		e:          e,
		threadID:   threadID,
		ro:         ro,
		em:         em,
		persistCtx: context.WithoutCancel(ctx),
		cur:        latest,
	}
	skipPauseBefore := false
	if latest.IsNew() {
		s.state = e.graph.schema.Initial()
		s.frontier = []string{e.graph.entryPoint}
	} else {
		s.state = latest.State
		s.frontier = latest.Frontier
		skipPauseBefore = latest.Status == StatusPaused && len(latest.PausedBefore) > 0
		if len(s.frontier) == 0 {
			s.frontier = []string{End}
		}
	}
	if len(input) > 0 {
		s.state, err = e.graph.schema.Apply(s.state, input, "")
		if err != nil {
			return nil, err
		}
	}

	res, err := s.loop(ctx, skipPauseBefore)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(itelemetry.KeyErrorType, errorType(err)))
	} else {
		span.SetAttributes(attribute.String(itelemetry.KeyStatus, string(res.Status)))
	}
	return res, err
}

func (s *stepper) loop(ctx context.Context, skipPauseBefore bool) (*Result, error) {
	ins := s.ro.interrupts
	for {
		if isEndOnly(s.frontier) {
			ckpt, err := s.persist(StatusCompleted, s.state, nil)
			if err != nil {
				return nil, err
			}
			log.Infof("graph: thread %s completed at step %d", s.threadID, ckpt.Step)
			return resultFrom(ckpt, false), nil
		}
		if ctx.Err() != nil {
			return s.pauseCancelled()
		}
		if s.cur.Supersteps >= s.ro.recursionLimit {
			return s.fail(&RecursionLimitError{ThreadID: s.threadID, Limit: s.ro.recursionLimit}, time.Now())
		}
		if !skipPauseBefore {
			if hits := ins.PauseBefore(s.frontier); len(hits) > 0 {
				ckpt := s.cur.Next(s.state, StatusPaused, s.frontier)
				ckpt.PausedBefore = hits
				if err := s.write(ckpt, nil, nil, time.Now()); err != nil {
					return nil, err
				}
				log.Infof("graph: thread %s paused before %v at step %d", s.threadID, hits, ckpt.Step)
				return resultFrom(ckpt, false), nil
			}
		}
		skipPauseBefore = false

		started := time.Now()
		res, done, err := s.superstep(ctx, started)
		if done {
			return res, err
		}
	}
}

// superstep runs the frontier once. done is false when the loop should
// continue with the next frontier.
func (s *stepper) superstep(ctx context.Context, started time.Time) (*Result, bool, error) {
	step := s.cur.Step + 1
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameSuperstep)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyThreadID, s.threadID),
		attribute.Int(itelemetry.KeyStep, step),
		attribute.String(itelemetry.KeyFrontier, strings.Join(s.frontier, ",")),
	)
	log.Debugf("graph: thread %s step %d running %v", s.threadID, step, s.frontier)

	outcomes := s.e.runFrontier(ctx, s.threadID, step, s.frontier, s.state, s.em)
	if cancelledOnly(ctx, outcomes) {
		res, err := s.pauseCancelled()
		return res, true, err
	}
	if failed := firstFailure(outcomes); failed != nil {
		res, err := s.fail(failed.err, started)
		return res, true, err
	}

	merged := s.state
	updates := make(map[string]map[string]any, len(outcomes))
	for _, o := range outcomes {
		var err error
		merged, err = s.e.graph.schema.Apply(merged, o.update, o.node)
		if err != nil {
			res, ferr := s.fail(&NodeExecutionError{Node: o.node, ThreadID: s.threadID, Step: step, Err: err}, started)
			return res, true, ferr
		}
		updates[o.node] = map[string]any(o.update.Clone())
	}

	next, err := s.e.route(ctx, s.frontier, merged)
	if err != nil {
		var nodeErr *NodeExecutionError
		if errors.As(err, &nodeErr) {
			nodeErr.ThreadID, nodeErr.Step = s.threadID, step
		}
		res, ferr := s.fail(err, started)
		return res, true, ferr
	}

	status := StatusRunning
	pausedAfter := s.ro.interrupts.PauseAfter(s.frontier)
	switch {
	case len(pausedAfter) > 0:
		status = StatusPaused
	case isEndOnly(next):
		status = StatusCompleted
		next = nil
	}
	ckpt := s.cur.Next(merged, status, next)
	ckpt.Supersteps = s.cur.Supersteps + 1
	ckpt.PausedAfter = pausedAfter
	if err := s.write(ckpt, s.frontier, updates, started); err != nil {
		return nil, true, err
	}
	span.SetAttributes(attribute.String(itelemetry.KeyStatus, string(status)))

	ran := s.frontier
	s.cur, s.state, s.frontier = ckpt, merged, next
	switch status {
	case StatusPaused:
		log.Infof("graph: thread %s paused after %v at step %d", s.threadID, pausedAfter, ckpt.Step)
		return resultFrom(ckpt, false), true, nil
	case StatusCompleted:
		log.Infof("graph: thread %s completed at step %d after running %v", s.threadID, ckpt.Step, ran)
		return resultFrom(ckpt, false), true, nil
	default:
		return nil, false, nil
	}
}

// persist writes a checkpoint that follows the current one.
func (s *stepper) persist(status Status, state State, frontier []string) (*Checkpoint, error) {
	ckpt := s.cur.Next(state, status, frontier)
	if err := s.write(ckpt, nil, nil, time.Now()); err != nil {
		return nil, err
	}
	return ckpt, nil
}

// write persists ckpt and reports it. ran lists the nodes whose updates
// the checkpoint contains.
func (s *stepper) write(ckpt *Checkpoint, ran []string, updates map[string]map[string]any, started time.Time) error {
	if err := s.e.saver.Put(s.persistCtx, ckpt); err != nil {
		return &CheckpointError{Op: "put", ThreadID: s.threadID, Step: ckpt.Step, Err: err}
	}
	s.e.observer.OnSuperstep(s.threadID, ckpt.Step, ran, ckpt.Status, time.Since(started))
	s.em.emit(event.New(s.threadID, AuthorGraphExecutor, event.ObjectTypeSuperstep,
		event.WithStep(ckpt.Step),
		event.WithNodes(slices.Clone(ran)),
		event.WithUpdates(updates),
		event.WithNext(slices.Clone(ckpt.Frontier)),
		event.WithStatus(string(ckpt.Status)),
	))
	return nil
}

// fail persists FAILED with the state as of the start of the superstep and
// the same frontier, so a resume re-runs it.
func (s *stepper) fail(cause error, started time.Time) (*Result, error) {
	ckpt := s.cur.Next(s.state, StatusFailed, s.frontier)
	ckpt.Supersteps = s.cur.Supersteps
	ckpt.Error = cause.Error()
	if err := s.write(ckpt, nil, nil, started); err != nil {
		return nil, errors.Join(cause, err)
	}
	log.Errorf("graph: thread %s failed at step %d: %v", s.threadID, ckpt.Step, cause)
	return resultFrom(ckpt, false), cause
}

func (s *stepper) pauseCancelled() (*Result, error) {
	ckpt, err := s.persist(StatusPaused, s.state, s.frontier)
	if err != nil {
		return nil, err
	}
	log.Infof("graph: thread %s cancelled, paused at step %d", s.threadID, ckpt.Step)
	return resultFrom(ckpt, true), nil
}

// route computes the next frontier from the nodes that ran. Routers see
// the merged state. The result follows node registration order; End is
// kept only when no other node is scheduled.
func (e *Executor) route(ctx context.Context, ran []string, state State) ([]string, error) {
	targets := make(map[string]bool)
	for _, id := range ran {
		edges := e.graph.edges[id]
		for _, edge := range edges {
			targets[edge.To] = true
		}
		ce, hasRouter := e.graph.conditionalEdges[id]
		if !hasRouter {
			if len(edges) == 0 {
				targets[End] = true
			}
			continue
		}
		key, err := ce.Router(ctx, state.Clone())
		if err != nil {
			return nil, &NodeExecutionError{Node: id, Err: fmt.Errorf("router: %w", err)}
		}
		to, ok := ce.PathMap[key]
		if !ok {
			return nil, &GraphConfigError{
				Node:   id,
				Reason: fmt.Sprintf("router returned key %q which is not in the path map", key),
			}
		}
		targets[to] = true
	}
	var next []string
	for _, id := range e.graph.nodeOrder {
		if targets[id] {
			next = append(next, id)
		}
	}
	if len(next) == 0 && targets[End] {
		next = []string{End}
	}
	return next, nil
}

func isEndOnly(frontier []string) bool {
	return len(frontier) == 1 && frontier[0] == End
}
