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
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	itelemetry "trpc.group/trpc-go/trpc-graph-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-graph-go/log"
	"trpc.group/trpc-go/trpc-graph-go/telemetry/trace"
)

const submitRetryInterval = 5 * time.Millisecond

// nodeOutcome is the result of one node in a superstep.
type nodeOutcome struct {
	node   string
	update State
	err    error
}

// runFrontier runs every frontier node concurrently and returns their
// outcomes in registration order.
func (e *Executor) runFrontier(
	ctx context.Context,
	threadID string,
	step int,
	frontier []string,
	state State,
	em *emitter,
) []nodeOutcome {
	nodes := make([]*Node, 0, len(frontier))
	for _, id := range frontier {
		if n, ok := e.graph.nodes[id]; ok {
			nodes = append(nodes, n)
		}
	}
	sortByOrder(nodes)

	outcomes := make([]nodeOutcome, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			update, err := e.invokeNode(ctx, n, threadID, step, state.Clone(), em)
			outcomes[i] = nodeOutcome{node: n.ID, update: update, err: err}
		}()
	}
	wg.Wait()
	return outcomes
}

// invokeNode runs a node with its retry policy.
func (e *Executor) invokeNode(
	ctx context.Context,
	node *Node,
	threadID string,
	step int,
	view State,
	em *emitter,
) (State, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteNodeSpanName(node.ID))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyNodeID, node.ID),
		attribute.String(itelemetry.KeyNodeName, node.Name),
		attribute.String(itelemetry.KeyThreadID, threadID),
		attribute.Int(itelemetry.KeyStep, step),
	)

	policy := node.RetryPolicy
	if policy == nil {
		policy = e.opts.RetryPolicy
	}
	maxAttempts := 1
	if policy != nil {
		maxAttempts = policy.attempts()
	}

	for attempt := 1; ; attempt++ {
		started := time.Now()
		update, err := e.attemptNode(ctx, node, threadID, step, attempt, view, em)
		e.observer.OnNode(threadID, node.ID, time.Since(started), err)
		if err == nil {
			return update, nil
		}
		var nodeErr *NodeExecutionError
		timedOut := errors.As(err, &nodeErr) && nodeErr.Timeout
		if timedOut || attempt >= maxAttempts || !policy.ShouldRetry(err) {
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Int(itelemetry.KeyAttempts, attempt))
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, interrupted(ctx, node, threadID, step)
		}
		delay := policy.NextDelay(attempt)
		log.Warnf("graph: node %s attempt %d/%d failed, retrying in %s: %v",
			node.ID, attempt, maxAttempts, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, interrupted(ctx, node, threadID, step)
		}
	}
}

// interrupted reports a node that stopped because the run was cancelled
// or the caller's deadline passed.
func interrupted(ctx context.Context, node *Node, threadID string, step int) error {
	return &NodeExecutionError{Node: node.ID, ThreadID: threadID, Step: step, Err: ctx.Err()}
}

type attemptResult struct {
	update   State
	err      error
	timedOut bool
}

// attemptNode runs one attempt on the worker pool. The wait is bounded by
// the node timeout; a node that outlives it keeps its worker until it
// returns.
func (e *Executor) attemptNode(
	ctx context.Context,
	node *Node,
	threadID string,
	step int,
	attempt int,
	view State,
	em *emitter,
) (State, error) {
	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.opts.NodeTimeout
	}
	cbCtx := &NodeCallbackContext{
		NodeID:    node.ID,
		NodeName:  node.Name,
		ThreadID:  threadID,
		Step:      step,
		Attempt:   attempt,
		StartTime: time.Now(),
	}
	nodeErr := func(err error, timedOut bool) error {
		return &NodeExecutionError{Node: node.ID, ThreadID: threadID, Step: step, Timeout: timedOut, Err: err}
	}

	done := make(chan attemptResult, 1)
	task := func() {
		nodeCtx := withSink(ctx, em, node.ID, step)
		if timeout > 0 {
			var cancel context.CancelFunc
			nodeCtx, cancel = context.WithTimeout(nodeCtx, timeout)
			defer cancel()
		}
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		update, err := e.callNode(nodeCtx, node, cbCtx, view)
		done <- attemptResult{
			update:   update,
			err:      err,
			timedOut: err != nil && timeout > 0 && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
		}
	}
	// The wait for a free worker counts against the node timeout.
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	if err := e.submit(ctx, task, timer); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			err = nodeErr(fmt.Errorf("no free worker within %s: %w", timeout, err), true)
			e.runOnNodeError(ctx, node, cbCtx, view, err)
			return nil, err
		case ctx.Err() != nil:
			return nil, interrupted(ctx, node, threadID, step)
		default:
			return nil, nodeErr(fmt.Errorf("submit node task: %w", err), false)
		}
	}

	select {
	case r := <-done:
		if r.err != nil {
			err := nodeErr(r.err, r.timedOut)
			e.runOnNodeError(ctx, node, cbCtx, view, err)
			return nil, err
		}
		return r.update, nil
	case <-timer:
		err := nodeErr(fmt.Errorf("no result within %s: %w", timeout, context.DeadlineExceeded), true)
		e.runOnNodeError(ctx, node, cbCtx, view, err)
		return nil, err
	}
}

// submit hands task to the pool. The pool never blocks, so while every
// worker is busy, for example with nodes abandoned after a timeout, submit
// polls until a worker frees up, ctx is done or timer fires.
func (e *Executor) submit(ctx context.Context, task func(), timer <-chan time.Time) error {
	for {
		err := e.pool.Submit(task)
		if !errors.Is(err, ants.ErrPoolOverload) {
			return err
		}
		wait := time.NewTimer(submitRetryInterval)
		select {
		case <-wait.C:
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-timer:
			wait.Stop()
			return context.DeadlineExceeded
		}
	}
}

// callNode runs the callbacks and the node itself.
func (e *Executor) callNode(ctx context.Context, node *Node, cbCtx *NodeCallbackContext, view State) (State, error) {
	for _, cbs := range []*NodeCallbacks{e.opts.Callbacks, node.Callbacks} {
		update, err := cbs.RunBeforeNode(ctx, cbCtx, view)
		if err != nil {
			return nil, fmt.Errorf("before node callback: %w", err)
		}
		if update != nil {
			return update, nil
		}
	}
	update, err := node.Runnable.Run(ctx, view)
	for _, cbs := range []*NodeCallbacks{node.Callbacks, e.opts.Callbacks} {
		var cbErr error
		update, cbErr = cbs.RunAfterNode(ctx, cbCtx, view, update, err)
		if cbErr != nil {
			return nil, fmt.Errorf("after node callback: %w", cbErr)
		}
	}
	return update, err
}

func (e *Executor) runOnNodeError(ctx context.Context, node *Node, cbCtx *NodeCallbackContext, view State, err error) {
	e.opts.Callbacks.RunOnNodeError(ctx, cbCtx, view, err)
	node.Callbacks.RunOnNodeError(ctx, cbCtx, view, err)
}

func sortByOrder(nodes []*Node) {
	slices.SortFunc(nodes, func(a, b *Node) int { return a.order - b.order })
}

// firstFailure returns the failed outcome of the earliest registered node.
func firstFailure(outcomes []nodeOutcome) *nodeOutcome {
	for i := range outcomes {
		if outcomes[i].err != nil {
			return &outcomes[i]
		}
	}
	return nil
}

// cancelledOnly reports whether every failure was caused by the end of
// the run context, either a cancellation or the caller's deadline. Node
// timeouts do not count.
func cancelledOnly(ctx context.Context, outcomes []nodeOutcome) bool {
	cause := ctx.Err()
	if cause == nil {
		return false
	}
	failed := false
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		failed = true
		var nodeErr *NodeExecutionError
		if errors.As(o.err, &nodeErr) && nodeErr.Timeout {
			return false
		}
		if !errors.Is(o.err, context.Canceled) && !errors.Is(o.err, cause) {
			return false
		}
	}
	return failed
}
