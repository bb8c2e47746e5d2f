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
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/log"
)

// Executor defaults.
const (
	DefaultRecursionLimit   = 25
	DefaultEventBufferSize  = 256
	DefaultEventSendTimeout = 100 * time.Millisecond
)

// Executor runs a compiled graph for any number of threads. Supersteps of
// one thread are strictly sequential; distinct threads run independently.
type Executor struct {
	graph    *Graph
	saver    CheckpointSaver
	pool     *ants.Pool
	opts     ExecutorOptions
	observer Observer

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// CheckpointSaver persists thread history. Required.
	CheckpointSaver CheckpointSaver
	// RecursionLimit bounds the supersteps of a thread (default: 25).
	RecursionLimit int
	// NodeTimeout bounds one node attempt. Zero disables it.
	NodeTimeout time.Duration
	// MaxConcurrency is the worker pool size shared by all threads
	// (default: 4 * GOMAXPROCS).
	MaxConcurrency int
	// EventBufferSize is the buffer of stream channels (default: 256).
	EventBufferSize int
	// EventSendTimeout is how long a stream send may block before the
	// event is dropped (default: 100ms).
	EventSendTimeout time.Duration
	// Interrupts are the default pause points of every run.
	Interrupts Interrupts
	// RetryPolicy applies to nodes without their own policy.
	RetryPolicy *RetryPolicy
	// Callbacks run around every node invocation.
	Callbacks *NodeCallbacks
	// Observers receive execution measurements.
	Observers []Observer
}

// WithCheckpointSaver sets the checkpoint saver.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.CheckpointSaver = saver
	}
}

// WithRecursionLimit sets the maximum number of supersteps per thread.
func WithRecursionLimit(limit int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.RecursionLimit = limit
	}
}

// WithNodeTimeout sets the default timeout of a node attempt.
func WithNodeTimeout(timeout time.Duration) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.NodeTimeout = timeout
	}
}

// WithMaxConcurrency sets the worker pool size.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MaxConcurrency = n
	}
}

// WithEventBufferSize sets the buffer size of stream channels.
func WithEventBufferSize(size int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.EventBufferSize = size
	}
}

// WithEventSendTimeout sets how long a stream send may block.
func WithEventSendTimeout(timeout time.Duration) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.EventSendTimeout = timeout
	}
}

// WithInterruptBefore adds default pause-before nodes.
func WithInterruptBefore(nodes ...string) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.Interrupts.Before = append(opts.Interrupts.Before, nodes...)
	}
}

// WithInterruptAfter adds default pause-after nodes.
func WithInterruptAfter(nodes ...string) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.Interrupts.After = append(opts.Interrupts.After, nodes...)
	}
}

// WithDefaultRetryPolicy sets the retry policy of nodes without their own.
func WithDefaultRetryPolicy(policy RetryPolicy) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.RetryPolicy = &policy
	}
}

// WithCallbacks sets callbacks that run around every node.
func WithCallbacks(callbacks *NodeCallbacks) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.Callbacks = callbacks
	}
}

// WithObserver adds an execution observer.
func WithObserver(observer Observer) ExecutorOption {
	return func(opts *ExecutorOptions) {
		if observer != nil {
			opts.Observers = append(opts.Observers, observer)
		}
	}
}

// NewExecutor creates a new graph executor.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, errors.New("graph is nil")
	}
	if err := graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	options := ExecutorOptions{
		RecursionLimit:   DefaultRecursionLimit,
		MaxConcurrency:   4 * runtime.GOMAXPROCS(0),
		EventBufferSize:  DefaultEventBufferSize,
		EventSendTimeout: DefaultEventSendTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.CheckpointSaver == nil {
		return nil, errors.New("checkpoint saver is required")
	}
	if options.RecursionLimit <= 0 {
		return nil, fmt.Errorf("recursion limit must be positive, got %d", options.RecursionLimit)
	}
	if options.MaxConcurrency <= 0 {
		options.MaxConcurrency = 4 * runtime.GOMAXPROCS(0)
	}
	if options.EventBufferSize < 0 {
		options.EventBufferSize = 0
	}
	pool, err := ants.NewPool(options.MaxConcurrency,
		ants.WithNonblocking(true),
		ants.WithLogger(poolLogger{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create node worker pool: %w", err)
	}
	observers := multiObserver{newOtelObserver()}
	observers = append(observers, options.Observers...)
	return &Executor{
		graph:    graph,
		saver:    options.CheckpointSaver,
		pool:     pool,
		opts:     options,
		observer: observers,
		running:  make(map[string]context.CancelFunc),
	}, nil
}

// poolLogger routes worker pool diagnostics to the package logger.
type poolLogger struct{}

func (poolLogger) Printf(format string, args ...any) {
	log.Warnf("graph worker pool: "+format, args...)
}

// Graph returns the graph run by the executor.
func (e *Executor) Graph() *Graph { return e.graph }

// RunOption configures one run.
type RunOption func(*runOptions)

type runOptions struct {
	interrupts     *Interrupts
	recursionLimit int
}

// WithRunInterrupts replaces the executor interrupts for one run.
func WithRunInterrupts(interrupts Interrupts) RunOption {
	return func(o *runOptions) {
		o.interrupts = &interrupts
	}
}

// WithRunRecursionLimit replaces the executor recursion limit for one run.
func WithRunRecursionLimit(limit int) RunOption {
	return func(o *runOptions) {
		o.recursionLimit = limit
	}
}

// Result is the outcome of a run that did not fail.
type Result struct {
	ThreadID string
	State    State
	Status   Status
	// Step is the step of the last persisted checkpoint.
	Step       int
	Supersteps int
	// Next is the frontier a resume would run.
	Next         []string
	PausedBefore []string
	PausedAfter  []string
	// Cancelled is set when the run paused because it was cancelled.
	Cancelled bool
}

func resultFrom(ckpt *Checkpoint, cancelled bool) *Result {
	c := ckpt.Copy()
	return &Result{
		ThreadID:     c.ThreadID,
		State:        c.State,
		Status:       c.Status,
		Step:         c.Step,
		Supersteps:   c.Supersteps,
		Next:         c.Frontier,
		PausedBefore: c.PausedBefore,
		PausedAfter:  c.PausedAfter,
		Cancelled:    cancelled,
	}
}

// Invoke runs a thread until it completes, pauses or fails. A thread with
// history is resumed: input is merged into its state through the channel
// reducers. Invoking a completed thread returns its final state.
func (e *Executor) Invoke(ctx context.Context, threadID string, input State, opts ...RunOption) (*Result, error) {
	runCtx, release, err := e.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.run(runCtx, threadID, input, e.runOptions(opts), nil)
}

// Stream runs a thread like Invoke and returns its events. The channel
// receives one event per persisted superstep plus node fragments, then a
// final done or error event, and is closed when the run ends. A consumer
// that falls behind loses events but never stalls the run.
func (e *Executor) Stream(ctx context.Context, threadID string, input State, opts ...RunOption) (<-chan *event.Event, error) {
	runCtx, release, err := e.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	em := newEmitter(threadID, e.opts.EventBufferSize, e.opts.EventSendTimeout, e.observer)
	ro := e.runOptions(opts)
	go func() {
		defer em.close()
		defer release()
		res, err := e.run(runCtx, threadID, input, ro, em)
		if err != nil {
			var nodeErr *NodeExecutionError
			var node string
			if errors.As(err, &nodeErr) {
				node = nodeErr.Node
			}
			em.emit(event.NewErrorEvent(threadID, AuthorGraphExecutor, errorType(err), err.Error(),
				event.WithErrorNode(node), event.WithStep(stepOf(res))))
			return
		}
		em.emit(event.New(threadID, AuthorGraphExecutor, event.ObjectTypeDone,
			event.WithStep(res.Step),
			event.WithStatus(string(res.Status)),
			event.WithNext(res.Next),
		))
	}()
	return em.ch, nil
}

func stepOf(res *Result) int {
	if res == nil {
		return 0
	}
	return res.Step
}

// Cancel asks the running thread to stop at its next superstep boundary.
// Nodes already running are not interrupted; they see their context
// cancelled and may return early. The thread is left PAUSED. Cancel
// reports whether the thread was running.
func (e *Executor) Cancel(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.running[threadID]
	if ok {
		cancel()
	}
	return ok
}

// State returns the latest checkpoint of a thread.
func (e *Executor) State(ctx context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}
	ckpt, err := e.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{Op: "latest", ThreadID: threadID, Err: err}
	}
	if ckpt == nil {
		return nil, fmt.Errorf("%w: thread %s", ErrCheckpointNotFound, threadID)
	}
	return e.restore(ckpt)
}

// History returns the checkpoints of a thread in step order.
func (e *Executor) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}
	history, err := e.saver.History(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{Op: "history", ThreadID: threadID, Err: err}
	}
	out := make([]*Checkpoint, 0, len(history))
	for _, ckpt := range history {
		restored, err := e.restore(ckpt)
		if err != nil {
			return nil, err
		}
		out = append(out, restored)
	}
	return out, nil
}

// Close rejects new runs and releases the worker pool. Runs in flight
// should be finished or cancelled first.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.pool.Release()
}

func (e *Executor) runOptions(opts []RunOption) runOptions {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.interrupts == nil {
		ro.interrupts = &e.opts.Interrupts
	}
	if ro.recursionLimit <= 0 {
		ro.recursionLimit = e.opts.RecursionLimit
	}
	return ro
}

// acquire registers a run of threadID and returns its cancellable context.
func (e *Executor) acquire(ctx context.Context, threadID string) (context.Context, func(), error) {
	if threadID == "" {
		return nil, nil, ErrEmptyThreadID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrExecutorClosed
	}
	if _, busy := e.running[threadID]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running[threadID] = cancel
	release := func() {
		e.mu.Lock()
		delete(e.running, threadID)
		e.mu.Unlock()
		cancel()
	}
	return runCtx, release, nil
}

// restore converts a stored checkpoint state back to channel types.
func (e *Executor) restore(ckpt *Checkpoint) (*Checkpoint, error) {
	state, err := e.graph.schema.Coerce(ckpt.State)
	if err != nil {
		return nil, &CheckpointError{Op: "decode", ThreadID: ckpt.ThreadID, Step: ckpt.Step, Err: err}
	}
	out := ckpt.Copy()
	out.State = state
	return out, nil
}
