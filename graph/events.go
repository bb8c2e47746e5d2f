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
	"sync"
	"sync/atomic"
	"time"

	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/log"
)

// AuthorGraphExecutor is the author of events produced by the executor.
const AuthorGraphExecutor = "graph-executor"

// emitter delivers the events of one run. Delivery is at most once: a send
// that cannot complete within sendTimeout drops the event.
type emitter struct {
	threadID    string
	ch          chan *event.Event
	sendTimeout time.Duration
	observer    Observer

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func newEmitter(threadID string, buffer int, sendTimeout time.Duration, observer Observer) *emitter {
	return &emitter{
		threadID:    threadID,
		ch:          make(chan *event.Event, buffer),
		sendTimeout: sendTimeout,
		observer:    observer,
	}
}

// emit reports whether the event was delivered.
func (em *emitter) emit(e *event.Event) bool {
	if em == nil || e == nil {
		return false
	}
	em.mu.RLock()
	defer em.mu.RUnlock()
	if em.closed {
		return false
	}
	select {
	case em.ch <- e:
		return true
	default:
	}
	if em.sendTimeout > 0 {
		timer := time.NewTimer(em.sendTimeout)
		defer timer.Stop()
		select {
		case em.ch <- e:
			return true
		case <-timer.C:
		}
	}
	n := em.dropped.Add(1)
	log.Warnf("graph: dropped %s event for thread %s (step %d, %d dropped so far)",
		e.Object, em.threadID, e.Step, n)
	if em.observer != nil {
		em.observer.OnEventDropped(em.threadID, e.Object)
	}
	return false
}

func (em *emitter) close() {
	if em == nil {
		return
	}
	em.mu.Lock()
	defer em.mu.Unlock()
	if !em.closed {
		em.closed = true
		close(em.ch)
	}
}

type sinkKey struct{}

type nodeSink struct {
	em   *emitter
	node string
	step int
}

func withSink(ctx context.Context, em *emitter, node string, step int) context.Context {
	if em == nil {
		return ctx
	}
	return context.WithValue(ctx, sinkKey{}, &nodeSink{em: em, node: node, step: step})
}

// EmitFragment publishes a sub-node progress value, such as a streamed
// token, to the event stream of the run that invoked the node. It reports
// false when the run is not streamed or the event was dropped.
func EmitFragment(ctx context.Context, fragment any) bool {
	sink, ok := ctx.Value(sinkKey{}).(*nodeSink)
	if !ok {
		return false
	}
	return sink.em.emit(event.New(sink.em.threadID, sink.node, event.ObjectTypeFragment,
		event.WithStep(sink.step),
		event.WithFragment(fragment),
	))
}
