//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

// Option is a function that can be used to configure the Event.
type Option func(*Event)

// WithStep sets the checkpoint step.
func WithStep(step int) Option {
	return func(e *Event) {
		e.Step = step
	}
}

// WithNodes sets the nodes that ran.
func WithNodes(nodes []string) Option {
	return func(e *Event) {
		e.Nodes = nodes
	}
}

// WithUpdates sets the per node partial updates.
func WithUpdates(updates map[string]map[string]any) Option {
	return func(e *Event) {
		e.Updates = updates
	}
}

// WithNext sets the next frontier.
func WithNext(next []string) Option {
	return func(e *Event) {
		e.Next = next
	}
}

// WithStatus sets the thread status.
func WithStatus(status string) Option {
	return func(e *Event) {
		e.Status = status
	}
}

// WithFragment sets the fragment payload.
func WithFragment(fragment any) Option {
	return func(e *Event) {
		e.Fragment = fragment
	}
}

// WithErrorNode records the failing node on an error event.
func WithErrorNode(node string) Option {
	return func(e *Event) {
		if e.Error == nil {
			e.Error = &Error{}
		}
		e.Error.Node = node
	}
}
