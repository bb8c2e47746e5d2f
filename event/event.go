//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the progress events streamed out of a graph run.
package event

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Object types carried by Event.Object.
const (
	// ObjectTypeSuperstep marks the event emitted after a superstep is persisted.
	ObjectTypeSuperstep = "graph.superstep"
	// ObjectTypeFragment marks a sub-node fragment published by a node.
	ObjectTypeFragment = "graph.fragment"
	// ObjectTypeError marks the terminal event of a failed run.
	ObjectTypeError = "graph.error"
	// ObjectTypeDone marks the terminal event of a run that completed or paused.
	ObjectTypeDone = "graph.done"
)

// Error describes a failure carried by an error event.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Node    string `json:"node,omitempty"`
}

// Event is one observation of a graph run.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// ThreadID identifies the run the event belongs to.
	ThreadID string `json:"threadId"`

	// Author is the node that produced the event, or the executor itself.
	Author string `json:"author"`

	// Timestamp is the creation time of the event.
	Timestamp time.Time `json:"timestamp"`

	// Object is one of the ObjectType constants.
	Object string `json:"object"`

	// Step is the checkpoint step the event refers to.
	Step int `json:"step"`

	// Nodes lists the nodes that ran in the superstep.
	Nodes []string `json:"nodes,omitempty"`

	// Updates holds the partial update returned by each node, keyed by node ID.
	Updates map[string]map[string]any `json:"updates,omitempty"`

	// Next is the frontier of the following superstep.
	Next []string `json:"next,omitempty"`

	// Status is the thread status after the superstep.
	Status string `json:"status,omitempty"`

	// Fragment carries a node published value for fragment events.
	Fragment any `json:"fragment,omitempty"`

	// Error is set on error events.
	Error *Error `json:"error,omitempty"`
}

// New creates a new Event with generated ID and timestamp.
func New(threadID, author, object string, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Author:    author,
		Timestamp: time.Now(),
		Object:    object,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorEvent creates the terminal error event of a run.
func NewErrorEvent(threadID, author, errorType, message string, opts ...Option) *Event {
	e := New(threadID, author, ObjectTypeError, opts...)
	var node string
	if e.Error != nil {
		node = e.Error.Node
	}
	e.Error = &Error{Type: errorType, Message: message, Node: node}
	return e
}

// IsTerminal reports whether the event closes a run.
func (e *Event) IsTerminal() bool {
	return e != nil && (e.Object == ObjectTypeDone || e.Object == ObjectTypeError)
}

// Clone creates a copy of the event. Updates are copied one level deep.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Nodes != nil {
		clone.Nodes = append([]string(nil), e.Nodes...)
	}
	if e.Next != nil {
		clone.Next = append([]string(nil), e.Next...)
	}
	if e.Updates != nil {
		clone.Updates = make(map[string]map[string]any, len(e.Updates))
		for node, update := range e.Updates {
			clone.Updates[node] = maps.Clone(update)
		}
	}
	if e.Error != nil {
		errCopy := *e.Error
		clone.Error = &errCopy
	}
	return &clone
}
