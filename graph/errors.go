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
	"errors"
	"fmt"
)

// Errors.
var (
	ErrEmptyThreadID      = errors.New("thread_id cannot be empty")
	ErrThreadBusy         = errors.New("thread is already running")
	ErrStepConflict       = errors.New("checkpoint step must be greater than the latest step")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrExecutorClosed     = errors.New("executor is closed")
	ErrChannelType        = errors.New("channel value has wrong type")
)

// Error types reported on error events and span attributes.
const (
	ErrorTypeGraphConfig    = "graph_config_error"
	ErrorTypeUnknownChannel = "unknown_channel_error"
	ErrorTypeNodeExecution  = "node_execution_error"
	ErrorTypeTimeout        = "timeout_error"
	ErrorTypeRecursionLimit = "recursion_limit_error"
	ErrorTypeCheckpoint     = "checkpoint_error"
	ErrorTypeGraphExecution = "graph_execution_error"
)

// GraphConfigError reports a graph that cannot run as declared. It is
// returned by Compile and by a router that picks a key missing from its
// path map.
type GraphConfigError struct {
	Node   string
	Reason string
	// Errs holds every builder mistake when Compile reports several.
	Errs []error
}

func (e *GraphConfigError) Error() string {
	msg := "graph config"
	if e.Node != "" {
		msg += " (node " + e.Node + ")"
	}
	msg += ": " + e.Reason
	if len(e.Errs) > 0 {
		msg += ": " + errors.Join(e.Errs...).Error()
	}
	return msg
}

// Unwrap returns the collected builder errors.
func (e *GraphConfigError) Unwrap() []error { return e.Errs }

// UnknownChannelError reports a write to a channel the schema does not declare.
type UnknownChannelError struct {
	Node    string
	Channel string
}

func (e *UnknownChannelError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("unknown channel %q", e.Channel)
	}
	return fmt.Sprintf("node %s wrote unknown channel %q", e.Node, e.Channel)
}

// NodeExecutionError wraps the failure of one node.
type NodeExecutionError struct {
	Node     string
	ThreadID string
	Step     int
	// Timeout is set when the node did not return within its timeout.
	Timeout bool
	Err     error
}

func (e *NodeExecutionError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("node %s %s (thread %s, step %d): %v", e.Node, kind, e.ThreadID, e.Step, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// RecursionLimitError reports a thread that exhausted its superstep budget.
type RecursionLimitError struct {
	ThreadID string
	Limit    int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("thread %s exceeded recursion limit of %d supersteps", e.ThreadID, e.Limit)
}

// CheckpointError wraps a persistence failure. The run stops and the last
// persisted checkpoint stays authoritative.
type CheckpointError struct {
	Op       string
	ThreadID string
	Step     int
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s (thread %s, step %d): %v", e.Op, e.ThreadID, e.Step, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// errorType classifies err for events and spans.
func errorType(err error) string {
	var (
		cfgErr  *GraphConfigError
		chErr   *UnknownChannelError
		nodeErr *NodeExecutionError
		recErr  *RecursionLimitError
		ckErr   *CheckpointError
	)
	switch {
	case errors.As(err, &ckErr):
		return ErrorTypeCheckpoint
	case errors.As(err, &recErr):
		return ErrorTypeRecursionLimit
	case errors.As(err, &cfgErr):
		return ErrorTypeGraphConfig
	case errors.As(err, &chErr):
		return ErrorTypeUnknownChannel
	case errors.As(err, &nodeErr):
		if nodeErr.Timeout {
			return ErrorTypeTimeout
		}
		return ErrorTypeNodeExecution
	default:
		return ErrorTypeGraphExecution
	}
}
