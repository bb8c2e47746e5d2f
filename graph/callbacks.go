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
	"time"
)

// NodeCallbackContext describes the node invocation a callback runs for.
type NodeCallbackContext struct {
	NodeID    string
	NodeName  string
	ThreadID  string
	Step      int
	Attempt   int
	StartTime time.Time
}

// BeforeNodeCallback runs before a node.
// A non-nil update skips the node and is used as its result.
// A non-nil error fails the node.
type BeforeNodeCallback func(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	state State,
) (State, error)

// AfterNodeCallback runs after a node returned.
// A non-nil update replaces the node's result.
// A non-nil error fails the node.
type AfterNodeCallback func(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	state State,
	update State,
	nodeErr error,
) (State, error)

// OnNodeErrorCallback observes a node failure. It cannot change the error.
type OnNodeErrorCallback func(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	state State,
	err error,
)

// NodeCallbacks holds callbacks for node invocations.
type NodeCallbacks struct {
	BeforeNode  []BeforeNodeCallback
	AfterNode   []AfterNodeCallback
	OnNodeError []OnNodeErrorCallback
}

// NewNodeCallbacks creates a new NodeCallbacks instance.
func NewNodeCallbacks() *NodeCallbacks {
	return &NodeCallbacks{}
}

// RegisterBeforeNode registers a before node callback.
func (c *NodeCallbacks) RegisterBeforeNode(cb BeforeNodeCallback) *NodeCallbacks {
	c.BeforeNode = append(c.BeforeNode, cb)
	return c
}

// RegisterAfterNode registers an after node callback.
func (c *NodeCallbacks) RegisterAfterNode(cb AfterNodeCallback) *NodeCallbacks {
	c.AfterNode = append(c.AfterNode, cb)
	return c
}

// RegisterOnNodeError registers an on node error callback.
func (c *NodeCallbacks) RegisterOnNodeError(cb OnNodeErrorCallback) *NodeCallbacks {
	c.OnNodeError = append(c.OnNodeError, cb)
	return c
}

// RunBeforeNode runs before callbacks in order and stops at the first one
// that returns an update or an error.
func (c *NodeCallbacks) RunBeforeNode(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	state State,
) (State, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeNode {
		update, err := cb(ctx, callbackCtx, state)
		if err != nil {
			return nil, err
		}
		if update != nil {
			return update, nil
		}
	}
	return nil, nil
}

// RunAfterNode runs after callbacks in order. Each callback sees the update
// left by the previous one.
func (c *NodeCallbacks) RunAfterNode(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	state State,
	update State,
	nodeErr error,
) (State, error) {
	if c == nil {
		return update, nil
	}
	current := update
	for _, cb := range c.AfterNode {
		replaced, err := cb(ctx, callbackCtx, state, current, nodeErr)
		if err != nil {
			return nil, err
		}
		if replaced != nil {
			current = replaced
		}
	}
	return current, nil
}

// RunOnNodeError runs every error callback in order.
func (c *NodeCallbacks) RunOnNodeError(
	ctx context.Context,
	callbackCtx *NodeCallbackContext,
	state State,
	err error,
) {
	if c == nil {
		return
	}
	for _, cb := range c.OnNodeError {
		cb(ctx, callbackCtx, state, err)
	}
}
