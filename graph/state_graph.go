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
	"slices"
	"time"
)

// StateGraph provides a fluent interface for building graphs.
//
// Example usage:
//
//	schema := NewSchema().AddChannel("count", Channel{Type: reflect.TypeOf(0)})
//	g, err := NewStateGraph(schema).
//	  AddNode("increment", increment).
//	  AddConditionalEdges("increment", loopUntilThree, map[string]string{
//	    "again": "increment",
//	    "done":  End,
//	  }).
//	  SetEntryPoint("increment").
//	  Compile()
//
// Builder mistakes are collected and reported together by Compile.
type StateGraph struct {
	graph *Graph
	errs  []error
}

// NewStateGraph creates a new graph builder with the given schema.
func NewStateGraph(schema *Schema) *StateGraph {
	return &StateGraph{graph: newGraph(schema)}
}

// Option is a function that configures a Node.
type Option func(*Node)

// WithName sets the name of the node.
func WithName(name string) Option {
	return func(node *Node) {
		node.Name = name
	}
}

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(node *Node) {
		node.Description = description
	}
}

// WithTimeout sets a timeout for this node only. It overrides the
// executor's WithNodeTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(node *Node) {
		node.Timeout = timeout
	}
}

// WithRetryPolicy sets the retry policy for this node only.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(node *Node) {
		node.RetryPolicy = &policy
	}
}

// WithNodeCallbacks attaches callbacks to this node.
func WithNodeCallbacks(callbacks *NodeCallbacks) Option {
	return func(node *Node) {
		node.Callbacks = callbacks
	}
}

// AddNode adds a node backed by a function.
func (sg *StateGraph) AddNode(id string, fn NodeFunc, opts ...Option) *StateGraph {
	if fn == nil {
		sg.errs = append(sg.errs, fmt.Errorf("node %s: function is nil", id))
		return sg
	}
	return sg.AddRunnable(id, fn, opts...)
}

// AddRunnable adds a node backed by any Runnable.
func (sg *StateGraph) AddRunnable(id string, r Runnable, opts ...Option) *StateGraph {
	switch {
	case id == "":
		sg.errs = append(sg.errs, errors.New("node id cannot be empty"))
		return sg
	case id == Start || id == End:
		sg.errs = append(sg.errs, fmt.Errorf("node id %s is reserved", id))
		return sg
	case r == nil:
		sg.errs = append(sg.errs, fmt.Errorf("node %s: runnable is nil", id))
		return sg
	}
	if _, exists := sg.graph.nodes[id]; exists {
		sg.errs = append(sg.errs, fmt.Errorf("node %s already exists", id))
		return sg
	}
	node := &Node{
		ID:       id,
		Name:     id,
		Runnable: r,
		order:    len(sg.graph.nodeOrder),
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.graph.nodes[id] = node
	sg.graph.nodeOrder = append(sg.graph.nodeOrder, id)
	return sg
}

// AddEdge adds an unconditional edge. to may be End.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if from == End {
		sg.errs = append(sg.errs, errors.New("edge cannot start at End"))
		return sg
	}
	for _, e := range sg.graph.edges[from] {
		if e.To == to {
			return sg
		}
	}
	sg.graph.edges[from] = append(sg.graph.edges[from], &Edge{From: from, To: to})
	return sg
}

// AddConditionalEdges routes from a node through router. Every key the
// router can return must appear in pathMap; values are node IDs or End.
func (sg *StateGraph) AddConditionalEdges(
	from string,
	router RouterFunc,
	pathMap map[string]string,
) *StateGraph {
	switch {
	case router == nil:
		sg.errs = append(sg.errs, fmt.Errorf("conditional edge from %s: router is nil", from))
		return sg
	case len(pathMap) == 0:
		sg.errs = append(sg.errs, fmt.Errorf("conditional edge from %s: path map is empty", from))
		return sg
	}
	if _, exists := sg.graph.conditionalEdges[from]; exists {
		sg.errs = append(sg.errs, fmt.Errorf("node %s already has a conditional edge", from))
		return sg
	}
	paths := make(map[string]string, len(pathMap))
	for k, v := range pathMap {
		paths[k] = v
	}
	sg.graph.conditionalEdges[from] = &ConditionalEdge{
		From:    from,
		Router:  router,
		PathMap: paths,
	}
	return sg
}

// SetEntryPoint sets the node that runs in the first superstep.
func (sg *StateGraph) SetEntryPoint(id string) *StateGraph {
	sg.graph.entryPoint = id
	return sg
}

// SetFinishPoint adds an edge from id to End.
func (sg *StateGraph) SetFinishPoint(id string) *StateGraph {
	return sg.AddEdge(id, End)
}

// Compile validates the graph and returns a snapshot of it. Later calls
// on the builder do not affect graphs it already compiled.
func (sg *StateGraph) Compile() (*Graph, error) {
	if len(sg.errs) > 0 {
		return nil, &GraphConfigError{Reason: "invalid graph definition", Errs: slices.Clone(sg.errs)}
	}
	if err := sg.graph.validate(); err != nil {
		return nil, err
	}
	return sg.graph.clone(), nil
}

// MustCompile compiles the graph or panics.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}
