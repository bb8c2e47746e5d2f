//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a stateful, cyclic graph executor. Nodes run in
// supersteps over a reducer merged State, every superstep is checkpointed,
// and a thread can be paused and resumed from its last checkpoint.
package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"
)

// Special node identifiers for graph routing.
const (
	// Start is reserved and cannot be used as a node ID.
	Start = "__start__"
	// End is the terminal sentinel.
	End = "__end__"
)

// Runnable is the single capability of a node: read the state, return a
// partial update. The state passed in must be treated as read only.
type Runnable interface {
	Run(ctx context.Context, state State) (State, error)
}

// NodeFunc adapts a function to Runnable.
type NodeFunc func(ctx context.Context, state State) (State, error)

// Run calls f(ctx, state).
func (f NodeFunc) Run(ctx context.Context, state State) (State, error) {
	return f(ctx, state)
}

// RouterFunc picks a destination key from the merged state.
type RouterFunc func(ctx context.Context, state State) (string, error)

// Node represents a node in the graph.
type Node struct {
	ID          string
	Name        string
	Description string
	Runnable    Runnable
	// Timeout overrides the executor node timeout when positive.
	Timeout time.Duration
	// RetryPolicy overrides the executor default retry policy.
	RetryPolicy *RetryPolicy
	// Callbacks run around every invocation of this node.
	Callbacks *NodeCallbacks

	order int
}

// Order is the registration index of the node. Updates from one superstep
// are merged in this order.
func (n *Node) Order() int { return n.order }

// Edge is an unconditional edge.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes through Router and PathMap.
type ConditionalEdge struct {
	From    string
	Router  RouterFunc
	PathMap map[string]string
}

// Graph is the compiled, immutable graph created by StateGraph.Compile.
// It is safe for concurrent use by any number of threads.
type Graph struct {
	schema           *Schema
	nodes            map[string]*Node
	nodeOrder        []string
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
}

func newGraph(schema *Schema) *Graph {
	if schema == nil {
		schema = NewSchema()
	}
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]*Node),
		edges:            make(map[string][]*Edge),
		conditionalEdges: make(map[string]*ConditionalEdge),
	}
}

// clone returns a deep copy of the graph structure. Runnables, routers and
// reducers are shared; they are functions.
func (g *Graph) clone() *Graph {
	out := &Graph{
		schema:           g.schema.clone(),
		nodes:            make(map[string]*Node, len(g.nodes)),
		nodeOrder:        slices.Clone(g.nodeOrder),
		edges:            make(map[string][]*Edge, len(g.edges)),
		conditionalEdges: make(map[string]*ConditionalEdge, len(g.conditionalEdges)),
		entryPoint:       g.entryPoint,
	}
	for id, n := range g.nodes {
		cp := *n
		if n.RetryPolicy != nil {
			policy := *n.RetryPolicy
			policy.RetryOn = slices.Clone(n.RetryPolicy.RetryOn)
			cp.RetryPolicy = &policy
		}
		out.nodes[id] = &cp
	}
	for from, edges := range g.edges {
		cp := make([]*Edge, len(edges))
		for i, e := range edges {
			edge := *e
			cp[i] = &edge
		}
		out.edges[from] = cp
	}
	for from, ce := range g.conditionalEdges {
		out.conditionalEdges[from] = &ConditionalEdge{
			From:    ce.From,
			Router:  ce.Router,
			PathMap: maps.Clone(ce.PathMap),
		}
	}
	return out
}

// Schema returns the channel registry.
func (g *Graph) Schema() *Schema { return g.schema }

// EntryPoint returns the entry node ID.
func (g *Graph) EntryPoint() string { return g.entryPoint }

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in registration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the unconditional edges leaving a node.
func (g *Graph) Edges(from string) []*Edge {
	return slices.Clone(g.edges[from])
}

// ConditionalEdge returns the router attached to a node.
func (g *Graph) ConditionalEdge(from string) (*ConditionalEdge, bool) {
	ce, ok := g.conditionalEdges[from]
	return ce, ok
}

// successors returns every node a node can route to, including End.
func (g *Graph) successors(id string) []string {
	var out []string
	for _, e := range g.edges[id] {
		out = append(out, e.To)
	}
	if ce, ok := g.conditionalEdges[id]; ok {
		for _, key := range sortedKeys(ce.PathMap) {
			out = append(out, ce.PathMap[key])
		}
	}
	if len(out) == 0 {
		out = append(out, End)
	}
	return out
}

// validate checks the graph structure.
func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return &GraphConfigError{Reason: "entry point is not set"}
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return &GraphConfigError{Node: g.entryPoint, Reason: "entry point is not a registered node"}
	}
	for _, from := range sortedKeys(g.edges) {
		if _, ok := g.nodes[from]; !ok {
			return &GraphConfigError{Node: from, Reason: "edge source is not a registered node"}
		}
		for _, e := range g.edges[from] {
			if e.To == End {
				continue
			}
			if _, ok := g.nodes[e.To]; !ok {
				return &GraphConfigError{
					Node:   from,
					Reason: fmt.Sprintf("edge target %s is not a registered node", e.To),
				}
			}
		}
	}
	for _, from := range sortedKeys(g.conditionalEdges) {
		ce := g.conditionalEdges[from]
		if _, ok := g.nodes[from]; !ok {
			return &GraphConfigError{Node: from, Reason: "conditional edge source is not a registered node"}
		}
		for _, key := range sortedKeys(ce.PathMap) {
			to := ce.PathMap[key]
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return &GraphConfigError{
					Node:   from,
					Reason: fmt.Sprintf("path %q maps to %s which is neither a registered node nor End", key, to),
				}
			}
		}
	}
	reachable := g.reachableFrom(g.entryPoint)
	for _, id := range g.nodeOrder {
		if !reachable[id] {
			return &GraphConfigError{Node: id, Reason: "node is unreachable from the entry point"}
		}
	}
	return nil
}

// reachableFrom walks the graph depth first without recursion.
func (g *Graph) reachableFrom(start string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.successors(id) {
			if next == End || seen[next] {
				continue
			}
			seen[next] = true
			stack = append(stack, next)
		}
	}
	return seen
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
