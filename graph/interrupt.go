//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "slices"

// Interrupts lists the nodes a run pauses at. It is plain configuration
// and is read again on every run of a thread.
type Interrupts struct {
	// Before pauses the run before a superstep that would run one of these nodes.
	Before []string
	// After pauses the run after a superstep that ran one of these nodes.
	After []string
}

// IsZero reports whether no pause point is configured.
func (i Interrupts) IsZero() bool {
	return len(i.Before) == 0 && len(i.After) == 0
}

// PauseBefore returns the frontier nodes listed in Before, in frontier order.
func (i Interrupts) PauseBefore(frontier []string) []string {
	return intersect(frontier, i.Before)
}

// PauseAfter returns the nodes that ran and are listed in After.
func (i Interrupts) PauseAfter(ran []string) []string {
	return intersect(ran, i.After)
}

func intersect(nodes, set []string) []string {
	var out []string
	for _, n := range nodes {
		if slices.Contains(set, n) {
			out = append(out, n)
		}
	}
	return out
}
