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
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
)

// Graphviz layout directions and output formats.
const (
	RankDirLR = "LR"
	RankDirTB = "TB"

	ImageFormatPNG = "png"
	ImageFormatSVG = "svg"
)

const (
	colorNodeFill     = "#e3f2fd"
	colorNodeBorder   = "#2196f3"
	colorRouterFill   = "#eeeeee"
	colorRouterBorder = "#757575"
	colorStartFill    = "#e1f5e1"
	colorStartBorder  = "#4caf50"
	colorEndFill      = "#ffe1e1"
	colorEndBorder    = "#f44336"
	colorConditional  = "#999999"
)

// VizOptions configures DOT export.
type VizOptions struct {
	// RankDir is "LR" or "TB".
	RankDir string
	// IncludeStartEnd draws the virtual start node and the End sentinel.
	IncludeStartEnd bool
	// GraphLabel labels the whole graph.
	GraphLabel string
	// Highlight marks nodes, for example the frontier of a paused thread.
	Highlight []string
}

// VizOption mutates VizOptions.
type VizOption func(*VizOptions)

// WithRankDir sets DOT graph direction. Valid values: "LR", "TB".
func WithRankDir(dir string) VizOption {
	return func(o *VizOptions) {
		if dir == RankDirLR || dir == RankDirTB {
			o.RankDir = dir
		}
	}
}

// WithIncludeStartEnd toggles rendering of the start and End nodes.
func WithIncludeStartEnd(include bool) VizOption {
	return func(o *VizOptions) { o.IncludeStartEnd = include }
}

// WithGraphLabel sets an optional label for the graph.
func WithGraphLabel(label string) VizOption {
	return func(o *VizOptions) { o.GraphLabel = label }
}

// WithHighlight draws the given nodes with a double border.
func WithHighlight(nodes ...string) VizOption {
	return func(o *VizOptions) { o.Highlight = append(o.Highlight, nodes...) }
}

// DOT returns a Graphviz DOT representation of the graph. Nodes appear in
// registration order, unconditional edges are solid and router paths are
// dashed and labeled with their key.
func (g *Graph) DOT(opts ...VizOption) string {
	o := &VizOptions{RankDir: RankDirLR, IncludeStartEnd: true}
	for _, fn := range opts {
		fn(o)
	}

	var b strings.Builder
	b.WriteString("digraph G {\n")
	fmt.Fprintf(&b, "  rankdir=%s;\n", o.RankDir)
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\"];\n")
	if o.GraphLabel != "" {
		fmt.Fprintf(&b, "  label=\"%s\";\n  labelloc=t;\n", escapeLabel(o.GraphLabel))
	}
	if o.IncludeStartEnd {
		fmt.Fprintf(&b, "  \"%s\" [label=\"start\", shape=oval, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			Start, colorStartFill, colorStartBorder)
		fmt.Fprintf(&b, "  \"%s\" [label=\"end\", shape=oval, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			End, colorEndFill, colorEndBorder)
		fmt.Fprintf(&b, "  \"%s\" -> \"%s\";\n", Start, escapeLabel(g.entryPoint))
	}
	for _, n := range g.Nodes() {
		fill, border := colorNodeFill, colorNodeBorder
		if _, ok := g.conditionalEdges[n.ID]; ok {
			fill, border = colorRouterFill, colorRouterBorder
		}
		extra := ""
		if slices.Contains(o.Highlight, n.ID) || (!o.IncludeStartEnd && n.ID == g.entryPoint) {
			extra = ", peripheries=2"
		}
		fmt.Fprintf(&b, "  \"%s\" [label=\"%s\", shape=box, style=filled, fillcolor=\"%s\", color=\"%s\"%s];\n",
			escapeLabel(n.ID), escapeLabel(n.Name), fill, border, extra)
	}
	for _, from := range g.nodeOrder {
		for _, e := range g.edges[from] {
			if e.To == End && !o.IncludeStartEnd {
				continue
			}
			fmt.Fprintf(&b, "  \"%s\" -> \"%s\";\n", escapeLabel(e.From), escapeLabel(e.To))
		}
		ce, ok := g.conditionalEdges[from]
		if !ok {
			if len(g.edges[from]) == 0 && o.IncludeStartEnd {
				fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dotted];\n", escapeLabel(from), End)
			}
			continue
		}
		for _, key := range sortedKeys(ce.PathMap) {
			to := ce.PathMap[key]
			if to == End && !o.IncludeStartEnd {
				continue
			}
			fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dashed, color=\"%s\", label=\"%s\"];\n",
				escapeLabel(from), escapeLabel(to), colorConditional, escapeLabel(key))
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// WriteDOT writes the DOT representation to w.
func (g *Graph) WriteDOT(w io.Writer, opts ...VizOption) error {
	_, err := io.WriteString(w, g.DOT(opts...))
	return err
}

// RenderImage renders the graph by invoking Graphviz's `dot` binary.
func (g *Graph) RenderImage(ctx context.Context, format, outputPath string, opts ...VizOption) error {
	if format == "" {
		format = ImageFormatPNG
	}
	dotPath, err := exec.LookPath("dot")
	if err != nil {
		return fmt.Errorf("graphviz 'dot' binary not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, dotPath, "-T"+format, "-o", outputPath)
	cmd.Stdin = bytes.NewBufferString(g.DOT(opts...))
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return fmt.Errorf("dot render failed: %w, output: %s", runErr, string(out))
	}
	return nil
}

// escapeLabel escapes strings for quoted DOT identifiers and labels.
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
