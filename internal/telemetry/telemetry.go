//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the span names, attribute keys and metric names
// shared by the executor and the telemetry exporters.
package telemetry

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-graph-go"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-graph"
	InstrumentName   = "trpc.graph.go"

	SpanNameExecuteGraph      = "execute_graph"
	SpanNameSuperstep         = "superstep"
	SpanNamePrefixExecuteNode = "execute_node"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// span attribute keys.
const (
	KeyThreadID    = "trpc.go.graph.thread_id"
	KeyStep        = "trpc.go.graph.step"
	KeyFrontier    = "trpc.go.graph.frontier"
	KeyStatus      = "trpc.go.graph.status"
	KeyErrorType   = "trpc.go.graph.error_type"
	KeyNodeID      = "trpc.go.graph.node_id"
	KeyNodeName    = "trpc.go.graph.node_name"
	KeyAttempts    = "trpc.go.graph.attempts"
	KeyEventObject = "trpc.go.graph.event_object"
)

// metric names.
const (
	MetricSupersteps    = "trpc.graph.supersteps"
	MetricNodeDuration  = "trpc.graph.node.duration"
	MetricNodeErrors    = "trpc.graph.node.errors"
	MetricEventsDropped = "trpc.graph.events.dropped"
)

// NewExecuteNodeSpanName returns the span name of a node invocation.
func NewExecuteNodeSpanName(nodeID string) string {
	if nodeID == "" {
		return SpanNamePrefixExecuteNode
	}
	return fmt.Sprintf("%s %s", SpanNamePrefixExecuteNode, nodeID)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// TLS is not configured; collectors are expected on a local network.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
