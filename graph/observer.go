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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	itelemetry "trpc.group/trpc-go/trpc-graph-go/internal/telemetry"
	gmetric "trpc.group/trpc-go/trpc-graph-go/telemetry/metric"
)

// Observer receives execution measurements. Methods are called from the
// stepper goroutine of a thread, except OnNode which is called from the
// worker that ran the node, and must not block.
type Observer interface {
	// OnSuperstep is called after the checkpoint of a superstep is persisted.
	OnSuperstep(threadID string, step int, nodes []string, status Status, elapsed time.Duration)
	// OnNode is called when a node invocation finished.
	OnNode(threadID, node string, elapsed time.Duration, err error)
	// OnEventDropped is called when a stream event could not be delivered.
	OnEventDropped(threadID, object string)
}

type multiObserver []Observer

func (m multiObserver) OnSuperstep(threadID string, step int, nodes []string, status Status, elapsed time.Duration) {
	for _, o := range m {
		o.OnSuperstep(threadID, step, nodes, status, elapsed)
	}
}

func (m multiObserver) OnNode(threadID, node string, elapsed time.Duration, err error) {
	for _, o := range m {
		o.OnNode(threadID, node, elapsed, err)
	}
}

func (m multiObserver) OnEventDropped(threadID, object string) {
	for _, o := range m {
		o.OnEventDropped(threadID, object)
	}
}

// otelObserver records executor metrics on the global OpenTelemetry meter.
type otelObserver struct {
	supersteps   metric.Int64Counter
	nodeDuration metric.Float64Histogram
	nodeErrors   metric.Int64Counter
	dropped      metric.Int64Counter
}

func newOtelObserver() *otelObserver {
	m := gmetric.Meter
	o := &otelObserver{}
	// Errors only report invalid names; the instruments are always usable.
	o.supersteps, _ = m.Int64Counter(itelemetry.MetricSupersteps,
		metric.WithDescription("Persisted supersteps by resulting status"))
	o.nodeDuration, _ = m.Float64Histogram(itelemetry.MetricNodeDuration,
		metric.WithDescription("Node invocation duration"), metric.WithUnit("s"))
	o.nodeErrors, _ = m.Int64Counter(itelemetry.MetricNodeErrors,
		metric.WithDescription("Failed node invocations"))
	o.dropped, _ = m.Int64Counter(itelemetry.MetricEventsDropped,
		metric.WithDescription("Stream events dropped by slow consumers"))
	return o
}

func (o *otelObserver) OnSuperstep(_ string, _ int, _ []string, status Status, _ time.Duration) {
	o.supersteps.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(itelemetry.KeyStatus, string(status))))
}

func (o *otelObserver) OnNode(_ string, node string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String(itelemetry.KeyNodeID, node))
	o.nodeDuration.Record(context.Background(), elapsed.Seconds(), attrs)
	if err != nil {
		o.nodeErrors.Add(context.Background(), 1, attrs)
	}
}

func (o *otelObserver) OnEventDropped(_ string, object string) {
	o.dropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(itelemetry.KeyEventObject, object)))
}
