//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metrics exposes graph executor measurements as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	c := metrics.NewCollector("graph", reg)
//	exec, _ := graph.NewExecutor(g, graph.WithObserver(c))
//	http.Handle("/metrics", metrics.Handler(reg))
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trpc.group/trpc-go/trpc-graph-go/graph"
)

// Collector implements graph.Observer.
type Collector struct {
	supersteps       *prometheus.CounterVec
	superstepLatency *prometheus.HistogramVec
	nodeRuns         *prometheus.CounterVec
	nodeLatency      *prometheus.HistogramVec
	eventsDropped    *prometheus.CounterVec
}

var _ graph.Observer = (*Collector)(nil)

// NewCollector registers the executor metrics on reg under namespace.
// A nil reg uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		supersteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "supersteps_total",
				Help:      "Persisted checkpoints by resulting status",
			},
			[]string{"status"},
		),
		superstepLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "superstep_duration_seconds",
				Help:      "Superstep duration including the checkpoint write",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		nodeRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_invocations_total",
				Help:      "Node invocation attempts by outcome",
			},
			[]string{"node", "outcome"},
		),
		nodeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node invocation duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"node"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Stream events not delivered to a slow consumer",
			},
			[]string{"object"},
		),
	}
}

// OnSuperstep implements graph.Observer.
func (c *Collector) OnSuperstep(_ string, _ int, _ []string, status graph.Status, elapsed time.Duration) {
	c.supersteps.WithLabelValues(string(status)).Inc()
	c.superstepLatency.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// OnNode implements graph.Observer.
func (c *Collector) OnNode(_ string, node string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.nodeRuns.WithLabelValues(node, outcome).Inc()
	c.nodeLatency.WithLabelValues(node).Observe(elapsed.Seconds())
}

// OnEventDropped implements graph.Observer.
func (c *Collector) OnEventDropped(_ string, object string) {
	c.eventsDropped.WithLabelValues(object).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
