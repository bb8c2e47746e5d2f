//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry starts the trace and metric exporters from configuration.
package telemetry

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-graph-go/config"
	"trpc.group/trpc-go/trpc-graph-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-graph-go/telemetry/trace"
)

// Start starts both exporters when cfg.Enabled is set. The returned clean
// function is never nil.
func Start(ctx context.Context, cfg config.TelemetryConfig) (clean func() error, err error) {
	if !cfg.Enabled {
		return func() error { return nil }, nil
	}
	cleanTrace, err := trace.Start(ctx,
		trace.WithProtocol(cfg.Protocol),
		trace.WithEndpoint(cfg.TracesEndpoint),
		trace.WithServiceName(cfg.ServiceName),
	)
	if err != nil {
		return nil, err
	}
	cleanMetric, err := metric.Start(ctx,
		metric.WithProtocol(cfg.Protocol),
		metric.WithEndpoint(cfg.MetricsEndpoint),
		metric.WithServiceName(cfg.ServiceName),
	)
	if err != nil {
		return nil, errors.Join(err, cleanTrace())
	}
	return func() error {
		return errors.Join(cleanTrace(), cleanMetric())
	}, nil
}
