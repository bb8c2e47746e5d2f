//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "custom-metric:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4318")
	assert.Equal(t, "custom-metric:4318", metricsEndpoint("grpc"))

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	assert.Equal(t, "generic-endpoint:4318", metricsEndpoint("grpc"))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", metricsEndpoint("grpc"))
	assert.Equal(t, "localhost:4318", metricsEndpoint("http"))
}

func TestStartAndClean(t *testing.T) {
	for _, protocol := range []string{"grpc", "http"} {
		t.Run(protocol, func(t *testing.T) {
			// Shutdown uses this context; keep it short since no collector runs.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			clean, err := Start(ctx,
				WithProtocol(protocol),
				WithEndpoint("localhost:4318"),
				WithServiceName("metric-test"),
				WithExportInterval(time.Hour),
			)
			require.NoError(t, err)
			require.NotNil(t, clean)
			_ = clean()
		})
	}
}

func TestStartRejectsUnknownProtocol(t *testing.T) {
	_, err := Start(context.Background(), WithProtocol("udp"))
	require.Error(t, err)
}
