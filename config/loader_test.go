//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvPrefix("GRAPH_TEST_DEFAULTS").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, BackendMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, 25, cfg.Executor.RecursionLimit)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		WithEnvPrefix("GRAPH_TEST_MISSING").
		Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
executor:
  recursion_limit: 10
  node_timeout: 2s
  interrupt_before: [approve]
checkpoint:
  backend: sqlite
  dsn: file:graph.db
  max_history: 50
  max_open_conns: 8
  conn_max_lifetime: 5m
log:
  level: debug
`)
	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("GRAPH_TEST_YAML").Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Executor.RecursionLimit)
	assert.Equal(t, 2*time.Second, cfg.Executor.NodeTimeout)
	assert.Equal(t, []string{"approve"}, cfg.Executor.InterruptBefore)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, 50, cfg.Checkpoint.MaxHistory)
	assert.Equal(t, 8, cfg.Checkpoint.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Checkpoint.ConnMaxLifetime)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 256, cfg.Executor.EventBufferSize)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "executor:\n  recursion_limit: 10\n")
	t.Setenv("GRAPH_EXECUTOR_RECURSION_LIMIT", "7")
	t.Setenv("GRAPH_EXECUTOR_EVENT_SEND_TIMEOUT", "250ms")
	t.Setenv("GRAPH_EXECUTOR_INTERRUPT_AFTER", "draft, review")
	t.Setenv("GRAPH_CHECKPOINT_BACKEND", "redis")
	t.Setenv("GRAPH_CHECKPOINT_REDIS_ADDR", "localhost:6379")
	t.Setenv("GRAPH_CHECKPOINT_REDIS_DB", "3")
	t.Setenv("GRAPH_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Executor.RecursionLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.EventSendTimeout)
	assert.Equal(t, []string{"draft", "review"}, cfg.Executor.InterruptAfter)
	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, "localhost:6379", cfg.Checkpoint.RedisAddr)
	assert.Equal(t, 3, cfg.Checkpoint.RedisDB)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadErrors(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		path := writeFile(t, "executor: [")
		_, err := NewLoader().WithConfigPath(path).WithEnvPrefix("GRAPH_TEST_BAD").Load()
		require.Error(t, err)
	})
	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("GRAPH_TEST_ENV_EXECUTOR_NODE_TIMEOUT", "soon")
		_, err := NewLoader().WithEnvPrefix("GRAPH_TEST_ENV").Load()
		require.ErrorContains(t, err, "GRAPH_TEST_ENV_EXECUTOR_NODE_TIMEOUT")
	})
	t.Run("custom validator", func(t *testing.T) {
		sentinel := errors.New("rejected")
		_, err := NewLoader().
			WithEnvPrefix("GRAPH_TEST_VALIDATOR").
			WithValidator(func(*Config) error { return sentinel }).
			Load()
		require.ErrorIs(t, err, sentinel)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"recursion limit", func(c *Config) { c.Executor.RecursionLimit = 0 }, "recursion_limit"},
		{"negative timeout", func(c *Config) { c.Executor.NodeTimeout = -time.Second }, "node_timeout"},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }, "checkpoint.backend"},
		{"sqlite without dsn", func(c *Config) { c.Checkpoint.Backend = BackendSQLite }, "checkpoint.dsn"},
		{"redis without addr", func(c *Config) { c.Checkpoint.Backend = BackendRedis }, "redis_addr"},
		{"pool", func(c *Config) { c.Checkpoint.MaxOpenConns = -1 }, "pool limits"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "telemetry.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}

func TestMustLoad(t *testing.T) {
	path := writeFile(t, "log:\n  level: nope\n")
	assert.Panics(t, func() { MustLoad(path) })
}
