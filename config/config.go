//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads executor, checkpoint and observability settings.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("graph.yaml").
//	    WithEnvPrefix("GRAPH").
//	    Load()
//
// Values are applied in the order defaults, YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Checkpoint backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// Config is the complete configuration of a graph runtime.
type Config struct {
	Executor   ExecutorConfig   `yaml:"executor" env:"EXECUTOR"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
	Metrics    MetricsConfig    `yaml:"metrics" env:"METRICS"`
}

// ExecutorConfig mirrors graph.ExecutorOptions.
type ExecutorConfig struct {
	// RecursionLimit caps completed supersteps per thread.
	RecursionLimit int `yaml:"recursion_limit" env:"RECURSION_LIMIT"`
	// NodeTimeout bounds a single node invocation. Zero disables it.
	NodeTimeout time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
	// MaxConcurrency is the worker pool size. Zero uses the executor default.
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// EventBufferSize is the capacity of a stream channel.
	EventBufferSize int `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE"`
	// EventSendTimeout is how long a stream send may block before the event
	// is dropped.
	EventSendTimeout time.Duration `yaml:"event_send_timeout" env:"EVENT_SEND_TIMEOUT"`
	InterruptBefore  []string      `yaml:"interrupt_before" env:"INTERRUPT_BEFORE"`
	InterruptAfter   []string      `yaml:"interrupt_after" env:"INTERRUPT_AFTER"`
}

// CheckpointConfig selects and configures the checkpoint saver.
type CheckpointConfig struct {
	// Backend is one of memory, sqlite, redis, postgres, mysql.
	Backend string `yaml:"backend" env:"BACKEND"`
	// DSN is the data source for sqlite, postgres and mysql.
	DSN           string `yaml:"dsn" env:"DSN"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	// KeyPrefix namespaces redis keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// MaxHistory keeps at most this many checkpoints per thread. Zero keeps all.
	MaxHistory int `yaml:"max_history" env:"MAX_HISTORY"`
	// MaxOpenConns and ConnMaxLifetime tune the postgres and mysql pools.
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig configures the package logger.
type LogConfig struct {
	// Level is debug, info, warn, error or fatal.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is console or json.
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	TracesEndpoint  string `yaml:"traces_endpoint" env:"TRACES_ENDPOINT"`
	MetricsEndpoint string `yaml:"metrics_endpoint" env:"METRICS_ENDPOINT"`
	// Protocol is grpc or http.
	Protocol    string `yaml:"protocol" env:"PROTOCOL"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			RecursionLimit:   25,
			EventBufferSize:  256,
			EventSendTimeout: 100 * time.Millisecond,
		},
		Checkpoint: CheckpointConfig{
			Backend:   BackendMemory,
			KeyPrefix: "graph",
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Metrics: MetricsConfig{
			Namespace: "graph",
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Executor.RecursionLimit <= 0 {
		errs = append(errs, errors.New("executor.recursion_limit must be positive"))
	}
	if c.Executor.NodeTimeout < 0 {
		errs = append(errs, errors.New("executor.node_timeout must not be negative"))
	}
	if c.Executor.MaxConcurrency < 0 {
		errs = append(errs, errors.New("executor.max_concurrency must not be negative"))
	}
	if c.Executor.EventBufferSize < 0 {
		errs = append(errs, errors.New("executor.event_buffer_size must not be negative"))
	}
	if err := c.Checkpoint.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error", "fatal"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid", c.Log.Level))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is invalid", c.Log.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		errs = append(errs, fmt.Errorf("telemetry.protocol %q is invalid", c.Telemetry.Protocol))
	}
	return errors.Join(errs...)
}

// Validate checks the backend selection and its required settings.
func (c *CheckpointConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres, BackendMySQL:
		if c.DSN == "" {
			return fmt.Errorf("checkpoint.dsn is required for backend %s", c.Backend)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("checkpoint.redis_addr is required for backend redis")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is invalid", c.Backend)
	}
	if c.MaxHistory < 0 {
		return errors.New("checkpoint.max_history must not be negative")
	}
	if c.MaxOpenConns < 0 || c.ConnMaxLifetime < 0 {
		return errors.New("checkpoint pool limits must not be negative")
	}
	return nil
}
