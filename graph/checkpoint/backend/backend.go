//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package backend opens the checkpoint saver selected by configuration.
package backend

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.

	"trpc.group/trpc-go/trpc-graph-go/config"
	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/gormdb"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/postgres"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/redis"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/trpc-graph-go/log"
	pgstorage "trpc.group/trpc-go/trpc-graph-go/storage/postgres"
)

// Open validates cfg and returns the saver for its backend. The caller
// owns the saver and must Close it.
func Open(ctx context.Context, cfg config.CheckpointConfig) (graph.CheckpointSaver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Infof("graph: opening %s checkpoint backend", cfg.Backend)
	switch cfg.Backend {
	case config.BackendMemory:
		return inmemory.NewSaver().WithMaxCheckpointsPerThread(cfg.MaxHistory), nil
	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection avoids busy errors.
		db.SetMaxOpenConns(1)
		s, err := sqlite.NewSaver(db, sqlite.WithMaxHistory(cfg.MaxHistory))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		return redis.NewSaver(
			redis.WithRedisAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
			redis.WithKeyPrefix(cfg.KeyPrefix),
			redis.WithMaxHistory(cfg.MaxHistory),
		)
	case config.BackendPostgres:
		return postgres.NewSaver(ctx,
			postgres.WithConnString(cfg.DSN),
			postgres.WithBuilderOptions(pgstorage.WithPool(cfg.MaxOpenConns, cfg.MaxOpenConns, cfg.ConnMaxLifetime)),
			postgres.WithMaxHistory(cfg.MaxHistory),
		)
	case config.BackendMySQL:
		db, err := gormdb.Open(gormdb.DriverMySQL, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := gormdb.SetPool(db, cfg.MaxOpenConns, cfg.ConnMaxLifetime); err != nil {
			return nil, err
		}
		return gormdb.NewSaver(db, gormdb.WithMaxHistory(cfg.MaxHistory))
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}
