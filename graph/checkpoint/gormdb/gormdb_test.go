//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package gormdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/graph/checkpoint/checkpointtest"
)

func openSQLite(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, SetPool(db, 1, 0))
	return db
}

func newSaver(t *testing.T, opts ...Option) *Saver {
	t.Helper()
	s, err := NewSaver(openSQLite(t, filepath.Join(t.TempDir(), "graph.db")), opts...)
	require.NoError(t, err)
	return s
}

func TestSaverSuite(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) graph.CheckpointSaver {
		return newSaver(t)
	})
}

func TestMaxHistory(t *testing.T) {
	s := newSaver(t, WithMaxHistory(2))
	defer s.Close()
	ctx := context.Background()
	for _, ckpt := range checkpointtest.Chain("t1", 5) {
		require.NoError(t, s.Put(ctx, ckpt))
	}
	history, err := s.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].Step)
	assert.Equal(t, 5, history[1].Step)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()
	s, err := NewSaver(openSQLite(t, path))
	require.NoError(t, err)
	chain := checkpointtest.Chain("t1", 3)
	for _, ckpt := range chain {
		require.NoError(t, s.Put(ctx, ckpt))
	}
	require.NoError(t, s.Close())

	s, err = NewSaver(openSQLite(t, path))
	require.NoError(t, err)
	defer s.Close()
	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, chain[2].ID, latest.ID)
	assert.Equal(t, graph.StatusPaused, latest.Status)
}

func TestCorruptRow(t *testing.T) {
	s := newSaver(t)
	defer s.Close()
	require.NoError(t, s.db.Create(&checkpointRow{
		ThreadID: "t1", Step: 1, CheckpointID: "c1", Status: "RUNNING", Data: []byte("{"),
	}).Error)
	_, err := s.Latest(context.Background(), "t1")
	require.ErrorContains(t, err, "unmarshal checkpoint")
	_, err = s.History(context.Background(), "t1")
	require.ErrorContains(t, err, "unmarshal checkpoint")
}

func TestSetPool(t *testing.T) {
	db := openSQLite(t, filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, SetPool(db, 3, time.Minute))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)
}

func TestNewSaverNilDB(t *testing.T) {
	_, err := NewSaver(nil)
	require.Error(t, err)
}

func TestNewSaverMigrationError(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	_, err = NewSaver(db)
	require.ErrorContains(t, err, "migrate checkpoints table")
}

func TestNewDialector(t *testing.T) {
	d, err := NewDialector(DriverMySQL, "user:pass@tcp(localhost:3306)/graph")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = NewDialector(DriverPostgres, "postgres://localhost/graph")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = NewDialector("oracle", "")
	require.ErrorContains(t, err, "unsupported gorm driver")

	_, err = Open("oracle", "")
	require.Error(t, err)
}
