//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package gormdb provides checkpoint storage on any database GORM supports.
// MySQL and PostgreSQL dialectors are built in; other dialectors can be
// passed to NewSaver through an opened *gorm.DB.
package gormdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trpc.group/trpc-go/trpc-graph-go/graph"
)

// Supported drivers for NewDialector.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// checkpointRow is one persisted checkpoint.
type checkpointRow struct {
	ThreadID     string    `gorm:"primaryKey;size:191"`
	Step         int       `gorm:"primaryKey;autoIncrement:false"`
	CheckpointID string    `gorm:"size:64;not null"`
	ParentID     string    `gorm:"size:64;not null"`
	Status       string    `gorm:"size:16;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	Data         []byte    `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (checkpointRow) TableName() string { return "graph_checkpoints" }

// NewDialector returns the dialector for a driver name.
func NewDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported gorm driver: %s", driver)
	}
}

// Open opens a database for driver and dsn with error translation enabled.
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := NewDialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// SetPool applies pool limits to the connections behind db. Zero values
// are left unset.
func SetPool(db *gorm.DB, maxOpen int, maxLifetime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
	}
	if maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// Saver is a GORM implementation of graph.CheckpointSaver.
type Saver struct {
	db         *gorm.DB
	writeMu    sync.Mutex
	maxHistory int
}

// Option configures a Saver.
type Option func(*Saver)

// WithMaxHistory keeps only the newest n checkpoints of a thread.
func WithMaxHistory(n int) Option {
	return func(s *Saver) { s.maxHistory = n }
}

// NewSaver migrates the checkpoint table and returns a saver on db.
func NewSaver(db *gorm.DB, opts ...Option) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := db.AutoMigrate(&checkpointRow{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoints table: %w", err)
	}
	s := &Saver{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put appends a checkpoint. Writers in other processes that race on the
// same step are rejected by the primary key.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidatePut(ckpt, 0); err != nil {
		return err
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		if err := tx.Model(&checkpointRow{}).
			Where("thread_id = ?", ckpt.ThreadID).
			Select("COALESCE(MAX(step), 0)").
			Scan(&latest).Error; err != nil {
			return fmt.Errorf("select latest step: %w", err)
		}
		if err := graph.ValidatePut(ckpt, latest); err != nil {
			return err
		}
		row := checkpointRow{
			ThreadID:     ckpt.ThreadID,
			Step:         ckpt.Step,
			CheckpointID: ckpt.ID,
			ParentID:     ckpt.ParentID,
			Status:       string(ckpt.Status),
			CreatedAt:    ckpt.CreatedAt,
			Data:         data,
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: thread %s step %d already stored", graph.ErrStepConflict, ckpt.ThreadID, ckpt.Step)
			}
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		if s.maxHistory > 0 && ckpt.Step > s.maxHistory {
			if err := tx.Where("thread_id = ? AND step <= ?", ckpt.ThreadID, ckpt.Step-s.maxHistory).
				Delete(&checkpointRow{}).Error; err != nil {
				return fmt.Errorf("trim thread history: %w", err)
			}
		}
		return nil
	})
}

// Latest returns the newest checkpoint of a thread.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	var rows []checkpointRow
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("step DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select latest checkpoint: %w", err)
	}
	if len(rows) == 0 {
		return graph.NewThreadCheckpoint(threadID), nil
	}
	return unmarshal(rows[0].Data)
}

// History returns the checkpoints of a thread in step order.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	var rows []checkpointRow
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("step ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	out := make([]*graph.Checkpoint, 0, len(rows))
	for _, row := range rows {
		ckpt, err := unmarshal(row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, ckpt)
	}
	return out, nil
}

// DeleteThread removes all checkpoints of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&checkpointRow{}).Error; err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Saver) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unmarshal(data []byte) (*graph.Checkpoint, error) {
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if ckpt.State == nil {
		ckpt.State = graph.State{}
	}
	return &ckpt, nil
}
