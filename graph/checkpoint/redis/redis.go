//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides Redis-based checkpoint storage for graph execution.
//
// The history of a thread is one sorted set scored by step whose members
// are JSON encoded checkpoints.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-graph-go/graph"
	rstorage "trpc.group/trpc-go/trpc-graph-go/storage/redis"
)

// Saver is a redis implementation of graph.CheckpointSaver. Writes use
// WATCH and MULTI so concurrent writers of one thread, in this or another
// process, cannot both append the same step.
type Saver struct {
	client redis.UniversalClient
	opts   SaverOpts
}

// NewSaver creates a redis checkpoint saver.
func NewSaver(options ...SaverOpt) (*Saver, error) {
	opts := SaverOpts{
		keyPrefix:  defaultKeyPrefix,
		putRetries: defaultPutRetries,
	}
	for _, option := range options {
		option(&opts)
	}

	client := opts.client
	if client == nil {
		builderOpts := opts.builderOpts
		if opts.instance != "" {
			instanceOpts, ok := rstorage.GetRedisInstance(opts.instance)
			if !ok {
				return nil, fmt.Errorf("redis instance %s not found", opts.instance)
			}
			builderOpts = append(instanceOpts, builderOpts...)
		}
		if len(builderOpts) == 0 {
			return nil, errors.New("redis client is required")
		}
		var err error
		client, err = rstorage.GetClientBuilder()(builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
	}
	return &Saver{client: client, opts: opts}, nil
}

func (s *Saver) threadKey(threadID string) string {
	return fmt.Sprintf("%s:checkpoints:{%s}", s.opts.keyPrefix, threadID)
}

// Put appends a checkpoint. A concurrent write of the same thread aborts
// the transaction, which is retried against the new latest step.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidatePut(ckpt, 0); err != nil {
		return err
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := s.threadKey(ckpt.ThreadID)

	txf := func(tx *redis.Tx) error {
		latest, err := latestStep(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := graph.ValidatePut(ckpt, latest); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(ckpt.Step), Member: data})
			if s.opts.maxHistory > 0 {
				pipe.ZRemRangeByRank(ctx, key, 0, int64(-s.opts.maxHistory-1))
			}
			return nil
		})
		return err
	}

	for i := 0; i < s.opts.putRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, graph.ErrStepConflict) {
			return err
		}
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func latestStep(ctx context.Context, tx *redis.Tx, key string) (int, error) {
	top, err := tx.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("read latest step: %w", err)
	}
	if len(top) == 0 {
		return 0, nil
	}
	return int(top[0].Score), nil
}

// Latest returns the newest checkpoint of a thread.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	members, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("read latest checkpoint: %w", err)
	}
	if len(members) == 0 {
		return graph.NewThreadCheckpoint(threadID), nil
	}
	return unmarshal(members[0])
}

// History returns the checkpoints of a thread in step order.
func (s *Saver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	members, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]*graph.Checkpoint, 0, len(members))
	for _, m := range members {
		ckpt, err := unmarshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ckpt)
	}
	return out, nil
}

// DeleteThread removes all checkpoints of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.threadKey(threadID)).Err(); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Saver) Close() error {
	return s.client.Close()
}

func unmarshal(member string) (*graph.Checkpoint, error) {
	var ckpt graph.Checkpoint
	if err := json.Unmarshal([]byte(member), &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if ckpt.State == nil {
		ckpt.State = graph.State{}
	}
	return &ckpt, nil
}
