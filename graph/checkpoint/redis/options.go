//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"github.com/redis/go-redis/v9"

	rstorage "trpc.group/trpc-go/trpc-graph-go/storage/redis"
)

const (
	defaultKeyPrefix  = "graph"
	defaultPutRetries = 8
)

// SaverOpts is the options for the redis checkpoint saver.
type SaverOpts struct {
	client      redis.UniversalClient
	builderOpts []rstorage.ClientBuilderOpt
	instance    string
	keyPrefix   string
	maxHistory  int
	putRetries  int
}

// SaverOpt is the option for the redis checkpoint saver.
type SaverOpt func(*SaverOpts)

// WithRedisClientURL builds the client from a redis URL.
func WithRedisClientURL(url string) SaverOpt {
	return func(opts *SaverOpts) {
		opts.builderOpts = append(opts.builderOpts, rstorage.WithClientBuilderURL(url))
	}
}

// WithRedisAddr builds the client from an address, password and database.
func WithRedisAddr(addr, password string, db int) SaverOpt {
	return func(opts *SaverOpts) {
		opts.builderOpts = append(opts.builderOpts, rstorage.WithClientBuilderAddr(addr, password, db))
	}
}

// WithRedisInstance uses an instance registered with
// storage/redis.RegisterRedisInstance.
func WithRedisInstance(name string) SaverOpt {
	return func(opts *SaverOpts) {
		opts.instance = name
	}
}

// WithRedisClient uses an existing client. The saver closes it on Close.
func WithRedisClient(client redis.UniversalClient) SaverOpt {
	return func(opts *SaverOpts) {
		opts.client = client
	}
}

// WithKeyPrefix namespaces the saver keys.
func WithKeyPrefix(prefix string) SaverOpt {
	return func(opts *SaverOpts) {
		if prefix != "" {
			opts.keyPrefix = prefix
		}
	}
}

// WithMaxHistory keeps only the newest n checkpoints of a thread.
func WithMaxHistory(n int) SaverOpt {
	return func(opts *SaverOpts) {
		opts.maxHistory = n
	}
}
