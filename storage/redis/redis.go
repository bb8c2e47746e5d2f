//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis builds redis clients for checkpoint storage and keeps a
// registry of named instances.
package redis

import (
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	registryMu    sync.RWMutex
	redisRegistry = map[string][]ClientBuilderOpt{}
)

type clientBuilder func(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error)

var globalBuilder clientBuilder = DefaultClientBuilder

// SetClientBuilder sets the redis client builder.
func SetClientBuilder(builder clientBuilder) {
	globalBuilder = builder
}

// GetClientBuilder gets the redis client builder.
func GetClientBuilder() clientBuilder {
	return globalBuilder
}

// DefaultClientBuilder builds a client from a URL, or from an address when
// no URL is set. It does not connect.
func DefaultClientBuilder(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error) {
	o := &ClientBuilderOpts{}
	for _, opt := range builderOpts {
		opt(o)
	}

	switch {
	case o.URL != "":
		opts, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url %s: %w", o.URL, err)
		}
		return redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{opts.Addr},
			DB:           opts.DB,
			Username:     opts.Username,
			Password:     opts.Password,
			Protocol:     opts.Protocol,
			ClientName:   opts.ClientName,
			TLSConfig:    opts.TLSConfig,
			MaxRetries:   opts.MaxRetries,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
		}), nil
	case o.Addr != "":
		return redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{o.Addr},
			Password: o.Password,
			DB:       o.DB,
		}), nil
	default:
		return nil, errors.New("redis: url and addr are empty")
	}
}

// ClientBuilderOpt is the option for the redis client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// ClientBuilderOpts is the options for the redis client.
type ClientBuilderOpts struct {
	// URL has the form redis://<user>:<password>@<host>:<port>/<db>?<options>.
	URL string

	Addr     string
	Password string
	DB       int

	// ExtraOptions is used by customized builders.
	ExtraOptions []any
}

// WithClientBuilderURL sets the redis client url for clientBuilder.
// See redis.ParseURL for the supported options.
func WithClientBuilderURL(url string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.URL = url
	}
}

// WithClientBuilderAddr sets the address, password and database.
func WithClientBuilderAddr(addr, password string, db int) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.Addr = addr
		opts.Password = password
		opts.DB = db
	}
}

// WithExtraOptions appends options for customized builders.
func WithExtraOptions(extraOptions ...any) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.ExtraOptions = append(opts.ExtraOptions, extraOptions...)
	}
}

// RegisterRedisInstance registers a redis instance options.
func RegisterRedisInstance(name string, opts ...ClientBuilderOpt) {
	registryMu.Lock()
	defer registryMu.Unlock()
	redisRegistry[name] = append(redisRegistry[name], opts...)
}

// GetRedisInstance gets the redis instance options.
func GetRedisInstance(name string) ([]ClientBuilderOpt, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	opts, ok := redisRegistry[name]
	return opts, ok
}
