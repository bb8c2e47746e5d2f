//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "trpc.group/trpc-go/trpc-graph-go/config"

// ExecutorOptionsFromConfig maps the executor section of a loaded
// configuration to executor options. Zero values keep the executor defaults.
func ExecutorOptionsFromConfig(cfg config.ExecutorConfig) []ExecutorOption {
	var opts []ExecutorOption
	if cfg.RecursionLimit > 0 {
		opts = append(opts, WithRecursionLimit(cfg.RecursionLimit))
	}
	if cfg.NodeTimeout > 0 {
		opts = append(opts, WithNodeTimeout(cfg.NodeTimeout))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if cfg.EventBufferSize > 0 {
		opts = append(opts, WithEventBufferSize(cfg.EventBufferSize))
	}
	if cfg.EventSendTimeout > 0 {
		opts = append(opts, WithEventSendTimeout(cfg.EventSendTimeout))
	}
	if len(cfg.InterruptBefore) > 0 {
		opts = append(opts, WithInterruptBefore(cfg.InterruptBefore...))
	}
	if len(cfg.InterruptAfter) > 0 {
		opts = append(opts, WithInterruptAfter(cfg.InterruptAfter...))
	}
	return opts
}
