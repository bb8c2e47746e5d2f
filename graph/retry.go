//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryCondition decides whether a node error is worth another attempt.
type RetryCondition interface {
	Match(err error) bool
}

// RetryConditionFunc adapts a function to RetryCondition.
type RetryConditionFunc func(error) bool

// Match calls f(err).
func (f RetryConditionFunc) Match(err error) bool { return f(err) }

// RetryPolicy configures how a failing node is re-attempted inside one
// superstep. MaxAttempts counts the first try, so MaxAttempts=3 means one
// try and up to two retries. Timeouts and configuration errors are never
// retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
	RetryOn         []RetryCondition
}

// NextDelay returns the wait before the attempt that follows attempt.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	delay := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))
	maxInt := p.MaxInterval
	if maxInt <= 0 {
		maxInt = p.InitialInterval
	}
	if maxInt > 0 {
		delay = math.Min(delay, float64(maxInt))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldRetry reports whether err matches one of the policy's conditions.
func (p RetryPolicy) ShouldRetry(err error) bool {
	var cfgErr *GraphConfigError
	var chErr *UnknownChannelError
	if errors.As(err, &cfgErr) || errors.As(err, &chErr) {
		return false
	}
	for _, cond := range p.RetryOn {
		if cond != nil && cond.Match(err) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// RetryOnErrors matches when errors.Is(err, target) for any target.
func RetryOnErrors(targets ...error) RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		for _, t := range targets {
			if t != nil && errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// RetryOnPredicate defers matching to match.
func RetryOnPredicate(match func(error) bool) RetryCondition {
	return RetryConditionFunc(match)
}

// DefaultTransientCondition matches context.DeadlineExceeded raised by the
// node itself and net.Error timeouts.
func DefaultTransientCondition() RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	})
}

// WithSimpleRetry builds a policy of attempts tries with exponential
// backoff from 500ms up to 8s, retrying DefaultTransientCondition.
func WithSimpleRetry(attempts int) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     8 * time.Second,
		Jitter:          true,
		RetryOn:         []RetryCondition{DefaultTransientCondition()},
	}
}
