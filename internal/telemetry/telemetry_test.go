//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecuteNodeSpanName(t *testing.T) {
	assert.Equal(t, "execute_node approve", NewExecuteNodeSpanName("approve"))
	assert.Equal(t, "execute_node", NewExecuteNodeSpanName(""))
}

func TestNewGRPCConn(t *testing.T) {
	// grpc.NewClient does not dial, so an unreachable endpoint still succeeds.
	conn, err := NewGRPCConn("localhost:4317")
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.NoError(t, conn.Close())
}
