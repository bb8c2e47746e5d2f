//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		assert.Equal(t, c.expected, zapLevel.Level(), c.in)
	}
}

func TestZapLoggerFollowsLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	var buf bytes.Buffer
	l := NewZapLogger(&buf)

	SetLevel(LevelWarn)
	l.Infof("superstep %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("dropped event for thread %s", "t-1")
	assert.Contains(t, buf.String(), "dropped event for thread t-1")
	assert.Contains(t, buf.String(), "WARN")
	assert.Equal(t, "warn", Level())
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf)
	l.Infof("thread %s paused at step %d", "t-1", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["lvl"])
	assert.Equal(t, "thread t-1 paused at step 3", line["message"])
	assert.Contains(t, line, "ts")
}

func TestPackageHelpersUseDefault(t *testing.T) {
	rec := &recordingLogger{}
	old := Default
	Default = rec
	defer func() { Default = old }()

	Debug("a")
	Debugf("b")
	Info("c")
	Infof("d")
	Warn("e")
	Warnf("f")
	Error("g")
	Errorf("h")
	Fatal("i")
	Fatalf("j")
	assert.Equal(t, 10, rec.calls)
}

type recordingLogger struct{ calls int }

func (r *recordingLogger) Debug(args ...any)                 { r.calls++ }
func (r *recordingLogger) Debugf(format string, args ...any) { r.calls++ }
func (r *recordingLogger) Info(args ...any)                  { r.calls++ }
func (r *recordingLogger) Infof(format string, args ...any)  { r.calls++ }
func (r *recordingLogger) Warn(args ...any)                  { r.calls++ }
func (r *recordingLogger) Warnf(format string, args ...any)  { r.calls++ }
func (r *recordingLogger) Error(args ...any)                 { r.calls++ }
func (r *recordingLogger) Errorf(format string, args ...any) { r.calls++ }
func (r *recordingLogger) Fatal(args ...any)                 { r.calls++ }
func (r *recordingLogger) Fatalf(format string, args ...any) { r.calls++ }
