package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNew_LevelGating(t *testing.T) {
	ctx := context.Background()
	assert.True(t, New("debug", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, New("error", "text").Enabled(ctx, slog.LevelInfo))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "JSON")
	logger.Info("analysis complete", "score", 95)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "analysis complete", rec["msg"])
	assert.Equal(t, float64(95), rec["score"])
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "first")
	ctx = WithRequestID(ctx, "second")
	assert.Equal(t, "second", RequestID(ctx))
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, slog.Default(), FromContext(ctx))

	custom := New("debug", "json")
	assert.Same(t, custom, FromContext(WithLogger(ctx, custom)))
}

func TestOr_Fallback(t *testing.T) {
	fallback := New("info", "text")
	assert.Same(t, fallback, Or(context.Background(), fallback))

	custom := New("debug", "text")
	assert.Same(t, custom, Or(WithLogger(context.Background(), custom), fallback))
}

func TestLOr_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	fallback := NewWithWriter(&buf, "info", "json")
	ctx := WithRequestID(context.Background(), "req-456")

	LOr(ctx, fallback).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-456", rec["request_id"])
}

func TestL_WithoutRequestID(t *testing.T) {
	custom := New("info", "text")
	assert.Same(t, custom, L(WithLogger(context.Background(), custom)))
}
