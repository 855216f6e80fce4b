package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelFilter_OnlyWarningsAndErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewLevelFilter(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestLevelFilter_Enabled(t *testing.T) {
	ctx := context.Background()

	f := NewLevelFilter(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn)
	assert.False(t, f.Enabled(ctx, slog.LevelInfo))
	assert.True(t, f.Enabled(ctx, slog.LevelWarn))

	// The wrapped handler's own level still applies.
	strict := NewLevelFilter(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}), slog.LevelWarn)
	assert.False(t, strict.Enabled(ctx, slog.LevelWarn))
	assert.True(t, strict.Enabled(ctx, slog.LevelError))
}

func TestLevelFilter_HandleBelowThreshold(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewLevelFilter(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn)

	err := f.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "skipped", 0))
	assert.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestLevelFilter_WithAttrsAndGroup(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewLevelFilter(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), slog.LevelWarn)
	logger := slog.New(f).With("collection", "heroes").WithGroup("view")

	logger.Info("hidden", "op", "find")
	logger.Warn("shown", "op", "find")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "collection=heroes")
	assert.Contains(t, buf.String(), "view.op=find")
}
