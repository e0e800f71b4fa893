package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFallbackWriterUsesPrimary(t *testing.T) {
	var primary, fallback bytes.Buffer
	w := &FallbackWriter{Primary: &primary, Fallback: &fallback}

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "hello\n", primary.String())
	assert.Empty(t, fallback.String())
}

func TestFallbackWriterNeverFails(t *testing.T) {
	var fallback bytes.Buffer
	w := &FallbackWriter{Primary: brokenWriter{}, Fallback: &fallback}

	n, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "line\n", fallback.String())

	w = &FallbackWriter{Primary: brokenWriter{}, Fallback: brokenWriter{}}
	_, err = w.Write([]byte("lost\n"))
	assert.NoError(t, err)
}

func TestRunHandlerAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&runHandler{Handler: slog.NewTextHandler(&buf, nil)})

	ctx := WithRunID(context.Background(), "abc-123")
	log.InfoContext(ctx, "run complete", "posted", 2)

	assert.Contains(t, buf.String(), "run=abc-123")
	assert.Contains(t, buf.String(), "posted=2")
	assert.Equal(t, "abc-123", RunID(ctx))
	assert.Empty(t, RunID(context.Background()))
}
