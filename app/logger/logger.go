// Package logger sets up the process-wide slog logger. Lines go to a rotated
// log file and fall back to stderr whenever the file cannot be written.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Path    string
	Verbose bool
}

// Setup installs the default slog logger and returns a closer for the log file.
func Setup(opts Options) io.Closer {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var primary io.WriteCloser = nopCloser{os.Stderr}
	if opts.Path != "" {
		primary = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    16, // MB
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
	}

	w := &FallbackWriter{Primary: primary, Fallback: os.Stderr}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(&runHandler{Handler: handler}))

	return primary
}

// FallbackWriter never reports a write error: lines the primary writer rejects
// are written to Fallback instead, and lost silently if that fails too.
type FallbackWriter struct {
	Primary  io.Writer
	Fallback io.Writer

	mu sync.Mutex
}

func (w *FallbackWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.Primary.Write(p); err == nil {
		return len(p), nil
	}
	if w.Fallback != nil {
		_, _ = w.Fallback.Write(p)
	}
	return len(p), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type runIDKey struct{}

// WithRunID tags every record logged with ctx by the default logger.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run id stored by WithRunID, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

type runHandler struct {
	slog.Handler
}

func (h *runHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RunID(ctx); id != "" {
		r.AddAttrs(slog.String("run", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	return &runHandler{Handler: h.Handler.WithGroup(name)}
}
