package vdbgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with grid-specific context. This provides
// structured logging with consistent field names across subsystems.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithGrid adds a grid-name field to the logger.
func (l *Logger) WithGrid(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("grid", name),
	}
}

// WithLeafCount adds a leaf-count field to the logger.
func (l *Logger) WithLeafCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("leaves", count),
	}
}

// LogRasterize logs a rasterization pass.
func (l *Logger) LogRasterize(ctx context.Context, points int, activeVoxels int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rasterize failed",
			"points", points,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "rasterize completed",
			"points", points,
			"active_voxels", activeVoxels,
		)
	}
}

// LogMove logs a point-move pass.
func (l *Logger) LogMove(ctx context.Context, points, leaves, stolen int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "move failed",
			"leaves", leaves,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "move completed",
			"points", points,
			"leaves", leaves,
			"stolen", stolen,
		)
	}
}

// LogMerge logs a point-grid merge.
func (l *Logger) LogMerge(ctx context.Context, points int, stolenLeaves, mergedLeaves int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "merge completed",
			"points", points,
			"stolen_leaves", stolenLeaves,
			"merged_leaves", mergedLeaves,
		)
	}
}

// LogPrune logs a prune pass.
func (l *Logger) LogPrune(grid string, leaves int) {
	l.Debug("prune completed",
		"grid", grid,
		"leaves", leaves,
	)
}
