package vdbgo

import (
	"log/slog"

	"github.com/hupe1980/vdbgo/coords"
)

type options struct {
	transform        *coords.Transform
	name             string
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures grid construction.
type Option func(*options)

// WithTransform sets the grid's index/world mapping. Defaults to unit
// voxels at the origin.
func WithTransform(t *coords.Transform) Option {
	return func(o *options) {
		if t != nil {
			o.transform = t
		}
	}
}

// WithVoxelSize sets a uniform-scale transform with cubic voxels of the
// given world-space size. Convenience wrapper for
// WithTransform(coords.NewUniformScaleTransform(size)).
func WithVoxelSize(size float64) Option {
	return func(o *options) {
		o.transform = coords.NewUniformScaleTransform(size)
	}
}

// WithName sets the grid's name, carried into log fields.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vdbgo.BasicMetricsCollector{}
//	grid := vdbgo.NewGrid[float32](1.0, vdbgo.WithMetricsCollector(metrics))
//	// ... use grid ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vdbgo.NewJSONLogger(slog.LevelInfo)
//	grid := vdbgo.NewGrid[float32](1.0, vdbgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		transform:        coords.NewUniformScaleTransform(1.0),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
