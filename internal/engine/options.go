package engine

import (
	"time"

	"go.uber.org/zap"
)

// MetricsRecorder receives service-level measurements.
// *metrics.Manager implements it.
type MetricsRecorder interface {
	RecordDecayRun(mode string, records, failedWindows int, duration time.Duration)
	RecordBoost(kind string, n int)
	RecordBoostFailure(kind string)
	RecordSearch(status string, duration time.Duration)
	RecordEmbedCache(hit bool)
	RecordDedupRun(found, merged, skipped, failed int)
}

type nopMetrics struct{}

func (nopMetrics) RecordDecayRun(string, int, int, time.Duration) {}
func (nopMetrics) RecordBoost(string, int)                        {}
func (nopMetrics) RecordBoostFailure(string)                      {}
func (nopMetrics) RecordSearch(string, time.Duration)             {}
func (nopMetrics) RecordEmbedCache(bool)                          {}
func (nopMetrics) RecordDedupRun(int, int, int, int)              {}

// Option configures a service.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
