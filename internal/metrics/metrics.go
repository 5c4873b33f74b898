package metrics

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog"

	"github.com/kartoza/renewal-predictor/internal/config"
)

// Metric names
const (
	PartProcessed = "part.processed"
	PartLatency   = "part.latency"
	PartBytes     = "part.bytes"
	RequestStatus = "request.status"
	PoolQueued    = "pool.queued"
)

// Recorder emits statsd metrics. Errors are logged and never returned so
// metrics can not fail a request.
type Recorder struct {
	client statsd.ClientInterface
	logger zerolog.Logger
}

// New dials the configured statsd agent, or returns a no-op recorder when
// no address is set
func New(cfg config.MetricsConfig, logger zerolog.Logger) (*Recorder, error) {
	if cfg.Address == "" {
		return NewWithClient(&statsd.NoOpClient{}, logger), nil
	}
	client, err := statsd.New(cfg.Address,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing statsd client
func NewWithClient(client statsd.ClientInterface, logger zerolog.Logger) *Recorder {
	return &Recorder{client: client, logger: logger}
}

// Count increments a counter
func (r *Recorder) Count(name string, value int64, tags []string) {
	if err := r.client.Count(name, value, tags, 1); err != nil {
		r.logger.Warn().Err(err).Str("metric", name).Msg("statsd count failed")
	}
}

// Timing records a duration
func (r *Recorder) Timing(name string, value time.Duration, tags []string) {
	if err := r.client.Timing(name, value, tags, 1); err != nil {
		r.logger.Warn().Err(err).Str("metric", name).Msg("statsd timing failed")
	}
}

// Gauge records a point-in-time value
func (r *Recorder) Gauge(name string, value float64, tags []string) {
	if err := r.client.Gauge(name, value, tags, 1); err != nil {
		r.logger.Warn().Err(err).Str("metric", name).Msg("statsd gauge failed")
	}
}

// Close flushes and closes the client
func (r *Recorder) Close() error {
	return r.client.Close()
}
