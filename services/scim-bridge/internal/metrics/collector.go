// Package metrics exports the provisioning counters kept by the identity
// store in the Prometheus text format.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stoik/mailbridge/internal/models"
)

// DefaultReadTimeout bounds the counter read done on each scrape.
const DefaultReadTimeout = 5 * time.Second

// CounterSource is satisfied by store.Store.
type CounterSource interface {
	Counters(ctx context.Context) ([]models.Counter, error)
}

// Collector reads the durable counters on every scrape instead of keeping
// process-local values, so restarts and multiple replicas report the same
// totals.
type Collector struct {
	source  CounterSource
	timeout time.Duration
	logger  *slog.Logger
	descs   map[string]*prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(source CounterSource, logger *slog.Logger) *Collector {
	descs := make(map[string]*prometheus.Desc, len(models.CounterNames))
	for _, name := range models.CounterNames {
		descs[name] = prometheus.NewDesc(name, "SCIM metric for "+name, nil, nil)
	}
	return &Collector{
		source:  source,
		timeout: DefaultReadTimeout,
		logger:  logger,
		descs:   descs,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, name := range models.CounterNames {
		ch <- c.descs[name]
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counters, err := c.source.Counters(ctx)
	if err != nil {
		c.logger.Error("failed to read counters", "error", err)
		for _, name := range models.CounterNames {
			ch <- prometheus.NewInvalidMetric(c.descs[name], err)
		}
		return
	}

	for _, counter := range counters {
		desc, ok := c.descs[counter.Name]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(counter.Value))
	}
}

// NewRegistry returns a registry holding only the provisioning counters.
func NewRegistry(source CounterSource, logger *slog.Logger) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source, logger)); err != nil {
		return nil, err
	}
	return reg, nil
}
