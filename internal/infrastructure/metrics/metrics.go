// Package metrics exposes prometheus collectors for replication and the
// sale/return workflows.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "poscore"

var replicationStates = []string{"idle", "active", "paused", "stopped", "failed"}

// Metrics holds every collector of the process.
type Metrics struct {
	syncDocuments *prometheus.CounterVec
	syncFailures  *prometheus.CounterVec
	syncRetries   prometheus.Counter
	syncState     *prometheus.GaugeVec

	sales        *prometheus.CounterVec
	returns      *prometheus.CounterVec
	stockChanges *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// New creates and registers the collectors with reg, or with the default
// registerer when reg is nil. Collectors already registered under the same
// name are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		syncDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_documents_total",
			Help:      "Documents transferred by replication.",
		}, []string{"collection", "direction"}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Failed replication runs.",
		}, []string{"collection", "terminal"}),
		syncRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_total",
			Help:      "Retried replication calls.",
		}),
		syncState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_state",
			Help:      "Current live replication state (1 for the active state).",
		}, []string{"state"}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Sale transactions by outcome.",
		}, []string{"outcome"}),
		returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Returns by outcome.",
		}, []string{"outcome"}),
		stockChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_changes_total",
			Help:      "Stock deltas applied to items.",
		}, []string{"kind", "direction"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_cache_lookups_total",
			Help:      "List projection cache lookups.",
		}, []string{"collection", "result"}),
	}

	var err error
	m.syncDocuments, err = register(reg, m.syncDocuments)
	if err != nil {
		return nil, err
	}
	m.syncFailures, err = register(reg, m.syncFailures)
	if err != nil {
		return nil, err
	}
	m.syncRetries, err = register(reg, m.syncRetries)
	if err != nil {
		return nil, err
	}
	m.syncState, err = register(reg, m.syncState)
	if err != nil {
		return nil, err
	}
	m.sales, err = register(reg, m.sales)
	if err != nil {
		return nil, err
	}
	m.returns, err = register(reg, m.returns)
	if err != nil {
		return nil, err
	}
	m.stockChanges, err = register(reg, m.stockChanges)
	if err != nil {
		return nil, err
	}
	m.cacheLookups, err = register(reg, m.cacheLookups)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(C)
			if !ok {
				return c, fmt.Errorf("metrics: unexpected collector type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return c, err
	}
	return c, nil
}

// SyncCompleted records the documents moved for one collection.
func (m *Metrics) SyncCompleted(collection string, pushed, pulled int) {
	m.syncDocuments.WithLabelValues(collection, "push").Add(float64(pushed))
	m.syncDocuments.WithLabelValues(collection, "pull").Add(float64(pulled))
}

// SyncFailed records a failed sync of collection.
func (m *Metrics) SyncFailed(collection string, terminal bool) {
	label := "false"
	if terminal {
		label = "true"
	}
	m.syncFailures.WithLabelValues(collection, label).Inc()
}

// RetryAttempt records one retried replication call.
func (m *Metrics) RetryAttempt() {
	m.syncRetries.Inc()
}

// StateChanged marks state as the current live replication state.
func (m *Metrics) StateChanged(state string) {
	for _, s := range replicationStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.syncState.WithLabelValues(s).Set(v)
	}
}

// SaleRecorded counts a sale by outcome: completed, rejected or partial.
func (m *Metrics) SaleRecorded(outcome string) {
	m.sales.WithLabelValues(outcome).Inc()
}

// ReturnRecorded counts a return by outcome.
func (m *Metrics) ReturnRecorded(outcome string) {
	m.returns.WithLabelValues(outcome).Inc()
}

// StockApplied counts a stock delta by stock kind and sign.
func (m *Metrics) StockApplied(kind string, negative bool) {
	direction := "in"
	if negative {
		direction = "out"
	}
	m.stockChanges.WithLabelValues(kind, direction).Inc()
}

// CacheLookup counts a projection cache hit or miss.
func (m *Metrics) CacheLookup(collection string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(collection, result).Inc()
}
