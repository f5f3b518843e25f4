// Package metrics exposes Prometheus collectors for the transfer pipeline and
// the HTTP server that serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupshare"

var (
	registry = prometheus.NewRegistry()

	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Transfer operations by operation and outcome.",
	}, []string{"op", "outcome"})

	transferDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_duration_seconds",
		Help:      "End-to-end transfer saga duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"op"})

	storeRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_retries_total",
		Help:      "Content store requests retried after a transient failure.",
	}, []string{"op"})

	orphanedBlobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_blobs_total",
		Help:      "Blobs uploaded to the content store whose ledger record was not written.",
	})

	serviceInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_info",
		Help:      "Always 1, labelled with the service name.",
	}, []string{"service"})

	ledgerCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_calls_total",
		Help:      "Ledger calls and views by method and status.",
	}, []string{"method", "status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		transfersTotal,
		transferDuration,
		storeRetriesTotal,
		orphanedBlobsTotal,
		ledgerCallsTotal,
		serviceInfo,
	)
}

// RecordTransfer counts a finished transfer saga and observes its duration.
func RecordTransfer(op, outcome string, duration time.Duration) {
	transfersTotal.WithLabelValues(op, outcome).Inc()
	transferDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncStoreRetry counts one retried content store request.
func IncStoreRetry(op string) {
	storeRetriesTotal.WithLabelValues(op).Inc()
}

// IncOrphanedBlob counts a blob left in the store without a ledger record.
func IncOrphanedBlob() {
	orphanedBlobsTotal.Inc()
}

// IncLedgerCall counts a ledger interaction.
func IncLedgerCall(method, status string) {
	ledgerCallsTotal.WithLabelValues(method, status).Inc()
}

// Registry returns the registry all collectors are registered with.
func Registry() *prometheus.Registry {
	return registry
}

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the named service listening on addr.
func New(service, addr string) (*MetricsServer, error) {
	if addr == "" {
		return nil, errors.New("metrics address is empty")
	}

	serviceInfo.WithLabelValues(service).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
