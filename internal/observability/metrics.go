package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	registerOnce sync.Once

	sanctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngwarden_sanctions_total",
			Help: "Sanctions applied, by action and source",
		},
		[]string{"action", "source"},
	)

	sanctionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngwarden_sanction_failures_total",
			Help: "Sanctions that failed, by action and error kind",
		},
		[]string{"action", "kind"},
	)

	adminCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngwarden_admin_cache_total",
			Help: "Admin cache lookups by result",
		},
		[]string{"result"},
	)

	updateProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ngwarden_update_processing_seconds",
			Help:    "Time spent processing a single update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// RegisterMetrics adds the collectors to the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sanctionsTotal,
			sanctionFailuresTotal,
			adminCacheTotal,
			updateProcessingDuration,
		)
	})
}

func RecordSanction(action, source string) {
	sanctionsTotal.WithLabelValues(action, source).Inc()
}

func RecordSanctionFailure(action, kind string) {
	sanctionFailuresTotal.WithLabelValues(action, kind).Inc()
}

func RecordAdminCache(result string) {
	adminCacheTotal.WithLabelValues(result).Inc()
}

// StartUpdateProcessing returns a func that observes the elapsed time under
// the given status label.
func StartUpdateProcessing() func(status string) {
	start := time.Now()
	return func(status string) {
		updateProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

// MetricsServer serves /metrics as a lifecycle component.
type MetricsServer struct {
	addr   string
	server *http.Server
	wg     sync.WaitGroup
}

func NewMetricsServer(addr string) *MetricsServer {
	return &MetricsServer{addr: addr}
}

func (m *MetricsServer) Start(ctx context.Context) error {
	RegisterMetrics()
	if m.addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("object", "MetricsServer").WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("object", "MetricsServer").WithField("addr", m.addr).Info("serving metrics")
	return nil
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	err := m.server.Shutdown(ctx)
	m.wg.Wait()
	return err
}
