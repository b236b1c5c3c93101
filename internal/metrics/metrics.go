// Package metrics exposes engine counters over a Prometheus endpoint.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sewerwatch/sewerwatch/internal/logger"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sewerwatch_cycles_total",
		Help: "Processing cycles by outcome",
	}, []string{"outcome"})

	RecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewerwatch_records_processed_total",
		Help: "Valid sensor readings processed",
	})

	RecordsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewerwatch_records_invalid_total",
		Help: "Sensor readings rejected by validation",
	})

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sewerwatch_alerts_total",
		Help: "Alerts emitted by anomaly kind",
	}, []string{"kind"})

	WorkerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewerwatch_worker_timeouts_total",
		Help: "Batches reassigned after a worker missed its deadline",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sewerwatch_batch_duration_seconds",
		Help:    "Per-batch processing duration as reported by workers",
		Buckets: prometheus.DefBuckets,
	})
)

// Server serves /healthz and /metrics for operations tooling.
type Server struct {
	addr string
	log  *logger.Logger
}

// NewServer creates an ops server listening on addr.
func NewServer(addr string) *Server {
	return &Server{addr: addr, log: logger.New("Metrics")}
}

// Start runs the HTTP listener in a background goroutine.
func (s *Server) Start() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	go func() {
		s.log.Info("Ops endpoint listening on %s", s.addr)
		if err := http.ListenAndServe(s.addr, r); err != nil {
			s.log.Error("Ops endpoint stopped: %v", err)
		}
	}()
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
