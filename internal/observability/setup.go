package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	UpdatesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updates_processed_total",
			Help: "Inbound chat updates by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	SpamVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spam_verdicts_total",
			Help: "Anti-spam oracle verdicts by result",
		},
		[]string{"result"},
	)

	ContextsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contexts_swept_total",
			Help: "Expired conversation contexts removed by the sweeper",
		},
	)

	UpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "update_processing_duration_seconds",
			Help:    "Time spent processing one update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Init registers metrics and exposes /metrics on addr (empty disables the
// listener, e.g. in tests).
func Init(addr string) {
	prometheus.MustRegister(UpdatesProcessed, SpamVerdicts, ContextsSwept, UpdateDuration)

	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()
}
