// Package metrics exposes engine activity as Prometheus metrics. It
// implements internal.Observer so it can be registered alongside the CLI
// observer in the broadcast fan-out (§6).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idm/internal"
)

// Collector records job lifecycle and throughput metrics.
type Collector struct {
	stateTransitions *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	bytesDownloaded  *prometheus.GaugeVec
	downloadRate     *prometheus.GaugeVec
	activeJobs       prometheus.Gauge
}

// NewCollector constructs and registers a Collector against reg, or the
// default global registry when reg is nil.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idm_job_state_transitions_total",
			Help: "Count of job state transitions by resulting state.",
		}, []string{"state"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idm_job_errors_total",
			Help: "Count of job errors by kind.",
		}, []string{"kind"}),
		bytesDownloaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idm_bytes_downloaded",
			Help: "Cumulative bytes downloaded per job.",
		}, []string{"job_id"}),
		downloadRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idm_download_rate_bytes_per_second",
			Help: "Current measured download rate per job.",
		}, []string{"job_id"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idm_active_jobs",
			Help: "Number of jobs currently in the Running state.",
		}),
	}
}

func (c *Collector) OnState(jobID string, oldStatus, newStatus internal.JobStatus) {
	c.stateTransitions.WithLabelValues(newStatus.String()).Inc()
	if newStatus == internal.StatusRunning && oldStatus != internal.StatusRunning {
		c.activeJobs.Inc()
	} else if oldStatus == internal.StatusRunning && newStatus != internal.StatusRunning {
		c.activeJobs.Dec()
	}
}

func (c *Collector) OnProgress(jobID string, downloadedBytes, totalBytes int64, rateBytesPerSec, etaSeconds float64) {
	c.downloadRate.WithLabelValues(jobID).Set(rateBytesPerSec)
	c.bytesDownloaded.WithLabelValues(jobID).Set(float64(downloadedBytes))
}

func (c *Collector) OnError(jobID string, kind internal.ErrorKind, humanMessage string) {
	c.errorsTotal.WithLabelValues(kind.String()).Inc()
}

// Handler returns the /metrics HTTP handler for the given registry, or the
// default global registry when gatherer is nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ internal.Observer = (*Collector)(nil)
