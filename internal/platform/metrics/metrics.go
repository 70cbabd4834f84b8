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

const namespace = "luckywheel"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	poolWidth  prometheus.Gauge
	activeJobs prometheus.Gauge
	queuedJobs prometheus.Gauge

	jobs         *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	rejected     *prometheus.CounterVec
	challenge    *prometheus.CounterVec
	batchesTotal *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		poolWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_width",
			Help: "Number of jobs that may run at once.",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_active",
			Help: "Jobs currently holding a pool slot.",
		}),
		queuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_queued",
			Help: "Jobs waiting for a pool slot.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total",
			Help: "Finished jobs by site, mode and outcome.",
		}, []string{"site", "mode", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Wall time of a job from slot acquisition to outcome.",
			Buckets: []float64{5, 10, 20, 40, 60, 90, 120, 180, 300},
		}, []string{"site", "mode"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_rejected_total",
			Help: "Batches refused at admission by reason.",
		}, []string{"reason"}),
		challenge: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "challenge_extractions_total",
			Help: "Challenge text extraction calls by result.",
		}, []string{"result"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_total",
			Help: "Admitted batches by requester class.",
		}, []string{"class"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.poolWidth, m.activeJobs, m.queuedJobs,
		m.jobs, m.jobDuration, m.rejected, m.challenge, m.batchesTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetPoolWidth(n int) {
	if m == nil {
		return
	}
	m.poolWidth.Set(float64(n))
}

func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.queuedJobs.Inc()
}

// JobStarted moves one job from queued to active.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.queuedJobs.Dec()
	m.activeJobs.Inc()
}

func (m *Metrics) JobAbandoned() {
	if m == nil {
		return
	}
	m.queuedJobs.Dec()
}

// JobReleased frees the slot taken by JobStarted.
func (m *Metrics) JobReleased() {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
}

func (m *Metrics) JobFinished(site, mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(site, mode, outcome).Inc()
	m.jobDuration.WithLabelValues(site, mode).Observe(elapsed.Seconds())
}

func (m *Metrics) BatchAdmitted(privileged bool) {
	if m == nil {
		return
	}
	class := "ordinary"
	if privileged {
		class = "privileged"
	}
	m.batchesTotal.WithLabelValues(class).Inc()
}

func (m *Metrics) BatchRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChallengeExtraction(result string) {
	if m == nil {
		return
	}
	m.challenge.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
