package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusOK labels a successful deployment.
const StatusOK = "ok"

// Rollback results.
const (
	RollbackRestored   = "restored"
	RollbackIncomplete = "incomplete"
)

// DeployMetrics captures deployment outcomes.
type DeployMetrics interface {
	// ObserveDeploy records a finished deployment; status is StatusOK or an error kind.
	ObserveDeploy(status string, duration time.Duration)
	// IncRollback records a snapshot restore and its result.
	IncRollback(result string)
}

// HTTPMetrics captures request metrics of the HTTP boundary.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, duration time.Duration)
}

// Noop implements DeployMetrics and HTTPMetrics without emitting anything.
type Noop struct{}

func (Noop) ObserveDeploy(string, time.Duration)                  {}
func (Noop) IncRollback(string)                                   {}
func (Noop) ObserveRequest(string, string, string, time.Duration) {}

// Prom implements DeployMetrics and HTTPMetrics backed by Prometheus collectors.
type Prom struct {
	// deploys counts deployments by status.
	deploys *prometheus.CounterVec
	// deployDuration observes deployment latency.
	deployDuration prometheus.Histogram
	// rollbacks counts restores by result.
	rollbacks *prometheus.CounterVec
	// requests counts HTTP requests by method, route and status.
	requests *prometheus.CounterVec
	// latency observes HTTP latency by method and route.
	latency *prometheus.HistogramVec
	// once guards registration.
	once sync.Once
}

// NewProm creates the collectors under namespace and registers them with registerer.
func NewProm(namespace string, registerer prometheus.Registerer) *Prom {
	p := &Prom{
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Deployments by status",
		}, []string{"status"}),
		deployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Deployment latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Snapshot restores by result",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	p.once.Do(func() {
		registerer.MustRegister(p.deploys, p.deployDuration, p.rollbacks, p.requests, p.latency)
	})

	return p
}

func (p *Prom) ObserveDeploy(status string, duration time.Duration) {
	p.deploys.WithLabelValues(status).Inc()
	p.deployDuration.Observe(duration.Seconds())
}

func (p *Prom) IncRollback(result string) {
	p.rollbacks.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for /metrics serving gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
