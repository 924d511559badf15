package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes metric names when Config.Namespace is empty.
const DefaultNamespace = "fetchmock"

// Result labels.
const (
	ResultMatched   = "matched"
	ResultUnmatched = "unmatched"
	ResultError     = "error"
	ResultAborted   = "aborted"
)

var (
	// ErrInvalidMetricName indicates a namespace that does not match the supported format.
	ErrInvalidMetricName = errors.New("metric name is invalid")

	// ErrRegister is returned when a collector cannot be registered.
	ErrRegister = errors.New("failed to register collector")

	isMetricNameValid = regexp.MustCompile(`^[a-zA-Z0-9_:][a-zA-Z0-9_:]*$`)
)

// Config controls where and under which namespace collectors are registered.
type Config struct {
	// Namespace prefixes every metric name. Defaults to DefaultNamespace.
	Namespace string

	// Registerer receives the collectors. Defaults to a private registry.
	Registerer prometheus.Registerer
}

// Recorder holds the fetchmock collectors.
type Recorder struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	gatherer prometheus.Gatherer
}

// New creates a Recorder and registers its collectors.
func New(config Config) (*Recorder, error) {
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if !isMetricNameValid.MatchString(namespace) {
		return nil, ErrInvalidMetricName
	}

	r := &Recorder{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls handled, by serving route and result.",
		}, []string{"route", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from a call being made to its response or error.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Calls currently being dispatched.",
		}),
	}

	reg := config.Registerer
	if reg == nil {
		registry := prometheus.NewRegistry()
		reg, r.gatherer = registry, registry
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		r.gatherer = g
	}

	for _, c := range []prometheus.Collector{r.calls, r.duration, r.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegister, err)
		}
	}
	return r, nil
}

// Gatherer returns the registry the collectors were registered on, when it
// can be gathered from.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.gatherer
}

// ObserveCall records a finished call.
func (r *Recorder) ObserveCall(route, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(route, result).Inc()
	r.duration.WithLabelValues(result).Observe(d.Seconds())
}

// TrackInflight marks a call as in flight and returns the func ending it.
func (r *Recorder) TrackInflight() func() {
	if r == nil {
		return func() {}
	}
	r.inflight.Inc()
	return r.inflight.Dec
}
