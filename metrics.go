package go_netdbreq

import (
	"errors"
	"fmt"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the NetDB request manager metrics.
//
// All fields are safe for concurrent use. NopMetrics discards everything and
// is what a manager uses until SetMetrics is called.
type Metrics struct {
	// Number of lookups currently in flight.
	ActiveRequests metrics.Gauge
	// Lookups created (deduplicated callers are not counted).
	CreatedRequests metrics.Counter
	// Lookups that received a record.
	ResolvedRequests metrics.Counter
	// Lookups that ran out of attempts or floodfills.
	FailedRequests metrics.Counter
	// Lookups that hit their lifetime ceiling.
	ExpiredRequests metrics.Counter
	// Queries handed to the transport.
	Attempts metrics.Counter
	// Lookups ended because no floodfill was left to ask.
	NoPeerAvailable metrics.Counter
	// Attempts spent without a usable reply path.
	ReplyPathFailures metrics.Counter
	// Attempts spent because the message builder failed.
	BuildFailures metrics.Counter
	// Transport errors reported after dispatch.
	SendErrors metrics.Counter
	// Responses for lookups no longer in flight.
	LateResponses metrics.Counter
	// Time from creation to the end of a lookup, in seconds.
	LookupDuration metrics.Histogram
}

// PrometheusMetrics returns Metrics backed by Prometheus collectors
// registered with the default registry.
func PrometheusMetrics(namespace string, labelsAndValues ...string) (*Metrics, error) {
	return PrometheusMetricsWith(stdprometheus.DefaultRegisterer, namespace, labelsAndValues...)
}

// PrometheusMetricsWith registers the collectors with reg, or the default
// registry when reg is nil. Collectors already registered under the same
// names, such as by an earlier manager in the same process, are reused.
func PrometheusMetricsWith(reg stdprometheus.Registerer, namespace string, labelsAndValues ...string) (*Metrics, error) {
	if reg == nil {
		reg = stdprometheus.DefaultRegisterer
	}
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}

	var firstErr error
	counter := func(name, help string) metrics.Counter {
		cv, err := registerCollector(reg, stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: METRICS_SUBSYSTEM,
			Name:      name,
			Help:      help,
		}, labels))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return prometheus.NewCounter(cv).With(labelsAndValues...)
	}
	active, err := registerCollector(reg, stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: METRICS_SUBSYSTEM,
		Name:      "active",
		Help:      "Number of NetDB lookups currently in flight.",
	}, labels))
	if err != nil {
		firstErr = err
	}
	duration, err := registerCollector(reg, stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: METRICS_SUBSYSTEM,
		Name:      "duration_seconds",
		Help:      "Time from creation to completion of NetDB lookups.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 30, 60},
	}, labels))
	if err != nil && firstErr == nil {
		firstErr = err
	}

	m := &Metrics{
		ActiveRequests:    prometheus.NewGauge(active).With(labelsAndValues...),
		CreatedRequests:   counter("created_total", "Number of NetDB lookups created."),
		ResolvedRequests:  counter("resolved_total", "Number of NetDB lookups resolved with a record."),
		FailedRequests:    counter("failed_total", "Number of NetDB lookups that failed."),
		ExpiredRequests:   counter("expired_total", "Number of NetDB lookups that reached their lifetime ceiling."),
		Attempts:          counter("attempts_total", "Number of lookup queries sent to floodfills."),
		NoPeerAvailable:   counter("no_peer_total", "Number of lookups ended for lack of floodfills."),
		ReplyPathFailures: counter("reply_path_failures_total", "Number of attempts without a usable reply path."),
		BuildFailures:     counter("build_failures_total", "Number of attempts where the lookup message could not be built."),
		SendErrors:        counter("send_errors_total", "Number of transport errors while sending lookups."),
		LateResponses:     counter("late_responses_total", "Number of responses for lookups no longer in flight."),
		LookupDuration:    prometheus.NewHistogram(duration).With(labelsAndValues...),
	}
	if firstErr != nil {
		return nil, fmt.Errorf("%w: metrics: %v", ErrInvalidConfiguration, firstErr)
	}
	return m, nil
}

// registerCollector registers c with reg. If an identical collector is
// already registered, that one is returned instead.
func registerCollector[C stdprometheus.Collector](reg stdprometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are stdprometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// NopMetrics returns Metrics that discard every observation.
func NopMetrics() *Metrics {
	return &Metrics{
		ActiveRequests:    discard.NewGauge(),
		CreatedRequests:   discard.NewCounter(),
		ResolvedRequests:  discard.NewCounter(),
		FailedRequests:    discard.NewCounter(),
		ExpiredRequests:   discard.NewCounter(),
		Attempts:          discard.NewCounter(),
		NoPeerAvailable:   discard.NewCounter(),
		ReplyPathFailures: discard.NewCounter(),
		BuildFailures:     discard.NewCounter(),
		SendErrors:        discard.NewCounter(),
		LateResponses:     discard.NewCounter(),
		LookupDuration:    discard.NewHistogram(),
	}
}

// observeCompletion records the end of a lookup in the outcome counter for state.
func (m *Metrics) observeCompletion(state LookupState, seconds float64) {
	switch state {
	case LookupResolved:
		m.ResolvedRequests.Add(1)
	case LookupExpired:
		m.ExpiredRequests.Add(1)
	default:
		m.FailedRequests.Add(1)
	}
	m.LookupDuration.Observe(seconds)
}
