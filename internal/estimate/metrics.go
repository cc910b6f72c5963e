package estimate

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedEstimator wraps an Estimator and records request outcomes and
// latency.
type InstrumentedEstimator struct {
	inner    Estimator
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewInstrumented registers the estimator metrics with reg and returns the
// wrapped estimator.
func NewInstrumented(inner Estimator, reg prometheus.Registerer) *InstrumentedEstimator {
	e := &InstrumentedEstimator{
		inner: inner,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estimator_requests_total",
			Help: "Estimation requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "estimator_request_duration_seconds",
			Help:    "Time spent waiting for the estimation service.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(e.requests, e.duration)
	}
	return e
}

// Estimate implements Estimator.
func (e *InstrumentedEstimator) Estimate(ctx context.Context, sub Submission) (*Result, error) {
	start := time.Now()
	result, err := e.inner.Estimate(ctx, sub)
	e.duration.Observe(time.Since(start).Seconds())
	e.requests.WithLabelValues(outcomeLabel(err)).Inc()
	return result, err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}
