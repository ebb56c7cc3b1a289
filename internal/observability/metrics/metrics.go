// Package metrics provides Prometheus instrumentation for verify-bytecode.
// A verification run is a short-lived batch job, so results are pushed to a
// Pushgateway instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run describes one verification run for metric labels and values
type Run struct {
	Contract       string
	Address        string
	Source         string // "explorer" or "rpc"
	IgnoreMetadata bool
	Match          bool
	MatchType      string
	OnChainLength  int
	LocalLength    int
	Duration       time.Duration
}

// Recorder holds the run metrics in a private registry
type Recorder struct {
	registry *prometheus.Registry

	match        *prometheus.GaugeVec
	length       *prometheus.GaugeVec
	duration     *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
	verification *prometheus.CounterVec
}

// NewRecorder creates a Recorder with all metrics registered
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		match: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bytecode_verification_match",
				Help: "1 if the deployed bytecode matched the local build, 0 otherwise",
			},
			[]string{"contract", "address", "match_type"},
		),

		length: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bytecode_verification_bytecode_length",
				Help: "Compared bytecode length in hex characters",
			},
			[]string{"contract", "address", "side"},
		),

		duration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bytecode_verification_duration_seconds",
				Help: "Duration of the last verification run",
			},
			[]string{"contract", "address", "source"},
		),

		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bytecode_verification_last_run_timestamp_seconds",
				Help: "Unix time of the last verification run",
			},
			[]string{"contract", "address"},
		),

		verification: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytecode_verification_total",
				Help: "Total number of verification runs",
			},
			[]string{"result", "ignore_metadata"},
		),
	}
}

// Observe records the outcome of a run
func (r *Recorder) Observe(run Run) {
	matchValue := 0.0
	result := "mismatch"
	if run.Match {
		matchValue = 1
		result = "match"
	}

	r.match.WithLabelValues(run.Contract, run.Address, run.MatchType).Set(matchValue)
	r.length.WithLabelValues(run.Contract, run.Address, "onchain").Set(float64(run.OnChainLength))
	r.length.WithLabelValues(run.Contract, run.Address, "local").Set(float64(run.LocalLength))
	r.duration.WithLabelValues(run.Contract, run.Address, run.Source).Set(run.Duration.Seconds())
	r.lastRun.WithLabelValues(run.Contract, run.Address).SetToCurrentTime()
	r.verification.WithLabelValues(result, fmt.Sprintf("%t", run.IgnoreMetadata)).Inc()
}

// Registry returns the registry holding the run metrics
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Push sends the recorded metrics to the Pushgateway at url under job,
// grouped by target so each contract keeps its own last result.
func (r *Recorder) Push(ctx context.Context, url, job, contract string) error {
	err := push.New(url, job).
		Gatherer(r.registry).
		Grouping("target", contract).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
