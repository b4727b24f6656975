/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/globalprobe/ntpmon/ntp/probe"
)

const metricsNamespace = "ntpmon"

// Stats is a metric collection interface
type Stats interface {
	// IncOutcome atomically add 1 to the counter of the given outcome kind
	IncOutcome(kind probe.Kind)
	// ObserveSuccess records offset and delay of a successful probe, in seconds
	ObserveSuccess(offset, delay float64)
	// IncRounds atomically add 1 to the rounds counter
	IncRounds()
	// SetRoundDuration sets how long the last round took
	SetRoundDuration(d time.Duration)
	// SetWindowDuration sets length of the current window
	SetWindowDuration(d time.Duration)
	// SetTargets sets number of targets in the current round
	SetTargets(n int)
	// IncSinkErrors atomically add 1 to the sink errors counter
	IncSinkErrors()
	// IncTargetErrors atomically add 1 to the target source errors counter
	IncTargetErrors()
	// IncOverruns atomically add 1 to the window overrun counter
	IncOverruns()
}

// PromStats implements Stats on top of a private prometheus registry
type PromStats struct {
	registry       *prometheus.Registry
	outcomes       *prometheus.CounterVec
	offsets        prometheus.Histogram
	delays         prometheus.Histogram
	rounds         prometheus.Counter
	roundDuration  prometheus.Gauge
	windowDuration prometheus.Gauge
	targets        prometheus.Gauge
	sinkErrors     prometheus.Counter
	targetErrors   prometheus.Counter
	overruns       prometheus.Counter
}

// NewPromStats creates PromStats with all metrics registered
func NewPromStats() *PromStats {
	s := &PromStats{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_total",
			Help:      "Probe outcomes by kind",
		}, []string{"kind"}),
		offsets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "offset_seconds",
			Help:      "Measured clock offset",
			Buckets:   []float64{-1, -0.1, -0.01, -0.001, -0.0001, 0, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		delays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "delay_seconds",
			Help:      "Measured round trip delay",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
		}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_total",
			Help:      "Completed probe rounds",
		}),
		roundDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "round_duration_seconds",
			Help:      "How long the last probe round took",
		}),
		windowDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "window_duration_seconds",
			Help:      "Length of the current probe window",
		}),
		targets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "targets",
			Help:      "Number of targets in the current round",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sink_errors_total",
			Help:      "Failed result writes",
		}),
		targetErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "target_errors_total",
			Help:      "Failed target list fetches",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "overruns_total",
			Help:      "Probe rounds that did not fit into their window",
		}),
	}
	s.registry.MustRegister(
		s.outcomes,
		s.offsets,
		s.delays,
		s.rounds,
		s.roundDuration,
		s.windowDuration,
		s.targets,
		s.sinkErrors,
		s.targetErrors,
		s.overruns,
		newSysCollector(),
	)
	return s
}

// IncOutcome atomically add 1 to the counter of the given outcome kind
func (s *PromStats) IncOutcome(kind probe.Kind) {
	s.outcomes.WithLabelValues(kind.String()).Inc()
}

// ObserveSuccess records offset and delay of a successful probe
func (s *PromStats) ObserveSuccess(offset, delay float64) {
	s.offsets.Observe(offset)
	s.delays.Observe(delay)
}

// IncRounds atomically add 1 to the rounds counter
func (s *PromStats) IncRounds() {
	s.rounds.Inc()
}

// SetRoundDuration sets how long the last round took
func (s *PromStats) SetRoundDuration(d time.Duration) {
	s.roundDuration.Set(d.Seconds())
}

// SetWindowDuration sets length of the current window
func (s *PromStats) SetWindowDuration(d time.Duration) {
	s.windowDuration.Set(d.Seconds())
}

// SetTargets sets number of targets in the current round
func (s *PromStats) SetTargets(n int) {
	s.targets.Set(float64(n))
}

// IncSinkErrors atomically add 1 to the sink errors counter
func (s *PromStats) IncSinkErrors() {
	s.sinkErrors.Inc()
}

// IncTargetErrors atomically add 1 to the target source errors counter
func (s *PromStats) IncTargetErrors() {
	s.targetErrors.Inc()
}

// IncOverruns atomically add 1 to the window overrun counter
func (s *PromStats) IncOverruns() {
	s.overruns.Inc()
}

// Handler returns http handler exposing the metrics
func (s *PromStats) Handler() http.Handler {
	return promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	)
}

// Start serves metrics over http on the given port. It only returns on error.
func (s *PromStats) Start(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Infof("Starting prometheus exporter on %s", addr)
	return http.ListenAndServe(addr, mux)
}
