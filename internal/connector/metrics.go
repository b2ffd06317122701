// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks adapter executions for local observability.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	blocked    *prometheus.CounterVec
}

// NewMetrics creates and registers the connector metrics on reg.
// A nil registerer disables registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semblance",
			Subsystem: "connector",
			Name:      "executions_total",
			Help:      "Adapter executions by connector, action, and outcome.",
		}, []string{"connector", "action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semblance",
			Subsystem: "connector",
			Name:      "execution_duration_seconds",
			Help:      "Adapter execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"connector", "action"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semblance",
			Subsystem: "connector",
			Name:      "blocked_connections_total",
			Help:      "Outbound connections refused by the allowlist.",
		}, []string{"connector"}),
	}

	if reg != nil {
		reg.MustRegister(m.executions, m.duration, m.blocked)
	}
	return m
}

// RecordExecution records one adapter execution.
func (m *Metrics) RecordExecution(connector string, action Action, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.executions.WithLabelValues(connector, string(action), outcome).Inc()
	m.duration.WithLabelValues(connector, string(action)).Observe(elapsed.Seconds())
}

// RecordBlocked records an allowlist refusal.
func (m *Metrics) RecordBlocked(connector string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(connector).Inc()
}
