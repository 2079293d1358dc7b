// Copyright 2024 The kubegems.io Authors
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

package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

const metricsNamespace = "jobnet"

// Metrics counts job results. A nil *Metrics records nothing.
type Metrics struct {
	Results  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Running  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_results_total",
			Help:      "Finished jobs by result status.",
		}, []string{"subsystem", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Job run time by result status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"subsystem", "status"}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_running",
			Help:      "Jobs currently running.",
		}),
	}
	reg.MustRegister(m.Results, m.Duration, m.Running)
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.Running.Inc()
}

func (m *Metrics) finished(r ref.Reference, result job.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Running.Dec()
	status := result.Status.String()
	m.Results.WithLabelValues(r.Subsystem, status).Inc()
	m.Duration.WithLabelValues(r.Subsystem, status).Observe(elapsed.Seconds())
}
