// Copyright Project Flowplane Authors
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

// Package metrics provides Prometheus metrics for the control plane.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the control plane metric instruments.
type Metrics struct {
	connectedStreams prometheus.Gauge
	responsesTotal   *prometheus.CounterVec
	nacksTotal       *prometheus.CounterVec
	cacheVersion     prometheus.Gauge
	refreshDuration  *prometheus.HistogramVec

	Registry *prometheus.Registry
}

const (
	connectedStreamsGauge = "flowplane_xds_connected_streams"
	responsesTotalCounter = "flowplane_xds_responses_total"
	nacksTotalCounter     = "flowplane_xds_nacks_total"
	cacheVersionGauge     = "flowplane_cache_version"
	refreshDurationHist   = "flowplane_refresh_duration_seconds"
)

// NewMetrics creates the metric instruments and registers them with the
// supplied registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registry: registry,
		connectedStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: connectedStreamsGauge,
			Help: "Number of currently connected discovery streams.",
		}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: responsesTotalCounter,
			Help: "Total discovery responses sent, by type URL.",
		}, []string{"type_url"}),
		nacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: nacksTotalCounter,
			Help: "Total NACKed discovery responses, by type URL.",
		}, []string{"type_url"}),
		cacheVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: cacheVersionGauge,
			Help: "Current resource cache version.",
		}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    refreshDurationHist,
			Help:    "Duration of cache refresh runs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.connectedStreams,
		m.responsesTotal,
		m.nacksTotal,
		m.cacheVersion,
		m.refreshDuration,
	)
	return m
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.connectedStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.connectedStreams.Dec()
}

func (m *Metrics) ResponseSent(typeURL string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(typeURL).Inc()
}

func (m *Metrics) NACKReceived(typeURL string) {
	if m == nil {
		return
	}
	m.nacksTotal.WithLabelValues(typeURL).Inc()
}

func (m *Metrics) SetCacheVersion(version int64) {
	if m == nil {
		return
	}
	m.cacheVersion.Set(float64(version))
}

func (m *Metrics) ObserveRefresh(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.refreshDuration.WithLabelValues(result).Observe(d.Seconds())
}
