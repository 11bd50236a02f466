// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package s3get

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes transfer counters for a set of downloads. All
// methods are nil-safe so instrumentation stays optional.
type Metrics struct {
	bytesDownloaded prometheus.Counter
	partsDownloaded prometheus.Counter
	retries         prometheus.Counter
	active          prometheus.Gauge
}

// NewMetrics registers the transfer collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		bytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s3get",
			Name:      "bytes_downloaded_total",
			Help:      "Total object bytes fetched from the store.",
		}),
		partsDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s3get",
			Name:      "parts_downloaded_total",
			Help:      "Total parts fetched successfully.",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "s3get",
			Name:      "request_retries_total",
			Help:      "Total request attempts that were retried.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "s3get",
			Name:      "active_downloads",
			Help:      "Downloads currently streaming.",
		}),
	}
}

func (m *Metrics) addBytes(n int) {
	if m != nil {
		m.bytesDownloaded.Add(float64(n))
	}
}

func (m *Metrics) incParts() {
	if m != nil {
		m.partsDownloaded.Inc()
	}
}

func (m *Metrics) incRetries() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) addActive(delta float64) {
	if m != nil {
		m.active.Add(delta)
	}
}
