/*
Copyright 2025 The Kubernetes Authors.

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

// Package metrics holds the Prometheus metrics of the host agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proxmox_cpupin"

const (
	// ResultSuccess labels a reconcile that applied every binding.
	ResultSuccess = "success"
	// ResultSkipped labels a reconcile without changes.
	ResultSkipped = "skipped"
	// ResultError labels a failed reconcile.
	ResultError = "error"
)

// Metrics of the host agent.
type Metrics struct {
	registry *prometheus.Registry

	Reconciles      *prometheus.CounterVec
	PinnedThreads   *prometheus.GaugeVec
	ReconcileTime   prometheus.Histogram
	IRQAffinityErrs prometheus.Counter
}

// New registers the agent metrics in a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vm_reconciles_total",
			Help:      "Number of VM reconciles by result.",
		}, []string{"result"}),
		PinnedThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vm_pinned_vcpu_threads",
			Help:      "Number of vCPU threads bound to a single logical core.",
		}, []string{"vmid"}),
		ReconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vm_reconcile_duration_seconds",
			Help:      "Duration of VM reconciles.",
			Buckets:   prometheus.DefBuckets,
		}),
		IRQAffinityErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irq_affinity_errors_total",
			Help:      "Number of failed IRQ affinity updates.",
		}),
	}

	m.registry.MustRegister(m.Reconciles, m.PinnedThreads, m.ReconcileTime, m.IRQAffinityErrs)

	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
