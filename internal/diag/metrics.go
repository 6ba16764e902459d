/*
Copyright the Sonobuoy contributors 2019

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

// Package diag serves the local diagnostic HTTP surface named but left
// undefined by spec.md §6's DEVICE_API_PORT option (SPEC_FULL.md §D.2):
// /healthz, Prometheus /metrics, and a /debug/state snapshot dump.
//
// Grounded on the teacher's pkg/plugin/aggregation/server.go mux-plus-
// stop-channel shape, rebuilt around gorilla/mux and
// prometheus/client_golang per the domain-stack table in SPEC_FULL.md §B.
package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are package-level so every component that instruments itself —
// the reconciler, the probe manager, the cloud poller — can increment
// them directly without importing a supervisor-wide registry type.
var (
	ReconcilePassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_reconcile_passes_total",
		Help: "Total number of reconciliation passes run.",
	})

	ReconcileStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_reconcile_steps_total",
		Help: "Total number of reconciliation steps executed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	ProbeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_probe_events_total",
		Help: "Total number of health probe events emitted, by kind.",
	}, []string{"kind"})

	ShadowPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_shadow_publishes_total",
		Help: "Total number of shadow documents published.",
	})

	CloudPollFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_cloud_poll_failures_total",
		Help: "Total number of failed cloud API calls, by loop.",
	}, []string{"loop"})

	JobsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_jobs_executed_total",
		Help: "Total number of jobs executed, by terminal status.",
	}, []string{"status"})
)
