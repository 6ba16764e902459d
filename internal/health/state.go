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

// Package health implements the per-container probe FSM of spec.md §4.3:
// up to three probes (liveness, readiness, startup) per container, each
// independently scheduled and independently tracking consecutive
// success/failure counts.
package health

import (
	"time"

	"github.com/edgecore/supervisor/internal/model"
)

// Status is the probe FSM's state.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// probeState is the live FSM for one registered probe.
type probeState struct {
	kind    string // "liveness", "readiness", "startup"
	spec    model.HealthProbe
	status  Status

	consecutiveSuccesses int
	consecutiveFailures  int

	nextCheck time.Time
}

// transition applies the outcome of one check and reports whether Status
// changed, per spec.md §4.3's threshold rules.
func (p *probeState) transition(ok bool, now time.Time) (changed bool) {
	prev := p.status
	if ok {
		p.consecutiveSuccesses++
		p.consecutiveFailures = 0
		if p.consecutiveSuccesses >= successThreshold(p.spec) {
			p.status = StatusHealthy
		}
	} else {
		p.consecutiveFailures++
		p.consecutiveSuccesses = 0
		if p.consecutiveFailures >= failureThreshold(p.spec) {
			p.status = StatusUnhealthy
		}
	}
	p.nextCheck = now.Add(time.Duration(p.spec.Timing.PeriodSeconds) * time.Second)
	return p.status != prev
}

func successThreshold(spec model.HealthProbe) int {
	if spec.Timing.SuccessThreshold > 0 {
		return spec.Timing.SuccessThreshold
	}
	return 1
}

func failureThreshold(spec model.HealthProbe) int {
	if spec.Timing.FailureThreshold > 0 {
		return spec.Timing.FailureThreshold
	}
	return 3
}

// containerProbes holds the FSM state for one container's registered
// probes and its startup gate.
type containerProbes struct {
	containerID string
	serviceName string
	containerIP string

	liveness  *probeState
	readiness *probeState
	startup   *probeState

	isStarted bool
}

func newContainerProbes(containerID, serviceName, containerIP string, cfg model.ServiceConfig, now time.Time) *containerProbes {
	cp := &containerProbes{containerID: containerID, serviceName: serviceName, containerIP: containerIP}

	if cfg.Startup != nil {
		cp.startup = &probeState{kind: "startup", spec: *cfg.Startup, status: StatusUnknown,
			nextCheck: now.Add(time.Duration(cfg.Startup.Timing.InitialDelaySeconds) * time.Second)}
	} else {
		cp.isStarted = true
	}
	if cfg.Liveness != nil {
		cp.liveness = &probeState{kind: "liveness", spec: *cfg.Liveness, status: StatusUnknown,
			nextCheck: now.Add(time.Duration(cfg.Liveness.Timing.InitialDelaySeconds) * time.Second)}
	}
	if cfg.Readiness != nil {
		cp.readiness = &probeState{kind: "readiness", spec: *cfg.Readiness, status: StatusUnknown,
			nextCheck: now.Add(time.Duration(cfg.Readiness.Timing.InitialDelaySeconds) * time.Second)}
	}
	return cp
}
