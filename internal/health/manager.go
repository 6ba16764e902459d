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

package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/runtime"
)

// Manager tracks the probe FSM for every started container and drives
// checks on a fixed tick, following the mutex-guarded-map-plus-event-
// channel shape of the teacher's result aggregator.
type Manager struct {
	rt      runtime.Adapter
	checker *checker
	log     *logrus.Entry

	mu         sync.Mutex
	containers map[string]*containerProbes

	events chan Event
}

// NewManager builds a Manager. The events channel is buffered generously
// so a slow consumer never blocks a probe tick.
func NewManager(rt runtime.Adapter, log *logrus.Entry) *Manager {
	return &Manager{
		rt:         rt,
		checker:    newChecker(rt),
		log:        log,
		containers: map[string]*containerProbes{},
		events:     make(chan Event, 64),
	}
}

// Events returns the channel Outputs are published on.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Register begins probing a newly started container, per the "up to three
// probes" registration step of spec.md §4.3.
func (m *Manager) Register(containerID, serviceName string, cfg model.ServiceConfig, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[containerID] = newContainerProbes(containerID, serviceName, "", cfg, now)
}

// Unregister stops probing a container that the Reconciler has removed.
func (m *Manager) Unregister(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, containerID)
}

// Tick runs any due checks across all registered containers. Intended to
// be called on a fixed interval (e.g. 1s) by the owning supervisor loop.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	targets := make([]*containerProbes, 0, len(m.containers))
	for _, cp := range m.containers {
		targets = append(targets, cp)
	}
	m.mu.Unlock()

	for _, cp := range targets {
		m.tickContainer(ctx, cp, now)
	}
}

func (m *Manager) tickContainer(ctx context.Context, cp *containerProbes, now time.Time) {
	ip, err := m.rt.ContainerIP(ctx, cp.containerID)
	if err != nil {
		m.log.WithError(err).WithField("container", cp.containerID).Debug("health: container IP unavailable")
	} else {
		cp.containerIP = ip
	}

	if cp.startup != nil && !cp.isStarted {
		m.runProbe(ctx, cp, cp.startup, now)
		if cp.startup.status == StatusHealthy {
			cp.isStarted = true
			m.publish(Event{Kind: EventStartupCompleted, ContainerID: cp.containerID, ServiceName: cp.serviceName})
		}
		// Liveness/readiness stay deferred until startup completes.
		return
	}

	if cp.liveness != nil {
		prevStatus := cp.liveness.status
		m.runProbe(ctx, cp, cp.liveness, now)
		if cp.liveness.status == StatusUnhealthy && prevStatus != StatusUnhealthy {
			m.publish(Event{
				Kind:        EventLivenessFailed,
				ContainerID: cp.containerID,
				ServiceName: cp.serviceName,
				Message:     "liveness probe failed failureThreshold consecutive times",
			})
		}
	}

	if cp.readiness != nil {
		prevStatus := cp.readiness.status
		m.runProbe(ctx, cp, cp.readiness, now)
		if cp.readiness.status != prevStatus {
			m.publish(Event{
				Kind:        EventReadinessChanged,
				ContainerID: cp.containerID,
				ServiceName: cp.serviceName,
				IsReady:     cp.readiness.status == StatusHealthy,
			})
		}
	}
}

func (m *Manager) runProbe(ctx context.Context, cp *containerProbes, p *probeState, now time.Time) {
	if now.Before(p.nextCheck) {
		return
	}
	ok := m.checker.run(ctx, cp.containerID, cp.containerIP, p.spec)
	p.transition(ok, now)
}

// publish is non-blocking: an Outputs consumer that falls behind drops
// events rather than stalling the probe tick.
func (m *Manager) publish(evt Event) {
	select {
	case m.events <- evt:
	default:
		m.log.WithField("kind", evt.Kind).Warn("health event channel full, dropping event")
	}
}

// IsReady reports whether a container's readiness probe is currently
// healthy. A container with no configured readiness probe is always ready.
func (m *Manager) IsReady(containerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.containers[containerID]
	if !ok || cp.readiness == nil {
		return true
	}
	return cp.readiness.status == StatusHealthy
}
