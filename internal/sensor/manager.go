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

// Package sensor implements the Sensor Manager of spec.md §4.6: one
// publisher per configured sensor, each connecting to a local
// datagram-or-stream socket, reading delimited messages, and republishing
// them on the local bus at a live-adjustable interval.
package sensor

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/bus"
	"github.com/edgecore/supervisor/internal/model"
)

// Bus is the subset of *bus.Bus a sensor publisher needs.
type Bus interface {
	Publish(topic string, payload []byte) error
}

// Dialer opens the local socket a sensor reads from. Extracted so tests
// can substitute an in-memory connection.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	network := "unix"
	if _, _, err := net.SplitHostPort(address); err == nil {
		network = "tcp"
	}
	return d.DialContext(ctx, network, address)
}

// publisher owns one sensor's lifecycle: connect, read delimited messages,
// publish at the configured interval, and honor live enable/disable/
// interval changes without a restart.
type publisher struct {
	deviceUUID string
	b          Bus
	dial       Dialer
	log        *logrus.Entry

	mu      sync.Mutex
	cfg     model.SensorConfig
	metrics model.SensorMetrics

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every configured sensor's publisher goroutine.
type Manager struct {
	deviceUUID string
	b          Bus
	dial       Dialer
	log        *logrus.Entry

	mu      sync.Mutex
	sensors map[string]*publisher
}

// NewManager builds a Manager with no sensors registered yet.
func NewManager(deviceUUID string, b Bus, log *logrus.Entry) *Manager {
	return &Manager{
		deviceUUID: deviceUUID,
		b:          b,
		dial:       defaultDialer,
		log:        log,
		sensors:    map[string]*publisher{},
	}
}

// Register starts a publisher goroutine for cfg, replacing any existing
// publisher under the same name.
func (m *Manager) Register(cfg model.SensorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sensors[cfg.Name]; ok {
		existing.stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &publisher{
		deviceUUID: m.deviceUUID,
		b:          m.b,
		dial:       m.dial,
		log:        m.log.WithField("sensor", cfg.Name),
		cfg:        cfg,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.sensors[cfg.Name] = p
	go p.run(ctx)
}

// Names returns every registered sensor name.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sensors))
	for name := range m.sensors {
		names = append(names, name)
	}
	return names
}

// Enable toggles a sensor's publish loop live; ok is false if the sensor
// is not registered.
func (m *Manager) Enable(name string, enabled bool) (ok bool) {
	p := m.get(name)
	if p == nil {
		return false
	}
	p.mu.Lock()
	p.cfg.Enabled = enabled
	p.mu.Unlock()
	return true
}

// UpdateInterval sets a sensor's publish interval live, clamped to
// [MinPublishIntervalMS, MaxPublishIntervalMS] by the caller (the Config
// Handler validates before calling this).
func (m *Manager) UpdateInterval(name string, intervalMS int) (ok bool) {
	p := m.get(name)
	if p == nil {
		return false
	}
	p.mu.Lock()
	p.cfg.PublishInterval = intervalMS
	p.mu.Unlock()
	return true
}

// Config returns the current config for name, or false if unregistered.
func (m *Manager) Config(name string) (model.SensorConfig, bool) {
	p := m.get(name)
	if p == nil {
		return model.SensorConfig{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, true
}

// Metrics returns the observed metrics for name, or false if unregistered.
func (m *Manager) Metrics(name string) (model.SensorMetrics, bool) {
	p := m.get(name)
	if p == nil {
		return model.SensorMetrics{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics, true
}

func (m *Manager) get(name string) *publisher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sensors[name]
}

// Stop cancels every publisher goroutine and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.sensors {
		p.stop()
	}
}

func (p *publisher) stop() {
	p.cancel()
	<-p.done
}

// run is the publisher's main loop: reconnect on failure, read delimited
// messages, and publish one per configured interval tick. Interval and
// enabled state are read fresh each tick so live updates take effect
// without a restart.
func (p *publisher) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		addr := p.cfg.Address
		p.mu.Unlock()

		conn, err := p.dial(ctx, addr)
		if err != nil {
			p.recordError(err)
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}

		p.setConnected(true)
		p.readLoop(ctx, conn)
		p.setConnected(false)
		conn.Close()

		if !sleep(ctx, time.Second) {
			return
		}
	}
}

// readLoop reads newline-delimited messages from conn and publishes one
// per publishInterval tick, dropping messages received between ticks.
func (p *publisher) readLoop(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	msgs := make(chan []byte, 1)
	go func() {
		defer close(msgs)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case msgs <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var ticker *time.Ticker
	var tickCh <-chan time.Time
	resetTicker := func() {
		p.mu.Lock()
		interval := time.Duration(p.cfg.PublishInterval) * time.Millisecond
		p.mu.Unlock()
		if ticker != nil {
			ticker.Stop()
		}
		ticker = time.NewTicker(interval)
		tickCh = ticker.C
	}
	resetTicker()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	var latest []byte
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			latest = m
		case <-tickCh:
			p.mu.Lock()
			enabled := p.cfg.Enabled
			name := p.cfg.Name
			p.mu.Unlock()
			if enabled && latest != nil {
				p.publish(name, latest)
			}
			resetTicker()
		}
	}
}

func (p *publisher) publish(name string, payload []byte) {
	topic := bus.SensorTopic(p.deviceUUID, name)
	if err := p.b.Publish(topic, payload); err != nil {
		p.recordError(err)
		return
	}
	p.mu.Lock()
	p.metrics.PublishCount++
	p.metrics.LastPublishTime = time.Now()
	p.mu.Unlock()
}

func (p *publisher) recordError(err error) {
	p.log.WithError(err).Debug("sensor publish error")
	p.mu.Lock()
	p.metrics.ErrorCount++
	p.metrics.LastError = err.Error()
	p.mu.Unlock()
}

func (p *publisher) setConnected(connected bool) {
	p.mu.Lock()
	p.metrics.Connected = connected
	p.mu.Unlock()
}

// sleep waits for d or ctx cancellation, returning false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
