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

// Package supervisor wires every subsystem — reconciler, health probes,
// shadow sync, sensor publish, cloud polling, job execution, diagnostics —
// into the single running process described end to end in SPEC_FULL.md.
// The shape follows Design Note "Ambient singleton state": one struct owns
// every collaborator and runs them concurrently via errgroup, the same
// wiring style the teacher uses to start its aggregation server alongside
// the plugin drivers in cmd/sonobuoy/app/run.go.
package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/edgecore/supervisor/internal/bus"
	"github.com/edgecore/supervisor/internal/cloudapi"
	"github.com/edgecore/supervisor/internal/config"
	"github.com/edgecore/supervisor/internal/diag"
	"github.com/edgecore/supervisor/internal/health"
	"github.com/edgecore/supervisor/internal/hostmetrics"
	"github.com/edgecore/supervisor/internal/job"
	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/reconciler"
	"github.com/edgecore/supervisor/internal/retry"
	"github.com/edgecore/supervisor/internal/runtime"
	"github.com/edgecore/supervisor/internal/sensor"
	"github.com/edgecore/supervisor/internal/shadow"
	"github.com/edgecore/supervisor/internal/state"
)

// healthTick is how often healthLoop ticks the health probe manager.
const healthTick = time.Second

// Supervisor is the single owning struct for a running device process.
type Supervisor struct {
	cfg   *config.Config
	log   *logrus.Entry
	store *state.Store
	rt    runtime.Adapter

	pass   *reconciler.Pass
	health *health.Manager

	bus       *bus.Bus
	sync      *shadow.Synchronizer
	sensorMgr *sensor.Manager

	cloudClient  *cloudapi.Client
	targetPoller *cloudapi.TargetPoller
	reporter     *cloudapi.Reporter
	jobExecutor  *job.Executor

	diagServer *diag.Server

	reconcileGroup singleflight.Group
	targetUpdated  chan struct{}
}

// New builds a Supervisor from cfg, opening the state store and dialing
// the bus if shadow sync or sensor publish is enabled. It does not start
// any loop; call Run for that.
func New(cfg *config.Config, rt runtime.Adapter, log *logrus.Entry) (*Supervisor, error) {
	store, err := state.Open(cfg.StateStorePath)
	if err != nil {
		return nil, err
	}

	table := retry.NewTable()
	hm := health.NewManager(rt, log.WithField("component", "health"))
	executor := reconciler.NewExecutor(rt, table, log.WithField("component", "reconciler"))
	pass := reconciler.NewPass(rt, executor, table, hm, store, log.WithField("component", "reconciler"))

	s := &Supervisor{
		cfg:    cfg,
		log:    log,
		store:  store,
		rt:     rt,
		pass:   pass,
		health: hm,
	}

	if cfg.EnableShadow || cfg.EnableSensorPublish {
		b, err := bus.Connect(cfg.MQTTBroker, "supervisor-"+cfg.DeviceUUID, log.WithField("component", "bus"))
		if err != nil {
			store.Close()
			return nil, err
		}
		s.bus = b
	}

	if cfg.EnableSensorPublish {
		s.sensorMgr = sensor.NewManager(cfg.DeviceUUID, s.bus, log.WithField("component", "sensor"))
		sensors, err := cfg.Sensors()
		if err != nil {
			return nil, err
		}
		for _, sc := range sensors {
			s.sensorMgr.Register(sc)
		}
	}

	if cfg.EnableShadow {
		var handler shadow.DeltaHandler
		switch {
		case s.sensorMgr != nil && cfg.ShadowName == "sensor-config":
			handler = sensor.NewConfigHandler(s.sensorMgr)
		case cfg.ShadowSyncOnDelta:
			handler = shadow.MirrorDeltaHandler{}
		default:
			handler = shadow.RejectDeltaHandler{}
		}
		s.sync = shadow.New(cfg.DeviceUUID, cfg.ShadowName, s.bus, handler, log.WithField("component", "shadow"))
	}

	s.targetUpdated = make(chan struct{}, 1)

	s.cloudClient = cloudapi.New(cfg.CloudAPIEndpoint, cfg.DeviceUUID, cfg.DeviceCredential)
	s.targetPoller = cloudapi.NewTargetPoller(s.cloudClient, targetSink{store: store, notify: s.targetUpdated}, cfg.TargetPollInterval(), log.WithField("component", "target-poller"))
	s.reporter = cloudapi.NewReporter(s.cloudClient, currentStateSource{store: store, hm: hm, metrics: hostmetrics.NewCollector()}, cfg.ReportInterval(), log.WithField("component", "reporter"))

	if cfg.EnableJobEngine {
		registry := job.NewRegistry()
		s.jobExecutor = job.NewExecutor(s.cloudClient, registry, cfg.CloudJobsPollingInterval(), log.WithField("component", "job"))
	}

	s.diagServer = diag.NewServer(cfg.DiagAddr(), stateProvider{store: store}, log.WithField("component", "diag"))

	return s, nil
}

// Run starts every enabled subsystem and blocks until ctx is cancelled or
// one subsystem fails fatally, then shuts everything down.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.reconcileLoop(gctx) })
	g.Go(func() error { return s.healthLoop(gctx) })
	g.Go(func() error { s.targetPoller.Run(gctx); return nil })
	g.Go(func() error { s.reporter.Run(gctx); return nil })
	g.Go(func() error { return s.diagServer.Run(gctx) })

	if s.jobExecutor != nil {
		g.Go(func() error { s.jobExecutor.Run(gctx); return nil })
	}
	if s.sync != nil {
		if err := s.sync.Start(); err != nil {
			s.log.WithError(err).Warn("shadow synchronizer failed to start")
		}
	}

	err := g.Wait()
	s.shutdown()
	return err
}

// shutdown releases every held resource. Called once Run's errgroup
// returns, whether from cancellation or a subsystem error.
func (s *Supervisor) shutdown() {
	if s.sensorMgr != nil {
		s.sensorMgr.Stop()
	}
	if s.bus != nil {
		s.bus.Disconnect(30 * time.Second)
	}
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("error closing state store")
	}
}

// reconcileLoop runs the periodic reconciliation tick and also drains
// health-manager liveness-failed events and freshly-written target
// snapshots into an immediate pass, per spec.md §4.1 triggers (a) and (c).
// Every trigger funnels through runOnce, which singleflight-serializes
// actual Pass.Run calls so invariant 4 ("at most one reconciliation pass
// at a time") holds regardless of how many triggers fire concurrently.
func (s *Supervisor) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReconcileInterval())
	defer ticker.Stop()

	events := s.health.Events()

	// Run one pass immediately on startup so a freshly booted device
	// doesn't wait a full tick before converging toward target.
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.targetUpdated:
			s.log.Debug("target snapshot replaced, triggering reconciliation")
			s.runOnce(ctx)
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt.Kind == health.EventLivenessFailed {
				s.log.WithField("service", evt.ServiceName).Warn("liveness probe failed, triggering reconciliation")
				s.runOnce(ctx)
			}
		}
	}
}

// runOnce triggers exactly one Pass.Run, collapsing concurrent callers
// (ticker, liveness-failed, target-updated) into the
// single in-flight call via singleflight.
func (s *Supervisor) runOnce(ctx context.Context) {
	_, _, _ = s.reconcileGroup.Do("reconcile", func() (interface{}, error) {
		if _, err := s.pass.Run(ctx); err != nil {
			s.log.WithError(err).Warn("reconciliation pass failed")
		}
		return nil, nil
	})
}

// healthLoop ticks the probe manager on a fixed interval, independent of
// the reconciliation tick (spec.md §4.3).
func (s *Supervisor) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(healthTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.health.Tick(ctx, time.Now())
		}
	}
}

// targetSink adapts the State Store to cloudapi.TargetStateSink, applying
// the sanitizing upgrade path to every freshly fetched target document and
// signalling notify so reconcileLoop runs trigger (a) of spec.md §4.1
// ("applyTarget runs immediately after target snapshot is replaced")
// instead of waiting for the next periodic tick.
type targetSink struct {
	store  *state.Store
	notify chan<- struct{}
}

func (t targetSink) SaveTarget(raw json.RawMessage) error {
	snap, err := state.Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		return err
	}
	if err := t.store.Save(snap, time.Now()); err != nil {
		return err
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// currentStateSource adapts the State Store and host metrics collector to
// cloudapi.CurrentStateSource.
type currentStateSource struct {
	store   *state.Store
	hm      *health.Manager
	metrics *hostmetrics.Collector
}

func (c currentStateSource) CurrentStateReport() (cloudapi.CurrentStateReport, error) {
	snap, err := c.store.Load(model.SnapshotCurrent)
	if err != nil {
		return cloudapi.CurrentStateReport{}, err
	}

	var services []cloudapi.ServiceStateReport
	for appID, app := range snap.Apps {
		for _, svc := range app.Services {
			report := cloudapi.ServiceStateReport{AppID: appID, ServiceID: svc.ServiceID}
			if svc.Runtime != nil {
				report.Status = svc.Runtime.Status
				report.ContainerID = svc.Runtime.ContainerID
				report.Error = svc.Runtime.Error
			}
			services = append(services, report)
		}
	}

	return cloudapi.CurrentStateReport{
		Services: services,
		Host:     c.metrics.Collect(),
	}, nil
}

// stateProvider adapts the State Store to diag.StateProvider.
type stateProvider struct {
	store *state.Store
}

func (p stateProvider) CurrentSnapshot() model.StateSnapshot {
	snap, err := p.store.Load(model.SnapshotCurrent)
	if err != nil {
		return model.NewSnapshot(model.SnapshotCurrent)
	}
	return snap
}

func (p stateProvider) TargetSnapshot() model.StateSnapshot {
	snap, err := p.store.Load(model.SnapshotTarget)
	if err != nil {
		return model.NewSnapshot(model.SnapshotTarget)
	}
	return snap
}
