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

package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/diag"
	"github.com/edgecore/supervisor/internal/health"
	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/retry"
	"github.com/edgecore/supervisor/internal/runtime"
	"github.com/edgecore/supervisor/internal/state"
)

// Pass owns one full reconciliation cycle: refresh current state from the
// runtime, diff against target, execute the resulting steps, and persist
// the result. It is the unit the supervisor's periodic ticker, its
// liveness-failed handler, and its post-target-write handler all call
// through — spec.md invariant 4 ("at most one reconciliation pass may run
// at a time") is enforced one level up, by the caller serializing calls to
// Run with singleflight.
type Pass struct {
	rt       runtime.Adapter
	executor *Executor
	table    *retry.Table
	health   *health.Manager
	store    *state.Store
	log      *logrus.Entry
	now      func() time.Time

	mu    sync.Mutex
	exits map[string]*model.ExitHistory
}

// NewPass builds a Pass from its collaborators.
func NewPass(rt runtime.Adapter, executor *Executor, table *retry.Table, hm *health.Manager, store *state.Store, log *logrus.Entry) *Pass {
	return &Pass{
		rt:       rt,
		executor: executor,
		table:    table,
		health:   hm,
		store:    store,
		log:      log,
		now:      time.Now,
		exits:    map[string]*model.ExitHistory{},
	}
}

// Run executes one reconciliation cycle and returns the resulting current
// snapshot. It never aborts partway through on a single step's failure
// (spec.md §4.1); the returned error is non-nil only if the pass could not
// be attempted at all (state store unreadable).
func (p *Pass) Run(ctx context.Context) (model.StateSnapshot, error) {
	now := p.now()

	target, err := p.store.Load(model.SnapshotTarget)
	if err != nil {
		return model.StateSnapshot{}, err
	}
	current, err := p.store.Load(model.SnapshotCurrent)
	if err != nil {
		return model.StateSnapshot{}, err
	}

	p.refreshRuntimeStatus(ctx, &current, now)

	steps := Diff(current, target)
	results := p.executor.Run(ctx, steps)
	diag.ReconcilePassesTotal.Inc()

	for _, res := range results {
		outcome := "success"
		if res.Skipped {
			outcome = "skipped"
		} else if res.Err != nil {
			outcome = "failure"
		}
		diag.ReconcileStepsTotal.WithLabelValues(string(res.Step.Kind), outcome).Inc()
		p.applyResult(&current, target, res, now)
	}

	pruneEmptyApps(&current, target)

	if err := p.store.Save(current, now); err != nil {
		return current, err
	}
	return current, nil
}

// refreshRuntimeStatus re-inspects every service the current snapshot
// believes has a running container, updating its observed status and
// recording an exit if the container has stopped since the last pass.
func (p *Pass) refreshRuntimeStatus(ctx context.Context, current *model.StateSnapshot, now time.Time) {
	for appID, app := range current.Apps {
		for i, svc := range app.Services {
			if svc.Runtime == nil || svc.Runtime.ContainerID == "" {
				continue
			}
			key := serviceKey(appID, svc.ServiceID)

			wasRunningBeforeInspect := svc.Runtime.Status == model.StatusRunning

			c, err := p.rt.Inspect(ctx, svc.Runtime.ContainerID)
			if err != nil {
				// Container vanished out from under us. Mark it dead
				// rather than clearing Runtime outright: computeChangeSet
				// only schedules a restart when Runtime is non-nil and
				// its status is one of the stopped statuses.
				app.Services[i].Runtime.Status = model.StatusDead
				p.health.Unregister(svc.Runtime.ContainerID)
				if wasRunningBeforeInspect {
					p.recordExit(key, now)
				}
				continue
			}

			wasRunning := svc.Runtime.Status == model.StatusRunning
			app.Services[i].Runtime.Status = c.Status

			if wasRunning && c.Status != model.StatusRunning {
				p.recordExit(key, now)
			}

			if p.crashLooping(key, now) {
				app.Services[i].Runtime.Status = model.StatusError
				app.Services[i].Runtime.Error = &model.ServiceError{
					Kind:      model.ErrCrashLoopBackOff,
					Message:   "service exited 3 or more times in the last 5 minutes",
					Timestamp: now,
				}
			}
		}
		current.Apps[appID] = app
	}
}

// applyResult folds one executed Step's outcome into the current snapshot
// being built for this pass.
func (p *Pass) applyResult(current *model.StateSnapshot, target model.StateSnapshot, res Result, now time.Time) {
	if res.Skipped {
		return
	}
	step := res.Step

	switch step.Kind {
	case StepStartContainer:
		if res.Err != nil {
			p.recordServiceError(current, step.AppID, step.Service.ServiceID, ClassifyServiceError(step, res.Err, p.table, now))
			return
		}
		app := ensureApp(current, target, step.AppID)
		svc := step.Service
		svc.Runtime = &model.ServiceRuntime{Status: model.StatusPending, ContainerID: res.ContainerID}
		setService(&app, svc)
		current.Apps[step.AppID] = app

		p.health.Register(svc.Runtime.ContainerID, svc.ServiceName, svc.Config, now)

	case StepRemoveContainer:
		if res.Err != nil {
			return
		}
		appID, ok := findAppByService(current, step.ServiceID)
		if !ok {
			return
		}
		app := current.Apps[appID]
		removeService(&app, step.ServiceID)
		current.Apps[appID] = app
		p.health.Unregister(step.ContainerID)

	case StepDownloadImage:
		if res.Err != nil {
			p.recordServiceErrorByImage(current, target, step)
		}
	}
}

func (p *Pass) recordServiceError(current *model.StateSnapshot, appID, serviceID int, svcErr *model.ServiceError) {
	if svcErr == nil {
		return
	}
	app, ok := current.Apps[appID]
	if !ok {
		return
	}
	for i, svc := range app.Services {
		if svc.ServiceID == serviceID {
			if app.Services[i].Runtime == nil {
				app.Services[i].Runtime = &model.ServiceRuntime{}
			}
			app.Services[i].Runtime.Status = model.StatusError
			app.Services[i].Runtime.Error = svcErr
			current.Apps[appID] = app
			return
		}
	}
}

// recordServiceErrorByImage attaches a pull failure to every service in
// the app that references the failed image, since downloadImage steps
// aren't scoped to a single service.
func (p *Pass) recordServiceErrorByImage(current *model.StateSnapshot, target model.StateSnapshot, step Step) {
	app := ensureApp(current, target, step.AppID)
	for _, tsvc := range target.Apps[step.AppID].Services {
		if tsvc.Config.ImageRef != step.ImageRef {
			continue
		}
		svc, ok := app.ServiceByID(tsvc.ServiceID)
		if !ok {
			svc = tsvc
		}
		if svc.Runtime == nil {
			svc.Runtime = &model.ServiceRuntime{}
		}
		svc.Runtime.Status = model.StatusError
		svc.Runtime.Error = &model.ServiceError{
			Kind:      model.ErrImagePull,
			Timestamp: p.now(),
		}
		setService(&app, svc)
	}
	current.Apps[step.AppID] = app
}

func (p *Pass) recordExit(key string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.exits[key]
	if !ok {
		h = &model.ExitHistory{}
		p.exits[key] = h
	}
	h.RecordExit(now)
}

func (p *Pass) crashLooping(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.exits[key]
	return ok && h.IsCrashLooping(now)
}

func serviceKey(appID, serviceID int) string {
	return fmt.Sprintf("%d:%d", appID, serviceID)
}

// ensureApp returns the App with the given ID from current, creating a
// shell copied from target's App metadata (name, UUID) if current doesn't
// have one yet.
func ensureApp(current *model.StateSnapshot, target model.StateSnapshot, appID int) model.App {
	if app, ok := current.Apps[appID]; ok {
		return app
	}
	if app, ok := target.Apps[appID]; ok {
		return model.App{AppID: app.AppID, AppName: app.AppName, AppUUID: app.AppUUID}
	}
	return model.App{AppID: appID}
}

func setService(app *model.App, svc model.Service) {
	for i, existing := range app.Services {
		if existing.ServiceID == svc.ServiceID {
			app.Services[i] = svc
			return
		}
	}
	app.Services = append(app.Services, svc)
}

func removeService(app *model.App, serviceID int) {
	out := app.Services[:0]
	for _, svc := range app.Services {
		if svc.ServiceID != serviceID {
			out = append(out, svc)
		}
	}
	app.Services = out
}

// findAppByService locates the app currently holding serviceID, since
// stopContainer/removeContainer steps aren't scoped to an app.
func findAppByService(current *model.StateSnapshot, serviceID int) (int, bool) {
	for appID, app := range current.Apps {
		if _, ok := app.ServiceByID(serviceID); ok {
			return appID, true
		}
	}
	return 0, false
}

// pruneEmptyApps drops any app left with zero services once target no
// longer declares it either, keeping the current snapshot from
// accumulating empty husks after a full app teardown.
func pruneEmptyApps(current *model.StateSnapshot, target model.StateSnapshot) {
	for appID, app := range current.Apps {
		if len(app.Services) == 0 {
			if _, stillTarget := target.Apps[appID]; !stillTarget {
				delete(current.Apps, appID)
			}
		}
	}
}
