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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgecore/supervisor/internal/health"
	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/retry"
	"github.com/edgecore/supervisor/internal/runtime"
	"github.com/edgecore/supervisor/internal/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPass(t *testing.T, rt runtime.Adapter) (*Pass, *state.Store) {
	t.Helper()
	store := newTestStore(t)
	table := retry.NewTable()
	hm := health.NewManager(rt, discardLogger())
	exec := NewExecutor(rt, table, discardLogger())
	return NewPass(rt, exec, table, hm, store, discardLogger()), store
}

func TestPass_StartsServiceDeclaredOnlyInTarget(t *testing.T) {
	rt := &fakeAdapter{}
	pass, store := newTestPass(t, rt)

	target := model.NewSnapshot(model.SnapshotTarget)
	target.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svcFixture(10, "nginx:1.25")}}
	if err := store.Save(target, time.Now()); err != nil {
		t.Fatalf("save target: %v", err)
	}

	current, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	app, ok := current.Apps[1]
	if !ok {
		t.Fatal("expected app 1 to appear in current snapshot")
	}
	svc, ok := app.ServiceByID(10)
	if !ok {
		t.Fatal("expected service 10 to be recorded")
	}
	if svc.Runtime == nil || svc.Runtime.ContainerID != "new-id" {
		t.Errorf("expected started container id to be recorded, got %+v", svc.Runtime)
	}
	if len(rt.started) != 1 {
		t.Errorf("expected StartContainer to be called once, got %d", len(rt.started))
	}
}

func TestPass_RemovesServiceNotInTarget(t *testing.T) {
	rt := &fakeAdapter{}
	pass, store := newTestPass(t, rt)

	target := model.NewSnapshot(model.SnapshotTarget)
	if err := store.Save(target, time.Now()); err != nil {
		t.Fatalf("save target: %v", err)
	}

	current := model.NewSnapshot(model.SnapshotCurrent)
	svc := svcFixture(10, "nginx:1.25")
	svc.Runtime = &model.ServiceRuntime{Status: model.StatusRunning, ContainerID: "old-id"}
	current.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svc}}
	if err := store.Save(current, time.Now()); err != nil {
		t.Fatalf("save current: %v", err)
	}

	result, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := result.Apps[1]; ok {
		t.Errorf("expected app 1 to be pruned once its last service is removed, got %+v", result.Apps[1])
	}
	if len(rt.removed) != 1 || rt.removed[0] != "old-id" {
		t.Errorf("expected old-id to be removed, got %v", rt.removed)
	}
}

func TestPass_VanishedContainerIsRestarted(t *testing.T) {
	rt := &fakeAdapter{inspectErr: errors.New("no such container")}
	pass, store := newTestPass(t, rt)

	target := model.NewSnapshot(model.SnapshotTarget)
	target.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svcFixture(10, "nginx:1.25")}}
	if err := store.Save(target, time.Now()); err != nil {
		t.Fatalf("save target: %v", err)
	}

	current := model.NewSnapshot(model.SnapshotCurrent)
	svc := svcFixture(10, "nginx:1.25")
	svc.Runtime = &model.ServiceRuntime{Status: model.StatusRunning, ContainerID: "gone-id"}
	current.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svc}}
	if err := store.Save(current, time.Now()); err != nil {
		t.Fatalf("save current: %v", err)
	}

	result, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	app := result.Apps[1]
	got, ok := app.ServiceByID(10)
	if !ok {
		t.Fatal("expected service 10 still tracked")
	}
	if got.Runtime == nil || got.Runtime.ContainerID != "new-id" {
		t.Errorf("expected a fresh container to have been started after the old one vanished, got %+v", got.Runtime)
	}
}

func TestPass_CrashLoopingServiceMarkedError(t *testing.T) {
	rt := &fakeAdapter{}
	pass, store := newTestPass(t, rt)

	target := model.NewSnapshot(model.SnapshotTarget)
	target.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svcFixture(10, "nginx:1.25")}}
	if err := store.Save(target, time.Now()); err != nil {
		t.Fatalf("save target: %v", err)
	}

	now := time.Now()
	key := serviceKey(1, 10)
	pass.exits[key] = &model.ExitHistory{}
	pass.exits[key].RecordExit(now.Add(-4 * time.Minute))
	pass.exits[key].RecordExit(now.Add(-3 * time.Minute))
	pass.exits[key].RecordExit(now.Add(-2 * time.Minute))
	pass.now = func() time.Time { return now }

	rt.inspectStatus = model.StatusRunning
	svc := svcFixture(10, "nginx:1.25")
	svc.Runtime = &model.ServiceRuntime{Status: model.StatusRunning, ContainerID: "flaky-id"}
	current := model.NewSnapshot(model.SnapshotCurrent)
	current.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svc}}
	if err := store.Save(current, time.Now()); err != nil {
		t.Fatalf("save current: %v", err)
	}

	result, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	app := result.Apps[1]
	got, _ := app.ServiceByID(10)
	if got.Runtime == nil || got.Runtime.Status != model.StatusError {
		t.Fatalf("expected crash-looping service to be marked StatusError, got %+v", got.Runtime)
	}
	if got.Runtime.Error == nil || got.Runtime.Error.Kind != model.ErrCrashLoopBackOff {
		t.Errorf("expected ErrCrashLoopBackOff, got %+v", got.Runtime.Error)
	}
}

func TestPass_DownloadImageFailureRecordedOnMatchingServices(t *testing.T) {
	// startErr is set alongside pullErr: a start attempt with no pulled
	// image would fail for real in production, so the fake should too.
	rt := &fakeAdapter{pullErr: errors.New("registry unreachable"), startErr: errors.New("no such image")}
	pass, store := newTestPass(t, rt)

	target := model.NewSnapshot(model.SnapshotTarget)
	target.Apps[1] = model.App{AppID: 1, AppName: "demo", Services: []model.Service{svcFixture(10, "nginx:1.25")}}
	if err := store.Save(target, time.Now()); err != nil {
		t.Fatalf("save target: %v", err)
	}

	result, err := pass.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	app := result.Apps[1]
	got, ok := app.ServiceByID(10)
	if !ok {
		t.Fatal("expected service 10 to be present even though its image pull failed")
	}
	if got.Runtime == nil || got.Runtime.Status != model.StatusError {
		t.Fatalf("expected service to be marked StatusError after a failed pull, got %+v", got.Runtime)
	}
	// The later startContainer failure is what's recorded: it runs after
	// downloadImage in the same pass and overwrites the service entry.
	if got.Runtime.Error == nil || got.Runtime.Error.Kind != model.ErrStartFailure {
		t.Errorf("expected ErrStartFailure, got %+v", got.Runtime.Error)
	}
}
