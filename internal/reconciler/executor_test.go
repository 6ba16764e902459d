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
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/retry"
	"github.com/edgecore/supervisor/internal/runtime"
)

// fakeAdapter is an in-memory runtime.Adapter stand-in; pullErr lets a test
// force a specific step to fail.
type fakeAdapter struct {
	pullErr       error
	startErr      error
	inspectErr    error
	inspectStatus model.ServiceStatus
	pulled        []string
	started       []string
	stopped       []string
	removed       []string
}

func (f *fakeAdapter) ListManagedContainers(ctx context.Context) ([]runtime.Container, error) {
	return nil, nil
}
func (f *fakeAdapter) Inspect(ctx context.Context, id string) (runtime.Container, error) {
	if f.inspectErr != nil {
		return runtime.Container{}, f.inspectErr
	}
	status := f.inspectStatus
	if status == "" {
		status = model.StatusRunning
	}
	return runtime.Container{ID: id, Status: status}, nil
}
func (f *fakeAdapter) PullImage(ctx context.Context, ref string) error {
	f.pulled = append(f.pulled, ref)
	return f.pullErr
}
func (f *fakeAdapter) StartContainer(ctx context.Context, appID int, svc model.Service) (string, error) {
	f.started = append(f.started, svc.ServiceName)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "new-id", nil
}
func (f *fakeAdapter) StopContainer(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeAdapter) RemoveContainer(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeAdapter) CreateNetwork(ctx context.Context, appID int, name string) error { return nil }
func (f *fakeAdapter) RemoveNetwork(ctx context.Context, appID int, name string) error { return nil }
func (f *fakeAdapter) CreateVolume(ctx context.Context, appID int, name string) error  { return nil }
func (f *fakeAdapter) RemoveVolume(ctx context.Context, appID int, name string) error  { return nil }
func (f *fakeAdapter) ContainerIP(ctx context.Context, id string) (string, error)      { return "", nil }
func (f *fakeAdapter) Exec(ctx context.Context, id string, cmd []string) (int, error)  { return 0, nil }

func discardLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestExecutor_ContinuesPastFailingStep(t *testing.T) {
	rt := &fakeAdapter{pullErr: errors.New("registry unreachable")}
	table := retry.NewTable()
	exec := &Executor{rt: rt, table: table, log: discardLogger(), now: time.Now}

	steps := []Step{
		downloadImage(1, "nginx:1.25"),
		startContainer(1, svcFixture(10, "nginx:1.25")),
	}

	results := exec.Run(context.Background(), steps)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected first step to fail")
	}
	if results[1].Err != nil {
		t.Errorf("expected second step to run despite first failing, got err %v", results[1].Err)
	}
	if len(rt.started) != 1 {
		t.Errorf("expected startContainer to still be attempted, got %d calls", len(rt.started))
	}
}

func TestExecutor_FailureRecordedInRetryTable(t *testing.T) {
	rt := &fakeAdapter{pullErr: errors.New("registry unreachable")}
	table := retry.NewTable()
	exec := &Executor{rt: rt, table: table, log: discardLogger(), now: time.Now}

	step := downloadImage(1, "nginx:1.25")
	exec.Run(context.Background(), []Step{step})

	state, ok := table.Get(step.Key())
	if !ok {
		t.Fatal("expected a retry state to be recorded")
	}
	if state.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", state.FailureCount)
	}
}

func TestExecutor_SuccessClearsRetryState(t *testing.T) {
	rt := &fakeAdapter{}
	table := retry.NewTable()
	step := startContainer(1, svcFixture(10, "nginx:1.25"))
	table.RecordFailure(step.Key(), time.Now().Add(-time.Hour), errors.New("previously failed"))

	exec := &Executor{rt: rt, table: table, log: discardLogger(), now: time.Now}
	exec.Run(context.Background(), []Step{step})

	if _, ok := table.Get(step.Key()); ok {
		t.Error("expected retry state to be cleared after a successful step")
	}
}

func TestExecutor_GatedStepIsSkippedNotExecuted(t *testing.T) {
	rt := &fakeAdapter{}
	table := retry.NewTable()
	step := downloadImage(1, "nginx:1.25")
	table.RecordFailure(step.Key(), time.Now(), errors.New("just failed"))

	exec := &Executor{rt: rt, table: table, log: discardLogger(), now: time.Now}
	results := exec.Run(context.Background(), []Step{step})

	if !results[0].Skipped {
		t.Error("expected step to be reported as skipped")
	}
	if len(rt.pulled) != 0 {
		t.Errorf("expected PullImage not to be called while gated, got %d calls", len(rt.pulled))
	}
}
