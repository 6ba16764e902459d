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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/classify"
	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/retry"
	"github.com/edgecore/supervisor/internal/runtime"
)

// Executor runs a Step list against an Adapter, one step at a time, never
// aborting the pass on a single step's failure (spec.md §4.1 "Execution
// contract").
type Executor struct {
	rt    runtime.Adapter
	table *retry.Table
	log   *logrus.Entry
	now   func() time.Time
}

// NewExecutor builds an Executor whose clock is time.Now; tests in this
// package override the now field directly.
func NewExecutor(rt runtime.Adapter, table *retry.Table, log *logrus.Entry) *Executor {
	return &Executor{rt: rt, table: table, log: log, now: time.Now}
}

// Result is the outcome of executing a single Step.
type Result struct {
	Step    Step
	Skipped bool // gated on backoff
	Err     error
	// ContainerID is populated for a successful StepStartContainer only.
	ContainerID string
}

// Run executes every step in order, skipping any step whose backoff key is
// still gated, and continuing past a failing step rather than aborting.
// The returned slice has one Result per input step, in order.
func (e *Executor) Run(ctx context.Context, steps []Step) []Result {
	results := make([]Result, 0, len(steps))
	for _, step := range steps {
		if ctx.Err() != nil {
			results = append(results, Result{Step: step, Err: ctx.Err()})
			continue
		}

		key := step.Key()
		if key != "" && e.table.Gated(key, e.now()) {
			e.log.WithField("step", step.String()).Debug("step gated on backoff, skipping")
			results = append(results, Result{Step: step, Skipped: true})
			continue
		}

		containerID, err := e.execute(ctx, step)
		if err != nil {
			e.log.WithError(err).WithField("step", step.String()).Warn("reconciliation step failed")
			if key != "" {
				e.table.RecordFailure(key, e.now(), err)
			}
		} else if key != "" {
			e.table.Clear(key)
		}
		results = append(results, Result{Step: step, Err: err, ContainerID: containerID})
	}
	return results
}

func (e *Executor) execute(ctx context.Context, step Step) (string, error) {
	switch step.Kind {
	case StepDownloadImage:
		if err := e.rt.PullImage(ctx, step.ImageRef); err != nil {
			return "", classify.New(classify.CategoryPullStart, err)
		}
		return "", nil

	case StepCreateVolume:
		if err := e.rt.CreateVolume(ctx, step.AppID, step.Name); err != nil {
			return "", classify.New(classify.CategoryTransient, err)
		}
		return "", nil

	case StepCreateNetwork:
		if err := e.rt.CreateNetwork(ctx, step.AppID, step.Name); err != nil {
			return "", classify.New(classify.CategoryTransient, err)
		}
		return "", nil

	case StepStopContainer:
		if err := e.rt.StopContainer(ctx, step.ContainerID); err != nil {
			return "", classify.New(classify.CategoryTransient, err)
		}
		return "", nil

	case StepRemoveContainer:
		if err := e.rt.RemoveContainer(ctx, step.ContainerID); err != nil {
			return "", classify.New(classify.CategoryTransient, err)
		}
		return "", nil

	case StepStartContainer:
		containerID, err := e.rt.StartContainer(ctx, step.AppID, step.Service)
		if err != nil {
			return "", classify.New(classify.CategoryPullStart, err)
		}
		return containerID, nil

	case StepRemoveNetwork:
		if err := e.rt.RemoveNetwork(ctx, step.AppID, step.Name); err != nil {
			return "", classify.New(classify.CategoryTransient, err)
		}
		return "", nil

	case StepRemoveVolume:
		if err := e.rt.RemoveVolume(ctx, step.AppID, step.Name); err != nil {
			return "", classify.New(classify.CategoryTransient, err)
		}
		return "", nil

	default:
		return "", nil
	}
}

// ClassifyServiceError maps a step failure, plus whatever the retry table
// now knows about its backoff key, onto the ErrorKind surfaced on the
// service's reported current state (spec.md §7).
func ClassifyServiceError(step Step, err error, table *retry.Table, now time.Time) *model.ServiceError {
	if err == nil {
		return nil
	}
	key := step.Key()
	state, _ := table.Get(key)

	kind := model.ErrStartFailure
	switch step.Kind {
	case StepDownloadImage:
		if state.AtCap() {
			kind = model.ErrImagePullBackOff
		} else {
			kind = model.ErrImagePull
		}
	case StepStartContainer:
		kind = model.ErrStartFailure
	}

	return &model.ServiceError{
		Kind:       kind,
		Message:    err.Error(),
		Timestamp:  now,
		RetryCount: state.FailureCount,
		NextRetry:  state.NextRetryTime,
	}
}
