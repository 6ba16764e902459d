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

// Package job implements the Job Executor of spec.md §4.8: poll the
// cloud job queue, run each step of a fetched job's document through a
// named handler, and report the aggregate result.
//
// The poll-then-report shape follows the teacher's pkg/worker/worker.go
// GatherResults/handleWaitFile loop, generalized from "wait for a
// done-file, upload it once" to "poll a job queue, run steps, report
// status".
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/cloudapi"
	"github.com/edgecore/supervisor/internal/model"
)

// Handler runs a single named step. ctx carries the job's overall
// timeout.
type Handler func(ctx context.Context, args map[string]string) (model.StepResult, error)

// Registry is a process-local handler lookup table, keyed by
// JobStep.Handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds a handler under name, overwriting any existing one.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

func (r *Registry) lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Reporter is the cloud-facing half of the job queue: fetch the next job,
// report status transitions. Implemented by *cloudapi.Client.
type Reporter interface {
	NextJob(ctx context.Context) (raw json.RawMessage, ok bool, err error)
	UpdateJobStatus(ctx context.Context, jobID string, update cloudapi.JobStatusUpdate) error
}

// Executor polls for jobs and runs them one at a time.
type Executor struct {
	reporter Reporter
	registry *Registry
	interval time.Duration
	log      *logrus.Entry

	running      bool
	seenFirstJob bool
}

// NewExecutor builds an Executor polling at the given interval (spec.md
// default 30s).
func NewExecutor(reporter Reporter, registry *Registry, interval time.Duration, log *logrus.Entry) *Executor {
	return &Executor{reporter: reporter, registry: registry, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, polling for and running jobs one at
// a time (spec.md §4.8 "only one job runs per device at a time").
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Executor) tick(ctx context.Context) {
	if e.running {
		return
	}

	raw, ok, err := e.reporter.NextJob(ctx)
	if err != nil {
		e.log.WithError(err).Warn("job poll failed")
		return
	}
	if !ok {
		return
	}

	var j model.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		e.log.WithError(err).Warn("malformed job document, skipping")
		return
	}

	// The very first job this process observes may be one it was running
	// when it last crashed or was killed: nothing survives a restart to
	// tell partial step progress from a never-started job, so it is
	// reported FAILED unexecuted rather than risk re-running steps that
	// already had side effects (spec.md §4.8).
	if !e.seenFirstJob {
		e.seenFirstJob = true
		if err := e.reporter.UpdateJobStatus(ctx, j.JobID, cloudapi.JobStatusUpdate{
			Status:        string(model.JobFailed),
			StatusDetails: "interrupted by supervisor restart",
		}); err != nil {
			e.log.WithField("jobId", j.JobID).WithError(err).Warn("failed to report restart-interrupted job")
		}
		return
	}

	e.running = true
	defer func() { e.running = false }()
	e.execute(ctx, j)
}

func (e *Executor) execute(ctx context.Context, j model.Job) {
	log := e.log.WithField("jobId", j.JobID)

	inProgress := cloudapi.JobStatusUpdate{Status: string(model.JobInProgress)}
	if err := e.reporter.UpdateJobStatus(ctx, j.JobID, inProgress); err != nil {
		log.WithError(err).Warn("failed to report job as in-progress, continuing anyway")
	}

	if j.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(j.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	result := runSteps(ctx, e.registry, j.Document, log)

	final := cloudapi.JobStatusUpdate{
		Status:   string(result.Status),
		ExitCode: &result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if err := e.reporter.UpdateJobStatus(ctx, j.JobID, final); err != nil {
		log.WithError(err).Warn("failed to report final job status")
	}
}

// runSteps executes every step sequentially, stopping at the first
// failing exit code (spec.md §4.8: SUCCEEDED iff every step's exitCode is
// 0). Output from every step is concatenated for the aggregate report.
func runSteps(ctx context.Context, registry *Registry, steps []model.JobStep, log *logrus.Entry) model.JobResult {
	var stdout, stderr strings.Builder

	for _, step := range steps {
		handler, ok := registry.lookup(step.Handler)
		if !ok {
			stderr.WriteString(fmt.Sprintf("step %q: no handler registered for %q\n", step.Name, step.Handler))
			return model.JobResult{Status: model.JobFailed, ExitCode: 1, Stdout: stdout.String(), Stderr: stderr.String()}
		}

		res, err := handler(ctx, step.Args)
		if err != nil {
			log.WithError(err).WithField("step", step.Name).Warn("job step failed")
			stderr.WriteString(fmt.Sprintf("step %q: %v\n", step.Name, err))
			return model.JobResult{Status: model.JobFailed, ExitCode: 1, Stdout: stdout.String(), Stderr: stderr.String()}
		}

		stdout.WriteString(res.Stdout)
		stderr.WriteString(res.Stderr)
		if res.ExitCode != 0 {
			return model.JobResult{Status: model.JobFailed, ExitCode: res.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}
		}
	}

	return model.JobResult{Status: model.JobSucceeded, ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}
}
