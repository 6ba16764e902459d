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

package model

// JobStatus is the lifecycle state of a Job (spec.md §3, §4.8).
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
)

// JobStep is one step of a Job's document.
type JobStep struct {
	Name    string            `json:"name" validate:"required"`
	Handler string            `json:"handler" validate:"required"`
	Args    map[string]string `json:"args,omitempty"`
}

// Job is a queued unit of work fetched from the cloud job queue.
type Job struct {
	JobID          string    `json:"jobId"`
	JobName        string    `json:"jobName"`
	Document       []JobStep `json:"document"`
	TimeoutSeconds int       `json:"timeoutSeconds"`
}

// StepResult is what a step handler returns.
type StepResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// JobResult is the aggregate outcome of running every step in a Job's
// document, reported back via the final status PATCH.
type JobResult struct {
	Status   JobStatus `json:"status"`
	ExitCode int       `json:"exit_code"`
	Stdout   string    `json:"stdout"`
	Stderr   string    `json:"stderr"`
}
