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

// EventKind discriminates the three outputs of the probe manager (spec.md
// §4.3 "Outputs").
type EventKind string

const (
	EventLivenessFailed  EventKind = "liveness-failed"
	EventReadinessChanged EventKind = "readiness-changed"
	EventStartupCompleted EventKind = "startup-completed"
)

// Event is a single probe-manager output. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind        EventKind
	ContainerID string
	ServiceName string
	Message     string // liveness-failed only
	IsReady     bool   // readiness-changed only
}
