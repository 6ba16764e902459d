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

// Package runtime adapts the reconciler's Step alphabet onto a container
// engine. Adapter is the seam: the reconciler depends only on the
// interface, never on the Docker Engine API types directly, following the
// docker.API abstraction observed in the rest of the retrieved pack.
package runtime

import (
	"context"
	"time"

	"github.com/edgecore/supervisor/internal/model"
)

// Container is the subset of engine-reported container state the
// reconciler and health subsystems need, translated out of the Docker
// Engine API's own inspect/list shapes.
type Container struct {
	ID       string
	Name     string
	ImageRef string
	Status   model.ServiceStatus
	ExitCode int
	StartedAt time.Time
	FinishedAt time.Time
	Labels   map[string]string
}

// ManagedLabels are stamped onto every container, network, and volume this
// process creates, and are required for an object to be considered managed
// on ListManaged* / Inspect.
type ManagedLabels struct {
	AppID       int
	AppName     string
	ServiceID   int
	ServiceName string
}

// Adapter is the seam between the reconciler's Step alphabet and a
// container engine. A concrete implementation must tag everything it
// creates with the "managed=true" label plus app/service identity, and
// must treat any object lacking that label as foreign (SPEC_FULL.md §D.6).
type Adapter interface {
	// ListManagedContainers returns every container carrying the
	// managed=true label, regardless of app.
	ListManagedContainers(ctx context.Context) ([]Container, error)

	// Inspect returns the current state of a single managed container.
	Inspect(ctx context.Context, containerID string) (Container, error)

	// PullImage pulls ref, blocking until the pull completes or ctx is
	// cancelled.
	PullImage(ctx context.Context, ref string) error

	// StartContainer creates (if necessary) and starts a container for
	// svc, applying ManagedLabels and returning the new container ID.
	StartContainer(ctx context.Context, appID int, svc model.Service) (string, error)

	// StopContainer stops a running container, tolerating a container
	// that is already stopped or already gone.
	StopContainer(ctx context.Context, containerID string) error

	// RemoveContainer removes a stopped container, tolerating one that
	// is already gone.
	RemoveContainer(ctx context.Context, containerID string) error

	// CreateNetwork creates the app-scoped network name (spec.md naming:
	// "<appId>_<name>"), tolerating one that already exists.
	CreateNetwork(ctx context.Context, appID int, name string) error

	// RemoveNetwork removes an app-scoped network, tolerating one that
	// is already gone; any other failure, such as a network still
	// attached to a container, is returned.
	RemoveNetwork(ctx context.Context, appID int, name string) error

	// CreateVolume creates the app-scoped volume name, tolerating one
	// that already exists.
	CreateVolume(ctx context.Context, appID int, name string) error

	// RemoveVolume removes an app-scoped volume, tolerating one that is
	// already gone.
	RemoveVolume(ctx context.Context, appID int, name string) error

	// ContainerIP returns the primary container IP used to address
	// http/tcp health checks.
	ContainerIP(ctx context.Context, containerID string) (string, error)

	// Exec runs cmd inside containerID and returns its exit code, for the
	// exec health probe kind. Callers are expected to bound ctx with a
	// deadline (spec.md §4.3's probe timeoutSeconds).
	Exec(ctx context.Context, containerID string, cmd []string) (exitCode int, err error)
}
