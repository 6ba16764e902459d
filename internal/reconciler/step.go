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

// Package reconciler implements the diff-and-execute pass of spec.md §4.1:
// it compares a current and target StateSnapshot, emits an ordered Step
// list, and executes that list one step at a time with partial-failure
// tolerance.
package reconciler

import (
	"fmt"

	"github.com/edgecore/supervisor/internal/model"
)

// StepKind is the discriminant of the Step sum type (spec.md §4.1 "Step
// alphabet"). Using a tagged union here, rather than a generic
// interface{}-keyed command map, is the "Dynamic JSON everywhere" design
// note applied to the reconciler's own output.
type StepKind string

const (
	StepDownloadImage  StepKind = "downloadImage"
	StepCreateVolume   StepKind = "createVolume"
	StepCreateNetwork  StepKind = "createNetwork"
	StepStopContainer  StepKind = "stopContainer"
	StepRemoveContainer StepKind = "removeContainer"
	StepStartContainer StepKind = "startContainer"
	StepRemoveNetwork  StepKind = "removeNetwork"
	StepRemoveVolume   StepKind = "removeVolume"
	StepNoop           StepKind = "noop"
)

// Step is one atomic reconciliation primitive. Only the fields relevant to
// Kind are populated; see the Step* constructors.
type Step struct {
	Kind StepKind

	AppID       int
	ServiceID   int
	ImageRef    string
	Name        string // volume or network name
	ContainerID string
	Service     model.Service
}

// Key returns the dedicated backoff key for this step, per spec.md §4.1.
// Steps with no natural backoff key (stop/remove/noop) return "".
func (s Step) Key() string {
	switch s.Kind {
	case StepDownloadImage:
		return fmt.Sprintf("image:%s", s.ImageRef)
	case StepStartContainer:
		return fmt.Sprintf("service:%d:%d", s.AppID, s.Service.ServiceID)
	case StepCreateVolume:
		return fmt.Sprintf("volume:%d:%s", s.AppID, s.Name)
	case StepCreateNetwork:
		return fmt.Sprintf("network:%d:%s", s.AppID, s.Name)
	default:
		return ""
	}
}

func (s Step) String() string {
	switch s.Kind {
	case StepDownloadImage:
		return fmt.Sprintf("downloadImage(app=%d, image=%s)", s.AppID, s.ImageRef)
	case StepCreateVolume:
		return fmt.Sprintf("createVolume(app=%d, name=%s)", s.AppID, s.Name)
	case StepCreateNetwork:
		return fmt.Sprintf("createNetwork(app=%d, name=%s)", s.AppID, s.Name)
	case StepStopContainer:
		return fmt.Sprintf("stopContainer(service=%d, container=%s)", s.ServiceID, s.ContainerID)
	case StepRemoveContainer:
		return fmt.Sprintf("removeContainer(service=%d, container=%s)", s.ServiceID, s.ContainerID)
	case StepStartContainer:
		return fmt.Sprintf("startContainer(app=%d, service=%d)", s.AppID, s.Service.ServiceID)
	case StepRemoveNetwork:
		return fmt.Sprintf("removeNetwork(app=%d, name=%s)", s.AppID, s.Name)
	case StepRemoveVolume:
		return fmt.Sprintf("removeVolume(app=%d, name=%s)", s.AppID, s.Name)
	default:
		return "noop"
	}
}

func downloadImage(appID int, ref string) Step {
	return Step{Kind: StepDownloadImage, AppID: appID, ImageRef: ref}
}

func createVolume(appID int, name string) Step {
	return Step{Kind: StepCreateVolume, AppID: appID, Name: name}
}

func createNetwork(appID int, name string) Step {
	return Step{Kind: StepCreateNetwork, AppID: appID, Name: name}
}

func stopContainer(serviceID int, containerID string) Step {
	return Step{Kind: StepStopContainer, ServiceID: serviceID, ContainerID: containerID}
}

func removeContainer(serviceID int, containerID string) Step {
	return Step{Kind: StepRemoveContainer, ServiceID: serviceID, ContainerID: containerID}
}

func startContainer(appID int, svc model.Service) Step {
	return Step{Kind: StepStartContainer, AppID: appID, Service: svc}
}

func removeNetwork(appID int, name string) Step {
	return Step{Kind: StepRemoveNetwork, AppID: appID, Name: name}
}

func removeVolume(appID int, name string) Step {
	return Step{Kind: StepRemoveVolume, AppID: appID, Name: name}
}
