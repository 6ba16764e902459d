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
	"sort"

	"github.com/edgecore/supervisor/internal/model"
)

// Diff computes the ordered Step list that takes current towards target,
// per the algorithm in spec.md §4.1. Pure computation: never suspends,
// never mutates either snapshot.
func Diff(current, target model.StateSnapshot) []Step {
	var steps []Step

	for _, appID := range unionAppIDs(current, target) {
		curApp, hasCur := current.Apps[appID]
		tgtApp, hasTgt := target.Apps[appID]

		if hasTgt {
			steps = append(steps, missingResourceSteps(appID, curApp, tgtApp)...)
		}

		switch {
		case hasTgt && !hasCur:
			steps = append(steps, freshDeploySteps(appID, tgtApp)...)
		case hasCur && !hasTgt:
			steps = append(steps, teardownAppSteps(curApp)...)
		default:
			steps = append(steps, reconcileServicesSteps(appID, curApp, tgtApp)...)
		}

		if hasCur {
			steps = append(steps, staleResourceSteps(appID, curApp, tgtApp, hasTgt)...)
		}
	}

	return steps
}

func unionAppIDs(current, target model.StateSnapshot) []int {
	seen := map[int]bool{}
	var ids []int
	for id := range current.Apps {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range target.Apps {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// missingResourceSteps schedules createVolume/createNetwork for anything
// the target app needs that current doesn't already have, before any
// container step for the app (spec.md §4.1 step 1, invariant 2).
func missingResourceSteps(appID int, curApp, tgtApp model.App) []Step {
	var steps []Step

	curVolumes := curApp.VolumeNames()
	for _, name := range sortedKeys(tgtApp.VolumeNames()) {
		if !curVolumes[name] {
			steps = append(steps, createVolume(appID, name))
		}
	}

	curNetworks := curApp.NetworkNames()
	for _, name := range sortedKeys(tgtApp.NetworkNames()) {
		if !curNetworks[name] {
			steps = append(steps, createNetwork(appID, name))
		}
	}

	return steps
}

// staleResourceSteps schedules removeNetwork/removeVolume for resources
// present in current but absent from target, after container steps
// (spec.md §4.1 step 3).
func staleResourceSteps(appID int, curApp, tgtApp model.App, hasTarget bool) []Step {
	var steps []Step

	var tgtNetworks, tgtVolumes map[string]bool
	if hasTarget {
		tgtNetworks = tgtApp.NetworkNames()
		tgtVolumes = tgtApp.VolumeNames()
	}

	for _, name := range sortedKeys(curApp.NetworkNames()) {
		if !tgtNetworks[name] {
			steps = append(steps, removeNetwork(appID, name))
		}
	}
	for _, name := range sortedKeys(curApp.VolumeNames()) {
		if !tgtVolumes[name] {
			steps = append(steps, removeVolume(appID, name))
		}
	}

	return steps
}

func freshDeploySteps(appID int, tgtApp model.App) []Step {
	var steps []Step
	for _, svc := range sortedServices(tgtApp.Services) {
		steps = append(steps, downloadImage(appID, svc.Config.ImageRef))
		steps = append(steps, startContainer(appID, svc))
	}
	return steps
}

func teardownAppSteps(curApp model.App) []Step {
	var steps []Step
	for _, svc := range sortedServices(curApp.Services) {
		containerID := ""
		if svc.Runtime != nil {
			containerID = svc.Runtime.ContainerID
		}
		steps = append(steps, stopContainer(svc.ServiceID, containerID))
		steps = append(steps, removeContainer(svc.ServiceID, containerID))
	}
	return steps
}

func reconcileServicesSteps(appID int, curApp, tgtApp model.App) []Step {
	var steps []Step

	curByID := map[int]model.Service{}
	for _, s := range curApp.Services {
		curByID[s.ServiceID] = s
	}
	tgtByID := map[int]model.Service{}
	for _, s := range tgtApp.Services {
		tgtByID[s.ServiceID] = s
	}

	for _, serviceID := range unionServiceIDs(curByID, tgtByID) {
		curSvc, hasCur := curByID[serviceID]
		tgtSvc, hasTgt := tgtByID[serviceID]

		switch {
		case hasTgt && !hasCur:
			steps = append(steps, downloadImage(appID, tgtSvc.Config.ImageRef))
			steps = append(steps, startContainer(appID, tgtSvc))
		case hasCur && !hasTgt:
			containerID := ""
			if curSvc.Runtime != nil {
				containerID = curSvc.Runtime.ContainerID
			}
			steps = append(steps, stopContainer(curSvc.ServiceID, containerID))
			steps = append(steps, removeContainer(curSvc.ServiceID, containerID))
		default:
			cs := computeChangeSet(curSvc, tgtSvc)
			if cs.Any() {
				if cs.ImageChanged {
					steps = append(steps, downloadImage(appID, tgtSvc.Config.ImageRef))
				}
				containerID := ""
				if curSvc.Runtime != nil {
					containerID = curSvc.Runtime.ContainerID
				}
				steps = append(steps, stopContainer(curSvc.ServiceID, containerID))
				steps = append(steps, removeContainer(curSvc.ServiceID, containerID))
				steps = append(steps, startContainer(appID, tgtSvc))
			}
		}
	}

	return steps
}

func unionServiceIDs(cur, tgt map[int]model.Service) []int {
	seen := map[int]bool{}
	var ids []int
	for id := range cur {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range tgt {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func sortedServices(services []model.Service) []model.Service {
	out := make([]model.Service, len(services))
	copy(out, services)
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
