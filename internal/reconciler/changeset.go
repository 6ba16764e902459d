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

// ChangeSet is the set of reasons a service needs to be recreated, per
// spec.md §4.1 step 2.
type ChangeSet struct {
	ImageChanged       bool
	PortsChanged       bool
	EnvChanged         bool
	VolumesChanged     bool
	NetworksChanged    bool
	RestartChanged     bool
	NetworkModeChanged bool
	ContainerStopped   bool
}

// Any reports whether any field in the change set is set — the reconciler
// treats the whole set as a single trigger.
func (c ChangeSet) Any() bool {
	return c.ImageChanged || c.PortsChanged || c.EnvChanged || c.VolumesChanged ||
		c.NetworksChanged || c.RestartChanged || c.NetworkModeChanged || c.ContainerStopped
}

var stoppedStatuses = map[model.ServiceStatus]bool{
	model.StatusExited: true,
	model.StatusStopped: true,
	model.StatusDead:    true,
}

// computeChangeSet compares a current and target Service with the same
// ServiceID and determines whether it must be recreated.
func computeChangeSet(cur, tgt model.Service) ChangeSet {
	cs := ChangeSet{
		ImageChanged:    cur.Config.ImageRef != tgt.Config.ImageRef,
		PortsChanged:    !portsEqual(cur.Config.Ports, tgt.Config.Ports),
		EnvChanged:      !envEqualOverTargetKeys(cur.Config.Environment, tgt.Config.Environment),
		VolumesChanged:  !volumesEqual(cur.Config.Volumes, tgt.Config.Volumes),
		NetworksChanged: !networksEqual(cur.Config.Networks, tgt.Config.Networks),
	}

	if tgt.Config.RestartPolicy != "" {
		cs.RestartChanged = cur.Config.RestartPolicy != tgt.Config.RestartPolicy
	}
	if tgt.Config.NetworkMode != "" {
		cs.NetworkModeChanged = cur.Config.NetworkMode != tgt.Config.NetworkMode
	}

	if cur.Runtime != nil && stoppedStatuses[cur.Runtime.Status] {
		cs.ContainerStopped = true
	}

	return cs
}

func portsEqual(a, b []model.PortMapping) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]model.PortMapping(nil), a...)
	bs := append([]model.PortMapping(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].Host < as[j].Host })
	sort.Slice(bs, func(i, j int) bool { return bs[i].Host < bs[j].Host })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// envEqualOverTargetKeys compares environment maps only over the keys
// declared in target — runtime-injected env on the current side is
// ignored (spec.md §4.1).
func envEqualOverTargetKeys(cur, tgt map[string]string) bool {
	for k, v := range tgt {
		if cur[k] != v {
			return false
		}
	}
	return true
}

func volumesEqual(a, b []model.VolumeMount) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]model.VolumeMount(nil), a...)
	bs := append([]model.VolumeMount(nil), b...)
	key := func(v model.VolumeMount) string { return v.Named + "|" + v.HostPath + "|" + v.ContainerPath }
	sort.Slice(as, func(i, j int) bool { return key(as[i]) < key(as[j]) })
	sort.Slice(bs, func(i, j int) bool { return key(bs[i]) < key(bs[j]) })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func networksEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
