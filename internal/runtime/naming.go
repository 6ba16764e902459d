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

package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Label keys are the literal discovery contract spec.md §6 and invariant 1
// define: managed=true, app-id=<int>, app-name, service-id=<int>,
// service-name. Any other managed-container field is internal and may
// change; these five are the external wire contract with the cloud and
// must not be namespaced or renamed.
const (
	labelManaged     = "managed"
	labelAppID       = "app-id"
	labelAppName     = "app-name"
	labelServiceID   = "service-id"
	labelServiceName = "service-name"
)

// scopedName builds the "<appId>_<logicalName>" resource name used for
// app-scoped networks and volumes, so two apps can each declare a "data"
// volume without colliding.
func scopedName(appID int, name string) string {
	return fmt.Sprintf("%d_%s", appID, name)
}

// containerName builds the container name for a service: "<appId>_<serviceId>_<serviceName>".
func containerName(appID, serviceID int, serviceName string) string {
	safe := strings.ReplaceAll(serviceName, " ", "-")
	return fmt.Sprintf("%d_%d_%s", appID, serviceID, safe)
}

func managedLabels(appID int, appName string, serviceID int, serviceName string) map[string]string {
	return map[string]string{
		labelManaged:     "true",
		labelAppID:       strconv.Itoa(appID),
		labelAppName:     appName,
		labelServiceID:   strconv.Itoa(serviceID),
		labelServiceName: serviceName,
	}
}

// parseManagedLabels reads back the identity stamped by managedLabels,
// returning ok=false if the managed label is absent — the signal that an
// object is foreign and must be left untouched (SPEC_FULL.md §D.6).
func parseManagedLabels(labels map[string]string) (appID, serviceID int, ok bool) {
	if labels[labelManaged] != "true" {
		return 0, 0, false
	}
	aid, err := strconv.Atoi(labels[labelAppID])
	if err != nil {
		return 0, 0, false
	}
	sid, _ := strconv.Atoi(labels[labelServiceID])
	return aid, sid, true
}

// cpuLimitToNanoCPUs translates a CPU limit string ("500m" millicores, or
// "1.5" decimal cores) into the nanocpu units the Engine API's HostConfig
// expects.
func cpuLimitToNanoCPUs(limit string) int64 {
	if limit == "" {
		return 0
	}
	if strings.HasSuffix(limit, "m") {
		millis, err := strconv.ParseFloat(strings.TrimSuffix(limit, "m"), 64)
		if err != nil {
			return 0
		}
		return int64(millis * 1_000_000)
	}
	cores, err := strconv.ParseFloat(limit, 64)
	if err != nil {
		return 0
	}
	return int64(cores * 1_000_000_000)
}

// cpuRequestToShares translates a CPU request string ("500m" millicores, or
// "0.5" decimal cores) into the relative CPUShares weight the Engine API's
// HostConfig expects for a resource request (1024 shares per full CPU is
// the cgroups convention; spec.md §4.2 "request values mapped to
// share/reservation").
func cpuRequestToShares(request string) int64 {
	if request == "" {
		return 0
	}
	if strings.HasSuffix(request, "m") {
		millis, err := strconv.ParseFloat(strings.TrimSuffix(request, "m"), 64)
		if err != nil {
			return 0
		}
		return int64(millis / 1000 * 1024)
	}
	cores, err := strconv.ParseFloat(request, 64)
	if err != nil {
		return 0
	}
	return int64(cores * 1024)
}

// memoryLimitToBytes translates a memory limit string with an optional
// Ki/Mi/Gi binary suffix (falling back to plain decimal bytes) into bytes.
func memoryLimitToBytes(limit string) int64 {
	if limit == "" {
		return 0
	}
	multipliers := map[string]int64{
		"Ki": 1 << 10,
		"Mi": 1 << 20,
		"Gi": 1 << 30,
	}
	for suffix, mult := range multipliers {
		if strings.HasSuffix(limit, suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(limit, suffix), 64)
			if err != nil {
				return 0
			}
			return int64(n * float64(mult))
		}
	}
	n, err := strconv.ParseInt(limit, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
