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

package cloudapi

import "github.com/edgecore/supervisor/internal/model"

// ServiceStateReport is one service's condensed status line in a
// CurrentStateReport.
type ServiceStateReport struct {
	AppID       int                  `json:"appId"`
	ServiceID   int                  `json:"serviceId"`
	Status      model.ServiceStatus  `json:"status"`
	ContainerID string               `json:"containerId,omitempty"`
	Error       *model.ServiceError  `json:"error,omitempty"`
}

// HostMetrics is the condensed host-resource snapshot attached to every
// current-state report (spec.md §4.7).
type HostMetrics struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryBytes uint64  `json:"memoryBytes"`
	IP          string  `json:"ip"`
	UptimeSecs  int64   `json:"uptimeSeconds"`
}

// CurrentStateReport is the body of the periodic state PATCH.
type CurrentStateReport struct {
	Services []ServiceStateReport `json:"services"`
	Host     HostMetrics          `json:"host"`
}
