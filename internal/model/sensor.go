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

import "time"

// MinPublishIntervalMS and MaxPublishIntervalMS bound Sensor.PublishInterval
// (spec.md §3, §4.6).
const (
	MinPublishIntervalMS = 1000
	MaxPublishIntervalMS = 3_600_000
)

// SensorConfig is the persistent/configured half of a Sensor.
type SensorConfig struct {
	Name            string `json:"name" validate:"required"`
	Enabled         bool   `json:"enabled"`
	Address         string `json:"address" validate:"required"`
	PublishInterval int    `json:"publishInterval" validate:"min=1000,max=3600000"`
}

// SensorMetrics is the live, observed half of a Sensor.
type SensorMetrics struct {
	PublishCount    int64     `json:"publishCount"`
	ErrorCount      int64     `json:"errorCount"`
	LastError       string    `json:"lastError,omitempty"`
	LastPublishTime time.Time `json:"lastPublishTime,omitempty"`
	Connected       bool      `json:"connected"`
}

// SensorPartialConfig is a delta-shaped, all-optional view of SensorConfig
// used for validating and applying a single shadow-delta entry
// (spec.md §4.6). Pointer fields distinguish "absent" from "zero value".
type SensorPartialConfig struct {
	Enabled         *bool `json:"enabled,omitempty"`
	PublishInterval *int  `json:"publishInterval,omitempty"`
}
