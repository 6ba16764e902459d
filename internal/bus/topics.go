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

package bus

import "fmt"

// The topic grammar of spec.md §6:
//   iot/device/<deviceUuid>/shadow/name/<shadowName>/{update,update/accepted,update/delta,update/documents,get,get/accepted,get/rejected}
//   iot/device/<deviceUuid>/sensor/<topic>

// ShadowUpdateTopic is where the supervisor publishes a reported document.
func ShadowUpdateTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/update"
}

// ShadowAcceptedTopic is the cloud's acknowledgement of an update.
func ShadowAcceptedTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/update/accepted"
}

// ShadowDeltaTopic carries partial-document deltas the cloud wants applied.
func ShadowDeltaTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/update/delta"
}

// ShadowDocumentsTopic carries the full before/after document pair.
func ShadowDocumentsTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/update/documents"
}

// ShadowGetTopic requests the current shadow document.
func ShadowGetTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/get"
}

// ShadowGetAcceptedTopic carries the response to a get request.
func ShadowGetAcceptedTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/get/accepted"
}

// ShadowGetRejectedTopic carries a get-request rejection.
func ShadowGetRejectedTopic(deviceUUID, shadowName string) string {
	return shadowBase(deviceUUID, shadowName) + "/get/rejected"
}

func shadowBase(deviceUUID, shadowName string) string {
	return fmt.Sprintf("iot/device/%s/shadow/name/%s", deviceUUID, shadowName)
}

// SensorTopic is where a sensor publishes its readings.
func SensorTopic(deviceUUID, sensorTopic string) string {
	return fmt.Sprintf("iot/device/%s/sensor/%s", deviceUUID, sensorTopic)
}
