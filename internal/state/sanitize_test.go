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

package state

import (
	"testing"

	"github.com/edgecore/supervisor/internal/model"
)

// TestSanitize_ScenarioA is spec.md §8 Scenario A's literal target
// document: a numeric-string app ID key and a string-form port entry.
func TestSanitize_ScenarioA(t *testing.T) {
	raw := []byte(`{
		"apps": {
			"1001": {
				"appName": "web",
				"services": [{
					"serviceId": 1,
					"serviceName": "nginx",
					"config": {
						"imageRef": "nginx:alpine",
						"ports": ["8080:80"]
					}
				}]
			}
		}
	}`)

	snap, err := Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	app, ok := snap.Apps[1001]
	if !ok {
		t.Fatalf("expected app 1001, got %v", snap.Apps)
	}
	if len(app.Services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(app.Services))
	}
	svc := app.Services[0]
	if len(svc.Config.Ports) != 1 {
		t.Fatalf("expected 1 port mapping, got %d", len(svc.Config.Ports))
	}
	port := svc.Config.Ports[0]
	if port.Host != 8080 || port.Container != 80 {
		t.Errorf("port = %+v, want {Host:8080 Container:80}", port)
	}
}

func TestSanitize_PortStringWithExplicitProtocol(t *testing.T) {
	raw := []byte(`{"apps":{"1":{"appName":"a","services":[{"serviceId":1,"serviceName":"s",
		"config":{"imageRef":"img","ports":["53:53/udp"]}}]}}}`)

	snap, err := Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	port := snap.Apps[1].Services[0].Config.Ports[0]
	if port.Protocol != "udp" {
		t.Errorf("Protocol = %q, want udp", port.Protocol)
	}
}

func TestSanitize_CoercesEnvironmentValuesToStrings(t *testing.T) {
	raw := []byte(`{"apps":{"1":{"appName":"a","services":[{"serviceId":1,"serviceName":"s",
		"config":{"imageRef":"img","environment":{"PORT":8080,"DEBUG":true,"NAME":"svc"}}}]}}}`)

	snap, err := Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	env := snap.Apps[1].Services[0].Config.Environment
	if env["PORT"] != "8080" {
		t.Errorf("PORT = %q, want \"8080\"", env["PORT"])
	}
	if env["DEBUG"] != "true" {
		t.Errorf("DEBUG = %q, want \"true\"", env["DEBUG"])
	}
	if env["NAME"] != "svc" {
		t.Errorf("NAME = %q, want \"svc\"", env["NAME"])
	}
}

func TestSanitize_CoercesVolumeStrings(t *testing.T) {
	raw := []byte(`{"apps":{"1":{"appName":"a","services":[{"serviceId":1,"serviceName":"s",
		"config":{"imageRef":"img","volumes":["data:/var/lib/data","/host/etc:/etc/app:ro"]}}]}}}`)

	snap, err := Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	volumes := snap.Apps[1].Services[0].Config.Volumes
	if len(volumes) != 2 {
		t.Fatalf("expected 2 volumes, got %d", len(volumes))
	}

	named := volumes[0]
	if named.Named != "data" || named.ContainerPath != "/var/lib/data" || named.IsBindMount() {
		t.Errorf("named volume = %+v, want Named=data ContainerPath=/var/lib/data", named)
	}

	bind := volumes[1]
	if bind.HostPath != "/host/etc" || bind.ContainerPath != "/etc/app" || !bind.ReadOnly || !bind.IsBindMount() {
		t.Errorf("bind volume = %+v, want HostPath=/host/etc ContainerPath=/etc/app ReadOnly=true", bind)
	}
}

func TestSanitize_PromotesFlatLegacyFields(t *testing.T) {
	raw := []byte(`{"apps":{"2":{"appName":"legacy","services":[{"serviceId":"5","serviceName":"old",
		"imageRef":"redis:7","ports":["6379:6379"],"environment":{"MAXMEM":"100mb"}}]}}}`)

	snap, err := Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	svc := snap.Apps[2].Services[0]
	if svc.ServiceID != 5 {
		t.Errorf("ServiceID = %d, want 5 (coerced from string)", svc.ServiceID)
	}
	if svc.Config.ImageRef != "redis:7" {
		t.Errorf("ImageRef = %q, want redis:7", svc.Config.ImageRef)
	}
	if len(svc.Config.Ports) != 1 || svc.Config.Ports[0].Host != 6379 {
		t.Errorf("Ports = %+v, want one mapping with Host=6379", svc.Config.Ports)
	}
}

func TestSanitize_IsIdempotent(t *testing.T) {
	raw := []byte(`{"apps":{"1":{"appName":"a","services":[{"serviceId":1,"serviceName":"s",
		"config":{"imageRef":"img","ports":["80:80"],"environment":{"N":1}}}]}}}`)

	first, err := Sanitize(raw, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("first Sanitize: %v", err)
	}

	canonical, err := canonicalize(first)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	second, err := Sanitize(canonical, model.SnapshotTarget)
	if err != nil {
		t.Fatalf("second Sanitize: %v", err)
	}

	firstCanon, _ := canonicalize(first)
	secondCanon, _ := canonicalize(second)
	if string(firstCanon) != string(secondCanon) {
		t.Errorf("Sanitize is not idempotent:\nfirst:  %s\nsecond: %s", firstCanon, secondCanon)
	}
}
