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

package config

import (
	"testing"
	"time"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("CLOUD_API_ENDPOINT", "https://cloud.example.com")
	t.Setenv("DEVICE_CREDENTIAL", "secret-token")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TargetPollIntervalSeconds != 60 {
		t.Errorf("TargetPollIntervalSeconds = %d, want 60", cfg.TargetPollIntervalSeconds)
	}
	if cfg.TargetPollInterval() != 60*time.Second {
		t.Errorf("TargetPollInterval() = %v, want 60s", cfg.TargetPollInterval())
	}
	if cfg.ReportIntervalSeconds != 10 {
		t.Errorf("ReportIntervalSeconds = %d, want 10", cfg.ReportIntervalSeconds)
	}
	if cfg.CloudJobsPollingInterval() != 30*time.Second {
		t.Errorf("CloudJobsPollingInterval() = %v, want 30s", cfg.CloudJobsPollingInterval())
	}
	if cfg.DeviceUUID == "" {
		t.Error("expected a generated DeviceUUID when none was supplied")
	}
}

func TestLoad_TargetPollIntervalOverride(t *testing.T) {
	t.Setenv("CLOUD_API_ENDPOINT", "https://cloud.example.com")
	t.Setenv("DEVICE_CREDENTIAL", "secret-token")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")
	t.Setenv("TARGET_POLL_INTERVAL_SECONDS", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.TargetPollInterval(), 15*time.Second; got != want {
		t.Errorf("TargetPollInterval() = %v, want %v", got, want)
	}
}

func TestLoad_MissingCloudEndpointFails(t *testing.T) {
	t.Setenv("DEVICE_CREDENTIAL", "secret-token")
	if _, err := Load(); err == nil {
		t.Error("expected an error when CLOUD_API_ENDPOINT is unset")
	}
}

func TestLoad_ShadowRequiresBroker(t *testing.T) {
	t.Setenv("CLOUD_API_ENDPOINT", "https://cloud.example.com")
	t.Setenv("DEVICE_CREDENTIAL", "secret-token")
	t.Setenv("ENABLE_SHADOW", "true")
	if _, err := Load(); err == nil {
		t.Error("expected an error when ENABLE_SHADOW is true but MQTT_BROKER is unset")
	}
}

func TestSensors_AcceptsJSONAndYAML(t *testing.T) {
	cfg := &Config{SensorPublishConfig: `[{"name":"temp","address":"/dev/i2c-1"}]`}
	sensors, err := cfg.Sensors()
	if err != nil {
		t.Fatalf("Sensors (JSON): %v", err)
	}
	if len(sensors) != 1 || sensors[0].Name != "temp" {
		t.Errorf("unexpected sensors from JSON: %+v", sensors)
	}

	cfg = &Config{SensorPublishConfig: "- name: temp\n  address: /dev/i2c-1\n"}
	sensors, err = cfg.Sensors()
	if err != nil {
		t.Fatalf("Sensors (YAML): %v", err)
	}
	if len(sensors) != 1 || sensors[0].Name != "temp" {
		t.Errorf("unexpected sensors from YAML: %+v", sensors)
	}
}

func TestDiagAddr(t *testing.T) {
	cfg := &Config{DeviceAPIPort: 9090}
	if got, want := cfg.DiagAddr(), ":9090"; got != want {
		t.Errorf("DiagAddr() = %q, want %q", got, want)
	}
}
