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

// Package config loads the supervisor's configuration from environment
// variables (spec.md §6), following the viper.BindEnv + defaults shape of
// the teacher's pkg/worker/config.go LoadConfig, generalized from "one
// JSON worker config file" to the full environment-variable option table.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/edgecore/supervisor/internal/model"
)

// Config is the fully-resolved supervisor configuration, unmarshalled by
// viper from the environment variables of spec.md §6 plus the additional
// options the ambient stack needs (device identity, credential, state
// store path, log file).
type Config struct {
	CloudAPIEndpoint string `mapstructure:"cloud_api_endpoint"`
	DeviceAPIPort    int    `mapstructure:"device_api_port"`
	MQTTBroker       string `mapstructure:"mqtt_broker"`

	EnableShadow        bool `mapstructure:"enable_shadow"`
	EnableSensorPublish bool `mapstructure:"enable_sensor_publish"`
	EnableJobEngine     bool `mapstructure:"enable_job_engine"`

	CloudJobsPollingIntervalMS int    `mapstructure:"cloud_jobs_polling_interval"`
	ShadowName                 string `mapstructure:"shadow_name"`
	ShadowSyncOnDelta          bool   `mapstructure:"shadow_sync_on_delta"`
	SensorPublishConfig        string `mapstructure:"sensor_publish_config"`
	ReconcileIntervalSeconds   int    `mapstructure:"reconcile_interval"`

	DeviceUUID       string `mapstructure:"device_uuid"`
	DeviceCredential string `mapstructure:"device_credential"`
	StateStorePath   string `mapstructure:"state_store_path"`
	LogFile          string `mapstructure:"supervisor_log_file"`
	DockerHost       string `mapstructure:"docker_host"`

	ReportIntervalSeconds     int `mapstructure:"report_interval_seconds"`
	TargetPollIntervalSeconds int `mapstructure:"target_poll_interval_seconds"`
}

// bindings pairs every recognized environment variable (spec.md §6) with
// the viper key it is bound to.
var bindings = map[string]string{
	"cloud_api_endpoint":       "CLOUD_API_ENDPOINT",
	"device_api_port":          "DEVICE_API_PORT",
	"mqtt_broker":              "MQTT_BROKER",
	"enable_shadow":            "ENABLE_SHADOW",
	"enable_sensor_publish":    "ENABLE_SENSOR_PUBLISH",
	"enable_job_engine":        "ENABLE_JOB_ENGINE",
	"cloud_jobs_polling_interval": "CLOUD_JOBS_POLLING_INTERVAL",
	"shadow_name":              "SHADOW_NAME",
	"shadow_sync_on_delta":     "SHADOW_SYNC_ON_DELTA",
	"sensor_publish_config":    "SENSOR_PUBLISH_CONFIG",
	"reconcile_interval":       "RECONCILE_INTERVAL",
	"device_uuid":              "DEVICE_UUID",
	"device_credential":        "DEVICE_CREDENTIAL",
	"state_store_path":         "STATE_STORE_PATH",
	"supervisor_log_file":      "SUPERVISOR_LOG_FILE",
	"docker_host":              "DOCKER_HOST",
	"report_interval_seconds":  "REPORT_INTERVAL_SECONDS",
	"target_poll_interval_seconds": "TARGET_POLL_INTERVAL_SECONDS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_api_port", 8080)
	v.SetDefault("enable_shadow", true)
	v.SetDefault("enable_sensor_publish", true)
	v.SetDefault("enable_job_engine", true)
	v.SetDefault("cloud_jobs_polling_interval", 30_000)
	v.SetDefault("shadow_name", "sensor-config")
	v.SetDefault("shadow_sync_on_delta", false)
	v.SetDefault("reconcile_interval", 30)
	v.SetDefault("state_store_path", "/var/lib/supervisor/state.db")
	v.SetDefault("report_interval_seconds", 10)
	v.SetDefault("target_poll_interval_seconds", 60)
}

// Load builds a Config from the process environment, applying the same
// defaults-then-bind-then-unmarshal sequence as the teacher's
// pkg/worker/config.go, then resolves and validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", env)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	cfg.resolve()

	if errs := cfg.Validate(); len(errs) > 0 {
		msg := errs[0].Error()
		for _, e := range errs[1:] {
			msg += "; " + e.Error()
		}
		return nil, errors.Errorf("invalid configuration: %s", msg)
	}

	return cfg, nil
}

// resolve fills in values that have a derivable default rather than a
// fixed one, mirroring pkg/config/loader.go's Resolve step.
func (cfg *Config) resolve() {
	if cfg.DeviceUUID == "" {
		cfg.DeviceUUID = uuid.NewString()
	}
	if cfg.LogFile != "" {
		hook := lfshook.NewHook(lfshook.PathMap{
			logrus.ErrorLevel: cfg.LogFile,
			logrus.FatalLevel: cfg.LogFile,
			logrus.PanicLevel: cfg.LogFile,
		}, &logrus.JSONFormatter{})
		logrus.AddHook(hook)
	}
}

// Validate returns every configuration error found, following the
// teacher's Validate() shape of returning a slice rather than failing on
// the first problem.
func (cfg *Config) Validate() (errs []error) {
	if cfg.CloudAPIEndpoint == "" {
		errs = append(errs, errors.New("CLOUD_API_ENDPOINT must be set"))
	}
	if cfg.EnableShadow && cfg.MQTTBroker == "" {
		errs = append(errs, errors.New("MQTT_BROKER must be set when ENABLE_SHADOW is true"))
	}
	if cfg.EnableSensorPublish && cfg.MQTTBroker == "" {
		errs = append(errs, errors.New("MQTT_BROKER must be set when ENABLE_SENSOR_PUBLISH is true"))
	}
	if cfg.DeviceCredential == "" {
		errs = append(errs, errors.New("DEVICE_CREDENTIAL must be set"))
	}
	if _, err := cfg.Sensors(); err != nil {
		errs = append(errs, errors.Wrap(err, "SENSOR_PUBLISH_CONFIG"))
	}
	return errs
}

// Sensors decodes SensorPublishConfig into the initial sensor set. The
// value is accepted as JSON first (viper's native shape for an
// environment-delivered document) with a YAML fallback for hand-authored
// local files, per SPEC_FULL.md §A "Configuration".
func (cfg *Config) Sensors() ([]model.SensorConfig, error) {
	if cfg.SensorPublishConfig == "" {
		return nil, nil
	}
	var sensors []model.SensorConfig
	if err := json.Unmarshal([]byte(cfg.SensorPublishConfig), &sensors); err == nil {
		return sensors, nil
	}
	if err := yaml.Unmarshal([]byte(cfg.SensorPublishConfig), &sensors); err != nil {
		return nil, errors.Wrap(err, "decode as JSON or YAML")
	}
	return sensors, nil
}

// ReconcileInterval is ReconcileIntervalSeconds as a time.Duration.
func (cfg *Config) ReconcileInterval() time.Duration {
	return time.Duration(cfg.ReconcileIntervalSeconds) * time.Second
}

// ReportInterval is ReportIntervalSeconds as a time.Duration.
func (cfg *Config) ReportInterval() time.Duration {
	return time.Duration(cfg.ReportIntervalSeconds) * time.Second
}

// TargetPollInterval is TargetPollIntervalSeconds as a time.Duration
// (spec.md §4.7 "every pollIntervalSeconds, default 60").
func (cfg *Config) TargetPollInterval() time.Duration {
	return time.Duration(cfg.TargetPollIntervalSeconds) * time.Second
}

// CloudJobsPollingInterval is CloudJobsPollingIntervalMS as a
// time.Duration.
func (cfg *Config) CloudJobsPollingInterval() time.Duration {
	return time.Duration(cfg.CloudJobsPollingIntervalMS) * time.Millisecond
}

// DiagAddr is the bind address for the local diagnostic HTTP server.
func (cfg *Config) DiagAddr() string {
	return fmt.Sprintf(":%d", cfg.DeviceAPIPort)
}
