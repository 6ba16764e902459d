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

package sensor

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/edgecore/supervisor/internal/model"
)

// ConfigHandler implements shadow.DeltaHandler for the sensor-config
// shadow (spec.md §4.6): validates a {sensorName -> partialConfig} delta
// all-or-nothing, applies it to the Manager, and reports the resulting
// truth.
type ConfigHandler struct {
	mgr      *Manager
	validate *validator.Validate
}

// NewConfigHandler wraps mgr for shadow-delta handling.
func NewConfigHandler(mgr *Manager) *ConfigHandler {
	return &ConfigHandler{mgr: mgr, validate: validator.New()}
}

// ApplyDelta validates every entry under delta's "sensors" key before
// applying any of them (all-or-nothing per spec.md §4.6), then returns the
// recomputed reported document covering every registered sensor, nested
// under the same "sensors" key (spec.md §6 "changed leaves under
// state.{sensors,...}", Scenario D).
func (h *ConfigHandler) ApplyDelta(delta model.Doc) (model.Doc, error) {
	sensors := model.Doc{}
	if raw, ok := delta["sensors"]; ok {
		d, ok := asDoc(raw)
		if !ok {
			return nil, fmt.Errorf("shadow delta \"sensors\" is not an object")
		}
		sensors = d
	}

	parsed := make(map[string]model.SensorPartialConfig, len(sensors))

	for name, raw := range sensors {
		if _, ok := h.mgr.Config(name); !ok {
			return nil, fmt.Errorf("sensor %q does not exist", name)
		}

		var partial model.SensorPartialConfig
		if err := mapstructure.Decode(raw, &partial); err != nil {
			return nil, fmt.Errorf("sensor %q: malformed partial config: %w", name, err)
		}
		if partial.PublishInterval != nil {
			if *partial.PublishInterval < model.MinPublishIntervalMS || *partial.PublishInterval > model.MaxPublishIntervalMS {
				return nil, fmt.Errorf("sensor %q: publishInterval %d out of range [%d, %d]",
					name, *partial.PublishInterval, model.MinPublishIntervalMS, model.MaxPublishIntervalMS)
			}
		}
		if err := h.validate.Struct(partial); err != nil {
			return nil, fmt.Errorf("sensor %q: %w", name, err)
		}
		parsed[name] = partial
	}

	for name, partial := range parsed {
		if partial.Enabled != nil {
			h.mgr.Enable(name, *partial.Enabled)
		}
		if partial.PublishInterval != nil {
			h.mgr.UpdateInterval(name, *partial.PublishInterval)
		}
	}

	return model.Doc{"sensors": h.reportedSensors()}, nil
}

// asDoc narrows a raw delta leaf to a nested object, accepting both
// model.Doc and the map[string]interface{} shape encoding/json produces.
func asDoc(v interface{}) (model.Doc, bool) {
	switch t := v.(type) {
	case model.Doc:
		return t, true
	case map[string]interface{}:
		return model.Doc(t), true
	default:
		return nil, false
	}
}

// reportedSensors gathers current truth (config + metrics + connectivity)
// for every registered sensor, per spec.md §4.6 step 3.
func (h *ConfigHandler) reportedSensors() model.Doc {
	doc := model.Doc{}
	for _, name := range h.mgr.Names() {
		cfg, ok := h.mgr.Config(name)
		if !ok {
			continue
		}
		metrics, _ := h.mgr.Metrics(name)
		doc[name] = model.Doc{
			"enabled":         cfg.Enabled,
			"publishInterval": cfg.PublishInterval,
			"publishCount":    metrics.PublishCount,
			"errorCount":      metrics.ErrorCount,
			"lastError":       metrics.LastError,
			"lastPublishTime": metrics.LastPublishTime,
			"connected":       metrics.Connected,
		}
	}
	return doc
}
