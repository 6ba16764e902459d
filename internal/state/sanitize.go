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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/edgecore/supervisor/internal/model"
)

// canonicalize serializes a snapshot in a stable form suitable for hashing.
// encoding/json already sorts map keys on marshal, so a plain Marshal of
// the fixed-schema model is already canonical.
func canonicalize(snap model.StateSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// Sanitize decodes a possibly loosely-shaped persisted or cloud-delivered
// document into a well-formed StateSnapshot, per spec.md §4.4: numeric IDs
// coerced from strings, flat top-level service fields promoted into a
// nested config object, and the whole operation is idempotent — running
// it twice on already-sanitized input produces the same result.
func Sanitize(raw json.RawMessage, kind model.SnapshotKind) (model.StateSnapshot, error) {
	var loose looseSnapshot
	if err := json.Unmarshal(raw, &loose); err != nil {
		return model.StateSnapshot{}, err
	}

	snap := model.NewSnapshot(kind)
	snap.Config = loose.Config

	for rawAppID, app := range loose.Apps {
		appID, err := coerceInt(rawAppID)
		if err != nil {
			return model.StateSnapshot{}, fmt.Errorf("app id %q: %w", rawAppID, err)
		}
		sanitized, err := sanitizeApp(appID, app)
		if err != nil {
			return model.StateSnapshot{}, err
		}
		snap.Apps[appID] = sanitized
	}

	return snap, nil
}

// looseSnapshot accepts app IDs as either JSON numbers or numeric strings,
// which is the shape a cloud-delivered target document may arrive in.
type looseSnapshot struct {
	Apps   map[string]looseApp    `json:"apps"`
	Config map[string]interface{} `json:"config,omitempty"`
}

type looseApp struct {
	AppID    interface{}    `json:"appId"`
	AppName  string         `json:"appName"`
	AppUUID  string         `json:"appUuid,omitempty"`
	Services []looseService `json:"services"`
}

// looseService carries both the nested "config" shape and the flat
// top-level fields an older producer might still emit; sanitizeApp
// promotes the latter into the former when config is absent.
type looseService struct {
	ServiceID   interface{}           `json:"serviceId"`
	ServiceName string                `json:"serviceName"`
	Config      *model.ServiceConfig  `json:"config,omitempty"`
	Runtime     *model.ServiceRuntime `json:"runtime,omitempty"`

	// Flat legacy fields, promoted into Config when Config is nil.
	ImageRef      string                 `json:"imageRef,omitempty"`
	Environment   model.EnvMap           `json:"environment,omitempty"`
	Ports         []model.PortMapping    `json:"ports,omitempty"`
	Volumes       []model.VolumeMount    `json:"volumes,omitempty"`
	Networks      []string               `json:"networks,omitempty"`
	RestartPolicy string                 `json:"restartPolicy,omitempty"`
	Labels        map[string]string      `json:"labels,omitempty"`
}

func sanitizeApp(appID int, app looseApp) (model.App, error) {
	out := model.App{AppID: appID, AppName: app.AppName, AppUUID: app.AppUUID}
	for _, svc := range app.Services {
		sanitized, err := sanitizeService(svc)
		if err != nil {
			return model.App{}, fmt.Errorf("app %d: %w", appID, err)
		}
		out.Services = append(out.Services, sanitized)
	}
	return out, nil
}

func sanitizeService(svc looseService) (model.Service, error) {
	serviceID, err := coerceIntAny(svc.ServiceID)
	if err != nil {
		return model.Service{}, fmt.Errorf("service id %v: %w", svc.ServiceID, err)
	}

	cfg := svc.Config
	if cfg == nil {
		// Promote the flat legacy fields into a nested config, the
		// "sanitization" step spec.md §4.4 requires for idempotent reads.
		cfg = &model.ServiceConfig{
			ImageRef:      svc.ImageRef,
			Ports:         svc.Ports,
			Environment:   svc.Environment,
			Volumes:       svc.Volumes,
			Networks:      svc.Networks,
			RestartPolicy: svc.RestartPolicy,
			Labels:        svc.Labels,
		}
	}

	return model.Service{
		ServiceID:   serviceID,
		ServiceName: svc.ServiceName,
		Config:      *cfg,
		Runtime:     svc.Runtime,
	}, nil
}

func coerceInt(s string) (int, error) {
	return strconv.Atoi(s)
}

// coerceIntAny accepts a JSON number (decoded as float64), a numeric
// string, or an already-int value.
func coerceIntAny(v interface{}) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		return strconv.Atoi(t)
	case nil:
		return 0, fmt.Errorf("missing id")
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
