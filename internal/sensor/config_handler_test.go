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
	"context"
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/model"
)

type noopBus struct{}

func (noopBus) Publish(topic string, payload []byte) error { return nil }

func discardLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func neverDial(ctx context.Context, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestManager() *Manager {
	m := NewManager("device-1", noopBus{}, discardLogger())
	m.dial = neverDial
	return m
}

func TestConfigHandler_AppliesEnableAndInterval(t *testing.T) {
	mgr := newTestManager()
	mgr.Register(model.SensorConfig{Name: "temp", Address: "/tmp/temp.sock", Enabled: false, PublishInterval: 5000})
	defer mgr.Stop()

	h := NewConfigHandler(mgr)
	reported, err := h.ApplyDelta(model.Doc{
		"sensors": model.Doc{
			"temp": model.Doc{"enabled": true, "publishInterval": 2000},
		},
	})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	cfg, _ := mgr.Config("temp")
	if !cfg.Enabled {
		t.Error("expected sensor enabled after delta")
	}
	if cfg.PublishInterval != 2000 {
		t.Errorf("PublishInterval = %d, want 2000", cfg.PublishInterval)
	}

	sensors, ok := reported["sensors"].(model.Doc)
	if !ok {
		t.Fatalf("reported[sensors] is not a model.Doc: %T", reported["sensors"])
	}
	tempDoc, ok := sensors["temp"].(model.Doc)
	if !ok {
		t.Fatalf("reported.sensors[temp] is not a model.Doc: %T", sensors["temp"])
	}
	if tempDoc["enabled"] != true {
		t.Errorf("reported enabled = %v, want true", tempDoc["enabled"])
	}
}

func TestConfigHandler_RejectsUnknownSensor(t *testing.T) {
	mgr := newTestManager()
	h := NewConfigHandler(mgr)

	_, err := h.ApplyDelta(model.Doc{"sensors": model.Doc{"ghost": model.Doc{"enabled": true}}})
	if err == nil {
		t.Fatal("expected an error for an unregistered sensor name")
	}
}

func TestConfigHandler_RejectsOutOfRangeInterval(t *testing.T) {
	mgr := newTestManager()
	mgr.Register(model.SensorConfig{Name: "temp", Address: "/tmp/temp.sock", PublishInterval: 5000})
	defer mgr.Stop()

	h := NewConfigHandler(mgr)
	_, err := h.ApplyDelta(model.Doc{"sensors": model.Doc{"temp": model.Doc{"publishInterval": 500}}})
	if err == nil {
		t.Fatal("expected an error for publishInterval below the 1000ms floor")
	}

	cfg, _ := mgr.Config("temp")
	if cfg.PublishInterval != 5000 {
		t.Errorf("PublishInterval changed to %d despite rejected delta, want unchanged 5000", cfg.PublishInterval)
	}
}

func TestConfigHandler_AllOrNothingAcrossEntries(t *testing.T) {
	mgr := newTestManager()
	mgr.Register(model.SensorConfig{Name: "temp", Address: "/tmp/temp.sock", Enabled: false, PublishInterval: 5000})
	mgr.Register(model.SensorConfig{Name: "humidity", Address: "/tmp/humidity.sock", Enabled: false, PublishInterval: 5000})
	defer mgr.Stop()

	h := NewConfigHandler(mgr)
	_, err := h.ApplyDelta(model.Doc{
		"sensors": model.Doc{
			"temp":     model.Doc{"enabled": true},
			"humidity": model.Doc{"publishInterval": 10}, // invalid: rejects the whole delta
		},
	})
	if err == nil {
		t.Fatal("expected the whole delta to be rejected")
	}

	cfg, _ := mgr.Config("temp")
	if cfg.Enabled {
		t.Error("temp was applied despite humidity's entry being invalid (delta must be all-or-nothing)")
	}
}
