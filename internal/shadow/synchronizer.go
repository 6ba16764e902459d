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

// Package shadow implements the per-shadow synchronizer of spec.md §4.5:
// subscribe to accepted/delta/documents, publish {state:{reported},
// version, timestamp} with a supervisor-local monotonically increasing
// version, and hand deltas to a DeltaHandler.
package shadow

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/bus"
	"github.com/edgecore/supervisor/internal/model"
)

// Bus is the subset of *bus.Bus the synchronizer needs, accepted as an
// interface so tests can substitute an in-memory fake.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler bus.Handler) error
}

// DeltaHandler applies a partial desired-document delta and returns the
// full, recomputed reported document. Implemented by the Sensor Config
// Handler for the sensor-config shadow (spec.md §4.6).
type DeltaHandler interface {
	ApplyDelta(delta model.Doc) (reported model.Doc, err error)
}

// MirrorDeltaHandler auto-mirrors desired into reported verbatim, for a
// shadow with no domain-specific DeltaHandler when SHADOW_SYNC_ON_DELTA is
// enabled (spec.md §6).
type MirrorDeltaHandler struct{}

// ApplyDelta returns delta unchanged as the new reported document.
func (MirrorDeltaHandler) ApplyDelta(delta model.Doc) (model.Doc, error) {
	return delta, nil
}

// RejectDeltaHandler refuses every delta for a shadow with no
// domain-specific DeltaHandler and SHADOW_SYNC_ON_DELTA disabled; the
// synchronizer publishes an error document and leaves reported state
// unchanged (spec.md §6, §7 "validation error ... refused at the
// boundary").
type RejectDeltaHandler struct{}

// ApplyDelta always fails.
func (RejectDeltaHandler) ApplyDelta(delta model.Doc) (model.Doc, error) {
	return nil, errors.New("no delta handler configured for this shadow")
}

// Synchronizer owns one named shadow's reported/desired state and its
// three subscribed channels.
type Synchronizer struct {
	deviceUUID string
	shadowName string
	b          Bus
	handler    DeltaHandler
	log        *logrus.Entry
	now        func() time.Time

	mu       sync.Mutex
	reported model.Doc
	desired  model.Doc
	version  int64
}

// New builds a Synchronizer for shadowName, not yet subscribed.
func New(deviceUUID, shadowName string, b Bus, handler DeltaHandler, log *logrus.Entry) *Synchronizer {
	return &Synchronizer{
		deviceUUID: deviceUUID,
		shadowName: shadowName,
		b:          b,
		handler:    handler,
		log:        log,
		now:        time.Now,
		reported:   model.Doc{},
	}
}

// Start subscribes to accepted/delta/documents and publishes the initial
// reported snapshot, per spec.md §4.5 "On start ... publishes the current
// reported doc so the cloud has an initial snapshot without waiting for a
// delta."
func (s *Synchronizer) Start() error {
	if err := s.b.Subscribe(bus.ShadowAcceptedTopic(s.deviceUUID, s.shadowName), s.onAccepted); err != nil {
		return err
	}
	if err := s.b.Subscribe(bus.ShadowDeltaTopic(s.deviceUUID, s.shadowName), s.onDelta); err != nil {
		return err
	}
	if err := s.b.Subscribe(bus.ShadowDocumentsTopic(s.deviceUUID, s.shadowName), s.onDocuments); err != nil {
		return err
	}
	return s.publishReported()
}

// SetReported replaces the full reported document and republishes it
// (used by callers outside a delta, e.g. initial sensor enumeration).
func (s *Synchronizer) SetReported(doc model.Doc) error {
	s.mu.Lock()
	s.reported = doc
	s.mu.Unlock()
	return s.publishReported()
}

func (s *Synchronizer) onAccepted(_ string, _ []byte) {
	// Informational; the supervisor doesn't need to act on its own
	// publish being acknowledged.
}

func (s *Synchronizer) onDocuments(_ string, _ []byte) {
	// SPEC_FULL.md §D.7: documents is treated as equivalent to accepted —
	// logged, never re-applied.
	s.log.Debug("shadow documents event received, no action taken")
}

func (s *Synchronizer) onDelta(_ string, payload []byte) {
	var doc model.ShadowDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		s.log.WithError(err).Warn("malformed shadow delta payload, ignoring")
		return
	}
	delta := doc.State.Desired
	if len(delta) == 0 {
		return
	}

	reported, err := s.handler.ApplyDelta(delta)
	if err != nil {
		s.log.WithError(err).Warn("shadow delta rejected")
		s.publishError(err)
		return
	}

	s.mu.Lock()
	s.reported = reported
	for k, v := range delta {
		if s.desired == nil {
			s.desired = model.Doc{}
		}
		s.desired[k] = v
	}
	s.mu.Unlock()

	if err := s.publishReported(); err != nil {
		s.log.WithError(err).Warn("failed to publish reported shadow state after delta")
	}
}

// publishReported publishes the current reported document with a fresh,
// monotonically increasing version (property law 4).
func (s *Synchronizer) publishReported() error {
	s.mu.Lock()
	s.version++
	doc := model.ShadowDocument{
		State:     model.ShadowState{Reported: s.reported},
		Version:   s.version,
		Timestamp: s.now(),
	}
	s.mu.Unlock()

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.b.Publish(bus.ShadowUpdateTopic(s.deviceUUID, s.shadowName), payload)
}

// publishError reports a validation failure in place of reported sensor
// state (spec.md §4.6 step 3).
func (s *Synchronizer) publishError(cause error) {
	s.mu.Lock()
	s.version++
	payload := struct {
		Error     string    `json:"error"`
		Version   int64     `json:"version"`
		Timestamp time.Time `json:"timestamp"`
	}{Error: cause.Error(), Version: s.version, Timestamp: s.now()}
	s.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.b.Publish(bus.ShadowUpdateTopic(s.deviceUUID, s.shadowName), data); err != nil {
		s.log.WithError(err).Warn("failed to publish shadow error document")
	}
}
