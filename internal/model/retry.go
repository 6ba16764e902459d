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

// RetryState tracks backoff for a single backoff key (spec.md §4.1).
type RetryState struct {
	FailureCount    int       `json:"failureCount"`
	LastFailureTime time.Time `json:"lastFailureTime"`
	NextRetryTime   time.Time `json:"nextRetryTime"`
	LastError       string    `json:"lastError"`

	// currentDelay is the backoff interval that produced NextRetryTime; it
	// doubles on every recorded failure, starting at the base delay.
	currentDelay time.Duration
}

const (
	// BackoffBase is the initial backoff delay.
	BackoffBase = 10 * time.Second
	// BackoffCap is the maximum backoff delay.
	BackoffCap = 5 * time.Minute
	// BackoffFactor is the exponential growth factor.
	BackoffFactor = 2
)

// RecordFailure advances the backoff state after a failed attempt at time
// now, with the given error message.
func (r *RetryState) RecordFailure(now time.Time, err string) {
	if r.currentDelay <= 0 {
		r.currentDelay = BackoffBase
	} else {
		r.currentDelay = r.currentDelay * BackoffFactor
		if r.currentDelay > BackoffCap {
			r.currentDelay = BackoffCap
		}
	}
	r.FailureCount++
	r.LastFailureTime = now
	r.LastError = err
	r.NextRetryTime = now.Add(r.currentDelay)
}

// AtCap reports whether the backoff delay has reached the cap, which the
// reconciler uses to distinguish a transient pull failure (ErrImagePull)
// from one that has backed off the whole way (ImagePullBackOff).
func (r *RetryState) AtCap() bool {
	return r.currentDelay >= BackoffCap
}

// Gated reports whether now is still before NextRetryTime, in which case
// the step this key guards must be skipped (spec.md invariant 6 / property
// law 6).
func (r *RetryState) Gated(now time.Time) bool {
	return r != nil && now.Before(r.NextRetryTime)
}

// ExitRecord is one observed container exit, used to evaluate the
// CrashLoopBackOff criterion (SPEC_FULL.md §D.5).
type ExitRecord struct {
	At time.Time
}

const (
	// CrashLoopWindow is the rolling window exits are counted over.
	CrashLoopWindow = 5 * time.Minute
	// CrashLoopThreshold is the number of exits within CrashLoopWindow that
	// classifies a service as CrashLoopBackOff.
	CrashLoopThreshold = 3
)

// ExitHistory tracks recent exits for a single service, pruning anything
// older than CrashLoopWindow.
type ExitHistory struct {
	exits []time.Time
}

// RecordExit appends an exit at time now and prunes entries outside the
// rolling window.
func (h *ExitHistory) RecordExit(now time.Time) {
	h.exits = append(h.exits, now)
	h.prune(now)
}

func (h *ExitHistory) prune(now time.Time) {
	cutoff := now.Add(-CrashLoopWindow)
	i := 0
	for ; i < len(h.exits); i++ {
		if h.exits[i].After(cutoff) {
			break
		}
	}
	h.exits = h.exits[i:]
}

// IsCrashLooping reports whether the service has exited CrashLoopThreshold
// or more times within the rolling window, as of now.
func (h *ExitHistory) IsCrashLooping(now time.Time) bool {
	h.prune(now)
	return len(h.exits) >= CrashLoopThreshold
}
