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

// Package classify implements the error taxonomy of spec.md §7: typed
// errors that the reconciler and the cloud/job loops can type-switch on
// without leaking runtime-specific errors across component boundaries.
//
// The shape follows the teacher's httpError in
// pkg/plugin/aggregation/aggregator.go: a small error type carrying a
// classification the caller switches on, rather than sentinel values or
// string matching.
package classify

import "fmt"

// Category is the top-level error taxonomy from spec.md §7.
type Category string

const (
	// CategoryTransient covers transport errors (bus disconnect, HTTP
	// 5xx/timeout) that the owning loop retries with backoff; never fatal.
	CategoryTransient Category = "transient"
	// CategoryPullStart covers image pull/container start failures,
	// classified further by Kind and recorded on the service.
	CategoryPullStart Category = "pull_start"
	// CategoryValidation covers malformed input refused at a boundary
	// (shadow delta, target snapshot); previous good state is retained.
	CategoryValidation Category = "validation"
	// CategoryInvariant covers runtime invariant violations (e.g. label
	// mismatch on inspect); the affected object is treated as foreign.
	CategoryInvariant Category = "invariant"
	// CategoryFatal covers errors that should terminate the process (no
	// state store, missing credentials).
	CategoryFatal Category = "fatal"
)

// Error is a classified error. The zero value is not meaningful; construct
// with New.
type Error struct {
	Category Category
	Err      error
}

// New wraps err with the given category.
func New(category Category, err error) *Error {
	return &Error{Category: category, Err: err}
}

// Errorf formats a message and wraps it with the given category.
func Errorf(category Category, format string, args ...interface{}) *Error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is a classified Error of the given category.
func Is(err error, category Category) bool {
	ce, ok := err.(*Error)
	return ok && ce.Category == category
}

// IsFatal is a convenience check used at process startup.
func IsFatal(err error) bool {
	return Is(err, CategoryFatal)
}
