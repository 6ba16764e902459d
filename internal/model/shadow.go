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

// Doc is an opaque JSON-object document, used for the reported/desired
// halves of a Shadow and for shadow delta payloads. Kept as a map (rather
// than a fixed struct) because its leaves are sensor- and cloud-defined,
// not specified here — see Design Note "Dynamic JSON everywhere": this is
// the one place a string-indexed map is the correct model, since the
// contents are genuinely open-ended, unlike ServiceConfig.
type Doc map[string]interface{}

// Clone returns a copy of a Doc for safe mutation, recursing into every
// nested Doc or map[string]interface{}; other values (slices included) are
// copied by reference.
func (d Doc) Clone() Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		if nested, ok := v.(Doc); ok {
			out[k] = nested.Clone()
		} else if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Doc(nested).Clone()
		} else {
			out[k] = v
		}
	}
	return out
}

// ShadowDocument is the wire schema published to/received from the bus
// (spec.md §6): {state:{reported?,desired?}, version, timestamp}.
type ShadowDocument struct {
	State     ShadowState `json:"state"`
	Version   int64       `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
}

// ShadowState holds the reported and/or desired halves of a shadow
// document; a delta-in-transit from the cloud sets only Desired leaves.
type ShadowState struct {
	Reported Doc `json:"reported,omitempty"`
	Desired  Doc `json:"desired,omitempty"`
}

// Shadow is the supervisor-local record of one shadow document.
type Shadow struct {
	ShadowName string
	Reported   Doc
	Desired    Doc
	Version    int64
}

// Delta computes desired ⊖ reported at the leaf level: every key present
// in desired whose value differs from (or is absent from) reported.
// Nested Doc values are diffed recursively; non-Doc leaves are compared by
// equality via a simple conversion to a comparable representation.
func Delta(desired, reported Doc) Doc {
	out := Doc{}
	for k, dv := range desired {
		rv, ok := reported[k]
		if !ok {
			out[k] = dv
			continue
		}
		dNested, dIsDoc := asDoc(dv)
		rNested, rIsDoc := asDoc(rv)
		if dIsDoc && rIsDoc {
			sub := Delta(dNested, rNested)
			if len(sub) > 0 {
				out[k] = sub
			}
			continue
		}
		if !docEqual(dv, rv) {
			out[k] = dv
		}
	}
	return out
}

func asDoc(v interface{}) (Doc, bool) {
	switch t := v.(type) {
	case Doc:
		return t, true
	case map[string]interface{}:
		return Doc(t), true
	default:
		return nil, false
	}
}

func docEqual(a, b interface{}) bool {
	// JSON-decoded numbers land as float64; compare through that lens so
	// 60000 (int) and 60000.0 (float64) are treated as equal leaves.
	af, aIsFloat := toFloat(a)
	bf, bIsFloat := toFloat(b)
	if aIsFloat && bIsFloat {
		return af == bf
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
