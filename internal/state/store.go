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

// Package state persists the two StateSnapshot slots (current, target) to
// a local embedded key-value file, per spec.md §4.4. Every write computes a
// content hash over canonical serialization and is elided if it equals the
// last-persisted hash for that slot (invariant 5 / property law 3).
package state

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/edgecore/supervisor/internal/classify"
	"github.com/edgecore/supervisor/internal/model"
)

var bucketSnapshots = []byte("state_snapshot")

// SchemaVersion is the version of the on-disk record shape this build
// writes. A persisted file from a newer schema major version than this
// build understands is a fatal condition — open aborts rather than risk
// misreading it (SPEC_FULL.md §D "Sanitization ... formal upgrade path
// with a schema version field").
const SchemaVersion = "1.0.0"

var currentSchema = goversion.Must(goversion.NewVersion(SchemaVersion))

var bucketMeta = []byte("meta")
var metaKeySchemaVersion = []byte("schema_version")

// record is what is actually persisted per slot: the sanitized,
// canonically-serialized document plus its hash and write time.
type record struct {
	Kind      model.SnapshotKind `json:"type"`
	State     json.RawMessage    `json:"state"`
	StateHash string             `json:"stateHash"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Store is the bbolt-backed persistence layer for current/target
// snapshots.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the state file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, classify.New(classify.CategoryFatal, errors.Wrap(err, "open state store"))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		return checkOrStampSchemaVersion(meta)
	})
	if err != nil {
		db.Close()
		return nil, classify.New(classify.CategoryFatal, errors.Wrap(err, "init state store"))
	}
	return &Store{db: db}, nil
}

// checkOrStampSchemaVersion stamps SchemaVersion into a fresh store, or
// refuses to open a store written by a newer major schema version.
func checkOrStampSchemaVersion(meta *bbolt.Bucket) error {
	existing := meta.Get(metaKeySchemaVersion)
	if existing == nil {
		return meta.Put(metaKeySchemaVersion, []byte(SchemaVersion))
	}
	persisted, err := goversion.NewVersion(string(existing))
	if err != nil {
		return errors.Wrapf(err, "parse persisted schema version %q", existing)
	}
	if persisted.Segments()[0] > currentSchema.Segments()[0] {
		return errors.Errorf("state store schema %s is newer than this build supports (%s)", persisted, currentSchema)
	}
	return nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// contentHash computes the stable digest spec.md §3 requires over a
// snapshot's canonical serialization.
func contentHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hexEncode(sum[:])
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

// Save writes snap into its slot, eliding the write if the content hash
// matches what's already persisted (property law 3).
func (s *Store) Save(snap model.StateSnapshot, now time.Time) error {
	canonical, err := canonicalize(snap)
	if err != nil {
		return classify.New(classify.CategoryInvariant, errors.Wrap(err, "canonicalize snapshot"))
	}
	hash := contentHash(canonical)

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		key := []byte(snap.Kind)

		if existing := b.Get(key); existing != nil {
			var rec record
			if err := json.Unmarshal(existing, &rec); err == nil && rec.StateHash == hash {
				return nil // hash dedup: no-op write
			}
		}

		rec := record{
			Kind:      snap.Kind,
			State:     json.RawMessage(canonical),
			StateHash: hash,
			CreatedAt: now,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Load reads and sanitizes the snapshot for kind. Returns a fresh empty
// snapshot, not an error, if nothing has been persisted yet.
func (s *Store) Load(kind model.SnapshotKind) (model.StateSnapshot, error) {
	var rec record
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data := b.Get([]byte(kind))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return model.StateSnapshot{}, classify.New(classify.CategoryInvariant, errors.Wrap(err, "decode persisted snapshot"))
	}
	if !found {
		return model.NewSnapshot(kind), nil
	}

	snap, err := Sanitize(rec.State, kind)
	if err != nil {
		return model.StateSnapshot{}, classify.New(classify.CategoryInvariant, errors.Wrap(err, "sanitize persisted snapshot"))
	}
	return snap, nil
}
