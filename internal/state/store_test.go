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
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/edgecore/supervisor/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	snap := model.NewSnapshot(model.SnapshotTarget)
	snap.Apps[1] = model.App{
		AppID:   1,
		AppName: "edge",
		Services: []model.Service{{
			ServiceID:   10,
			ServiceName: "web",
			Config:      model.ServiceConfig{ImageRef: "nginx:1.25"},
		}},
	}

	if err := s.Save(snap, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(model.SnapshotTarget)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Apps) != 1 {
		t.Fatalf("expected 1 app, got %d", len(got.Apps))
	}
	app := got.Apps[1]
	if app.AppName != "edge" || len(app.Services) != 1 {
		t.Fatalf("unexpected app: %+v", app)
	}
	if app.Services[0].Config.ImageRef != "nginx:1.25" {
		t.Errorf("ImageRef = %q, want nginx:1.25", app.Services[0].Config.ImageRef)
	}
}

func TestStore_LoadMissingSlotReturnsEmptySnapshot(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Load(model.SnapshotCurrent)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Apps) != 0 {
		t.Errorf("expected empty snapshot, got %d apps", len(got.Apps))
	}
}

func TestStore_HashDedupSkipsIdenticalWrite(t *testing.T) {
	s := openTestStore(t)

	snap := model.NewSnapshot(model.SnapshotCurrent)
	snap.Apps[1] = model.App{AppID: 1, AppName: "edge"}

	first := time.Now()
	if err := s.Save(snap, first); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	var before record
	readRecord(t, s, model.SnapshotCurrent, &before)

	second := first.Add(time.Hour)
	if err := s.Save(snap, second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	var after record
	readRecord(t, s, model.SnapshotCurrent, &after)

	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("expected CreatedAt to be unchanged by a hash-identical write: before=%v after=%v", before.CreatedAt, after.CreatedAt)
	}
}

func readRecord(t *testing.T, s *Store, kind model.SnapshotKind, rec *record) {
	t.Helper()
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(kind))
		if data == nil {
			t.Fatalf("no record persisted for slot %s", kind)
		}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		t.Fatalf("readRecord: %v", err)
	}
}
