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

package cloudapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_TargetState_NotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"abc"` {
			t.Errorf("expected If-None-Match header, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	c := New(server.URL, "device-1", "token")
	_, etag, notModified, err := c.TargetState(context.Background(), `"abc"`)
	if err != nil {
		t.Fatalf("TargetState: %v", err)
	}
	if !notModified {
		t.Error("expected notModified = true for a 304 response")
	}
	if etag != `"abc"` {
		t.Errorf("etag = %q, want unchanged %q", etag, `"abc"`)
	}
}

func TestClient_TargetState_Changed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"new-tag"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"apps":{}}`))
	}))
	defer server.Close()

	c := New(server.URL, "device-1", "token")
	body, etag, notModified, err := c.TargetState(context.Background(), "")
	if err != nil {
		t.Fatalf("TargetState: %v", err)
	}
	if notModified {
		t.Fatal("expected notModified = false for a 200 response")
	}
	if etag != `"new-tag"` {
		t.Errorf("etag = %q, want %q", etag, `"new-tag"`)
	}
	if string(body) != `{"apps":{}}` {
		t.Errorf("body = %q", body)
	}
}

func TestClient_ReportState_SendsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "device-1", "secret-token")
	err := c.ReportState(context.Background(), CurrentStateReport{Host: HostMetrics{IP: "10.0.0.1"}})
	if err != nil {
		t.Fatalf("ReportState: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer secret-token")
	}
}

func TestClient_NextJob_EmptyQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, "device-1", "token")
	_, ok, err := c.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob: %v", err)
	}
	if ok {
		t.Error("expected ok = false for an empty job queue")
	}
}

func TestClient_NextJob_ReturnsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"jobId":"j1"}`))
	}))
	defer server.Close()

	c := New(server.URL, "device-1", "token")
	job, ok, err := c.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob: %v", err)
	}
	if !ok {
		t.Fatal("expected ok = true when a job is returned")
	}
	if string(job) != `{"jobId":"j1"}` {
		t.Errorf("job = %q", job)
	}
}
