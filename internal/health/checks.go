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

package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edgecore/supervisor/internal/model"
	"github.com/edgecore/supervisor/internal/runtime"
)

// checker runs one probe's configured check kind against a container,
// per spec.md §4.3's "Check implementations".
type checker struct {
	rt         runtime.Adapter
	httpClient *http.Client
}

func newChecker(rt runtime.Adapter) *checker {
	return &checker{rt: rt, httpClient: &http.Client{}}
}

func (c *checker) run(ctx context.Context, containerID, containerIP string, spec model.HealthProbe) bool {
	timeout := time.Duration(spec.Timing.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch spec.Kind {
	case model.ProbeHTTP:
		return c.runHTTP(ctx, containerIP, spec.HTTP)
	case model.ProbeTCP:
		return c.runTCP(ctx, containerIP, spec.TCP)
	case model.ProbeExec:
		return c.runExec(ctx, containerID, spec.Exec)
	default:
		return false
	}
}

func (c *checker) runHTTP(ctx context.Context, ip string, spec *model.HTTPProbeSpec) bool {
	if spec == nil || ip == "" {
		return false
	}
	scheme := spec.Scheme
	if scheme == "" {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, ip, spec.Port, spec.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	expected := spec.ExpectedStatus
	if len(expected) == 0 {
		expected = []int{http.StatusOK}
	}
	for _, code := range expected {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}

func (c *checker) runTCP(ctx context.Context, ip string, spec *model.TCPProbeSpec) bool {
	if spec == nil || ip == "" {
		return false
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, spec.Port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *checker) runExec(ctx context.Context, containerID string, spec *model.ExecProbeSpec) bool {
	if spec == nil || len(spec.Command) == 0 {
		return false
	}
	code, err := c.rt.Exec(ctx, containerID, spec.Command)
	return err == nil && code == 0
}
