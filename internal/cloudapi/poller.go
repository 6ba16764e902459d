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
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/model"
)

// TargetStateSink receives a freshly-fetched target snapshot document.
// Implemented by the State Store in the supervisor wiring.
type TargetStateSink interface {
	SaveTarget(raw json.RawMessage) error
}

// TargetPoller runs the independent "every pollIntervalSeconds, GET
// target-state" loop of spec.md §4.7.
type TargetPoller struct {
	client   *Client
	sink     TargetStateSink
	interval time.Duration
	log      *logrus.Entry
	now      func() time.Time

	etag  string
	retry model.RetryState
}

// NewTargetPoller builds a poller with the given tick interval (spec.md
// default 60s).
func NewTargetPoller(client *Client, sink TargetStateSink, interval time.Duration, log *logrus.Entry) *TargetPoller {
	return &TargetPoller{client: client, sink: sink, interval: interval, log: log, now: time.Now}
}

// Run blocks until ctx is cancelled, polling on a fixed tick and backing
// off independently on transient failure (spec.md §4.7 "survive transient
// transport errors with exponential backoff identical to §4.1").
func (p *TargetPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *TargetPoller) tick(ctx context.Context) {
	now := p.now()
	if p.retry.Gated(now) {
		return
	}

	body, etag, notModified, err := p.client.TargetState(ctx, p.etag)
	if err != nil {
		p.retry.RecordFailure(now, err.Error())
		p.log.WithError(err).Warn("target-state poll failed")
		return
	}
	p.retry = model.RetryState{}

	if notModified {
		return
	}
	p.etag = etag
	if err := p.sink.SaveTarget(body); err != nil {
		p.log.WithError(err).Warn("failed to persist fetched target state")
	}
}

// CurrentStateSource gathers the condensed current-state report at report
// time. Implemented by the supervisor wiring over the State Store and the
// host metrics collector.
type CurrentStateSource interface {
	CurrentStateReport() (CurrentStateReport, error)
}

// Reporter runs the independent "every reportIntervalSeconds, PATCH
// current state" loop of spec.md §4.7.
type Reporter struct {
	client   *Client
	source   CurrentStateSource
	interval time.Duration
	log      *logrus.Entry
	now      func() time.Time

	retry model.RetryState
}

// NewReporter builds a reporter with the given tick interval (spec.md
// default 10s).
func NewReporter(client *Client, source CurrentStateSource, interval time.Duration, log *logrus.Entry) *Reporter {
	return &Reporter{client: client, source: source, interval: interval, log: log, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	now := r.now()
	if r.retry.Gated(now) {
		return
	}

	report, err := r.source.CurrentStateReport()
	if err != nil {
		r.log.WithError(err).Warn("failed to gather current-state report")
		return
	}
	if err := r.client.ReportState(ctx, report); err != nil {
		r.retry.RecordFailure(now, err.Error())
		r.log.WithError(err).Warn("current-state report failed")
		return
	}
	r.retry = model.RetryState{}
}
