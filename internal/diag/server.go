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

package diag

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/model"
)

// StateProvider exposes the two State Store slots for /debug/state,
// without giving the diagnostic server write access to either.
type StateProvider interface {
	CurrentSnapshot() model.StateSnapshot
	TargetSnapshot() model.StateSnapshot
}

// Server is the local diagnostic HTTP server bound to DEVICE_API_PORT.
type Server struct {
	addr     string
	provider StateProvider
	log      *logrus.Entry
	readyCh  chan struct{}
}

// NewServer builds a Server bound to addr (e.g. ":8080").
func NewServer(addr string, provider StateProvider, log *logrus.Entry) *Server {
	return &Server{addr: addr, provider: provider, log: log, readyCh: make(chan struct{}, 1)}
}

// WaitUntilReady blocks until Run's serving goroutine has started and is
// about to call ListenAndServe; it does not wait for the listener to bind.
// Must be called at most once per Run call.
func (s *Server) WaitUntilReady() {
	<-s.readyCh
}

// Run serves until ctx is cancelled, following the cancellable-task shape
// Design Note "Async/await control flow" asks every long-running loop to
// use, rather than the teacher's separate stop-channel.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/state", s.handleDebugState).Methods(http.MethodGet)

	srv := &http.Server{Addr: s.addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("diagnostic server listening")
		s.readyCh <- struct{}{}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleDebugState(w http.ResponseWriter, _ *http.Request) {
	payload := struct {
		Current model.StateSnapshot `json:"current"`
		Target  model.StateSnapshot `json:"target"`
	}{
		Current: s.provider.CurrentSnapshot(),
		Target:  s.provider.TargetSnapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Warn("failed to encode /debug/state response")
	}
}
