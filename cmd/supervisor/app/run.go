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

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edgecore/supervisor/internal/config"
	"github.com/edgecore/supervisor/internal/runtime"
	"github.com/edgecore/supervisor/internal/supervisor"
)

// shutdownGrace bounds how long Run waits for subsystems to unwind after
// the first termination signal before returning anyway.
const shutdownGrace = 30 * time.Second

// NewCmdRun builds the long-running "run" subcommand, grounded on the
// load-config/build-object/block-on-signal shape of cmd/sonobuoy/app/run.go
// and runner.go, generalized from "launch plugins against a cluster" to
// "start the supervisor against this device".
func NewCmdRun() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor (the default long-running process)",
		Args:  cobra.ExactArgs(0),
		RunE:  runSupervisor,
	}
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	log := logrus.WithField("deviceUuid", cfg.DeviceUUID)

	rt, err := runtime.NewDockerAdapter(cfg.DockerHost, log.WithField("component", "runtime"))
	if err != nil {
		return errors.Wrap(err, "connect to container runtime")
	}

	sup, err := supervisor.New(cfg, rt, log)
	if err != nil {
		return errors.Wrap(err, "initialize supervisor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, waiting for subsystems to stop")
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(shutdownGrace):
		return errors.New("subsystems did not shut down within the grace period")
	}
}
