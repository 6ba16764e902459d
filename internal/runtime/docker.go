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

package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/filters"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/api/types/volume"
	"github.com/moby/moby/client"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/edgecore/supervisor/internal/model"
)

// DockerAdapter implements Adapter against a local Docker Engine, in the
// inspect -> stop -> remove -> create -> start sequencing used for
// container replacement.
type DockerAdapter struct {
	cli *client.Client
	log *logrus.Entry
}

// NewDockerAdapter dials the engine at host (empty uses the client's
// default, normally the local unix socket).
func NewDockerAdapter(host string, log *logrus.Entry) (*DockerAdapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "dial docker engine")
	}
	return &DockerAdapter{cli: cli, log: log}, nil
}

func (d *DockerAdapter) ListManagedContainers(ctx context.Context) ([]Container, error) {
	f := filters.NewArgs(filters.Arg("label", labelManaged+"=true"))
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, errors.Wrap(err, "list managed containers")
	}
	out := make([]Container, 0, len(summaries))
	for _, s := range summaries {
		if _, _, ok := parseManagedLabels(s.Labels); !ok {
			continue
		}
		out = append(out, Container{
			ID:       s.ID,
			Name:     strings.TrimPrefix(firstOrEmpty(s.Names), "/"),
			ImageRef: s.Image,
			Status:   toServiceStatus(s.State),
			Labels:   s.Labels,
		})
	}
	return out, nil
}

func (d *DockerAdapter) Inspect(ctx context.Context, containerID string) (Container, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return Container{}, errors.Wrapf(err, "inspect container %s", containerID)
	}
	if resp.Config == nil {
		return Container{}, fmt.Errorf("inspect %s: config is nil", containerID)
	}
	if _, _, ok := parseManagedLabels(resp.Config.Labels); !ok {
		return Container{}, errors.Errorf("container %s is not managed by this supervisor", containerID)
	}
	c := Container{
		ID:       resp.ID,
		Name:     strings.TrimPrefix(resp.Name, "/"),
		ImageRef: resp.Config.Image,
		Labels:   resp.Config.Labels,
	}
	if resp.State != nil {
		c.Status = toServiceStatus(resp.State.Status)
		c.ExitCode = resp.State.ExitCode
	}
	return c, nil
}

func (d *DockerAdapter) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull image %s", ref)
	}
	defer rc.Close()
	// Engine streams pull progress as newline-delimited JSON; draining it
	// is what makes the call block until the pull actually finishes.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errors.Wrapf(err, "read pull stream for %s", ref)
	}
	return nil
}

func (d *DockerAdapter) StartContainer(ctx context.Context, appID int, svc model.Service) (string, error) {
	name := containerName(appID, svc.ServiceID, svc.ServiceName)
	labels := managedLabels(appID, "", svc.ServiceID, svc.ServiceName)
	for k, v := range svc.Config.Labels {
		labels[k] = v
	}

	cfg := &container.Config{
		Image:        svc.Config.ImageRef,
		Env:          toEnvSlice(svc.Config.Environment),
		Labels:       labels,
		ExposedPorts: toExposedPorts(svc.Config.Ports),
	}

	hostCfg := &container.HostConfig{
		PortBindings: toPortBindings(svc.Config.Ports),
		Binds:        toBinds(appID, svc.Config.Volumes),
		RestartPolicy: container.RestartPolicy{
			Name: toRestartPolicyName(svc.Config.RestartPolicy),
		},
	}
	if svc.Config.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(svc.Config.NetworkMode)
	}
	if svc.Config.Resources != nil {
		hostCfg.Resources = container.Resources{
			NanoCPUs:          cpuLimitToNanoCPUs(svc.Config.Resources.CPULimit),
			Memory:            memoryLimitToBytes(svc.Config.Resources.MemoryLimit),
			CPUShares:         cpuRequestToShares(svc.Config.Resources.CPURequest),
			MemoryReservation: memoryLimitToBytes(svc.Config.Resources.MemoryRequest),
		}
	}

	var netCfg *network.NetworkingConfig
	if len(svc.Config.Networks) > 0 {
		endpoints := make(map[string]*network.EndpointSettings, len(svc.Config.Networks))
		for _, n := range svc.Config.Networks {
			endpoints[scopedName(appID, n)] = &network.EndpointSettings{}
		}
		netCfg = &network.NetworkingConfig{EndpointsConfig: endpoints}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", errors.Wrapf(err, "create container %s", name)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, errors.Wrapf(err, "start container %s", name)
	}
	return resp.ID, nil
}

func (d *DockerAdapter) StopContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return errors.Wrapf(err, "stop container %s", containerID)
	}
	return nil
}

func (d *DockerAdapter) RemoveContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "remove container %s", containerID)
	}
	return nil
}

func (d *DockerAdapter) CreateNetwork(ctx context.Context, appID int, name string) error {
	full := scopedName(appID, name)
	_, err := d.cli.NetworkCreate(ctx, full, network.CreateOptions{
		Labels: managedLabels(appID, "", 0, ""),
	})
	if err != nil && !alreadyExists(err) {
		return errors.Wrapf(err, "create network %s", full)
	}
	return nil
}

func (d *DockerAdapter) RemoveNetwork(ctx context.Context, appID int, name string) error {
	full := scopedName(appID, name)
	err := d.cli.NetworkRemove(ctx, full)
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "remove network %s", full)
	}
	return nil
}

func (d *DockerAdapter) CreateVolume(ctx context.Context, appID int, name string) error {
	full := scopedName(appID, name)
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   full,
		Labels: managedLabels(appID, "", 0, ""),
	})
	if err != nil {
		return errors.Wrapf(err, "create volume %s", full)
	}
	return nil
}

func (d *DockerAdapter) RemoveVolume(ctx context.Context, appID int, name string) error {
	full := scopedName(appID, name)
	err := d.cli.VolumeRemove(ctx, full, true)
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "remove volume %s", full)
	}
	return nil
}

func (d *DockerAdapter) ContainerIP(ctx context.Context, containerID string) (string, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", errors.Wrapf(err, "inspect container %s for IP", containerID)
	}
	if resp.NetworkSettings == nil {
		return "", errors.Errorf("container %s has no network settings", containerID)
	}
	if resp.NetworkSettings.IPAddress != "" {
		return resp.NetworkSettings.IPAddress, nil
	}
	for _, net := range resp.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", errors.Errorf("container %s has no assigned IP", containerID)
}

func (d *DockerAdapter) Exec(ctx context.Context, containerID string, cmd []string) (int, error) {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "exec create on %s", containerID)
	}
	if err := d.cli.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{}); err != nil {
		return 0, errors.Wrapf(err, "exec start on %s", containerID)
	}
	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, errors.Wrapf(err, "exec inspect on %s", containerID)
	}
	return inspect.ExitCode, nil
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func toServiceStatus(engineState string) model.ServiceStatus {
	switch engineState {
	case "running":
		return model.StatusRunning
	case "exited":
		return model.StatusExited
	case "dead":
		return model.StatusDead
	case "created", "paused", "restarting":
		return model.StatusPending
	default:
		return model.StatusStopped
	}
}

func toEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func toExposedPorts(ports []model.PortMapping) nat.PortSet {
	set := nat.PortSet{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		set[nat.Port(fmt.Sprintf("%d/%s", p.Container, proto))] = struct{}{}
	}
	return set
}

func toPortBindings(ports []model.PortMapping) nat.PortMap {
	m := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		key := nat.Port(fmt.Sprintf("%d/%s", p.Container, proto))
		m[key] = []nat.PortBinding{{HostPort: fmt.Sprintf("%d", p.Host)}}
	}
	return m
}

// toBinds renders both of ServiceConfig's volume forms as Docker bind
// strings: a bare bind mount passes its host path through untranslated, a
// named-volume mount resolves to the app-scoped volume StartContainer's
// caller created with CreateVolume (spec.md §4.2).
func toBinds(appID int, volumes []model.VolumeMount) []string {
	var binds []string
	for _, v := range volumes {
		mode := "rw"
		if v.ReadOnly {
			mode = "ro"
		}
		switch {
		case v.IsBindMount():
			binds = append(binds, fmt.Sprintf("%s:%s:%s", v.HostPath, v.ContainerPath, mode))
		case v.Named != "":
			binds = append(binds, fmt.Sprintf("%s:%s:%s", scopedName(appID, v.Named), v.ContainerPath, mode))
		}
	}
	return binds
}

func toRestartPolicyName(policy string) container.RestartPolicyMode {
	switch policy {
	case "always":
		return container.RestartPolicyAlways
	case "unlessStopped":
		return container.RestartPolicyUnlessStopped
	case "onFailure":
		return container.RestartPolicyOnFailure
	default:
		return container.RestartPolicyDisabled
	}
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
