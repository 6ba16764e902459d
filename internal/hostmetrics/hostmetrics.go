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

// Package hostmetrics collects the cpu/memory/ip/uptime fields the Cloud
// Poller attaches to every current-state report (spec.md §4.7,
// SPEC_FULL.md §D.1). Gathered from /proc the way a Pi-class device does,
// since no library in the retrieved pack wraps host metrics collection —
// every example repo that needs this reads /proc or calls net directly.
package hostmetrics

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/edgecore/supervisor/internal/cloudapi"
)

// Collector samples host metrics, tracking the previous /proc/stat reading
// so CPU percent can be computed as a delta between two samples.
type Collector struct {
	prevIdle  uint64
	prevTotal uint64
}

// NewCollector returns a Collector with no prior sample.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect gathers one HostMetrics sample.
func (c *Collector) Collect() cloudapi.HostMetrics {
	return cloudapi.HostMetrics{
		CPUPercent:  c.cpuPercent(),
		MemoryBytes: memoryUsedBytes(),
		IP:          primaryIP(),
		UptimeSecs:  uptimeSeconds(),
	}
}

// cpuPercent reads the aggregate "cpu" line of /proc/stat and returns the
// percentage of non-idle time since the previous call. The first call
// always returns 0, since there is no prior sample to diff against.
func (c *Collector) cpuPercent() float64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0
	}

	var total, idle uint64
	for i, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		total += v
		if i == 3 { // "idle" is the 4th value after "cpu"
			idle = v
		}
	}

	defer func() { c.prevIdle, c.prevTotal = idle, total }()

	if c.prevTotal == 0 || total <= c.prevTotal {
		return 0
	}
	totalDelta := total - c.prevTotal
	idleDelta := idle - c.prevIdle
	if totalDelta == 0 {
		return 0
	}
	return (1 - float64(idleDelta)/float64(totalDelta)) * 100
}

// memoryUsedBytes reads /proc/meminfo and returns MemTotal - MemAvailable,
// in bytes (meminfo reports kB).
func memoryUsedBytes() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, available uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			total = v
		case "MemAvailable":
			available = v
		}
	}
	if total == 0 || available > total {
		return 0
	}
	return (total - available) * 1024
}

// uptimeSeconds reads /proc/uptime, truncated to whole seconds.
func uptimeSeconds() int64 {
	f, err := os.Open("/proc/uptime")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 1 {
		return 0
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return int64(secs)
}

// primaryIP returns the first non-loopback unicast IPv4 address found on
// the host's interfaces, or "" if none is found.
func primaryIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
