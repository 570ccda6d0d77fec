/*
Copyright 2025 The Kubernetes Authors.

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

// Package topology holds cpuinfo fixtures of common host layouts.
package topology

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
)

const (
	// HostSingleSocketSMT8 is one NUMA node with 4 hyperthreaded cores.
	HostSingleSocketSMT8 = `CPU(s):              8
Socket(s):           1
NUMA node(s):        1
NUMA node0 CPU(s):   0-7
`

	// HostDualSocketSMT16 is two NUMA nodes with 4 hyperthreaded cores each.
	HostDualSocketSMT16 = `CPU(s):              16
Socket(s):           2
NUMA node(s):        2
NUMA node0 CPU(s):   0-3,8-11
NUMA node1 CPU(s):   4-7,12-15
`

	// HostEPYCNPS4SMT64 is a single socket EPYC in NPS4 mode with 32 cores.
	HostEPYCNPS4SMT64 = `CPU(s):              64
Socket(s):           1
Model name:          AMD EPYC 7502P 32-Core Processor
NUMA node(s):        4
NUMA node0 CPU(s):   0-7,32-39
NUMA node1 CPU(s):   8-15,40-47
NUMA node2 CPU(s):   16-23,48-55
NUMA node3 CPU(s):   24-31,56-63
`
)

// CPUInfoReport returns a report of a guest with vcpus unpinned vCPUs on the host.
// Pinned are logical cores of other guests.
func CPUInfoReport(host string, vcpus int, pinned ...int) *topology.CPUInfoReport {
	hostReport := lo.Must(topology.ParseHostReport(host))
	hostReport.PinnedCPUs = append(hostReport.PinnedCPUs, pinned...)

	numCPUs := lo.Must(strconv.Atoi(hostReport.Fields[topology.KeyCPUs]))

	report := &topology.CPUInfoReport{Host: hostReport}

	for vcpu := range vcpus {
		report.Instance = append(report.Instance, topology.InstanceRow{
			VCPU:        vcpu,
			CPU:         vcpu,
			State:       "running",
			CPUAffinity: fmt.Sprintf("0-%d", numCPUs-1),
		})
	}

	return report
}
