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

// Package systeminfo collects the CPU topology of the local host.
package systeminfo

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/cadvisor/fs"
	info "github.com/google/cadvisor/info/v1"
	"github.com/google/cadvisor/machine"
	"github.com/google/cadvisor/utils/sysfs"
	"github.com/luthermonson/go-proxmox"

	goproxmox "github.com/sergelogvinov/go-proxmox"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"

	"k8s.io/utils/cpuset"
)

// CollectServerInfo reads the machine info of the local host from sysfs.
func CollectServerInfo() (*info.MachineInfo, error) {
	fsInfo, err := fs.NewFsInfo(fs.Context{})
	if err != nil {
		return nil, fmt.Errorf("failed to collect filesystem info: %w", err)
	}

	mi, err := machine.Info(sysfs.NewRealSysFs(), fsInfo, true)
	if err != nil {
		return nil, fmt.Errorf("failed to collect machine info: %w", err)
	}

	return mi, nil
}

// NUMANodeCPUs returns the logical cores of every NUMA node with CPUs,
// ordered by node ID.
func NUMANodeCPUs(mi *info.MachineInfo) []cpuset.CPUSet {
	nodes := slices.Clone(mi.Topology)
	slices.SortFunc(nodes, func(a, b info.Node) int { return cmp.Compare(a.Id, b.Id) })

	result := make([]cpuset.CPUSet, 0, len(nodes))

	for _, node := range nodes {
		cpus := []int{}
		for _, core := range node.Cores {
			cpus = append(cpus, core.Threads...)
		}

		if len(cpus) == 0 {
			continue
		}

		result = append(result, cpuset.New(cpus...))
	}

	return result
}

// HostCPUs returns every logical core of the host.
func HostCPUs(mi *info.MachineInfo) cpuset.CPUSet {
	cpus := cpuset.New()
	for _, node := range NUMANodeCPUs(mi) {
		cpus = cpus.Union(node)
	}

	return cpus
}

// HostReport renders the machine info as an lscpu style report.
// Memory only NUMA nodes are skipped.
func HostReport(mi *info.MachineInfo, pinned []int) (topology.HostReport, error) {
	if mi == nil || mi.NumCores == 0 {
		return topology.HostReport{}, fmt.Errorf("%w: no cpu information", topology.ErrMalformedTopologyReport)
	}

	nodes := NUMANodeCPUs(mi)

	fields := map[string]string{
		topology.KeyCPUs:    strconv.Itoa(mi.NumCores),
		topology.KeySockets: strconv.Itoa(mi.NumSockets),
		"NUMA node(s):":     strconv.Itoa(len(nodes)),
	}

	if mi.CPUVendorID != "" {
		fields["Vendor ID:"] = mi.CPUVendorID
	}

	for i, cpus := range nodes {
		fields[topology.NUMANodeKey(i)] = cpus.String()
	}

	return topology.HostReport{
		Fields:     fields,
		PinnedCPUs: cpuset.New(pinned...).List(),
	}, nil
}

// LocalPinnedCPUs returns logical cores bound to vCPUs of local VMs,
// skipping the VM with the given name.
func LocalPinnedCPUs(skipName string) ([]int, error) {
	pinned := cpuset.New()

	_, err := goproxmox.GetLocalVMConfigByFilter(func(v *proxmox.VirtualMachineConfig) (bool, error) {
		if v.Name == skipName {
			return false, nil
		}

		cfg, err := vmconfig.NewVMConfig(v)
		if err != nil {
			// unrelated description
			return false, nil //nolint:nilerr
		}

		pinned = pinned.Union(cfg.PinnedCPUs())

		return false, nil
	})
	if err != nil && !errors.Is(err, goproxmox.ErrVirtualMachineNotFound) {
		return nil, fmt.Errorf("failed to read local vm configs: %w", err)
	}

	return pinned.List(), nil
}
