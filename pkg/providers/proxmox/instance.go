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

package proxmox

import (
	"strconv"

	pxapi "github.com/luthermonson/go-proxmox"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"

	"k8s.io/utils/cpuset"
)

// vcpuCount returns the number of vCPUs a VM config starts with.
func vcpuCount(vm *pxapi.VirtualMachineConfig) int {
	if vm.VCPUs > 0 {
		return vm.VCPUs
	}

	sockets, cores := max(vm.Sockets, 1), max(vm.Cores, 1)

	return sockets * cores
}

// instanceRows renders a VM config as instance report rows.
// A vCPU listed in the cpupin token is bound to its single logical core,
// the others may run on the VM affinity or on every host core.
func instanceRows(cfg *vmconfig.VMConfig, state string, hostCPUs int) []topology.InstanceRow {
	affinity := cfg.Affinity
	if affinity == "" && hostCPUs > 0 {
		affinity = "0-" + strconv.Itoa(hostCPUs-1)
	}

	n := vcpuCount(cfg.VirtualMachineConfig)
	rows := make([]topology.InstanceRow, 0, n)

	for vcpu := range n {
		row := topology.InstanceRow{
			VCPU:        vcpu,
			CPU:         -1,
			State:       state,
			CPUAffinity: affinity,
		}

		if cpu, ok := cfg.CPUPin[vcpu]; ok {
			row.CPU = cpu
			row.CPUAffinity = strconv.Itoa(cpu)
		}

		rows = append(rows, row)
	}

	return rows
}

// pinnedByOthers returns the logical cores bound to vCPUs of every VM but vmID.
func pinnedByOthers(vms map[int]*vmconfig.VMConfig, vmID int) []int {
	pinned := cpuset.New()

	for id, cfg := range vms {
		if id == vmID {
			continue
		}

		pinned = pinned.Union(cfg.PinnedCPUs())
	}

	return pinned.List()
}

// cpuPinMap converts an assignment to the cpupin token map.
func cpuPinMap(vcpuCPUMap []pinner.VCPUCPU) map[int]int {
	pin := make(map[int]int, len(vcpuCPUMap))

	for _, m := range vcpuCPUMap {
		pin[m.VCPU] = m.CPU
	}

	return pin
}
