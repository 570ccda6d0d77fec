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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pxapi "github.com/luthermonson/go-proxmox"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"
)

func mustVMConfig(t *testing.T, vm *pxapi.VirtualMachineConfig) *vmconfig.VMConfig {
	t.Helper()

	cfg, err := vmconfig.NewVMConfig(vm)
	require.NoError(t, err)

	return cfg
}

func TestVCPUCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, vcpuCount(&pxapi.VirtualMachineConfig{}))
	assert.Equal(t, 4, vcpuCount(&pxapi.VirtualMachineConfig{Cores: 4}))
	assert.Equal(t, 8, vcpuCount(&pxapi.VirtualMachineConfig{Cores: 4, Sockets: 2}))
	assert.Equal(t, 6, vcpuCount(&pxapi.VirtualMachineConfig{Cores: 4, Sockets: 2, VCPUs: 6}))
}

func TestInstanceRows(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		vm       *pxapi.VirtualMachineConfig
		expected []topology.InstanceRow
	}{
		{
			name: "unpinned",
			vm:   &pxapi.VirtualMachineConfig{Cores: 2},
			expected: []topology.InstanceRow{
				{VCPU: 0, CPU: -1, State: "running", CPUAffinity: "0-7"},
				{VCPU: 1, CPU: -1, State: "running", CPUAffinity: "0-7"},
			},
		},
		{
			name: "affinity",
			vm:   &pxapi.VirtualMachineConfig{Cores: 2, Affinity: "0-3"},
			expected: []topology.InstanceRow{
				{VCPU: 0, CPU: -1, State: "running", CPUAffinity: "0-3"},
				{VCPU: 1, CPU: -1, State: "running", CPUAffinity: "0-3"},
			},
		},
		{
			name: "pinned",
			vm:   &pxapi.VirtualMachineConfig{Cores: 3, Description: "web\ncpupin=1:2;2:6"},
			expected: []topology.InstanceRow{
				{VCPU: 0, CPU: -1, State: "running", CPUAffinity: "0-7"},
				{VCPU: 1, CPU: 2, State: "running", CPUAffinity: "2"},
				{VCPU: 2, CPU: 6, State: "running", CPUAffinity: "6"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rows := instanceRows(mustVMConfig(t, tc.vm), "running", 8)
			assert.Equal(t, tc.expected, rows)

			instance, err := topology.DiscoverInstance(rows)
			require.NoError(t, err)
			assert.Equal(t, len(tc.expected), instance.VCPUs.Size())
		})
	}
}

func TestPinnedByOthers(t *testing.T) {
	t.Parallel()

	vms := map[int]*vmconfig.VMConfig{
		100: mustVMConfig(t, &pxapi.VirtualMachineConfig{Description: "cpupin=0:1;1:9"}),
		101: mustVMConfig(t, &pxapi.VirtualMachineConfig{Description: "cpupin=0:2,other=1"}),
		102: mustVMConfig(t, &pxapi.VirtualMachineConfig{Description: "plain"}),
	}

	assert.Equal(t, []int{2}, pinnedByOthers(vms, 100))
	assert.Equal(t, []int{1, 2, 9}, pinnedByOthers(vms, 0))
}

func TestCPUPinMap(t *testing.T) {
	t.Parallel()

	pin := cpuPinMap([]pinner.VCPUCPU{{VCPU: 2, CPU: 1}, {VCPU: 3, CPU: 5}})
	assert.Equal(t, map[int]int{2: 1, 3: 5}, pin)
	assert.Equal(t, "web\ncpupin=2:1;3:5", vmconfig.SetCPUPin("web\ncpupin=0:0", pin))
}
