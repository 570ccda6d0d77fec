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

package vmconfig_test

import (
	"testing"

	"github.com/luthermonson/go-proxmox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"
)

func TestNewVMConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		description string
		affinity    string
		expected    string
		pin         map[int]int
	}{
		{
			name: "empty",
		},
		{
			name:        "affinity in description",
			description: "forwarder,affinity=2-5",
			expected:    "2-5",
		},
		{
			name:        "affinity option wins",
			description: "affinity=2-5",
			affinity:    "8-11",
			expected:    "8-11",
		},
		{
			name:        "cpupin line",
			description: "DPDK forwarder\ncpupin=2:1;3:5",
			pin:         map[int]int{2: 1, 3: 5},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := vmconfig.NewVMConfig(&proxmox.VirtualMachineConfig{Description: tc.description, Affinity: tc.affinity})
			require.NoError(t, err)

			assert.Equal(t, tc.expected, cfg.Affinity)
			assert.Equal(t, tc.pin, cfg.CPUPin)
		})
	}

	_, err := vmconfig.NewVMConfig(&proxmox.VirtualMachineConfig{Description: "cpupin=2-1"})
	assert.Error(t, err)
}

func TestCPUPinRoundTrip(t *testing.T) {
	t.Parallel()

	pin := map[int]int{3: 21, 2: 5, 10: 6}

	s := vmconfig.FormatCPUPin(pin)
	assert.Equal(t, "2:5;3:21;10:6", s)

	parsed, err := vmconfig.ParseCPUPin(s)
	require.NoError(t, err)
	assert.Equal(t, pin, parsed)

	for _, bad := range []string{"2", "a:1", "1:b"} {
		_, err := vmconfig.ParseCPUPin(bad)
		assert.Error(t, err, bad)
	}
}

func TestSetCPUPin(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		description string
		pin         map[int]int
		expected    string
	}{
		{
			name:     "empty description",
			pin:      map[int]int{2: 1, 3: 5},
			expected: "cpupin=2:1;3:5",
		},
		{
			name:        "replace token",
			description: "forwarder\ncpupin=0:1;1:5",
			pin:         map[int]int{2: 3},
			expected:    "forwarder\ncpupin=2:3",
		},
		{
			name:        "token next to affinity",
			description: "affinity=0-7,cpupin=0:1",
			pin:         map[int]int{0: 2},
			expected:    "affinity=0-7\ncpupin=0:2",
		},
		{
			name:        "remove token",
			description: "forwarder\ncpupin=0:1",
			expected:    "forwarder",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, vmconfig.SetCPUPin(tc.description, tc.pin))
		})
	}
}

func TestPinnedCPUs(t *testing.T) {
	t.Parallel()

	cfg := &vmconfig.VMConfig{CPUPin: map[int]int{0: 3, 1: 19}}
	assert.Equal(t, []int{3, 19}, cfg.PinnedCPUs().List())
}
