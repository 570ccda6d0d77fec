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

// Package vmconfig reads local Proxmox VM configs and the placement stored in their description.
package vmconfig

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/luthermonson/go-proxmox"

	goproxmox "github.com/sergelogvinov/go-proxmox"

	"k8s.io/utils/cpuset"
)

const (
	// AffinityKey is the description token with a VM wide cpuset.
	AffinityKey = "affinity="
	// CPUPinKey is the description token with the vCPU to logical core map,
	// e.g. "cpupin=2:1;3:5".
	CPUPinKey = "cpupin="
)

// VMConfig is a VM config with its vCPU placement.
type VMConfig struct {
	*proxmox.VirtualMachineConfig

	// CPUPin maps a vCPU to the logical core it is bound to.
	CPUPin map[int]int
}

// LoadVMConfig loads the local VM configuration for the given VM ID.
func LoadVMConfig(vmID int) (*VMConfig, error) {
	vm, err := goproxmox.GetLocalVMConfig(vmID)
	if err != nil {
		return nil, fmt.Errorf("failed to get VM config for VM %d: %w", vmID, err)
	}

	return NewVMConfig(vm)
}

// NewVMConfig parses the placement tokens of a VM config description.
// A valid "affinity=" token is used when the affinity option is not set.
func NewVMConfig(vm *proxmox.VirtualMachineConfig) (*VMConfig, error) {
	cfg := &VMConfig{VirtualMachineConfig: vm}

	for _, part := range descriptionParts(vm.Description) {
		if affinity, ok := strings.CutPrefix(part, AffinityKey); ok && vm.Affinity == "" {
			if _, err := cpuset.Parse(affinity); err == nil {
				vm.Affinity = affinity
			}
		}

		if mapping, ok := strings.CutPrefix(part, CPUPinKey); ok {
			pin, err := ParseCPUPin(mapping)
			if err != nil {
				return nil, fmt.Errorf("vm %s: %w", vm.Name, err)
			}

			cfg.CPUPin = pin
		}
	}

	return cfg, nil
}

// PinnedCPUs returns the logical cores bound to vCPUs of the VM.
func (c *VMConfig) PinnedCPUs() cpuset.CPUSet {
	return cpuset.New(slices.Collect(maps.Values(c.CPUPin))...)
}

// ParseCPUPin parses "vcpu:cpu;vcpu:cpu".
func ParseCPUPin(s string) (map[int]int, error) {
	pin := map[int]int{}

	for item := range strings.SplitSeq(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		vcpuStr, cpuStr, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("invalid cpupin entry %q", item)
		}

		vcpu, err := strconv.Atoi(vcpuStr)
		if err != nil {
			return nil, fmt.Errorf("invalid vcpu in cpupin entry %q: %w", item, err)
		}

		cpu, err := strconv.Atoi(cpuStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu in cpupin entry %q: %w", item, err)
		}

		pin[vcpu] = cpu
	}

	return pin, nil
}

// FormatCPUPin renders a vCPU to logical core map ordered by vCPU.
func FormatCPUPin(pin map[int]int) string {
	parts := make([]string, 0, len(pin))
	for _, vcpu := range slices.Sorted(maps.Keys(pin)) {
		parts = append(parts, fmt.Sprintf("%d:%d", vcpu, pin[vcpu]))
	}

	return strings.Join(parts, ";")
}

// SetCPUPin replaces the cpupin token of a description.
// Other lines are kept. An empty map removes the token.
func SetCPUPin(description string, pin map[int]int) string {
	lines := []string{}

	for line := range strings.SplitSeq(description, "\n") {
		kept := []string{}

		for part := range strings.SplitSeq(line, ",") {
			if !strings.HasPrefix(strings.TrimSpace(part), CPUPinKey) {
				kept = append(kept, part)
			}
		}

		if line = strings.TrimSpace(strings.Join(kept, ",")); line != "" {
			lines = append(lines, line)
		}
	}

	if len(pin) > 0 {
		lines = append(lines, CPUPinKey+FormatCPUPin(pin))
	}

	return strings.Join(lines, "\n")
}

func descriptionParts(description string) []string {
	parts := strings.FieldsFunc(description, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}
