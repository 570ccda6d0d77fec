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

package sys

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"
)

// GovernorPerformance keeps cores at their highest frequency.
const GovernorPerformance = "performance"

// SetCPUGovernor sets the scaling governor of logical cores.
// Cores without cpufreq support are skipped.
func (h *Host) SetCPUGovernor(cpus cpuset.CPUSet, governor string) error {
	if cpus.IsEmpty() {
		return nil
	}

	if !h.cpuGovernorAvailable(cpus.List()[0], governor) {
		return fmt.Errorf("CPU governor %s not available", governor)
	}

	for _, cpuID := range cpus.List() {
		governorFile := h.cpufreq(cpuID, "scaling_governor")

		current, err := os.ReadFile(governorFile)
		if err != nil {
			continue
		}

		if strings.TrimSpace(string(current)) == governor {
			continue
		}

		if err := os.WriteFile(governorFile, []byte(governor+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to set CPU governor of CPU %d: %w", cpuID, err)
		}
	}

	return nil
}

// CPUGovernor returns the scaling governor of a logical core.
func (h *Host) CPUGovernor(cpuID int) (string, error) {
	data, err := os.ReadFile(h.cpufreq(cpuID, "scaling_governor"))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

func (h *Host) cpuGovernorAvailable(cpuID int, governor string) bool {
	data, err := os.ReadFile(h.cpufreq(cpuID, "scaling_available_governors"))
	if err != nil {
		return false
	}

	for available := range strings.FieldsSeq(string(data)) {
		if available == governor {
			return true
		}
	}

	return false
}

func (h *Host) cpufreq(cpuID int, name string) string {
	return h.sys("devices", "system", "cpu", "cpu"+strconv.Itoa(cpuID), "cpufreq", name)
}
