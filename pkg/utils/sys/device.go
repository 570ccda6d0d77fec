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
	"slices"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"
)

// PciDeviceIRQs returns the legacy and MSI interrupts of a PCI device.
func (h *Host) PciDeviceIRQs(pciAddress string) ([]int, error) {
	data, err := os.ReadFile(h.proc("interrupts"))
	if err != nil {
		return nil, fmt.Errorf("failed to read interrupts: %w", err)
	}

	irqs := []int{}

	for line := range strings.SplitSeq(string(data), "\n") {
		if !strings.Contains(line, pciAddress) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if irq, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":")); err == nil {
			irqs = append(irqs, irq)
		}
	}

	entries, err := os.ReadDir(h.sys("bus", "pci", "devices", pciAddress, "msi_irqs"))
	if err == nil {
		for _, entry := range entries {
			if irq, err := strconv.Atoi(entry.Name()); err == nil {
				irqs = append(irqs, irq)
			}
		}
	}

	slices.Sort(irqs)

	return slices.Compact(irqs), nil
}

// SetIRQAffinity routes interrupts to the given logical cores.
// Interrupts that disappeared are skipped.
func (h *Host) SetIRQAffinity(irqs []int, cpus cpuset.CPUSet) error {
	if len(irqs) == 0 || cpus.IsEmpty() {
		return nil
	}

	for _, irq := range irqs {
		affinityFile := h.proc("irq", strconv.Itoa(irq), "smp_affinity_list")

		if err := os.WriteFile(affinityFile, []byte(cpus.String()+"\n"), 0o644); err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("failed to set affinity of IRQ %d: %w", irq, err)
		}
	}

	return nil
}
