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

package main

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/multierr"

	utilsys "github.com/sergelogvinov/proxmox-cpupin/pkg/utils/sys"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"

	"k8s.io/utils/cpuset"
)

// handleVMStart binds the vCPU threads of a running VM. It returns false when
// there was nothing to change.
func (r *PinHandler) handleVMStart(ctx context.Context, vmID int, pid int, force bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock := r.locks.Lock(vmID)
	defer unlock()

	if !r.host.ProcessExists(pid) {
		r.logger.Info("Warning: VM does not exist or is not accessible", "vmID", vmID, "pid", pid)

		return false, fmt.Errorf("VM %d process %d does not exist", vmID, pid)
	}

	vmConfig, err := r.loadVMConfig(vmID)
	if err != nil {
		return false, err
	}

	if len(vmConfig.CPUPin) == 0 && vmConfig.Affinity == "" && r.appliedFingerprint(vmID) == 0 {
		r.logger.V(1).Info("VM has no CPU placement", "vmID", vmID, "name", vmConfig.Name)

		return false, nil
	}

	fp := fingerprint(pid, vmConfig)
	if !force && r.appliedFingerprint(vmID) == fp {
		r.logger.V(1).Info("VM placement unchanged", "vmID", vmID)

		return false, nil
	}

	affinity := cpuset.New()
	if vmConfig.Affinity != "" {
		affinity, err = cpuset.Parse(vmConfig.Affinity)
		if err != nil {
			return false, fmt.Errorf("failed to parse CPU affinity of VM %d: %w", vmID, err)
		}
	}

	threads, err := r.host.VCPUThreads(pid)
	if err != nil {
		return false, err
	}

	if len(threads) == 0 {
		r.logger.Info("VM has no CPU threads yet", "vmID", vmID)

		return false, fmt.Errorf("VM %d has no CPU threads yet", vmID)
	}

	r.logger.Info("VM config loaded", "vmID", vmID, "name", vmConfig.Name,
		"cores", vmConfig.Cores, "cpupin", vmconfig.FormatCPUPin(vmConfig.CPUPin), "affinity", vmConfig.Affinity)

	var errs error

	pinned := 0

	for vcpu, tid := range threads {
		cpus, ok := vcpuAffinity(vmConfig, affinity, r.hostCPUs, vcpu)
		if !ok {
			continue
		}

		if err := r.setAffinity(tid, cpus); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("vcpu %d thread %d: %w", vcpu, tid, err))

			continue
		}

		if cpus.Size() == 1 {
			pinned++
		}

		r.logger.V(1).Info("VM vCPU thread bound", "vmID", vmID, "vcpu", vcpu, "tid", tid, "cpus", cpus.String())
	}

	if r.metrics != nil {
		r.metrics.PinnedThreads.WithLabelValues(strconv.Itoa(vmID)).Set(float64(pinned))
	}

	if errs != nil {
		return false, errs
	}

	cores := dedicatedCores(vmConfig, affinity)
	r.tuneCores(vmID, pid, vmConfig, cores)

	r.mu.Lock()
	r.applied[vmID] = fp
	r.mu.Unlock()

	return true, nil
}

// dedicatedCores returns the cores reserved for the VM: its cpupin cores, or
// the VM affinity when it has one core per vCPU.
func dedicatedCores(vmConfig *vmconfig.VMConfig, affinity cpuset.CPUSet) cpuset.CPUSet {
	cores := vmConfig.PinnedCPUs()

	if vmConfig.Cores > 0 && vmConfig.Cores == affinity.Size() {
		cores = cores.Union(affinity)
	}

	return cores
}

// tuneCores sets the governor and the IRQ affinity of passthrough devices.
// Failures are logged only.
func (r *PinHandler) tuneCores(vmID, pid int, vmConfig *vmconfig.VMConfig, cores cpuset.CPUSet) {
	if cores.IsEmpty() {
		return
	}

	if r.features.IsEnabled(FeatureGovernor) {
		r.logger.Info("VM governing CPUs", "vmID", vmID, "governor", utilsys.GovernorPerformance, "cores", cores.String())

		if err := r.host.SetCPUGovernor(cores, utilsys.GovernorPerformance); err != nil {
			r.logger.Error(err, "Failed to set CPU governor for VM", "vmID", vmID)
		}
	}

	if !r.features.IsEnabled(FeatureIRQAffinity) || len(vmConfig.MergeHostPCIs()) == 0 {
		return
	}

	cmdlineArgs, err := r.host.ProcessCmdline(pid)
	if err != nil {
		r.logger.Error(err, "Failed to get VM process cmdline", "vmID", vmID, "pid", pid)

		return
	}

	for _, device := range vmconfig.ParseVfioPciDevices(cmdlineArgs) {
		irqs, err := r.host.PciDeviceIRQs(device.HostAddress)
		if err != nil {
			r.logger.Error(err, "Failed to find IRQs for PCI device", "vmID", vmID, "device", device.HostAddress)

			continue
		}

		if len(irqs) == 0 {
			continue
		}

		r.logger.Info("VM setting IRQ affinity", "vmID", vmID, "device", device.HostAddress, "irqs", irqs, "cpus", cores.String())

		if err := r.host.SetIRQAffinity(irqs, cores); err != nil {
			r.logger.Error(err, "Failed to set IRQ affinity for PCI device", "vmID", vmID, "device", device.HostAddress)

			if r.metrics != nil {
				r.metrics.IRQAffinityErrs.Inc()
			}
		}
	}
}

func (r *PinHandler) appliedFingerprint(vmID int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.applied[vmID]
}
