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
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/metrics"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/locks"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/reconciler"
	utilsys "github.com/sergelogvinov/proxmox-cpupin/pkg/utils/sys"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"

	"k8s.io/utils/cpuset"
)

const (
	// pidFileExtension is the file extension for PID files
	pidFileExtension = ".pid"
)

// PinHandler binds vCPU threads of local VMs to the logical cores stored in
// their config.
type PinHandler struct {
	host      *utilsys.Host
	watchPath string
	hostCPUs  cpuset.CPUSet
	features  FeatureFlags
	metrics   *metrics.Metrics
	logger    logr.Logger

	loadVMConfig func(vmID int) (*vmconfig.VMConfig, error)
	setAffinity  func(tid int, cpus cpuset.CPUSet) error

	locks *locks.Locks[int]

	mu      sync.Mutex
	applied map[int]uint64
}

// NewHandler returns a PinHandler for the pid files in watchPath. Threads
// without a placement are allowed on every core of hostCPUs.
func NewHandler(watchPath string, hostCPUs cpuset.CPUSet, features FeatureFlags, m *metrics.Metrics, logger logr.Logger) *PinHandler {
	return &PinHandler{
		host:         utilsys.NewHost(),
		watchPath:    watchPath,
		hostCPUs:     hostCPUs,
		features:     features,
		metrics:      m,
		logger:       logger,
		loadVMConfig: vmconfig.LoadVMConfig,
		setAffinity:  utilsys.SetThreadAffinity,
		locks:        locks.NewLocks[int](),
		applied:      map[int]uint64{},
	}
}

// Reconcile handles pid file events and periodic resyncs. A resync applies
// every running VM again, even when its config has not changed.
func (r *PinHandler) Reconcile(ctx context.Context, event reconciler.Event) error {
	r.logger.V(2).Info("Processing event", "type", event.Type, "key", event.Key, "op", event.Op)

	switch event.Type {
	case reconciler.FileEvent:
		vmID, ok := vmIDFromPidFile(event.Key)
		if !ok {
			r.logger.V(2).Info("Ignoring non proxmox PID file", "file", event.Key)

			return nil
		}

		if event.Op.Has(fsnotify.Remove) {
			r.logger.V(1).Info("VM stopped", "vmID", vmID)
			r.forget(vmID)

			return nil
		}

		return r.reconcilePidFile(ctx, vmID, event.Key, false)

	case reconciler.TimerEvent:
		files, err := filepath.Glob(filepath.Join(r.watchPath, "*"+pidFileExtension))
		if err != nil {
			return err
		}

		var errs error

		for _, file := range files {
			vmID, ok := vmIDFromPidFile(file)
			if !ok {
				continue
			}

			errs = multierr.Append(errs, r.reconcilePidFile(ctx, vmID, file, true))
		}

		return errs
	}

	return nil
}

func (r *PinHandler) reconcilePidFile(ctx context.Context, vmID int, file string, force bool) error {
	pid, err := utilsys.GetPidFromFile(file)
	if err != nil {
		r.logger.Error(err, "Failed to read PID from file", "file", file)

		return err
	}

	start := time.Now()
	result := metrics.ResultSuccess

	applied, err := r.handleVMStart(ctx, vmID, pid, force)

	switch {
	case err != nil:
		r.logger.Error(err, "Failed to handle VM start", "vmID", vmID, "pid", pid)

		result = metrics.ResultError
	case !applied:
		result = metrics.ResultSkipped
	}

	if r.metrics != nil {
		r.metrics.Reconciles.WithLabelValues(result).Inc()
		r.metrics.ReconcileTime.Observe(time.Since(start).Seconds())
	}

	return err
}

func (r *PinHandler) forget(vmID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.applied, vmID)

	if r.metrics != nil {
		r.metrics.PinnedThreads.DeleteLabelValues(strconv.Itoa(vmID))
	}
}

// vmIDFromPidFile returns the VM ID of a qemu-server pid file name.
func vmIDFromPidFile(name string) (int, bool) {
	base, ok := strings.CutSuffix(filepath.Base(name), pidFileExtension)
	if !ok {
		return 0, false
	}

	vmID, err := strconv.Atoi(base)
	if err != nil || vmID <= 0 {
		return 0, false
	}

	return vmID, true
}

type vmState struct {
	Pid      int
	CPUPin   map[int]int
	Affinity string
}

func fingerprint(pid int, cfg *vmconfig.VMConfig) uint64 {
	return lo.Must(hashstructure.Hash(vmState{
		Pid:      pid,
		CPUPin:   cfg.CPUPin,
		Affinity: cfg.Affinity,
	}, hashstructure.FormatV2, nil))
}

// vcpuAffinity returns the cores a vCPU thread may run on. A cpupin entry wins
// over the VM affinity, an unrestricted thread gets every host core so an
// earlier single core binding does not survive a re-pin.
// The second value is false when there is nothing to bind to.
func vcpuAffinity(cfg *vmconfig.VMConfig, affinity, hostCPUs cpuset.CPUSet, vcpu int) (cpuset.CPUSet, bool) {
	if cpu, ok := cfg.CPUPin[vcpu]; ok {
		return cpuset.New(cpu), true
	}

	if affinity.Size() > 0 {
		return affinity, true
	}

	return hostCPUs, hostCPUs.Size() > 0
}
