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
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pxapi "github.com/luthermonson/go-proxmox"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/metrics"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/reconciler"
	utilsys "github.com/sergelogvinov/proxmox-cpupin/pkg/utils/sys"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"

	"k8s.io/klog/v2/ktesting"
	"k8s.io/utils/cpuset"
)

type affinityRecorder struct {
	mu    sync.Mutex
	calls map[int]string
	fail  int
}

func (a *affinityRecorder) set(tid int, cpus cpuset.CPUSet) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tid == a.fail {
		return fmt.Errorf("operation not permitted")
	}

	a.calls[tid] = cpus.String()

	return nil
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

// testHandler creates a qemu process 4242 of VM 100 with three vCPU threads.
func testHandler(t *testing.T, description string) (*PinHandler, *affinityRecorder, string) {
	t.Helper()

	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	watch := filepath.Join(root, "run")

	writeFile(t, filepath.Join(proc, "4242", "stat"), "4242 (kvm) S")
	writeFile(t, filepath.Join(proc, "4242", "task", "4242", "comm"), "kvm\n")

	for vcpu, tid := range []int{4250, 4251, 4252} {
		writeFile(t, filepath.Join(proc, "4242", "task", strconv.Itoa(tid), "comm"), fmt.Sprintf("CPU %d/KVM\n", vcpu))
	}

	pidFile := filepath.Join(watch, "100.pid")
	writeFile(t, pidFile, "4242\n")

	rec := &affinityRecorder{calls: map[int]string{}}

	h := NewHandler(watch, cpuset.New(0, 1, 2, 3, 4, 5, 6, 7), FeatureFlags{}, metrics.New(), ktesting.NewLogger(t, ktesting.NewConfig()))
	h.host = &utilsys.Host{ProcPath: proc, SysPath: filepath.Join(root, "sys")}
	h.setAffinity = rec.set
	h.loadVMConfig = func(vmID int) (*vmconfig.VMConfig, error) {
		if vmID != 100 {
			return nil, fmt.Errorf("vm %d not found", vmID)
		}

		return vmconfig.NewVMConfig(&pxapi.VirtualMachineConfig{Name: "worker-1", Cores: 3, Description: description})
	}

	return h, rec, pidFile
}

func TestReconcileFileEvent(t *testing.T) {
	t.Parallel()

	h, rec, pidFile := testHandler(t, "cpupin=1:2;2:6")
	ctx := context.Background()

	event := reconciler.Event{Type: reconciler.FileEvent, Key: pidFile, Op: fsnotify.Create}

	require.NoError(t, h.Reconcile(ctx, event))
	assert.Equal(t, map[int]string{4250: "0-7", 4251: "2", 4252: "6"}, rec.calls)

	rec.calls = map[int]string{}

	require.NoError(t, h.Reconcile(ctx, event))
	assert.Empty(t, rec.calls, "unchanged placement is not applied again")

	require.NoError(t, h.Reconcile(ctx, reconciler.Event{Type: reconciler.TimerEvent, Key: reconciler.ResyncKey}))
	assert.Equal(t, map[int]string{4250: "0-7", 4251: "2", 4252: "6"}, rec.calls, "resync applies every VM")

	require.NoError(t, h.Reconcile(ctx, reconciler.Event{Type: reconciler.FileEvent, Key: pidFile, Op: fsnotify.Remove}))
	assert.Zero(t, h.appliedFingerprint(100))
}

func TestReconcileAffinity(t *testing.T) {
	t.Parallel()

	h, rec, pidFile := testHandler(t, "affinity=0-3\ncpupin=0:5")

	require.NoError(t, h.Reconcile(context.Background(), reconciler.Event{Type: reconciler.FileEvent, Key: pidFile, Op: fsnotify.Write}))
	assert.Equal(t, map[int]string{4250: "5", 4251: "0-3", 4252: "0-3"}, rec.calls)
}

func TestReconcileRepin(t *testing.T) {
	t.Parallel()

	h, rec, pidFile := testHandler(t, "")
	ctx := context.Background()

	description := "cpupin=0:1;1:2;2:6"
	h.loadVMConfig = func(int) (*vmconfig.VMConfig, error) {
		return vmconfig.NewVMConfig(&pxapi.VirtualMachineConfig{Name: "worker-1", Cores: 3, Description: description})
	}

	event := reconciler.Event{Type: reconciler.FileEvent, Key: pidFile, Op: fsnotify.Write}

	require.NoError(t, h.Reconcile(ctx, event))
	assert.Equal(t, map[int]string{4250: "1", 4251: "2", 4252: "6"}, rec.calls)

	description = "cpupin=1:3;2:7"

	require.NoError(t, h.Reconcile(ctx, event))
	assert.Equal(t, map[int]string{4250: "0-7", 4251: "3", 4252: "7"}, rec.calls, "dropped vcpu is released to every host core")

	description = "plain vm"

	require.NoError(t, h.Reconcile(ctx, event))
	assert.Equal(t, map[int]string{4250: "0-7", 4251: "0-7", 4252: "0-7"}, rec.calls, "removed placement releases every vcpu")
}

func TestVCPUAffinity(t *testing.T) {
	t.Parallel()

	cfg, err := vmconfig.NewVMConfig(&pxapi.VirtualMachineConfig{Cores: 2, Description: "cpupin=0:5"})
	require.NoError(t, err)

	hostCPUs := cpuset.New(0, 1, 2, 3)

	testCases := []struct {
		name     string
		affinity cpuset.CPUSet
		hostCPUs cpuset.CPUSet
		vcpu     int

		expected string
		ok       bool
	}{
		{name: "cpupin entry", affinity: cpuset.New(0, 1), hostCPUs: hostCPUs, vcpu: 0, expected: "5", ok: true},
		{name: "vm affinity", affinity: cpuset.New(0, 1), hostCPUs: hostCPUs, vcpu: 1, expected: "0-1", ok: true},
		{name: "unrestricted", affinity: cpuset.New(), hostCPUs: hostCPUs, vcpu: 1, expected: "0-3", ok: true},
		{name: "unknown host cores", affinity: cpuset.New(), hostCPUs: cpuset.New(), vcpu: 1, expected: "", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cpus, ok := vcpuAffinity(cfg, tc.affinity, tc.hostCPUs, tc.vcpu)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, cpus.String())
		})
	}
}

func TestReconcileErrors(t *testing.T) {
	t.Parallel()

	t.Run("affinity failure is retried", func(t *testing.T) {
		t.Parallel()

		h, rec, pidFile := testHandler(t, "cpupin=1:2;2:6")
		rec.fail = 4252

		event := reconciler.Event{Type: reconciler.FileEvent, Key: pidFile, Op: fsnotify.Create}

		assert.ErrorContains(t, h.Reconcile(context.Background(), event), "vcpu 2 thread 4252")
		assert.Zero(t, h.appliedFingerprint(100))
	})

	t.Run("process gone", func(t *testing.T) {
		t.Parallel()

		h, _, pidFile := testHandler(t, "cpupin=1:2")
		writeFile(t, pidFile, "999\n")

		assert.ErrorContains(t, h.Reconcile(context.Background(), reconciler.Event{Type: reconciler.FileEvent, Key: pidFile}), "does not exist")
	})

	t.Run("no placement", func(t *testing.T) {
		t.Parallel()

		h, rec, pidFile := testHandler(t, "plain vm")

		assert.NoError(t, h.Reconcile(context.Background(), reconciler.Event{Type: reconciler.FileEvent, Key: pidFile}))
		assert.Empty(t, rec.calls)
	})

	t.Run("foreign pid file", func(t *testing.T) {
		t.Parallel()

		h, rec, _ := testHandler(t, "cpupin=1:2")

		assert.NoError(t, h.Reconcile(context.Background(), reconciler.Event{Type: reconciler.FileEvent, Key: "/run/qemu-server/qmeventd.pid"}))
		assert.Empty(t, rec.calls)
	})
}

func TestVMIDFromPidFile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		vmID int
		ok   bool
	}{
		{name: "/run/qemu-server/100.pid", vmID: 100, ok: true},
		{name: "101.pid", vmID: 101, ok: true},
		{name: "/run/qemu-server/100.qmp"},
		{name: "/run/qemu-server/agent.pid"},
		{name: "/run/qemu-server/0.pid"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			vmID, ok := vmIDFromPidFile(tc.name)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.vmID, vmID)
		})
	}
}

func TestDedicatedCores(t *testing.T) {
	t.Parallel()

	cfg, err := vmconfig.NewVMConfig(&pxapi.VirtualMachineConfig{Cores: 2, Description: "cpupin=0:5"})
	require.NoError(t, err)

	assert.Equal(t, "5", dedicatedCores(cfg, cpuset.New(0, 1, 2)).String())
	assert.Equal(t, "0-1,5", dedicatedCores(cfg, cpuset.New(0, 1)).String())
}

func TestParseFeatureFlags(t *testing.T) {
	t.Parallel()

	flags := parseFeatureFlags("governor, irq-affinity,,")
	assert.True(t, flags.IsEnabled(FeatureGovernor))
	assert.True(t, flags.IsEnabled(FeatureIRQAffinity))
	assert.False(t, parseFeatureFlags("").IsEnabled(FeatureGovernor))
}
