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

package static

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
)

const cpuinfo = `
host:
  "CPU(s):": 8
  "NUMA node0 CPU(s):": 0-7
instance:
  - {VCPU: 0, CPU: 1, State: running, CPU Affinity: 0-7}
  - {VCPU: 1, CPU: 2, State: running, CPU Affinity: 0-7}
`

func TestProvider(t *testing.T) {
	t.Parallel()

	name := filepath.Join(t.TempDir(), "cpuinfo.yaml")
	require.NoError(t, os.WriteFile(name, []byte(cpuinfo), 0o600))

	p, err := NewProviderFromFile(name)
	require.NoError(t, err)

	ctx := context.Background()
	node := cpupin.NodeRef{Host: "pve-1", Name: "worker-1"}

	reply, err := p.Placement(ctx, node, cpupin.OperationCPUPin, []pinner.VCPUCPU{{VCPU: 0, CPU: 1}, {VCPU: 1, CPU: 5}})
	require.NoError(t, err)
	assert.Equal(t, cpupin.PlacementSuccess, reply)

	report, err := p.CPUInfo(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, []topology.InstanceRow{
		{VCPU: 0, CPU: 1, State: "running", CPUAffinity: "1"},
		{VCPU: 1, CPU: 5, State: "running", CPUAffinity: "5"},
	}, report.Instance)

	_, instance, err := topology.Discover(report)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, instance.PinnedCPUs().List())
}

func TestPlacementRejected(t *testing.T) {
	t.Parallel()

	report, err := topology.LoadCPUInfoReport([]byte(cpuinfo))
	require.NoError(t, err)

	p := NewProvider(report)

	reply, err := p.Placement(context.Background(), cpupin.NodeRef{}, "migrate", nil)
	require.NoError(t, err)
	assert.Equal(t, "Unknown operation migrate", reply)

	reply, err = p.Placement(context.Background(), cpupin.NodeRef{}, cpupin.OperationCPUPin, []pinner.VCPUCPU{{VCPU: 0, CPU: 1}, {VCPU: 7, CPU: 5}})
	require.NoError(t, err)
	assert.Equal(t, "Unknown vcpu 7", reply)
	assert.Equal(t, "0-7", report.Instance[0].CPUAffinity, "rejected placement leaves the report unchanged")

	_, err = NewProviderFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
