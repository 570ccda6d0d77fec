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

package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/util/sets"
)

const virshVCPUInfo = `VCPU:           0
CPU:            4
State:          running
CPU time:       12.3s
CPU Affinity:   0-31

VCPU:           1
CPU:            19
State:          running
CPU time:       1.1s
CPU Affinity:   19

VCPU:           2
CPU:            -
State:          offline
CPU Affinity:   0-31
`

func TestParseHostReport(t *testing.T) {
	t.Parallel()

	report, err := ParseHostReport(lscpuDualSocket)
	require.NoError(t, err)

	v, ok := report.Get(KeyCPUs)
	assert.True(t, ok)
	assert.Equal(t, "32", v)

	v, ok = report.Get(NUMANodeKey(1))
	assert.True(t, ok)
	assert.Equal(t, "8-15,24-31", v)

	_, ok = report.Get(NUMANodeKey(2))
	assert.False(t, ok)

	assert.Equal(t, []int{2, 25}, report.PinnedCPUs)
	assert.Contains(t, report.String(), "pinned_cpus: 2,25")

	_, err = ParseHostReport("CPU(s) 8")
	assert.ErrorIs(t, err, ErrMalformedTopologyReport)
}

func TestParsePinnedCPUs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		value    string
		expected []int
	}{
		{value: "", expected: []int{}},
		{value: "[]", expected: []int{}},
		{value: "2,25", expected: []int{2, 25}},
		{value: "[1,5]", expected: []int{1, 5}},
		{value: "[1, 5]", expected: []int{1, 5}},
		{value: " [5, 1, 1] ", expected: []int{1, 5}},
		{value: "0-2, 8", expected: []int{0, 1, 2, 8}},
	}

	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			t.Parallel()

			cpus, err := ParsePinnedCPUs(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cpus)
		})
	}

	_, err := ParsePinnedCPUs("[1, x]")
	assert.ErrorIs(t, err, ErrMalformedTopologyReport)

	report, err := ParseHostReport("CPU(s): 8\npinned_cpus: [1, 5]\n")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, report.PinnedCPUs)

	doc, err := LoadCPUInfoReport([]byte(`{"host": {"CPU(s):": "8", "pinned_cpus": "[1, 5]"}}`))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, doc.Host.PinnedCPUs)
}

func TestParseHostReportKeepsColonInValue(t *testing.T) {
	t.Parallel()

	report, err := ParseHostReport("Vulnerability Itlb multihit:  KVM: Mitigation: VMX disabled\n")
	require.NoError(t, err)

	v, ok := report.Get("Vulnerability Itlb multihit:")
	assert.True(t, ok)
	assert.Equal(t, "KVM: Mitigation: VMX disabled", v)
}

func TestParseInstanceReport(t *testing.T) {
	t.Parallel()

	rows, err := ParseInstanceReport(virshVCPUInfo)
	require.NoError(t, err)

	assert.Equal(t, []InstanceRow{
		{VCPU: 0, CPU: 4, State: "running", CPUAffinity: "0-31"},
		{VCPU: 1, CPU: 19, State: "running", CPUAffinity: "19"},
		{VCPU: 2, CPU: -1, State: "offline", CPUAffinity: "0-31"},
	}, rows)

	_, err = ParseInstanceReport("VCPU: zero\nCPU Affinity: 1\n")
	assert.ErrorIs(t, err, ErrMalformedTopologyReport)
}

func TestLoadCPUInfoReport(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		doc  string
	}{
		{
			name: "yaml",
			doc: `
host:
  "CPU(s):": 8
  "NUMA node0 CPU(s):": 0-7
  pinned_cpus: [1]
instance:
  - VCPU: 0
    CPU: 2
    State: running
    CPU Affinity: 0-7
  - VCPU: 1
    CPU: 5
    CPU Affinity: "5"
`,
		},
		{
			name: "json",
			doc: `{
  "host": {"CPU(s):": "8", "NUMA node0 CPU(s):": "0-7", "pinned_cpus": ["1"]},
  "instance": [
    {"VCPU": "0", "CPU": "2", "State": "running", "CPU Affinity": "0-7"},
    {"VCPU": "1", "CPU": "5", "CPU Affinity": "5"}
  ]
}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			report, err := LoadCPUInfoReport([]byte(tc.doc))
			require.NoError(t, err)

			assert.Equal(t, "8", report.Host.Fields[KeyCPUs])
			assert.Equal(t, []int{1}, report.Host.PinnedCPUs)
			require.Len(t, report.Instance, 2)
			assert.Equal(t, InstanceRow{VCPU: 1, CPU: 5, CPUAffinity: "5"}, report.Instance[1])

			host, instance, err := Discover(report)
			require.NoError(t, err)

			assert.Equal(t, []int{0, 1}, instance.VCPUs.List())
			assert.Equal(t, sets.New(2, 3), host.UnusedPhysicalCores[0])
		})
	}
}
