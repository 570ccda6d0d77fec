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

// Package topology derives host and guest CPU topology from cpuinfo reports.
package topology

import (
	"fmt"
	"slices"
	"strconv"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/cpuset"
)

// HostTopology is the hyperthreaded CPU layout of a host.
//
// Every physical core p owns two logical cores: p and p+NumPhysicalCores.
// Physical cores are identified by their lower logical core.
type HostTopology struct {
	NumLogicalCores  int
	NumPhysicalCores int
	NumSockets       int

	// PinnedLogicalCores are logical cores dedicated to other guests,
	// including cores of singleton vCPU affinities of the instance.
	PinnedLogicalCores cpuset.CPUSet

	// UnusedPhysicalCores maps a NUMA socket to its free physical cores.
	UnusedPhysicalCores map[int]sets.Set[int]
}

// Siblings returns the two logical cores of a physical core.
func (t *HostTopology) Siblings(pcore int) (int, int) {
	return pcore, pcore + t.NumPhysicalCores
}

// Sockets returns the socket IDs in ascending order.
func (t *HostTopology) Sockets() []int {
	ids := make([]int, 0, len(t.UnusedPhysicalCores))
	for id := range t.UnusedPhysicalCores {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// FreeCores returns the unused physical cores of a socket in ascending order.
func (t *HostTopology) FreeCores(socket int) []int {
	return sets.List(t.UnusedPhysicalCores[socket])
}

// Clone returns a deep copy of the topology.
func (t *HostTopology) Clone() *HostTopology {
	c := *t

	c.UnusedPhysicalCores = make(map[int]sets.Set[int], len(t.UnusedPhysicalCores))
	for socket, cores := range t.UnusedPhysicalCores {
		c.UnusedPhysicalCores[socket] = cores.Clone()
	}

	return &c
}

// String returns the free physical cores by socket, e.g. "0:[1-3] 1:[5,7]".
func (t *HostTopology) String() string {
	s := ""

	for i, socket := range t.Sockets() {
		if i > 0 {
			s += " "
		}

		s += fmt.Sprintf("%d:[%s]", socket, FormatCPUSet(t.FreeCores(socket)))
	}

	return s
}

// InstanceTopology is the vCPU view of a single guest.
type InstanceTopology struct {
	// VCPUAffinity maps a vCPU to the host logical cores it may run on.
	VCPUAffinity map[int]cpuset.CPUSet
	VCPUs        cpuset.CPUSet
}

// PinnedCPUs returns the host logical cores of vCPUs restricted to a single core.
func (t *InstanceTopology) PinnedCPUs() cpuset.CPUSet {
	cpus := []int{}

	for _, affinity := range t.VCPUAffinity {
		if affinity.Size() == 1 {
			cpus = append(cpus, affinity.List()...)
		}
	}

	return cpuset.New(cpus...)
}

// Discover derives the host and instance topology from a cpuinfo report.
func Discover(report *CPUInfoReport) (*HostTopology, *InstanceTopology, error) {
	if report == nil {
		return nil, nil, fmt.Errorf("%w: empty report", ErrMalformedTopologyReport)
	}

	instance, err := DiscoverInstance(report.Instance)
	if err != nil {
		return nil, nil, err
	}

	host, err := DiscoverHost(report.Host, instance)
	if err != nil {
		return nil, nil, err
	}

	return host, instance, nil
}

// DiscoverInstance builds the instance topology from instance report rows.
func DiscoverInstance(rows []InstanceRow) (*InstanceTopology, error) {
	t := &InstanceTopology{
		VCPUAffinity: make(map[int]cpuset.CPUSet, len(rows)),
	}

	vcpus := make([]int, 0, len(rows))

	for _, row := range rows {
		affinity, err := parseAffinity(row.CPUAffinity)
		if err != nil {
			return nil, fmt.Errorf("vcpu %d: %w", row.VCPU, err)
		}

		t.VCPUAffinity[row.VCPU] = affinity
		vcpus = append(vcpus, row.VCPU)
	}

	t.VCPUs = cpuset.New(vcpus...)

	return t, nil
}

// DiscoverHost builds the host topology. Logical cores of every NUMA node must
// form two equal halves where upper[i] == lower[i] + NumPhysicalCores.
// The first physical core of each node is left to the hypervisor. A physical core
// is in use when any of its logical cores is pinned on the host or is the single
// allowed core of an instance vCPU.
func DiscoverHost(report HostReport, instance *InstanceTopology) (*HostTopology, error) {
	value, ok := report.Get(KeyCPUs)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedTopologyReport, KeyCPUs)
	}

	numLCores, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number: %q", ErrMalformedTopologyReport, KeyCPUs, value)
	}

	if numLCores <= 0 || numLCores%2 != 0 {
		return nil, fmt.Errorf("%w: logical core count %d is not even, hyperthreading is required", ErrMalformedTopologyReport, numLCores)
	}

	numPCores := numLCores / 2

	pinned := cpuset.New(report.PinnedCPUs...)
	if instance != nil {
		pinned = pinned.Union(instance.PinnedCPUs())
	}

	t := &HostTopology{
		NumLogicalCores:     numLCores,
		NumPhysicalCores:    numPCores,
		PinnedLogicalCores:  pinned,
		UnusedPhysicalCores: map[int]sets.Set[int]{},
	}

	for socket := 0; ; socket++ {
		value, ok := report.Get(NUMANodeKey(socket))
		if !ok {
			t.NumSockets = socket

			break
		}

		lcores, err := ParseCPUSet(value)
		if err != nil {
			return nil, fmt.Errorf("numa node %d: %w", socket, err)
		}

		pcores, err := splitSiblings(lcores, numPCores)
		if err != nil {
			return nil, fmt.Errorf("numa node %d: %w", socket, err)
		}

		free := sets.New(pcores[1:]...)
		for _, lcore := range pinned.UnsortedList() {
			free.Delete(lcore, lcore-numPCores)
		}

		t.UnusedPhysicalCores[socket] = free
	}

	if t.NumSockets == 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedTopologyReport, NUMANodeKey(0))
	}

	return t, nil
}

// splitSiblings returns the lower half of a NUMA node's logical cores after
// checking that the upper half holds their hyperthread siblings.
func splitSiblings(lcores []int, numPCores int) ([]int, error) {
	if len(lcores) == 0 || len(lcores)%2 != 0 {
		return nil, fmt.Errorf("%w: %d logical cores cannot be split into sibling pairs", ErrMalformedTopologyReport, len(lcores))
	}

	half := len(lcores) / 2
	lower, upper := lcores[:half], lcores[half:]

	for i := range lower {
		if upper[i] != lower[i]+numPCores {
			return nil, fmt.Errorf("%w: logical core %d is not the sibling of %d", ErrMalformedTopologyReport, upper[i], lower[i])
		}
	}

	return lower, nil
}
