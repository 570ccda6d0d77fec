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

package nodesettings

import (
	"k8s.io/utils/cpuset"
)

// NodeSettings describes the CPU layout of a hypervisor node.
type NodeSettings struct {
	// NumSockets is the number of CPU sockets.
	NumSockets int `json:"sockets,omitempty"`
	// NumThreads is the number of threads per core.
	NumThreads int `json:"threads,omitempty"`
	// NumUncoreCaches is the number of uncore caches (CCX) per socket.
	// see: https://en.wikipedia.org/wiki/Epyc
	NumUncoreCaches int `json:"uncorecaches,omitempty"`
	// NUMANodes is a map of NUMA node ID to its information.
	NUMANodes NUMANodes `json:"nodes,omitempty"`

	// ReservedCPUs are logical cores kept for the hypervisor or dedicated to
	// workloads outside of the cluster, for example [0,4].
	ReservedCPUs []int `json:"reservedcpus,omitempty"`
}

// NUMANodes is a map from NUMA node ID to its information.
type NUMANodes map[int]NUMAInfo

// NUMAInfo holds the logical cores of a NUMA node.
// numactl --hardware
// node 0 cpus: 0 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15
//
// With hyperthreading the first half are physical cores (0-7)
// and the second half their sibling threads (8-15).
type NUMAInfo struct {
	CPUs    string `json:"cpus"`
	MemSize uint64 `json:"memsize,omitempty"`
}

// CPUSet returns the parsed logical cores of the NUMA node.
func (n NUMAInfo) CPUSet() (cpuset.CPUSet, error) {
	return cpuset.Parse(n.CPUs)
}

// NodeSettingsConfig is a map from region to node name (or "*") to NodeSettings.
//
//	region-1:
//	  pve-1:
//	    reservedcpus: [0,4]
//	  "*":
//	    nodes:
//	      0: {cpus: "0-7,16-23"}
//	      1: {cpus: "8-15,24-31"}
type NodeSettingsConfig map[string]map[string]NodeSettings

// Get returns the settings of a node, falling back to the "*" entry of its region.
func (c NodeSettingsConfig) Get(region, node string) *NodeSettings {
	if nodes, ok := c[region]; ok {
		if params, ok := nodes[node]; ok {
			return &params
		}

		if params, ok := nodes["*"]; ok {
			return &params
		}
	}

	return nil
}
