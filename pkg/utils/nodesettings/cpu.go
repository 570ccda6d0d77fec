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

// Package nodesettings derives the NUMA layout of a hypervisor node from its CPU model.
package nodesettings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/luthermonson/go-proxmox"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"

	"k8s.io/utils/cpuset"
)

var epycModel = regexp.MustCompile(`AMD EPYC\s? (\d)(\d)(\d)(\d)(\w*)\s+`)

// GetNodeSettingByNode guesses the node settings from the CPU model.
// It returns nil when the model is unknown.
func GetNodeSettingByNode(n *proxmox.Node) (*NodeSettings, error) {
	if n == nil {
		return nil, nil
	}

	if n.CPUInfo.CPUs == 0 || n.CPUInfo.Cores == 0 || n.CPUInfo.Sockets == 0 || n.CPUInfo.Model == "" {
		return nil, fmt.Errorf("incomplete cpu info: %+v", n.CPUInfo)
	}

	switch {
	case strings.Contains(n.CPUInfo.Model, "AMD EPYC"):
		return nodeSettingsAMDEPYC(n)
	case strings.Contains(n.CPUInfo.Model, "AMD"):
		return nodeSettings(n, 1, 0)
	case strings.Contains(n.CPUInfo.Model, "Intel"):
		return nodeSettings(n, 1, n.CPUInfo.Sockets)
	}

	return nil, nil
}

func nodeSettingsAMDEPYC(n *proxmox.Node) (*NodeSettings, error) {
	matches := epycModel.FindStringSubmatch(n.CPUInfo.Model)
	if len(matches) != 6 {
		return nil, nil
	}

	coresPerCCX := 0

	switch matches[2] {
	case "2", "3":
		coresPerCCX = 4
	case "4":
		coresPerCCX = 6
	case "5", "6", "7", "8":
		coresPerCCX = 8
	}

	uncoreCaches := 0
	if coresPerCCX > 0 {
		uncoreCaches = (n.CPUInfo.Cores / n.CPUInfo.Sockets) / coresPerCCX
	}

	// The last digit is the generation, these default to NPS4.
	nps := 1

	switch matches[4] {
	case "1", "2", "4", "5":
		nps = 4
	}

	return nodeSettings(n, nps, uncoreCaches)
}

// nodeSettings splits the cores evenly into nps NUMA nodes per socket.
// Thread siblings of core c are at c+Cores.
func nodeSettings(n *proxmox.Node, nps, uncoreCaches int) (*NodeSettings, error) {
	st := &NodeSettings{
		NumSockets:      n.CPUInfo.Sockets,
		NumThreads:      n.CPUInfo.CPUs / n.CPUInfo.Cores,
		NumUncoreCaches: uncoreCaches,
	}

	numNodes := n.CPUInfo.Sockets * nps
	cpuPerNuma := n.CPUInfo.Cores / numNodes

	st.NUMANodes = make(NUMANodes, numNodes)

	for i := range numNodes {
		start := i * cpuPerNuma
		cpuList := []string{fmt.Sprintf("%d-%d", start, start+cpuPerNuma-1)}

		if st.NumThreads > 1 {
			threadStart := start + n.CPUInfo.Cores
			cpuList = append(cpuList, fmt.Sprintf("%d-%d", threadStart, threadStart+cpuPerNuma-1))
		}

		cpus, err := cpuset.Parse(strings.Join(cpuList, ","))
		if err != nil {
			return nil, fmt.Errorf("parsing cpus for numa node %d: %w", i, err)
		}

		st.NUMANodes[i] = NUMAInfo{
			CPUs:    cpus.String(),
			MemSize: n.Memory.Total / uint64(numNodes),
		}
	}

	return st, nil
}

// HostReport renders the node as an lscpu style report.
// Reserved cpus of the settings are added to the pinned cpus.
func HostReport(n *proxmox.Node, st *NodeSettings, pinned []int) (topology.HostReport, error) {
	if st == nil || len(st.NUMANodes) == 0 {
		return topology.HostReport{}, fmt.Errorf("%w: no numa layout known for node %s", topology.ErrMalformedTopologyReport, n.Name)
	}

	fields := map[string]string{
		topology.KeyCPUs:      strconv.Itoa(n.CPUInfo.CPUs),
		topology.KeySockets:   strconv.Itoa(n.CPUInfo.Sockets),
		topology.KeyModelName: n.CPUInfo.Model,
		"NUMA node(s):":       strconv.Itoa(len(st.NUMANodes)),
	}

	for id, numa := range st.NUMANodes {
		fields[topology.NUMANodeKey(id)] = numa.CPUs
	}

	return topology.HostReport{
		Fields:     fields,
		PinnedCPUs: cpuset.New(append(pinned, st.ReservedCPUs...)...).List(),
	}, nil
}

// Merge overlays non-empty fields of override on the detected settings.
func Merge(detected, override *NodeSettings) *NodeSettings {
	if override == nil {
		return detected
	}

	if detected == nil {
		return override
	}

	st := *detected

	if override.NumSockets != 0 {
		st.NumSockets = override.NumSockets
	}

	if override.NumThreads != 0 {
		st.NumThreads = override.NumThreads
	}

	if len(override.NUMANodes) > 0 {
		st.NUMANodes = override.NUMANodes
	}

	if len(override.ReservedCPUs) > 0 {
		st.ReservedCPUs = override.ReservedCPUs
	}

	return &st
}
