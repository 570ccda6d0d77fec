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
	"os"

	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/systeminfo"
)

type topologyCmd struct {
	cluster     clusterOptions
	cpuinfoFile string
	local       bool
}

// topologyResult is the derived topology printed by the topology command.
type topologyResult struct {
	LogicalCores  int            `json:"logicalCores"`
	PhysicalCores int            `json:"physicalCores"`
	Sockets       int            `json:"sockets"`
	Pinned        string         `json:"pinned"`
	Unused        map[int]string `json:"unusedPhysicalCores"`
	Instance      map[int]string `json:"instanceAffinity,omitempty"`
}

func buildTopologyCmd() *cobra.Command {
	c := &topologyCmd{}

	cmd := cobra.Command{
		Use:           "topology",
		Aliases:       []string{"t"},
		Short:         "Show free physical cores by NUMA socket",
		Args:          cobra.ExactArgs(0),
		PreRunE:       c.parseArgs,
		RunE:          c.runTopology,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	addClusterFlags(flags)

	flags.String("cpuinfo-file", "", "read a recorded cpuinfo document")
	flags.Bool("local", false, "read the local host topology from sysfs")

	cmd.MarkFlagsMutuallyExclusive("cpuinfo-file", "local")

	return &cmd
}

func (c *topologyCmd) parseArgs(cmd *cobra.Command, _ []string) (err error) {
	flags := cmd.Flags()

	if c.cluster, err = parseClusterFlags(flags); err != nil {
		return err
	}

	if c.cpuinfoFile, err = flags.GetString("cpuinfo-file"); err != nil {
		return err
	}

	if c.local, err = flags.GetBool("local"); err != nil {
		return err
	}

	return nil
}

func (c *topologyCmd) runTopology(cmd *cobra.Command, _ []string) error {
	report, err := c.report(cmd)
	if err != nil {
		return err
	}

	host, instance, err := topology.Discover(report)
	if err != nil {
		return err
	}

	return printJSON(cmd, newTopologyResult(host, instance))
}

func (c *topologyCmd) report(cmd *cobra.Command) (*topology.CPUInfoReport, error) {
	ctx := cmd.Context()

	switch {
	case c.cpuinfoFile != "":
		data, err := os.ReadFile(c.cpuinfoFile)
		if err != nil {
			return nil, err
		}

		return topology.LoadCPUInfoReport(data)

	case c.local:
		mi, err := systeminfo.CollectServerInfo()
		if err != nil {
			return nil, err
		}

		pinned, err := systeminfo.LocalPinnedCPUs(c.cluster.node.Name)
		if err != nil {
			return nil, err
		}

		host, err := systeminfo.HostReport(mi, pinned)
		if err != nil {
			return nil, err
		}

		return &topology.CPUInfoReport{Host: host}, nil
	}

	provider, err := c.cluster.proxmoxProvider(ctx)
	if err != nil {
		return nil, err
	}

	return provider.CPUInfo(ctx, c.cluster.node)
}

func newTopologyResult(host *topology.HostTopology, instance *topology.InstanceTopology) topologyResult {
	res := topologyResult{
		LogicalCores:  host.NumLogicalCores,
		PhysicalCores: host.NumPhysicalCores,
		Sockets:       host.NumSockets,
		Pinned:        host.PinnedLogicalCores.String(),
		Unused:        make(map[int]string, host.NumSockets),
	}

	for _, socket := range host.Sockets() {
		res.Unused[socket] = topology.FormatCPUSet(host.FreeCores(socket))
	}

	if instance != nil && len(instance.VCPUAffinity) > 0 {
		res.Instance = make(map[int]string, len(instance.VCPUAffinity))

		for vcpu, cpus := range instance.VCPUAffinity {
			res.Instance[vcpu] = cpus.String()
		}
	}

	return res
}
