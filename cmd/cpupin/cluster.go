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

	"github.com/spf13/pflag"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/providers/proxmoxpool"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/nodesettings"

	"sigs.k8s.io/karpenter/pkg/utils/env"
)

// clusterOptions select a VM on a Proxmox cluster.
type clusterOptions struct {
	config       string
	nodeSettings string

	node cpupin.NodeRef
}

func addClusterFlags(flags *pflag.FlagSet) {
	flags.String("config", env.WithDefaultString("PROXMOX_CONFIG", "/etc/proxmox-cpupin/clusters.yaml"), "Proxmox clusters config file")
	flags.String("node-settings", env.WithDefaultString("PROXMOX_NODE_SETTINGS", ""), "NUMA layout overrides by region and host")

	flags.String("region", "", "Proxmox cluster region, all regions are searched if empty")
	flags.String("host", "", "Proxmox node running the VM, looked up if empty")
	flags.Int("vmid", 0, "VM ID")
	flags.String("name", "", "VM name, used when --vmid is not set")
	flags.String("address", "", "guest address for remote commands, defaults to the VM name")
}

func parseClusterFlags(flags *pflag.FlagSet) (clusterOptions, error) {
	o := clusterOptions{}

	var err error

	if o.config, err = flags.GetString("config"); err != nil {
		return o, err
	}

	if o.nodeSettings, err = flags.GetString("node-settings"); err != nil {
		return o, err
	}

	if o.node.Region, err = flags.GetString("region"); err != nil {
		return o, err
	}

	if o.node.Host, err = flags.GetString("host"); err != nil {
		return o, err
	}

	if o.node.VMID, err = flags.GetInt("vmid"); err != nil {
		return o, err
	}

	if o.node.Name, err = flags.GetString("name"); err != nil {
		return o, err
	}

	if o.node.Address, err = flags.GetString("address"); err != nil {
		return o, err
	}

	return o, nil
}

// proxmoxProvider connects to the clusters and resolves the VM location.
func (o *clusterOptions) proxmoxProvider(ctx context.Context) (*proxmox.Provider, error) {
	cfg, err := proxmoxpool.LoadClustersConfig(o.config)
	if err != nil {
		return nil, err
	}

	settings, err := nodesettings.LoadNodeSettingsConfig(o.nodeSettings)
	if err != nil {
		return nil, err
	}

	pool, err := proxmoxpool.NewProxmoxPool(ctx, cfg.Clusters, fmt.Sprintf("proxmox-cpupin/%s", version))
	if err != nil {
		return nil, err
	}

	if o.node.VMID == 0 && o.node.Name == "" {
		return nil, fmt.Errorf("either --vmid or --name flag is required")
	}

	if o.node.Region == "" || o.node.Host == "" || o.node.VMID == 0 {
		region, vm, err := pool.FindVM(ctx, o.node.Region, uint64(o.node.VMID), o.node.Name) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("failed to find vm %s: %w", o.node, err)
		}

		o.node.Region = region
		o.node.Host = vm.Node
		o.node.VMID = int(vm.VMID) //nolint:gosec

		if o.node.Name == "" {
			o.node.Name = vm.Name
		}
	}

	return proxmox.NewProvider(pool, settings), nil
}
