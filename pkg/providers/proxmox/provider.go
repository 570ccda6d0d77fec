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

// Package proxmox reads CPU topology from Proxmox VE and stores vCPU placements
// in the guest description, where the host agent applies them.
package proxmox

import (
	"context"
	"fmt"

	pxapi "github.com/luthermonson/go-proxmox"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/providers/proxmoxpool"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/locks"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/nodesettings"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/vmconfig"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// taskTimeout is the number of seconds to wait for a config update task.
const taskTimeout = 60

// Provider is a cpupin.Provider backed by the Proxmox API.
type Provider struct {
	pool     *proxmoxpool.ProxmoxPool
	settings nodesettings.NodeSettingsConfig
	locks    *locks.Locks[string]
}

var _ cpupin.Provider = &Provider{}

// NewProvider returns a Provider. Settings override the NUMA layout guessed
// from the CPU model and may be nil.
func NewProvider(pool *proxmoxpool.ProxmoxPool, settings nodesettings.NodeSettingsConfig) *Provider {
	return &Provider{
		pool:     pool,
		settings: settings,
		locks:    locks.NewLocks[string](),
	}
}

// CPUInfo builds the host report from the node CPU info and the instance
// report from the guest config. Logical cores bound to other guests of the
// host are reported as pinned.
func (p *Provider) CPUInfo(ctx context.Context, node cpupin.NodeRef) (*topology.CPUInfoReport, error) {
	log := log.FromContext(ctx).WithName("proxmox.CPUInfo()").WithValues("node", node.String())

	pxNode, err := p.node(ctx, node)
	if err != nil {
		return nil, err
	}

	vms, states, err := p.vmConfigs(ctx, pxNode)
	if err != nil {
		return nil, err
	}

	cfg, ok := vms[node.VMID]
	if !ok {
		return nil, fmt.Errorf("%w: vm %d on %s", ErrInstanceNotFound, node.VMID, node.Host)
	}

	detected, err := nodesettings.GetNodeSettingByNode(pxNode)
	if err != nil {
		return nil, fmt.Errorf("failed to detect settings of node %s: %w", node.Host, err)
	}

	settings := nodesettings.Merge(detected, p.settings.Get(node.Region, node.Host))

	host, err := nodesettings.HostReport(pxNode, settings, pinnedByOthers(vms, node.VMID))
	if err != nil {
		return nil, err
	}

	log.V(1).Info("Host cpuinfo", "vms", len(vms), "pinned", host.PinnedCPUs)

	return &topology.CPUInfoReport{
		Host:     host,
		Instance: instanceRows(cfg, states[node.VMID], pxNode.CPUInfo.CPUs),
	}, nil
}

// Placement stores the vCPU to logical core map in the guest description.
// Placements on the same host are serialized.
func (p *Provider) Placement(ctx context.Context, node cpupin.NodeRef, operation string, vcpuCPUMap []pinner.VCPUCPU) (string, error) {
	log := log.FromContext(ctx).WithName("proxmox.Placement()").WithValues("node", node.String())

	if operation != cpupin.OperationCPUPin {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperation, operation)
	}

	unlock := p.locks.Lock(node.Region + "/" + node.Host)
	defer unlock()

	pxNode, err := p.node(ctx, node)
	if err != nil {
		return "", err
	}

	vm, err := pxNode.VirtualMachine(ctx, node.VMID)
	if err != nil {
		return "", fmt.Errorf("unable to find vm with id %d: %w", node.VMID, err)
	}

	description := vmconfig.SetCPUPin(vm.VirtualMachineConfig.Description, cpuPinMap(vcpuCPUMap))

	task, err := vm.Config(ctx, pxapi.VirtualMachineOption{Name: "description", Value: description})
	if err != nil {
		return "", fmt.Errorf("unable to configure vm %d: %w", node.VMID, err)
	}

	if task != nil {
		if err := task.WaitFor(ctx, taskTimeout); err != nil {
			return "", fmt.Errorf("unable to configure vm %d: %w", node.VMID, err)
		}

		if task.IsFailed {
			log.Info("Config task failed", "status", task.ExitStatus)

			return task.ExitStatus, nil
		}
	}

	log.V(1).Info("Placement stored", "description", description)

	return cpupin.PlacementSuccess, nil
}

func (p *Provider) node(ctx context.Context, node cpupin.NodeRef) (*pxapi.Node, error) {
	px, err := p.pool.GetProxmoxCluster(node.Region)
	if err != nil {
		return nil, fmt.Errorf("region %q: %w", node.Region, err)
	}

	pxNode, err := px.Client.Node(ctx, node.Host)
	if err != nil {
		return nil, fmt.Errorf("unable to find node with name %s: %w", node.Host, err)
	}

	return pxNode, nil
}

// vmConfigs loads the config of every VM of a node, keyed by VM ID.
func (p *Provider) vmConfigs(ctx context.Context, pxNode *pxapi.Node) (map[int]*vmconfig.VMConfig, map[int]string, error) {
	list, err := pxNode.VirtualMachines(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("could not list vms of node %s: %w", pxNode.Name, err)
	}

	vms := make(map[int]*vmconfig.VMConfig, len(list))
	states := make(map[int]string, len(list))

	for _, item := range list {
		id := int(item.VMID)

		vm, err := pxNode.VirtualMachine(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to find vm with id %d: %w", id, err)
		}

		if vm.VirtualMachineConfig == nil {
			continue
		}

		cfg, err := vmconfig.NewVMConfig(vm.VirtualMachineConfig)
		if err != nil {
			return nil, nil, err
		}

		vms[id] = cfg
		states[id] = vm.Status
	}

	return vms, states, nil
}
