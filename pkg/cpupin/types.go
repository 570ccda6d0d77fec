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

package cpupin

import (
	"context"
	"fmt"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
)

const (
	// OperationCPUPin is the placement action binding vCPUs to host logical cores.
	OperationCPUPin = "cpupin"

	// PlacementSuccess is the only reply accepted from a placement action.
	PlacementSuccess = "Success"
)

// NodeRef identifies a guest and the host it runs on.
type NodeRef struct {
	// Region is the hypervisor cluster name.
	Region string `json:"region,omitempty"`
	// Host is the hypervisor node running the guest.
	Host string `json:"host,omitempty"`
	// VMID is the guest ID on the hypervisor.
	VMID int `json:"vmid,omitempty"`
	// Name is the instance name.
	Name string `json:"name,omitempty"`
	// Address is where the guest accepts remote commands, host or host:port.
	Address string `json:"address,omitempty"`
}

func (n NodeRef) String() string {
	if n.Name != "" {
		return fmt.Sprintf("%s/%s/%s", n.Region, n.Host, n.Name)
	}

	return fmt.Sprintf("%s/%s/%d", n.Region, n.Host, n.VMID)
}

// Provider reads CPU topology and issues placement actions.
type Provider interface {
	// CPUInfo returns fresh host and instance reports of the node.
	CPUInfo(ctx context.Context, node NodeRef) (*topology.CPUInfoReport, error)
	// Placement issues a placement action and returns its reply.
	Placement(ctx context.Context, node NodeRef, operation string, vcpuCPUMap []pinner.VCPUCPU) (string, error)
}

// Executor runs shell commands on a node.
// A non-zero exit status is returned as an error.
type Executor interface {
	Run(ctx context.Context, node NodeRef, command string) (stdout string, stderr string, err error)
}

// Plan is a computed placement that has not been issued yet.
type Plan struct {
	Node       NodeRef
	Request    pinner.Request
	Host       *topology.HostTopology
	Instance   *topology.InstanceTopology
	Assignment *pinner.Assignment

	// Script is the guest configuration applied after the placement action.
	Script string
}
