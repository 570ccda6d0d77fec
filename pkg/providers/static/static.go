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

// Package static serves a recorded cpuinfo document and keeps placements in memory.
package static

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Provider is a cpupin.Provider for dry runs and tests.
// A placement binds each listed vCPU of the report to its logical core.
type Provider struct {
	mu     sync.Mutex
	report *topology.CPUInfoReport
}

var _ cpupin.Provider = &Provider{}

// NewProvider returns a Provider serving the report.
func NewProvider(report *topology.CPUInfoReport) *Provider {
	return &Provider{report: report}
}

// NewProviderFromFile loads a cpuinfo document.
func NewProviderFromFile(name string) (*Provider, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpuinfo file %s: %w", name, err)
	}

	report, err := topology.LoadCPUInfoReport(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load cpuinfo file %s: %w", name, err)
	}

	return NewProvider(report), nil
}

// CPUInfo returns a copy of the current report.
func (p *Provider) CPUInfo(_ context.Context, _ cpupin.NodeRef) (*topology.CPUInfoReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := &topology.CPUInfoReport{
		Host:     p.report.Host,
		Instance: append([]topology.InstanceRow(nil), p.report.Instance...),
	}

	return report, nil
}

// Placement applies a cpupin operation to the in-memory report.
func (p *Provider) Placement(ctx context.Context, node cpupin.NodeRef, operation string, vcpuCPUMap []pinner.VCPUCPU) (string, error) {
	log := log.FromContext(ctx).WithName("static.Placement()").WithValues("node", node.String())

	if operation != cpupin.OperationCPUPin {
		return "Unknown operation " + operation, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rows := append([]topology.InstanceRow(nil), p.report.Instance...)

	for _, m := range vcpuCPUMap {
		found := false

		for i := range rows {
			if rows[i].VCPU == m.VCPU {
				rows[i].CPU = m.CPU
				rows[i].CPUAffinity = strconv.Itoa(m.CPU)
				found = true
			}
		}

		if !found {
			return fmt.Sprintf("Unknown vcpu %d", m.VCPU), nil
		}
	}

	p.report.Instance = rows

	log.V(1).Info("Placement recorded", "vcpuCPUMap", vcpuCPUMap)

	return cpupin.PlacementSuccess, nil
}
