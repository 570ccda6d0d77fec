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

// Package cpupin pins guest vCPUs to NUMA sockets of their host.
package cpupin

import (
	"context"
	"fmt"
	"time"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/guestconfig"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultSettleDelay is how long verification waits for the host to report the new placement.
const DefaultSettleDelay = 4 * time.Second

// PinOptions tune a single pin operation.
type PinOptions struct {
	// Quiet suppresses report and script output.
	Quiet bool
	// Verify re-reads the instance report after the guest is configured.
	Verify bool
}

// Manager runs pin operations against a provider and an executor.
// It does not serialize operations, callers run one operation per host at a time.
type Manager struct {
	provider Provider
	executor Executor
	pinner   *pinner.Pinner

	settleDelay time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPinner replaces the default pinner.
func WithPinner(p *pinner.Pinner) ManagerOption {
	return func(m *Manager) {
		m.pinner = p
	}
}

// WithSettleDelay sets the delay before verification.
func WithSettleDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.settleDelay = d
	}
}

// NewManager returns a Manager.
func NewManager(provider Provider, executor Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider:    provider,
		executor:    executor,
		pinner:      pinner.New(),
		settleDelay: DefaultSettleDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Plan reads the node topology and computes an assignment and its guest script.
// Nothing is changed on the node.
func (m *Manager) Plan(ctx context.Context, node NodeRef, req pinner.Request, opts PinOptions) (*Plan, error) {
	log := log.FromContext(ctx).WithName("cpupin.Plan()").WithValues("node", node.String())

	report, err := m.provider.CPUInfo(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("failed to get cpuinfo of %s: %w", node, err)
	}

	if !opts.Quiet {
		log.Info("Host cpuinfo", "host", node.Host, "report", report.Host.String())
		log.Info("Instance cpuinfo", "instance", node.Name, "vcpus", report.Instance)
	}

	host, instance, err := topology.Discover(report)
	if err != nil {
		return nil, fmt.Errorf("failed to discover topology of %s: %w", node, err)
	}

	if !opts.Quiet {
		log.Info("Unused physical cores by NUMA socket", "cores", host.String())
	}

	assignment, err := m.pinner.Pin(host, instance, req)
	if err != nil {
		return nil, err
	}

	script, err := guestconfig.Script(req, assignment)
	if err != nil {
		return nil, err
	}

	if !opts.Quiet {
		log.Info("CPU assignments", "assignment", assignment.String())
	}

	return &Plan{
		Node:       node,
		Request:    req,
		Host:       host,
		Instance:   instance,
		Assignment: assignment,
		Script:     script,
	}, nil
}

// Apply issues the placement action of a plan and configures the guest.
// Nothing is retried: after a failure the node state is unknown and the
// caller must start over with a new plan.
func (m *Manager) Apply(ctx context.Context, plan *Plan, opts PinOptions) error {
	log := log.FromContext(ctx).WithName("cpupin.Apply()").WithValues("node", plan.Node.String())

	vcpuCPUMap := plan.Assignment.VCPUCPUMap()

	if !opts.Quiet {
		log.Info("Issuing placement action", "operation", OperationCPUPin, "vcpuCPUMap", vcpuCPUMap)
	}

	reply, err := m.provider.Placement(ctx, plan.Node, OperationCPUPin, vcpuCPUMap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlacementActionFailed, err)
	}

	if reply != PlacementSuccess {
		return fmt.Errorf("%w: reply %q", ErrPlacementActionFailed, reply)
	}

	stdout, stderr, err := m.executor.Run(ctx, plan.Node, guestconfig.SudoCommand(plan.Script))
	if err != nil {
		return fmt.Errorf("%w: %w, stderr: %s", ErrRemoteConfigurationFailed, err, stderr)
	}

	if !opts.Quiet {
		log.Info("Guest configured", "stdout", stdout, "stderr", stderr)
	}

	return nil
}

// PinVCPUToSocket pins online vCPUs to physical cores of the requested NUMA
// sockets, pairing each with an offline vCPU on the hyperthread sibling.
func (m *Manager) PinVCPUToSocket(ctx context.Context, node NodeRef, req pinner.Request, opts PinOptions) (*pinner.Assignment, error) {
	plan, err := m.Plan(ctx, node, req, opts)
	if err != nil {
		return nil, err
	}

	if err := m.Apply(ctx, plan, opts); err != nil {
		return nil, err
	}

	if opts.Verify {
		if err := m.verify(ctx, node, opts); err != nil {
			return plan.Assignment, err
		}
	}

	return plan.Assignment, nil
}

func (m *Manager) verify(ctx context.Context, node NodeRef, opts PinOptions) error {
	log := log.FromContext(ctx).WithName("cpupin.Verify()").WithValues("node", node.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.settleDelay):
	}

	report, err := m.provider.CPUInfo(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to get cpuinfo of %s: %w", node, err)
	}

	if !opts.Quiet {
		log.Info("Final instance cpuinfo", "instance", node.Name, "vcpus", report.Instance)
	}

	return nil
}
