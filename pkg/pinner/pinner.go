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

// Package pinner assigns guest vCPUs to hyperthread pairs of free physical cores.
package pinner

import (
	"fmt"
	"math/rand/v2"

	"github.com/go-logr/logr"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/cpuset"
)

// Source picks a random index in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Pinner computes vCPU to physical core assignments.
// It holds no state between calls; callers serialize pin operations per host.
type Pinner struct {
	rand Source
	log  logr.Logger
}

// Option configures a Pinner.
type Option func(*Pinner)

// WithRand sets the random source used to choose physical cores.
func WithRand(r Source) Option {
	return func(p *Pinner) {
		p.rand = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(p *Pinner) {
		p.log = logger
	}
}

// New returns a Pinner.
func New(opts ...Option) *Pinner {
	p := &Pinner{
		rand: globalSource{},
		log:  logr.Discard(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Pin assigns every online vCPU of the request to the lower logical core of a
// randomly chosen free physical core and the next offline vCPU to its sibling.
// The host topology is not modified.
func (p *Pinner) Pin(host *topology.HostTopology, instance *topology.InstanceTopology, req Request) (*Assignment, error) {
	if err := validate(host, instance, req); err != nil {
		return nil, err
	}

	free := host.Clone().UnusedPhysicalCores
	offline := req.Offline

	assignment := &Assignment{
		Pairs: make([]Pair, 0, len(req.Online)),
	}

	for _, o := range req.Online {
		socket := o.Socket
		if socket == AnySocket {
			socket = leastUtilizedSocket(free)
		}

		cores := sets.List(free[socket])
		if len(cores) == 0 {
			return nil, fmt.Errorf("%w: socket %d for vcpu %d", ErrNoFreePhysicalCore, socket, o.VCPU)
		}

		pcore := cores[p.rand.IntN(len(cores))]
		free[socket].Delete(pcore)

		vcpu1 := offline[0]
		offline = offline[1:]

		lcore0, lcore1 := host.Siblings(pcore)

		p.log.V(1).Info("Assigned physical core", "socket", socket, "physical", pcore,
			"online", o.VCPU, "onlineCPU", lcore0, "offline", vcpu1, "offlineCPU", lcore1)

		assignment.Pairs = append(assignment.Pairs, Pair{
			Socket:       socket,
			PhysicalCore: pcore,
			Online:       VCPUCPU{VCPU: o.VCPU, CPU: lcore0},
			Offline:      VCPUCPU{VCPU: vcpu1, CPU: lcore1},
		})
	}

	reserved := cpuset.New(append(req.OnlineVCPUs(), req.Offline...)...)
	assignment.Unreserved = instance.VCPUs.Difference(reserved)

	return assignment, nil
}

func validate(host *topology.HostTopology, instance *topology.InstanceTopology, req Request) error {
	if len(req.Offline) < len(req.Online) {
		return fmt.Errorf("%w: online=%d, offline=%d", ErrInsufficientOfflineSlots, len(req.Online), len(req.Offline))
	}

	for _, o := range req.Online {
		if o.Socket < AnySocket || o.Socket >= host.NumSockets {
			return fmt.Errorf("%w: vcpu %d requested socket %d, host has %d sockets", ErrInvalidSocket, o.VCPU, o.Socket, host.NumSockets)
		}
	}

	seen := sets.New[int]()

	for _, vcpu := range append(req.OnlineVCPUs(), req.Offline...) {
		if !instance.VCPUs.Contains(vcpu) {
			return fmt.Errorf("%w: vcpu %d does not exist, guest has vcpus %s", ErrInvalidVCPU, vcpu, instance.VCPUs)
		}

		if seen.Has(vcpu) {
			return fmt.Errorf("%w: vcpu %d is requested more than once", ErrInvalidVCPU, vcpu)
		}

		seen.Insert(vcpu)
	}

	return nil
}

// leastUtilizedSocket returns the socket with the most free physical cores,
// the lowest socket ID on ties.
func leastUtilizedSocket(free map[int]sets.Set[int]) int {
	best, bestLen := AnySocket, -1

	for socket, cores := range free {
		if cores.Len() > bestLen || (cores.Len() == bestLen && socket < best) {
			best, bestLen = socket, cores.Len()
		}
	}

	return best
}
