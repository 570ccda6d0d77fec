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

package pinner

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"k8s.io/utils/cpuset"
)

// AnySocket requests the socket with the most free physical cores.
const AnySocket = -1

// OnlineVCPU is a vCPU that stays online, bound to a physical core of Socket.
type OnlineVCPU struct {
	VCPU   int
	Socket int
}

// Request describes the desired placement.
// Online entries are served in order; Offline vCPUs are consumed first in, first out.
type Request struct {
	Online  []OnlineVCPU
	Offline []int
}

// NewRequest builds a request from a vCPU to socket map. Online entries are
// ordered by vCPU ID.
func NewRequest(online map[int]int, offline []int) Request {
	req := Request{
		Online:  make([]OnlineVCPU, 0, len(online)),
		Offline: slices.Clone(offline),
	}

	for _, vcpu := range slices.Sorted(maps.Keys(online)) {
		req.Online = append(req.Online, OnlineVCPU{VCPU: vcpu, Socket: online[vcpu]})
	}

	return req
}

// ParseRequest parses the command line form of a request:
// online "2:1,4:-1" (vCPU:socket) and offline "3,5".
func ParseRequest(online, offline string) (Request, error) {
	req := Request{}

	for item := range strings.SplitSeq(online, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		vcpuStr, socketStr, ok := strings.Cut(item, ":")
		if !ok {
			socketStr = strconv.Itoa(AnySocket)
		}

		vcpu, err := strconv.Atoi(vcpuStr)
		if err != nil {
			return Request{}, fmt.Errorf("invalid online vcpu %q: %w", item, err)
		}

		socket, err := strconv.Atoi(socketStr)
		if err != nil {
			return Request{}, fmt.Errorf("invalid socket in %q: %w", item, err)
		}

		req.Online = append(req.Online, OnlineVCPU{VCPU: vcpu, Socket: socket})
	}

	for item := range strings.SplitSeq(offline, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		vcpu, err := strconv.Atoi(item)
		if err != nil {
			return Request{}, fmt.Errorf("invalid offline vcpu %q: %w", item, err)
		}

		req.Offline = append(req.Offline, vcpu)
	}

	return req, nil
}

// OnlineVCPUs returns the online vCPU IDs in request order.
func (r Request) OnlineVCPUs() []int {
	return lo.Map(r.Online, func(o OnlineVCPU, _ int) int { return o.VCPU })
}

// VCPUCPU maps a vCPU to a host logical core.
// It encodes as the placement action expects it: {"vcpu": "2", "cpu": "1"}.
type VCPUCPU struct {
	VCPU int `json:"vcpu,string"`
	CPU  int `json:"cpu,string"`
}

// Pair binds the two logical cores of one physical core to an online and an offline vCPU.
type Pair struct {
	Socket       int
	PhysicalCore int

	Online  VCPUCPU
	Offline VCPUCPU
}

// Assignment is the result of a pin operation.
type Assignment struct {
	Pairs []Pair

	// Unreserved are the guest vCPUs named neither online nor offline.
	Unreserved cpuset.CPUSet
}

// VCPUCPUMap returns the vCPU to logical core map of the placement action,
// online and offline entry of every pair in order.
func (a *Assignment) VCPUCPUMap() []VCPUCPU {
	m := make([]VCPUCPU, 0, 2*len(a.Pairs))
	for _, p := range a.Pairs {
		m = append(m, p.Online, p.Offline)
	}

	return m
}

// PhysicalCores returns the physical cores used by the assignment.
func (a *Assignment) PhysicalCores() cpuset.CPUSet {
	return cpuset.New(lo.Map(a.Pairs, func(p Pair, _ int) int { return p.PhysicalCore })...)
}

// LogicalCores returns the vCPU to logical core mapping sorted by vCPU.
func (a *Assignment) LogicalCores() []VCPUCPU {
	m := a.VCPUCPUMap()
	slices.SortFunc(m, func(x, y VCPUCPU) int { return cmp.Compare(x.VCPU, y.VCPU) })

	return m
}

func (a *Assignment) String() string {
	parts := lo.Map(a.Pairs, func(p Pair, _ int) string {
		return fmt.Sprintf("physical=%d online=%d->%d offline=%d->%d", p.PhysicalCore, p.Online.VCPU, p.Online.CPU, p.Offline.VCPU, p.Offline.CPU)
	})

	return strings.Join(parts, ", ")
}
