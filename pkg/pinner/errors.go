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

import "github.com/pkg/errors"

var (
	// ErrInsufficientOfflineSlots is returned when there are fewer offline vCPUs than online vCPUs.
	ErrInsufficientOfflineSlots = errors.New("insufficient offline vcpus")
	// ErrInvalidSocket is returned when a requested socket does not exist on the host.
	ErrInvalidSocket = errors.New("invalid socket")
	// ErrInvalidVCPU is returned when a vCPU is unknown to the guest or requested twice.
	ErrInvalidVCPU = errors.New("invalid vcpu")
	// ErrNoFreePhysicalCore is returned when a socket has no unused physical core left.
	ErrNoFreePhysicalCore = errors.New("no free physical core")
)
