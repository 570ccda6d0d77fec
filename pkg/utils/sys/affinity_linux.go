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

package sys

import (
	"fmt"

	"golang.org/x/sys/unix"

	"k8s.io/utils/cpuset"
)

// maxCPUs is CPU_SETSIZE of glibc.
const maxCPUs = 1024

// SetThreadAffinity restricts a thread to the given logical cores.
func SetThreadAffinity(tid int, cpus cpuset.CPUSet) error {
	if cpus.IsEmpty() {
		return fmt.Errorf("empty cpu set for thread %d", tid)
	}

	var mask unix.CPUSet

	mask.Zero()

	for _, cpu := range cpus.UnsortedList() {
		mask.Set(cpu)
	}

	if err := unix.SchedSetaffinity(tid, &mask); err != nil {
		return fmt.Errorf("failed to set affinity of thread %d to %s: %w", tid, cpus, err)
	}

	return nil
}

// ThreadAffinity returns the logical cores a thread may run on.
func ThreadAffinity(tid int) (cpuset.CPUSet, error) {
	var mask unix.CPUSet

	if err := unix.SchedGetaffinity(tid, &mask); err != nil {
		return cpuset.New(), fmt.Errorf("failed to get affinity of thread %d: %w", tid, err)
	}

	cpus := []int{}

	for cpu := range maxCPUs {
		if mask.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}

	return cpuset.New(cpus...), nil
}
