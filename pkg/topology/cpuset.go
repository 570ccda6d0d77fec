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

package topology

import (
	"fmt"
	"strings"

	"k8s.io/utils/cpuset"
)

// ParseCPUSet parses a cpuset list ("3", "0-3", "0-1,8") into a sorted list of CPU IDs.
func ParseCPUSet(s string) ([]int, error) {
	cpus, err := cpuset.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: cpuset %q: %v", ErrMalformedTopologyReport, s, err)
	}

	return cpus.List(), nil
}

// ParsePinnedCPUs parses a pinned core list. Besides the cpuset form it accepts
// a bracketed list with spaces after the commas, e.g. "[1, 5]".
func ParsePinnedCPUs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	cpus := cpuset.New()

	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		c, err := cpuset.Parse(item)
		if err != nil {
			return nil, fmt.Errorf("%w: pinned cpus %q: %v", ErrMalformedTopologyReport, s, err)
		}

		cpus = cpus.Union(c)
	}

	return cpus.List(), nil
}

// FormatCPUSet returns the canonical range form of the CPU IDs, e.g. [0,1,3] -> "0-1,3".
func FormatCPUSet(cpus []int) string {
	return cpuset.New(cpus...).String()
}

// parseAffinity parses the CPU Affinity field of an instance report.
// virsh prints either a cpuset list (--pretty) or a y/- mask indexed by logical core.
func parseAffinity(s string) (cpuset.CPUSet, error) {
	s = strings.TrimSpace(s)

	if s != "" && strings.Trim(s, "y-") == "" {
		cpus := make([]int, 0, len(s))

		for i, c := range s {
			if c == 'y' {
				cpus = append(cpus, i)
			}
		}

		return cpuset.New(cpus...), nil
	}

	cpus, err := ParseCPUSet(s)
	if err != nil {
		return cpuset.New(), err
	}

	return cpuset.New(cpus...), nil
}
