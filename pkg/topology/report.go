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
	"bufio"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	// KeyCPUs is the lscpu field with the number of logical cores.
	KeyCPUs = "CPU(s):"
	// KeySockets is the lscpu field with the number of physical packages.
	KeySockets = "Socket(s):"
	// KeyModelName is the lscpu field with the CPU model.
	KeyModelName = "Model name:"
	// KeyPinnedCPUs lists logical cores dedicated to other guests.
	KeyPinnedCPUs = "pinned_cpus"
)

// NUMANodeKey returns the lscpu field name holding the logical cores of a NUMA node.
func NUMANodeKey(node int) string {
	return fmt.Sprintf("NUMA node%d CPU(s):", node)
}

// HostReport is the cpuinfo report of a virtualization host.
// Fields are keyed exactly as lscpu prints them, colon included.
//
//	CPU(s):              32
//	NUMA node0 CPU(s):   0-7,16-23
//	NUMA node1 CPU(s):   8-15,24-31
type HostReport struct {
	Fields     map[string]string `json:"fields"`
	PinnedCPUs []int             `json:"pinned_cpus,omitempty"`
}

// Get returns the value of a report field.
func (r HostReport) Get(key string) (string, bool) {
	v, ok := r.Fields[key]

	return v, ok
}

// String renders the report in lscpu form, sorted by field name.
func (r HostReport) String() string {
	var b strings.Builder

	for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
		fmt.Fprintf(&b, "%-24s%s\n", k, r.Fields[k])
	}

	fmt.Fprintf(&b, "%s: %s\n", KeyPinnedCPUs, FormatCPUSet(r.PinnedCPUs))

	return b.String()
}

// InstanceRow is a single vCPU entry of an instance report (virsh vcpuinfo).
type InstanceRow struct {
	VCPU        int    `json:"VCPU"`
	CPU         int    `json:"CPU"`
	State       string `json:"State,omitempty"`
	CPUAffinity string `json:"CPU Affinity"`
}

// CPUInfoReport is the cpuinfo document of a host and one of its guests.
type CPUInfoReport struct {
	Host     HostReport    `json:"host"`
	Instance []InstanceRow `json:"instance"`
}

// ParseHostReport parses lscpu output. A "pinned_cpus:" line, if present, holds the
// logical cores already dedicated to other guests in cpuset form.
func ParseHostReport(text string) (HostReport, error) {
	report := HostReport{Fields: map[string]string{}}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			return HostReport{}, fmt.Errorf("%w: line %q has no key", ErrMalformedTopologyReport, line)
		}

		key, value := line[:idx+1], strings.TrimSpace(line[idx+1:])

		if strings.TrimSuffix(key, ":") == KeyPinnedCPUs {
			pinned, err := ParsePinnedCPUs(value)
			if err != nil {
				return HostReport{}, err
			}

			report.PinnedCPUs = pinned

			continue
		}

		report.Fields[key] = value
	}

	if err := scanner.Err(); err != nil {
		return HostReport{}, fmt.Errorf("failed to read host report: %w", err)
	}

	return report, nil
}

// ParseInstanceReport parses virsh vcpuinfo output: one block per vCPU,
// blocks separated by blank lines.
//
//	VCPU:           0
//	CPU:            3
//	State:          running
//	CPU Affinity:   0-31
func ParseInstanceReport(text string) ([]InstanceRow, error) {
	var (
		rows []InstanceRow
		row  map[string]string
	)

	flush := func() error {
		if len(row) == 0 {
			return nil
		}

		r, err := instanceRowFromFields(row)
		if err != nil {
			return err
		}

		rows = append(rows, r)
		row = nil

		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}

			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %q has no key", ErrMalformedTopologyReport, line)
		}

		if row == nil {
			row = map[string]string{}
		}

		row[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read instance report: %w", err)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return rows, nil
}

// LoadCPUInfoReport decodes a JSON or YAML cpuinfo document:
//
//	host:
//	  "CPU(s):": 8
//	  "NUMA node0 CPU(s):": 0-7
//	  pinned_cpus: [1, 5]
//	instance:
//	  - {VCPU: 0, CPU: 2, State: running, CPU Affinity: 0-7}
func LoadCPUInfoReport(data []byte) (*CPUInfoReport, error) {
	doc := struct {
		Host     map[string]any   `json:"host"`
		Instance []map[string]any `json:"instance"`
	}{}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cpuinfo document: %w", err)
	}

	report := &CPUInfoReport{
		Host: HostReport{Fields: make(map[string]string, len(doc.Host))},
	}

	for k, v := range doc.Host {
		if k != KeyPinnedCPUs {
			report.Host.Fields[k] = scalarString(v)

			continue
		}

		pinned, err := pinnedCPUs(v)
		if err != nil {
			return nil, err
		}

		report.Host.PinnedCPUs = pinned
	}

	for _, fields := range doc.Instance {
		row := make(map[string]string, len(fields))
		for k, v := range fields {
			row[k] = scalarString(v)
		}

		r, err := instanceRowFromFields(row)
		if err != nil {
			return nil, err
		}

		report.Instance = append(report.Instance, r)
	}

	return report, nil
}

func instanceRowFromFields(fields map[string]string) (InstanceRow, error) {
	vcpu, err := strconv.Atoi(fields["VCPU"])
	if err != nil {
		return InstanceRow{}, fmt.Errorf("%w: instance row has invalid VCPU %q", ErrMalformedTopologyReport, fields["VCPU"])
	}

	// Offline vCPUs report "-" as their current CPU.
	cpu, err := strconv.Atoi(fields["CPU"])
	if err != nil {
		cpu = -1
	}

	return InstanceRow{
		VCPU:        vcpu,
		CPU:         cpu,
		State:       fields["State"],
		CPUAffinity: fields["CPU Affinity"],
	}, nil
}

func pinnedCPUs(v any) ([]int, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		cpus := make([]int, 0, len(val))

		for _, item := range val {
			cpu, err := strconv.Atoi(scalarString(item))
			if err != nil {
				return nil, fmt.Errorf("%w: pinned cpu %v", ErrMalformedTopologyReport, item)
			}

			cpus = append(cpus, cpu)
		}

		slices.Sort(cpus)

		return slices.Compact(cpus), nil
	default:
		return ParsePinnedCPUs(scalarString(val))
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
