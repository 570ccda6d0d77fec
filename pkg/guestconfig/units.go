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

// Package guestconfig renders the guest side of a vCPU placement:
// a oneshot unit toggling vCPUs and cgroup cpuset drop-ins for systemd units.
package guestconfig

import (
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/topology"
)

const (
	// SystemdDir is where unit files and drop-in directories are written.
	SystemdDir = "/etc/systemd/system"

	// CHCPUUnitName toggles vCPUs online or offline on every boot.
	CHCPUUnitName = "chcpu.service"

	// DropInName is the file name of the cpuset drop-in.
	DropInName = "cpuset.conf"
)

// Units restricted to the unreserved vCPUs.
var defaultScopeUnits = []string{"init.scope", "user.slice", "service"}

// WorkloadScopeUnit matches every docker container scope.
const WorkloadScopeUnit = "docker-.scope"

// CHCPUUnit returns the oneshot unit enabling online and disabling offline vCPUs.
func CHCPUUnit(online, offline []int) (string, error) {
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "Set VCPU online or offline"),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "RemainAfterExit", "true"),
	}

	for _, vcpu := range online {
		opts = append(opts, unit.NewUnitOption("Service", "ExecStartPre", "chcpu -e "+strconv.Itoa(vcpu)))
	}

	for _, vcpu := range offline {
		opts = append(opts, unit.NewUnitOption("Service", "ExecStartPre", "chcpu -d "+strconv.Itoa(vcpu)))
	}

	opts = append(opts,
		unit.NewUnitOption("Service", "ExecStart", "true"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	)

	return serialize(opts)
}

// CPUSetDropIn returns a drop-in limiting a unit to the given vCPUs.
// The section is the capitalized unit suffix: "init.scope" gives [Scope].
func CPUSetDropIn(unitName string, cpus []int) (string, error) {
	return serialize([]*unit.UnitOption{
		unit.NewUnitOption(unitSection(unitName), "AllowedCPUs", topology.FormatCPUSet(cpus)),
	})
}

// DropInPath returns the cpuset drop-in path of a unit.
func DropInPath(unitName string) string {
	return path.Join(SystemdDir, unitName+".d", DropInName)
}

func unitSection(unitName string) string {
	suffix := unitName[strings.LastIndex(unitName, ".")+1:]
	if suffix == "" {
		return ""
	}

	return strings.ToUpper(suffix[:1]) + strings.ToLower(suffix[1:])
}

func serialize(opts []*unit.UnitOption) (string, error) {
	b, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return "", fmt.Errorf("failed to serialize unit: %w", err)
	}

	return strings.TrimSuffix(string(b), "\n"), nil
}
