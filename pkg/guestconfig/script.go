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

package guestconfig

import (
	"fmt"
	"path"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
)

// Script returns the shell commands applying an assignment inside the guest.
//
// The chcpu unit and the cpuset drop-ins are written before systemd reloads,
// so the first start of the unit already sees the restricted scopes.
// Default scopes are limited to the unreserved vCPUs, container scopes to the
// online vCPUs.
func Script(req pinner.Request, assignment *pinner.Assignment) (string, error) {
	online := req.OnlineVCPUs()

	chcpu, err := CHCPUUnit(online, req.Offline)
	if err != nil {
		return "", err
	}

	lines := []string{
		writeFile(path.Join(SystemdDir, CHCPUUnitName), chcpu),
	}

	unreserved := assignment.Unreserved.List()

	for _, name := range defaultScopeUnits {
		dropIn, err := CPUSetDropIn(name, unreserved)
		if err != nil {
			return "", err
		}

		lines = append(lines, dropInCommands(name, dropIn)...)
	}

	dropIn, err := CPUSetDropIn(WorkloadScopeUnit, online)
	if err != nil {
		return "", err
	}

	lines = append(lines, dropInCommands(WorkloadScopeUnit, dropIn)...)
	lines = append(lines,
		"systemctl daemon-reload",
		"systemctl enable --now "+CHCPUUnitName,
	)

	return strings.Join(lines, "\n"), nil
}

// SudoCommand wraps a script into a single root shell invocation.
func SudoCommand(script string) string {
	return "sudo bash -c " + shellescape.Quote(script)
}

func dropInCommands(unitName, content string) []string {
	return []string{
		fmt.Sprintf("mkdir -p %s", shellescape.Quote(path.Dir(DropInPath(unitName)))),
		writeFile(DropInPath(unitName), content),
	}
}

func writeFile(name, content string) string {
	return fmt.Sprintf("echo %s >%s", shellescape.Quote(content), shellescape.Quote(name))
}
