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

package vmconfig

import (
	"strings"
)

// VfioPciDevice is a passthrough device of a running QEMU process.
type VfioPciDevice struct {
	// ID is the QEMU device ID, "hostpci0".
	ID string
	// HostAddress is the PCI address on the host, "0000:81:00.3".
	HostAddress string
}

// ParseVfioPciDevices finds vfio-pci devices in QEMU arguments such as
// "-device vfio-pci,host=0000:81:00.3,id=hostpci0".
func ParseVfioPciDevices(cmdlineArgs []string) []VfioPciDevice {
	var devices []VfioPciDevice

	for _, arg := range cmdlineArgs {
		driver, params, _ := strings.Cut(arg, ",")
		if driver != "vfio-pci" {
			continue
		}

		opts := deviceOptions(params)
		if opts["host"] != "" && opts["id"] != "" {
			devices = append(devices, VfioPciDevice{ID: opts["id"], HostAddress: opts["host"]})
		}
	}

	return devices
}

func deviceOptions(params string) map[string]string {
	opts := map[string]string{}

	for param := range strings.SplitSeq(params, ",") {
		if k, v, ok := strings.Cut(param, "="); ok {
			opts[k] = v
		}
	}

	return opts
}
