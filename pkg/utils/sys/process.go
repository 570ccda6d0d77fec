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

// Package sys reads process state from procfs and tunes host CPUs through sysfs.
package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// QEMU names vCPU threads "CPU <n>/KVM".
var vcpuThreadName = regexp.MustCompile(`^CPU (\d+)/KVM$`)

// Host gives access to procfs and sysfs of a host.
type Host struct {
	ProcPath string
	SysPath  string
}

// NewHost returns a Host using the standard mount points.
func NewHost() *Host {
	return &Host{
		ProcPath: "/proc",
		SysPath:  "/sys",
	}
}

// GetPidFromFile reads a positive PID from a pid file.
func GetPidFromFile(filePath string) (int, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", filePath, err)
	}

	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID %d in file %s", pid, filePath)
	}

	return pid, nil
}

// ProcessExists reports whether the process is alive and readable.
func (h *Host) ProcessExists(pid int) bool {
	_, err := os.ReadFile(h.proc(strconv.Itoa(pid), "stat"))

	return err == nil
}

// ProcessCmdline returns the command line arguments of a process.
func (h *Host) ProcessCmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(h.proc(strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("failed to read cmdline for PID %d: %w", pid, err)
	}

	args := strings.Split(string(data), "\x00")
	if len(args) > 0 && args[len(args)-1] == "" {
		args = args[:len(args)-1]
	}

	return args, nil
}

// ProcessThreads returns thread IDs of a process by their comm name.
func (h *Host) ProcessThreads(pid int) (map[int]string, error) {
	taskDir := h.proc(strconv.Itoa(pid), "task")

	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read task directory %s: %w", taskDir, err)
	}

	threads := make(map[int]string, len(entries))

	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil || tid <= 0 || !entry.IsDir() {
			continue
		}

		comm, err := os.ReadFile(filepath.Join(taskDir, entry.Name(), "comm"))
		if err != nil {
			// thread exited
			continue
		}

		threads[tid] = strings.TrimSpace(string(comm))
	}

	return threads, nil
}

// VCPUThreads maps vCPU IDs of a QEMU process to their thread IDs.
func (h *Host) VCPUThreads(pid int) (map[int]int, error) {
	threads, err := h.ProcessThreads(pid)
	if err != nil {
		return nil, err
	}

	vcpus := map[int]int{}

	for tid, comm := range threads {
		m := vcpuThreadName.FindStringSubmatch(comm)
		if m == nil {
			continue
		}

		vcpu, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		vcpus[vcpu] = tid
	}

	return vcpus, nil
}

func (h *Host) proc(elem ...string) string {
	return filepath.Join(append([]string{h.ProcPath}, elem...)...)
}

func (h *Host) sys(elem ...string) string {
	return filepath.Join(append([]string{h.SysPath}, elem...)...)
}
