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

// Package dryrun provides an executor that records commands without running them.
package dryrun

import (
	"context"
	"sync"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Executor logs commands instead of running them.
type Executor struct {
	mu       sync.Mutex
	commands []string
}

var _ cpupin.Executor = &Executor{}

// New returns an Executor.
func New() *Executor {
	return &Executor{}
}

// Run records the command and reports success.
func (e *Executor) Run(ctx context.Context, node cpupin.NodeRef, command string) (string, string, error) {
	log.FromContext(ctx).WithName("dryrun.Run()").Info("Skipping command", "node", node.String(), "command", command)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.commands = append(e.commands, command)

	return "", "", nil
}

// Commands returns the recorded commands.
func (e *Executor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.commands...)
}
