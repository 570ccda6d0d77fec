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

//go:build !linux

package sys

import (
	"errors"

	"k8s.io/utils/cpuset"
)

var errUnsupported = errors.New("thread affinity is only supported on linux")

// SetThreadAffinity restricts a thread to the given logical cores.
func SetThreadAffinity(int, cpuset.CPUSet) error {
	return errUnsupported
}

// ThreadAffinity returns the logical cores a thread may run on.
func ThreadAffinity(int) (cpuset.CPUSet, error) {
	return cpuset.New(), errUnsupported
}
