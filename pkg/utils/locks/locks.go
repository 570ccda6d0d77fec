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

// Package locks provides mutexes keyed by name.
package locks

import "sync"

// Locks serializes work per key, for example per VM or per hypervisor node.
type Locks[K comparable] struct {
	locks sync.Map
}

// NewLocks creates a new instance of Locks.
func NewLocks[K comparable]() *Locks[K] {
	return &Locks[K]{}
}

// Lock locks the key and returns the unlock function.
func (l *Locks[K]) Lock(key K) func() {
	actual, _ := l.locks.LoadOrStore(key, &sync.Mutex{})

	mu := actual.(*sync.Mutex) //nolint:errcheck
	mu.Lock()

	return mu.Unlock
}

// TryLock locks the key if it is free.
func (l *Locks[K]) TryLock(key K) (func(), bool) {
	actual, _ := l.locks.LoadOrStore(key, &sync.Mutex{})

	mu := actual.(*sync.Mutex) //nolint:errcheck
	if !mu.TryLock() {
		return nil, false
	}

	return mu.Unlock, true
}
