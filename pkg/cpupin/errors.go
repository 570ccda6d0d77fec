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

package cpupin

import "github.com/pkg/errors"

var (
	// ErrPlacementActionFailed is returned when the provider does not acknowledge the placement action.
	ErrPlacementActionFailed = errors.New("placement action failed")
	// ErrRemoteConfigurationFailed is returned when the guest configuration could not be applied.
	ErrRemoteConfigurationFailed = errors.New("remote configuration failed")
)
