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

package proxmoxpool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClustersConfig is the clusters file.
//
//	clusters:
//	  - url: https://pve-1.example.com:8006/api2/json
//	    insecure: false
//	    token_id: "cpupin@pve!cpupin"
//	    token_secret_file: /etc/cpupin/token
//	    region: cluster-1
type ClustersConfig struct {
	Clusters []*ProxmoxCluster `yaml:"clusters"`
}

// LoadClustersConfig reads and validates a clusters file.
func LoadClustersConfig(name string) (*ClustersConfig, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read clusters config %s: %w", name, err)
	}

	return ParseClustersConfig(data)
}

// ParseClustersConfig decodes and validates clusters YAML.
func ParseClustersConfig(data []byte) (*ClustersConfig, error) {
	cfg := &ClustersConfig{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse clusters config: %w", err)
	}

	if len(cfg.Clusters) == 0 {
		return nil, ErrClustersNotFound
	}

	regions := map[string]bool{}

	for i, c := range cfg.Clusters {
		if c.URL == "" {
			return nil, fmt.Errorf("cluster %d: url is required", i)
		}

		if c.Region == "" {
			return nil, fmt.Errorf("cluster %d: region is required", i)
		}

		if regions[c.Region] {
			return nil, fmt.Errorf("cluster %d: duplicate region %q", i, c.Region)
		}

		regions[c.Region] = true

		hasToken := (c.TokenID != "" || c.TokenIDFile != "") && (c.TokenSecret != "" || c.TokenSecretFile != "")
		if !hasToken && (c.Username == "" || c.Password == "") {
			return nil, fmt.Errorf("cluster %s: either token or username and password are required", c.Region)
		}
	}

	return cfg, nil
}
