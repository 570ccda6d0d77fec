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

// Package proxmoxpool provides a pool of Proxmox API clients keyed by region.
package proxmoxpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"

	proxmox "github.com/luthermonson/go-proxmox"

	goproxmox "github.com/sergelogvinov/go-proxmox"

	"k8s.io/klog/v2"
)

// ProxmoxCluster defines a Proxmox cluster configuration.
type ProxmoxCluster struct {
	URL             string `yaml:"url"`
	Insecure        bool   `yaml:"insecure,omitempty"`
	TokenID         string `yaml:"token_id,omitempty"`
	TokenIDFile     string `yaml:"token_id_file,omitempty"`
	TokenSecret     string `yaml:"token_secret,omitempty"`
	TokenSecretFile string `yaml:"token_secret_file,omitempty"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	Region          string `yaml:"region,omitempty"`
}

// ProxmoxPool is a Proxmox client pool of proxmox clusters.
type ProxmoxPool struct {
	clients map[string]*goproxmox.APIClient
}

// NewProxmoxPool creates API clients for every configured cluster.
func NewProxmoxPool(ctx context.Context, config []*ProxmoxCluster, userAgent string) (*ProxmoxPool, error) {
	if len(config) == 0 {
		return nil, ErrClustersNotFound
	}

	clients := make(map[string]*goproxmox.APIClient, len(config))

	for _, cfg := range config {
		options, err := clientOptions(cfg, userAgent)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", cfg.Region, err)
		}

		pxClient, err := goproxmox.NewAPIClient(ctx, cfg.URL, options...)
		if err != nil {
			return nil, err
		}

		clients[cfg.Region] = pxClient
	}

	return &ProxmoxPool{
		clients: clients,
	}, nil
}

func clientOptions(cfg *ProxmoxCluster, userAgent string) ([]proxmox.Option, error) {
	options := []proxmox.Option{proxmox.WithUserAgent(userAgent)}

	if cfg.Insecure {
		httpTr := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}

		options = append(options, proxmox.WithHTTPClient(&http.Client{Transport: httpTr}))
	}

	tokenID, err := valueOrFile(cfg.TokenID, cfg.TokenIDFile)
	if err != nil {
		return nil, err
	}

	tokenSecret, err := valueOrFile(cfg.TokenSecret, cfg.TokenSecretFile)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.Username != "" && cfg.Password != "":
		options = append(options, proxmox.WithCredentials(&proxmox.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		}))
	case tokenID != "" && tokenSecret != "":
		options = append(options, proxmox.WithAPIToken(tokenID, tokenSecret))
	}

	return options, nil
}

// GetRegions returns the configured regions in order.
func (c *ProxmoxPool) GetRegions() []string {
	regions := make([]string, 0, len(c.clients))

	for region := range c.clients {
		regions = append(regions, region)
	}

	slices.Sort(regions)

	return regions
}

// CheckClusters checks if the Proxmox connection is working.
func (c *ProxmoxPool) CheckClusters(ctx context.Context) error {
	for region, pxClient := range c.clients {
		if _, err := pxClient.Version(ctx); err != nil {
			return fmt.Errorf("failed to initialized proxmox client in region %s, error: %v", region, err)
		}

		pxCluster, err := pxClient.Cluster(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cluster info in region %s, error: %v", region, err)
		}

		vms, err := pxCluster.Resources(ctx, "vm")
		if err != nil {
			return fmt.Errorf("failed to get list of VMs in region %s, error: %v", region, err)
		}

		if len(vms) > 0 {
			klog.V(4).InfoS("Proxmox cluster has VMs", "region", region, "count", len(vms))
		} else {
			klog.InfoS("Proxmox cluster has no VMs, or check the account permission", "region", region)
		}
	}

	return nil
}

// GetProxmoxCluster returns a Proxmox cluster client in a given region.
func (c *ProxmoxPool) GetProxmoxCluster(region string) (*goproxmox.APIClient, error) {
	if c.clients[region] != nil {
		return c.clients[region], nil
	}

	return nil, ErrRegionNotFound
}

// FindVM finds a VM by ID or, when vmID is zero, by name.
// An empty region searches every cluster.
func (c *ProxmoxPool) FindVM(ctx context.Context, region string, vmID uint64, name string) (string, *proxmox.ClusterResource, error) {
	regions := c.GetRegions()
	if region != "" {
		regions = []string{region}
	}

	for _, r := range regions {
		px, err := c.GetProxmoxCluster(r)
		if err != nil {
			return "", nil, err
		}

		cluster, err := px.Cluster(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("cannot get cluster status in region %s: %w", r, err)
		}

		vms, err := cluster.Resources(ctx, "vm")
		if err != nil {
			return "", nil, fmt.Errorf("could not list vm resources in region %s: %w", r, err)
		}

		for _, vm := range vms {
			if vm.Template != 0 {
				continue
			}

			if (vmID != 0 && vm.VMID == vmID) || (vmID == 0 && vm.Name == name) {
				return r, vm, nil
			}
		}
	}

	return "", nil, goproxmox.ErrVirtualMachineNotFound
}

func valueOrFile(value, path string) (string, error) {
	if value != "" || path == "" {
		return value, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	return strings.TrimSpace(string(content)), nil
}
