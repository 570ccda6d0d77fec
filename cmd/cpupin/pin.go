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

package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/executor/dryrun"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/executor/ssh"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/pinner"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/providers/static"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/karpenter/pkg/utils/env"
)

type pinCmd struct {
	cluster clusterOptions
	ssh     ssh.Config
	request pinner.Request
	options cpupin.PinOptions

	cpuinfoFile string
	dryRun      bool
	seed        uint64
}

// pinResult is printed after a pin operation.
type pinResult struct {
	Node       cpupin.NodeRef   `json:"node"`
	VCPUCPUMap []pinner.VCPUCPU `json:"vcpuCPUMap"`
	Unreserved string           `json:"unreserved"`
	Script     string           `json:"script,omitempty"`
}

func buildPinCmd() *cobra.Command {
	c := &pinCmd{}

	cmd := cobra.Command{
		Use:           "pin",
		Short:         "Pin online vCPUs to NUMA sockets and take their hyperthread siblings offline",
		Args:          cobra.ExactArgs(0),
		PreRunE:       c.parseArgs,
		RunE:          c.runPin,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	addClusterFlags(flags)

	flags.StringP("online", "o", "", "online vCPUs with their NUMA socket, -1 for any socket, e.g. 2:1,4:-1")
	flags.StringP("offline", "f", "", "vCPUs taken offline for the hyperthread siblings, e.g. 3,5")
	flags.String("cpuinfo-file", "", "use a recorded cpuinfo document instead of the Proxmox API, nothing is changed")
	flags.Bool("dry-run", false, "compute the placement and print the guest script only")
	flags.BoolP("quiet", "q", false, "do not log reports and assignments")
	flags.Bool("verify", false, "read the instance report again after pinning")
	flags.Uint64("seed", 0, "seed of the core selection, random if zero")

	flags.String("ssh-user", env.WithDefaultString("SSH_USER", "root"), "ssh user of the guest")
	flags.Int("ssh-port", ssh.DefaultPort, "ssh port of the guest")
	flags.String("ssh-key", env.WithDefaultString("SSH_KEY", ""), "ssh private key file")
	flags.String("ssh-password", env.WithDefaultString("SSH_PASSWORD", ""), "ssh password")
	flags.String("known-hosts", env.WithDefaultString("SSH_KNOWN_HOSTS", ""), "ssh known hosts file")
	flags.Bool("insecure-ignore-host-key", false, "do not verify the guest host key")

	_ = cmd.MarkFlagRequired("online")
	_ = cmd.MarkFlagRequired("offline")

	return &cmd
}

func (c *pinCmd) parseArgs(cmd *cobra.Command, _ []string) (err error) {
	flags := cmd.Flags()

	if c.cluster, err = parseClusterFlags(flags); err != nil {
		return err
	}

	online, err := flags.GetString("online")
	if err != nil {
		return err
	}

	offline, err := flags.GetString("offline")
	if err != nil {
		return err
	}

	if c.request, err = pinner.ParseRequest(online, offline); err != nil {
		return err
	}

	if c.cpuinfoFile, err = flags.GetString("cpuinfo-file"); err != nil {
		return err
	}

	if c.dryRun, err = flags.GetBool("dry-run"); err != nil {
		return err
	}

	if c.options.Quiet, err = flags.GetBool("quiet"); err != nil {
		return err
	}

	if c.options.Verify, err = flags.GetBool("verify"); err != nil {
		return err
	}

	if c.seed, err = flags.GetUint64("seed"); err != nil {
		return err
	}

	if c.ssh.User, err = flags.GetString("ssh-user"); err != nil {
		return err
	}

	if c.ssh.Port, err = flags.GetInt("ssh-port"); err != nil {
		return err
	}

	if c.ssh.KeyFile, err = flags.GetString("ssh-key"); err != nil {
		return err
	}

	if c.ssh.Password, err = flags.GetString("ssh-password"); err != nil {
		return err
	}

	if c.ssh.KnownHostsFile, err = flags.GetString("known-hosts"); err != nil {
		return err
	}

	if c.ssh.InsecureIgnoreHostKey, err = flags.GetBool("insecure-ignore-host-key"); err != nil {
		return err
	}

	return nil
}

func (c *pinCmd) pinner(cmd *cobra.Command) *pinner.Pinner {
	opts := []pinner.Option{pinner.WithLogger(log.FromContext(cmd.Context()).WithName("pinner"))}

	if c.seed != 0 {
		opts = append(opts, pinner.WithRand(rand.New(rand.NewPCG(c.seed, c.seed)))) //nolint:gosec
	}

	return pinner.New(opts...)
}

func (c *pinCmd) runPin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var (
		provider cpupin.Provider
		executor cpupin.Executor
	)

	switch {
	case c.cpuinfoFile != "":
		p, err := static.NewProviderFromFile(c.cpuinfoFile)
		if err != nil {
			return err
		}

		provider, executor = p, dryrun.New()
	default:
		p, err := c.cluster.proxmoxProvider(ctx)
		if err != nil {
			return err
		}

		provider = p

		if c.dryRun {
			executor = dryrun.New()
		} else if executor, err = ssh.New(c.ssh); err != nil {
			return err
		}
	}

	m := cpupin.NewManager(provider, executor, cpupin.WithPinner(c.pinner(cmd)))

	if c.dryRun {
		plan, err := m.Plan(ctx, c.cluster.node, c.request, c.options)
		if err != nil {
			return err
		}

		return printJSON(cmd, pinResult{
			Node:       plan.Node,
			VCPUCPUMap: plan.Assignment.VCPUCPUMap(),
			Unreserved: plan.Assignment.Unreserved.String(),
			Script:     plan.Script,
		})
	}

	assignment, err := m.PinVCPUToSocket(ctx, c.cluster.node, c.request, c.options)
	if err != nil {
		return err
	}

	return printJSON(cmd, pinResult{
		Node:       c.cluster.node,
		VCPUCPUMap: assignment.VCPUCPUMap(),
		Unreserved: assignment.Unreserved.String(),
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))

	return nil
}
