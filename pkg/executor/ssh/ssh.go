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

// Package ssh runs guest configuration commands over SSH.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/cpupin"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultPort is used when the node address has no port.
const DefaultPort = 22

// Config holds SSH connection settings.
type Config struct {
	User     string
	Port     int
	KeyFile  string
	Password string

	// KnownHostsFile verifies host keys. Host keys are not verified when it is empty
	// and InsecureIgnoreHostKey is set.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	Timeout time.Duration
}

// Executor is a cpupin.Executor connecting to the node address over SSH.
type Executor struct {
	config *ssh.ClientConfig
	port   int
}

var _ cpupin.Executor = &Executor{}

// New returns an Executor.
func New(cfg Config) (*Executor, error) {
	auth := []ssh.AuthMethod{}

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key %s: %w", cfg.KeyFile, err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", cfg.KeyFile, err)
		}

		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh key or password is required")
	}

	var hostKeyCallback ssh.HostKeyCallback

	switch {
	case cfg.KnownHostsFile != "":
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsFile, err)
		}

		hostKeyCallback = cb
	case cfg.InsecureIgnoreHostKey:
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	default:
		return nil, fmt.Errorf("known hosts file is required")
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Executor{
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		},
		port: port,
	}, nil
}

// Run runs the command in a new session. A non-zero exit status is returned
// as an error together with the captured output.
func (e *Executor) Run(ctx context.Context, node cpupin.NodeRef, command string) (string, string, error) {
	addr := e.address(node)
	log := log.FromContext(ctx).WithName("ssh.Run()").WithValues("node", node.String(), "address", addr)

	dialer := net.Dialer{Timeout: e.config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, e.config)
	if err != nil {
		conn.Close() //nolint:errcheck

		return "", "", fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	client := ssh.NewClient(c, chans, reqs)
	defer client.Close() //nolint:errcheck

	session, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to open ssh session to %s: %w", addr, err)
	}
	defer session.Close() //nolint:errcheck

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	log.V(4).Info("Running command", "command", command)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		client.Close() //nolint:errcheck

		// session.Run owns the buffers until it returns.
		<-done

		return stdout.String(), stderr.String(), ctx.Err()
	case err = <-done:
	}

	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("command failed on %s: %w", addr, err)
	}

	return stdout.String(), stderr.String(), nil
}

func (e *Executor) address(node cpupin.NodeRef) string {
	host := node.Address
	if host == "" {
		host = node.Name
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}

	return net.JoinHostPort(host, strconv.Itoa(e.port))
}
