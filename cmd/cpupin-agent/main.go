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

// Command cpupin-agent binds vCPU threads of local Proxmox VMs to the host
// cores stored in their config.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/metrics"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/reconciler"
	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/systeminfo"

	"sigs.k8s.io/karpenter/pkg/utils/env"
)

const (
	verbosityEnvVarName = "VERBOSITY"
	verbosityFlagName   = "verbosity"

	watchPathEnvVarName = "WATCH_PATH"
	watchPathFlagName   = "watch-path"

	maxRetriesEnvVarName = "MAX_RETRIES"
	maxRetriesFlagName   = "max-retries"

	resyncIntervalEnvVarName = "RESYNC_INTERVAL"
	resyncIntervalFlagName   = "resync-interval"

	metricsAddrEnvVarName = "METRICS_BIND_ADDRESS"
	metricsAddrFlagName   = "metrics-bind-address"
)

var (
	// Version of the cpupin-agent
	Version = "edge"

	showVersion = pflag.Bool("version", false, "Print the version and exit.")

	verbosity      = pflag.IntP(verbosityFlagName, "v", env.WithDefaultInt(verbosityEnvVarName, 0), "Verbosity level (0=info, 1=debug, 2=trace, -1=errors only)")
	watchPath      = pflag.String(watchPathFlagName, env.WithDefaultString(watchPathEnvVarName, "/run/qemu-server"), "Path to watch of qemu pid files")
	maxRetries     = pflag.Int(maxRetriesFlagName, env.WithDefaultInt(maxRetriesEnvVarName, 5), "Maximum number of retry attempts")
	resyncInterval = pflag.Duration(resyncIntervalFlagName, env.WithDefaultDuration(resyncIntervalEnvVarName, 60*time.Minute), "Resync interval")
	metricsAddr    = pflag.String(metricsAddrFlagName, env.WithDefaultString(metricsAddrEnvVarName, ":8080"), "Address of the metrics endpoint, empty disables it")
)

func main() {
	pflag.Parse()

	logger := setupLogger(*verbosity)
	logger.Info("Proxmox vCPU pinning agent", "version", Version, "verbosity", *verbosity)

	if *showVersion {
		os.Exit(0)
	}

	featureFlags := parseFeatureFlags(os.Getenv("PROXMOX_FEATURE_FLAGS"))
	logger.Info("Feature flags configured", "featureFlags", featureFlags)

	logger.Info("Collecting server hardware information...")

	serverInfo, err := systeminfo.CollectServerInfo()
	if err != nil {
		logger.Error(err, "Failed to collect server information")
		os.Exit(1)
	}

	showServerInfo(logger, serverInfo)

	m := metrics.New()

	if err := run(NewHandler(*watchPath, systeminfo.HostCPUs(serverInfo), featureFlags, m, logger), m, logger); err != nil {
		logger.Error(err, "Reconciler encountered an error")
		os.Exit(1)
	}
}

func run(handler *PinHandler, m *metrics.Metrics, logger logr.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())

		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "Metrics server failed")
			}
		}()

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	config := reconciler.DefaultConfig(logger)
	config.MaxRetries = *maxRetries
	config.WatchPath = *watchPath
	config.ResyncInterval = *resyncInterval

	logger.Info("Reconciler started", "watchPath", config.WatchPath, "resyncInterval", config.ResyncInterval)

	if err := reconciler.New(config, handler).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Reconciler stopped gracefully")

	return nil
}
