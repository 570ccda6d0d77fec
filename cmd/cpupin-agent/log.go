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
	"github.com/go-logr/logr"
	info "github.com/google/cadvisor/info/v1"
	"go.uber.org/zap/zapcore"

	"github.com/sergelogvinov/proxmox-cpupin/pkg/utils/systeminfo"

	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

func setupLogger(verbosity int) logr.Logger {
	opt := &zap.Options{
		Development:     true,
		Level:           zapcore.Level(-verbosity),
		StacktraceLevel: zapcore.PanicLevel,
		EncoderConfigOptions: []zap.EncoderConfigOption{
			func(ec *zapcore.EncoderConfig) {
				ec.TimeKey = ""
				ec.LevelKey = ""
			},
		},
	}

	return zap.New(zap.UseFlagOptions(opt))
}

func showServerInfo(logger logr.Logger, serverInfo *info.MachineInfo) {
	logger.Info("===== Server Hardware Information =====")
	defer logger.Info("=======================================")

	if serverInfo == nil {
		logger.Info("No server information available")

		return
	}

	logger.Info("CPU Information", "cores", serverInfo.NumCores, "physicalCores", serverInfo.NumPhysicalCores,
		"sockets", serverInfo.NumSockets, "memory", serverInfo.MemoryCapacity)

	for id, cpus := range systeminfo.NUMANodeCPUs(serverInfo) {
		logger.Info("NUMA Node", "index", id, "cpus", cpus.String())
	}
}
