// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fuseboxfs/fusebox/cfg"
	"github.com/fuseboxfs/fusebox/internal/accesslog"
	"github.com/fuseboxfs/fusebox/internal/auditor"
	"github.com/fuseboxfs/fusebox/internal/dispatcher"
	"github.com/fuseboxfs/fusebox/internal/logger"
	"github.com/fuseboxfs/fusebox/internal/metrics"
)

// mount wires together the auditor, pseudo control subtree and dispatcher,
// mounts the result at newConfig.Mountpoint and blocks until it is
// unmounted. Mirrors the teacher's mountWithStorageHandle: build the
// backing server, derive a *fuse.MountConfig, call fuse.Mount, then Join.
func mount(ctx context.Context, newConfig *cfg.Config) error {
	if err := logger.Init(newConfig.Logging); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	a := auditor.New(newConfig.SecurityModel, newConfig.AuditorEnabled)

	rules, err := cfg.LoadSeedRules(newConfig.SeedRulesFile)
	if err != nil {
		return fmt.Errorf("loading seed rules: %w", err)
	}
	if err := a.Seed(rules); err != nil {
		return fmt.Errorf("applying seed rules: %w", err)
	}

	access := accesslog.NewRecorder()

	d, err := dispatcher.New(newConfig, a, access)
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)
	if addr, err := metricsServe("127.0.0.1:0", registry); err != nil {
		logger.Warnf("metrics endpoint disabled: %v", err)
	} else {
		logger.Infof("metrics available at http://%s/metrics", addr)
	}

	mfs, err := mountDispatcher(d, newConfig)
	if err != nil {
		return err
	}

	logger.Infof("fusebox mount %s: %s -> %s", d.MountID(), newConfig.Source, newConfig.Mountpoint)

	joinErr := mfs.Join(ctx)

	if newConfig.AccessLogBasename != "" {
		if err := access.Export(newConfig.AccessLogBasename); err != nil {
			logger.Errorf("exporting access logs: %v", err)
		}
	}

	return joinErr
}

func mountDispatcher(d *dispatcher.Dispatcher, newConfig *cfg.Config) (mfs *fuse.MountedFileSystem, err error) {
	server := fuseutil.NewFileSystemServer(d)
	mountCfg := getFuseMountConfig(newConfig)

	mfs, err = fuse.Mount(string(newConfig.Mountpoint), server, mountCfg)
	if err != nil {
		err = fmt.Errorf("mount: %w", err)
		return
	}

	return
}

func getFuseMountConfig(newConfig *cfg.Config) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:     "fusebox",
		Subtype:    "fusebox",
		VolumeName: "fusebox",
	}

	// fusebox-to-jacobsa/fuse log level mapping: only wire the loggers in
	// when the configured severity would actually let them emit anything.
	if newConfig.Logging.Severity.Rank() <= cfg.ErrorLogSeverity.Rank() {
		mountCfg.ErrorLogger = log.New(os.Stderr, "fuse: ", log.LstdFlags)
	}
	if newConfig.Logging.Severity.Rank() <= cfg.TraceLogSeverity.Rank() {
		mountCfg.DebugLogger = log.New(os.Stderr, "fuse_debug: ", log.LstdFlags)
	}

	return mountCfg
}

// metricsServe starts the Prometheus scrape endpoint in the background and
// returns the address it bound, since addr is given with port 0.
func metricsServe(addr string, reg *prometheus.Registry) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		_ = http.Serve(ln, mux)
	}()
	return ln.Addr().String(), nil
}
