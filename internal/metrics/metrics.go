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

// Package metrics exposes the small set of Prometheus series that make the
// dispatcher's internal state observable: how the auditor is ruling,
// how many host descriptors are outstanding, how often the control plane
// is being written, and how big the vnode table has grown.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AuditorDecisions counts the dispatcher's read and write gate
	// decisions, labeled by class ("read", "write") and outcome ("allow",
	// "deny"). Discard queries are not counted.
	AuditorDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusebox",
		Subsystem: "auditor",
		Name:      "decisions_total",
		Help:      "Count of auditor ask_* decisions by class and outcome.",
	}, []string{"class", "outcome"})

	// OpenFDs tracks the number of host descriptors currently bound to
	// vnode records.
	OpenFDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fusebox",
		Subsystem: "vnode",
		Name:      "open_fds",
		Help:      "Number of open host file descriptors.",
	})

	// VnodeTableSize tracks the number of live vnode records.
	VnodeTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fusebox",
		Subsystem: "vnode",
		Name:      "table_size",
		Help:      "Number of live vnode records in the manager.",
	})

	// PseudoWrites counts writes to each control-plane file by name.
	PseudoWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusebox",
		Subsystem: "pseudo",
		Name:      "writes_total",
		Help:      "Count of writes to pseudo control files, by file name.",
	}, []string{"file"})

	// MountInfo is always 1; its mount_id label correlates this process's
	// series with the access-log lines stamped with the same ID.
	MountInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fusebox",
		Name:      "mount_info",
		Help:      "Constant 1, labeled with the running mount's correlation ID.",
	}, []string{"mount_id"})
)

// MustRegister registers every series above with reg. Called once at
// startup with a caller-supplied registry so tests can use an isolated one.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(AuditorDecisions, OpenFDs, VnodeTableSize, PseudoWrites, MountInfo)
}
