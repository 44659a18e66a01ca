/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	packetsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packets_classified",
			Help: "Number of captured packets classified, by kind.",
		},
		[]string{"kind"})
	hostnamesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostnames_extracted",
			Help: "Number of hostnames attributed to flows, by source.",
		},
		[]string{"source"})
	rowsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "packet_rows_written",
			Help: "Number of packet log rows written.",
		})
	writeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "packet_write_errors",
			Help: "Number of packet log writes that failed.",
		})
	writeDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "packet_write_drops",
			Help: "Number of observations dropped because the writer was behind.",
		})
	blocksApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blocks_applied",
			Help: "Number of blocklist/IP pairs pushed to the kernel set.",
		})
	whitelistHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whitelist_hits",
			Help: "Number of matches suppressed by an active whitelist.",
		})
)

func metricsInit(addr string) {
	prometheus.MustRegister(packetsClassified, hostnamesExtracted,
		rowsWritten, writeErrors, writeDrops, blocksApplied, whitelistHits)

	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, nil)
}
