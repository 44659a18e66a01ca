/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// zoplog.packetd watches the monitored interface for HTTP requests, TLS
// ClientHellos, DNS answers, and QUIC flows, persists one normalized row per
// identified session, and pushes blocklisted destinations into the kernel
// set via the firewall helper.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/firewall"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/network"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlcfg"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlutil"

	"go.uber.org/zap"
)

const pname = "zoplog.packetd"

var (
	confPath = flag.String("conf", zlcfg.SettingsPath,
		"path to the zoplog settings file")
	dbConfPath = flag.String("dbconf", zlcfg.DatabasePath,
		"path to the database credentials file")
	scriptsDir = flag.String("scripts", firewall.DefaultScriptsDir,
		"directory holding the zoplog firewall helpers")
	promAddr = flag.String("prom_address", ":3601",
		"address to listen on for Prometheus HTTP requests")

	slog *zap.SugaredLogger
)

// sinkDepth bounds how far the writer may fall behind the demux before
// observations are dropped rather than stalling the capture source.
const sinkDepth = 1024

// writer drains observations from the demux: each row is persisted, then
// handed to the enforcer.  Enforcement does not depend on the write
// succeeding; a hostname seen on the wire is matched either way.
func writer(ctx context.Context, store logdb.DataStore, enf *enforcer,
	sink <-chan *logdb.PacketRecord) {

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-sink:
			if err := store.InsertPacketLog(ctx, rec); err != nil {
				writeErrors.Inc()
				slog.Errorf("recording %s packet from %s: %v",
					rec.Type, rec.SrcIP, err)
			} else {
				rowsWritten.Inc()
			}

			if rec.Host != "" {
				enf.hostObserved(ctx, rec.Host, rec.DstIP)
			}
		}
	}
}

func signalHandler() {
	sig := make(chan os.Signal, 1)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	slog.Infof("Signal (%v) received, stopping", received)
}

func main() {
	flag.Parse()
	slog = zlutil.NewLogger(pname)

	settings := zlcfg.LoadSettings(*confPath, slog)
	if err := zlutil.LogSetLevel(settings.LogLevel); err != nil {
		slog.Warnf("bad log_level %q: %v", settings.LogLevel, err)
	}

	dbc := zlcfg.LoadDBConfig(*dbConfPath, slog)
	store, err := logdb.Connect(dbc.DSN())
	if err != nil {
		slog.Fatalf("cannot connect to %s/%s: %v", dbc.Host, dbc.Name, err)
	}
	defer store.Close()

	metricsInit(*promAddr)

	iface := network.MonitorInterface(settings.MonitorInterface)
	if iface != settings.MonitorInterface {
		slog.Warnf("configured interface %q not found, using %q",
			settings.MonitorInterface, iface)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := make(chan *logdb.PacketRecord, sinkDepth)
	enf := newEnforcer(store, firewall.NewChain(*scriptsDir, slog), slog)
	go writer(ctx, store, enf, sink)

	sniffer := newCapturer(iface, settings.CaptureMode == "promiscuous", sink)
	go sniffer.run()

	signalHandler()
	sniffer.stop()
}
