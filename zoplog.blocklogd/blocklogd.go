/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// zoplog.blocklogd consumes the kernel's drop log: every packet the firewall
// rejects on behalf of a blocklist is journaled with a ZOPLOG-BLOCKLIST-*
// prefix, and this daemon turns those records into blocked_events rows with
// the WAN-side address and domain attributed.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlcfg"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const pname = "zoplog.blocklogd"

// batchLimit caps how many drop records one wakeup may persist; slow flash
// storage is easily overwhelmed by a drop burst, and analytics don't need
// every duplicate.
const batchLimit = 5

// burstWindow suppresses counter bumps for repeated drops of one src/dst
// pair inside this window.
const burstWindow = 5 * time.Second

var (
	confPath = flag.String("conf", zlcfg.SettingsPath,
		"path to the zoplog settings file")
	dbConfPath = flag.String("dbconf", zlcfg.DatabasePath,
		"path to the database credentials file")
	promAddr = flag.String("prom_address", ":3602",
		"address to listen on for Prometheus HTTP requests")

	slog *zap.SugaredLogger

	eventsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blocked_events_stored",
			Help: "Number of blocked events written to the database.",
		})
	eventsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blocked_events_skipped",
			Help: "Number of drop records skipped by the per-wakeup cap.",
		})
	eventErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blocked_event_errors",
			Help: "Number of drop records that failed to parse or persist.",
		})
)

type burstKey struct {
	src string
	dst string
}

// burstFilter is the in-memory dedup for counter bumps: one bump per
// src/dst pair per window.
type burstFilter struct {
	seen map[burstKey]time.Time
}

func newBurstFilter() *burstFilter {
	return &burstFilter{seen: make(map[burstKey]time.Time)}
}

func (f *burstFilter) allow(src, dst string, now time.Time) bool {
	if len(f.seen) > 4096 {
		for k, ts := range f.seen {
			if now.Sub(ts) > burstWindow {
				delete(f.seen, k)
			}
		}
	}

	k := burstKey{src, dst}
	if last, ok := f.seen[k]; ok && now.Sub(last) <= burstWindow {
		return false
	}
	f.seen[k] = now
	return true
}

// eventStore is the slice of the data store the ingestor needs.
type eventStore interface {
	InsertBlockedEvent(context.Context, *logdb.BlockedEventRecord) (*logdb.BlockedEventResult, error)
	BumpBlockedCount(context.Context, int64, int64) error
}

// ingestor owns one pass over the journal stream.
type ingestor struct {
	store   eventStore
	monitor string
	burst   *burstFilter
}

func (in *ingestor) handleLine(ctx context.Context, line string) {
	ev := parseLogLine(line)
	if ev == nil {
		slog.Debugf("unparsed drop record: %s", line)
		eventErrors.Inc()
		return
	}

	slog.Debugf("[%s] %s %s:%s -> %s:%s IN=%s OUT=%s",
		ev.direction, ev.fields["PROTO"],
		ev.fields["SRC"], ev.fields["SPT"],
		ev.fields["DST"], ev.fields["DPT"],
		ev.fields["IN"], ev.fields["OUT"])

	rec := buildEvent(ev, in.monitor)
	res, err := in.store.InsertBlockedEvent(ctx, rec)
	if err != nil {
		slog.Errorf("storing %s event: %v", ev.direction, err)
		eventErrors.Inc()
		return
	}
	eventsStored.Inc()

	if res.WANIPID.Valid && res.DomainID.Valid &&
		in.burst.allow(rec.SrcIP, rec.DstIP, time.Now()) {
		err = in.store.BumpBlockedCount(ctx, res.WANIPID.Int64, res.DomainID.Int64)
		if err != nil {
			slog.Errorf("bumping blocked count: %v", err)
		}
	}
}

// processBatch applies the per-wakeup cap to the drop records collected
// from one journal wait, reporting the remainder as skipped.
func (in *ingestor) processBatch(ctx context.Context, batch []string) {
	var matching []string
	for _, line := range batch {
		if strings.Contains(line, blocklistTag) {
			matching = append(matching, line)
		}
	}

	for i, line := range matching {
		if i >= batchLimit {
			skipped := len(matching) - batchLimit
			slog.Infof("%d drop records skipped to maintain performance",
				skipped)
			eventsSkipped.Add(float64(skipped))
			break
		}
		in.handleLine(ctx, line)
	}
}

// drain collects every line already buffered behind the first one, so one
// wakeup sees the same burst the journal delivered.
func drain(lines <-chan string, first string) []string {
	batch := []string{first}
	for {
		select {
		case line := <-lines:
			batch = append(batch, line)
		default:
			return batch
		}
	}
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

	prometheus.MustRegister(eventsStored, eventsSkipped, eventErrors)
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(*promAddr, nil)

	in := &ingestor{
		store:   store,
		monitor: settings.MonitorInterface,
		burst:   newBurstFilter(),
	}

	reader := newJournalReader(slog)
	go reader.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for line := range reader.lines {
			in.processBatch(ctx, drain(reader.lines, line))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	slog.Infof("Signal (%v) received, stopping", received)
	reader.stop()
}
