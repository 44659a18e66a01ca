/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"

	"go.uber.org/zap"
)

// ipsetAdder is the slice of the firewall chain the enforcer needs.
type ipsetAdder interface {
	AddIP(ctx context.Context, blocklistID int64, ip string)
}

// matchStore is the slice of the data store the enforcer needs.
type matchStore interface {
	IsWhitelisted(context.Context, string) (bool, error)
	MatchBlocklists(context.Context, string) ([]logdb.BlocklistMatch, error)
}

type appliedKey struct {
	blocklistID int64
	ip          string
}

// enforcer decides what happens when a hostname is seen talking to an IP:
// whitelisted hosts are left alone, hosts on an active blocklist get the
// destination IP pushed into that blocklist's kernel set.  The kernel set
// has set semantics, so the applied map exists only to skip redundant
// helper invocations.  Logging is not enforcement: the packet row has
// already been written by the time we get here.
type enforcer struct {
	store   matchStore
	fw      ipsetAdder
	applied map[appliedKey]struct{}
	slog    *zap.SugaredLogger
}

func newEnforcer(store matchStore, fw ipsetAdder, slog *zap.SugaredLogger) *enforcer {
	return &enforcer{
		store:   store,
		fw:      fw,
		applied: make(map[appliedKey]struct{}),
		slog:    slog,
	}
}

// hostObserved runs the whitelist check and blocklist match for a normalized
// hostname observed talking to dstIP.  Only called from the writer
// goroutine.
func (e *enforcer) hostObserved(ctx context.Context, host, dstIP string) {
	if host == "" || dstIP == "" {
		return
	}

	listed, err := e.store.IsWhitelisted(ctx, host)
	if err != nil {
		e.slog.Warnf("whitelist lookup for %s: %v", host, err)
		return
	}
	if listed {
		whitelistHits.Inc()
		e.slog.Debugf("%s is whitelisted, not enforcing", host)
		return
	}

	matches, err := e.store.MatchBlocklists(ctx, host)
	if err != nil {
		e.slog.Warnf("blocklist lookup for %s: %v", host, err)
		return
	}

	for _, m := range matches {
		k := appliedKey{m.BlocklistID, dstIP}
		if _, ok := e.applied[k]; ok {
			continue
		}
		e.applied[k] = struct{}{}

		e.slog.Infof("blocking %s (%s) via blocklist %d",
			host, dstIP, m.BlocklistID)
		e.fw.AddIP(ctx, m.BlocklistID, dstIP)
		blocksApplied.Inc()
	}
}
