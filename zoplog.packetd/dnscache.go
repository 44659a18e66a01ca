/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"time"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/network"

	"github.com/miekg/dns"
)

// QUIC never shows us a plaintext hostname, so attribution leans on the DNS
// answers the client fetched moments earlier: every A/AAAA answer is cached
// under (client, server IP), and the first packet of a UDP/443 flow between
// that pair is credited to the most recent name.  Both the answer cache and
// the seen-flow set age out on the same TTL.
const (
	dnsTTL         = 120 * time.Second
	dnsSweepPeriod = 5 * time.Second
)

type dnsKey struct {
	client string
	server string
}

type dnsEntry struct {
	host string
	ts   time.Time
}

// dnsCache is private to the capture task; no locking.
type dnsCache struct {
	answers   map[dnsKey]dnsEntry
	quicSeen  map[flowKey]time.Time
	lastSweep time.Time
}

func newDNSCache() *dnsCache {
	return &dnsCache{
		answers:  make(map[dnsKey]dnsEntry),
		quicSeen: make(map[flowKey]time.Time),
	}
}

// observe records every A/AAAA answer in a DNS response sent to client.
// When one server IP is answered under several names, the last write wins.
func (c *dnsCache) observe(client string, msg *dns.Msg, now time.Time) {
	if !msg.Response {
		return
	}

	for _, rr := range msg.Answer {
		var server string
		switch a := rr.(type) {
		case *dns.A:
			server = a.A.String()
		case *dns.AAAA:
			server = network.CanonicalIP(a.AAAA.String())
		default:
			continue
		}

		host := network.CleanHostname(rr.Header().Name)
		if host == "" {
			continue
		}

		c.answers[dnsKey{client, server}] = dnsEntry{host: host, ts: now}
	}
}

// lookup returns the hostname most recently answered to client for server,
// if the answer is still inside the TTL.
func (c *dnsCache) lookup(client, server string, now time.Time) (string, bool) {
	e, ok := c.answers[dnsKey{client, server}]
	if !ok || now.Sub(e.ts) > dnsTTL {
		return "", false
	}
	return e.host, true
}

// quicFlowSeen reports whether this 4-tuple has already produced a QUIC
// attribution that hasn't aged out yet.
func (c *dnsCache) quicFlowSeen(k flowKey, now time.Time) bool {
	ts, ok := c.quicSeen[k]
	return ok && now.Sub(ts) <= dnsTTL
}

// markQUICFlow silences further attribution for this 4-tuple.
func (c *dnsCache) markQUICFlow(k flowKey, now time.Time) {
	c.quicSeen[k] = now
}

// sweep expires stale answers and seen flows, at most once per period.
func (c *dnsCache) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < dnsSweepPeriod {
		return
	}
	c.lastSweep = now

	for k, e := range c.answers {
		if now.Sub(e.ts) > dnsTTL {
			delete(c.answers, k)
		}
	}
	for k, ts := range c.quicSeen {
		if now.Sub(ts) > dnsTTL {
			delete(c.quicSeen, k)
		}
	}
}
