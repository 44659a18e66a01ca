/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func dnsResponse(owner string, addrs ...string) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(owner), dns.TypeA)
	msg.Response = true

	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		hdr := dns.RR_Header{
			Name:   dns.Fqdn(owner),
			Class:  dns.ClassINET,
			Ttl:    300,
			Rrtype: dns.TypeA,
		}
		if ip.To4() != nil {
			msg.Answer = append(msg.Answer, &dns.A{Hdr: hdr, A: ip})
		} else {
			hdr.Rrtype = dns.TypeAAAA
			msg.Answer = append(msg.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
		}
	}
	return msg
}

func TestDNSCacheObserveLookup(t *testing.T) {
	assert := require.New(t)

	c := newDNSCache()
	now := time.Now()

	c.observe("10.0.0.5", dnsResponse("video.example", "1.2.3.4"), now)

	host, ok := c.lookup("10.0.0.5", "1.2.3.4", now.Add(time.Minute))
	assert.True(ok)
	assert.Equal("video.example", host)

	// answers are per-client
	_, ok = c.lookup("10.0.0.6", "1.2.3.4", now)
	assert.False(ok)

	// and expire after the TTL
	_, ok = c.lookup("10.0.0.5", "1.2.3.4", now.Add(dnsTTL+time.Second))
	assert.False(ok)
}

func TestDNSCacheLastWriteWins(t *testing.T) {
	assert := require.New(t)

	c := newDNSCache()
	now := time.Now()

	c.observe("10.0.0.5", dnsResponse("first.example", "1.2.3.4"), now)
	c.observe("10.0.0.5", dnsResponse("second.example", "1.2.3.4"), now.Add(time.Second))

	host, ok := c.lookup("10.0.0.5", "1.2.3.4", now.Add(2*time.Second))
	assert.True(ok)
	assert.Equal("second.example", host)
}

func TestDNSCacheIPv6Canonical(t *testing.T) {
	assert := require.New(t)

	c := newDNSCache()
	now := time.Now()

	c.observe("10.0.0.5",
		dnsResponse("v6.example", "2001:0db8:0000:0000:0000:0000:0000:0001"), now)

	host, ok := c.lookup("10.0.0.5", "2001:db8::1", now)
	assert.True(ok)
	assert.Equal("v6.example", host)
}

func TestDNSCacheIgnoresQueriesAndBadNames(t *testing.T) {
	assert := require.New(t)

	c := newDNSCache()
	now := time.Now()

	query := dnsResponse("video.example", "1.2.3.4")
	query.Response = false
	c.observe("10.0.0.5", query, now)
	assert.Empty(c.answers)

	c.observe("10.0.0.5", dnsResponse("localhost", "127.0.0.1"), now)
	assert.Empty(c.answers)
}

func TestQUICFlowSeen(t *testing.T) {
	assert := require.New(t)

	c := newDNSCache()
	now := time.Now()
	k := flowKey{"10.0.0.5", 54321, "1.2.3.4", 443}

	assert.False(c.quicFlowSeen(k, now))
	c.markQUICFlow(k, now)
	assert.True(c.quicFlowSeen(k, now.Add(time.Minute)))
	assert.False(c.quicFlowSeen(k, now.Add(dnsTTL+time.Second)))
}

func TestDNSCacheSweep(t *testing.T) {
	assert := require.New(t)

	c := newDNSCache()
	start := time.Now()

	c.observe("10.0.0.5", dnsResponse("old.example", "1.2.3.4"), start)
	c.markQUICFlow(flowKey{"10.0.0.5", 1, "1.2.3.4", 443}, start)

	later := start.Add(dnsTTL + 10*time.Second)
	c.observe("10.0.0.5", dnsResponse("new.example", "5.6.7.8"), later)

	c.sweep(later)
	assert.Len(c.answers, 1)
	assert.Empty(c.quicSeen)
	_, ok := c.lookup("10.0.0.5", "5.6.7.8", later)
	assert.True(ok)
}
