/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const fwdLine = "kernel: ZOPLOG-BLOCKLIST-FWDIN IN=eth0 OUT=br-zoplog PHYSIN=eth0 " +
	"MAC=9c:ef:d5:fe:e8:36:b8:27:eb:19:0f:23:08:00 SRC=1.2.3.4 DST=10.0.0.5 " +
	"LEN=60 TOS=0x00 PROTO=TCP SPT=443 DPT=53344 WINDOW=29200 SYN URGP=0"

func TestParseLogLineFWD(t *testing.T) {
	assert := require.New(t)

	ev := parseLogLine(fwdLine)
	assert.NotNil(ev)
	assert.Equal("FWD", ev.direction)
	assert.Equal("eth0", ev.fields["IN"])
	assert.Equal("br-zoplog", ev.fields["OUT"])
	assert.Equal("eth0", ev.fields["PHYSIN"])
	assert.Equal("1.2.3.4", ev.fields["SRC"])
	assert.Equal("10.0.0.5", ev.fields["DST"])
	assert.Equal("TCP", ev.fields["PROTO"])
	assert.Equal("443", ev.fields["SPT"])
	assert.Equal("53344", ev.fields["DPT"])
}

func TestParseLogLineDirections(t *testing.T) {
	assert := require.New(t)

	cases := map[string]string{
		"IN":     "IN",
		"ININ":   "IN",
		"INOUT":  "IN",
		"OUTIN":  "IN",
		"OUT":    "OUT",
		"OUTOUT": "OUT",
		"FWD":    "FWD",
		"FWDIN":  "FWD",
		"FWDOUT": "FWD",
	}
	for token, want := range cases {
		ev := parseLogLine("kernel: ZOPLOG-BLOCKLIST-" + token +
			" SRC=1.2.3.4 DST=5.6.7.8 PROTO=UDP")
		assert.NotNil(ev, "token %s", token)
		assert.Equal(want, ev.direction, "token %s", token)
	}
}

func TestParseLogLineGluedField(t *testing.T) {
	assert := require.New(t)

	// nftables glued the IN= field straight onto the OUT chain token
	ev := parseLogLine("kernel: ZOPLOG-BLOCKLIST-OUTIN=eth0 OUT= " +
		"SRC=10.0.0.5 DST=93.184.216.34 PROTO=TCP SPT=43210 DPT=443")
	assert.NotNil(ev)
	assert.Equal("eth0", ev.fields["IN"])
	assert.Contains(ev.raw, "ZOPLOG-BLOCKLIST-OUT IN=eth0")
}

func TestParseLogLineIgnoresOtherMessages(t *testing.T) {
	assert := require.New(t)

	assert.Nil(parseLogLine("kernel: eth0: link up"))
	assert.Nil(parseLogLine(""))
}

func TestParsePort(t *testing.T) {
	assert := require.New(t)

	assert.Equal(int64(443), parsePort("443").Int64)
	assert.True(parsePort("0").Valid)
	assert.False(parsePort("").Valid)
	assert.False(parsePort("junk").Valid)
	assert.False(parsePort("-1").Valid)
}

func TestWanIP(t *testing.T) {
	assert := require.New(t)

	fields := map[string]string{"PHYSIN": "eth0"}

	// forwarded packet entering on the monitored (WAN) interface: the
	// remote endpoint is the source
	assert.Equal("1.2.3.4",
		wanIP("FWD", "1.2.3.4", "10.0.0.5", fields, "eth0"))

	// forwarded packet entering elsewhere: remote is the destination
	assert.Equal("10.0.0.5",
		wanIP("FWD", "1.2.3.4", "10.0.0.5", map[string]string{"PHYSIN": "br-zoplog"}, "eth0"))

	// PHYSIN falls back to IN
	assert.Equal("10.0.0.5",
		wanIP("FWD", "1.2.3.4", "10.0.0.5", map[string]string{"IN": "br-zoplog"}, "eth0"))

	// no interface info at all: remote defaults to the source
	assert.Equal("1.2.3.4",
		wanIP("FWD", "1.2.3.4", "10.0.0.5", map[string]string{}, "eth0"))

	assert.Equal("1.2.3.4", wanIP("IN", "1.2.3.4", "10.0.0.5", nil, "eth0"))
	assert.Equal("10.0.0.5", wanIP("OUT", "1.2.3.4", "10.0.0.5", nil, "eth0"))
	assert.Equal("10.0.0.5", wanIP("???", "1.2.3.4", "10.0.0.5", nil, "eth0"))
}

func TestBuildEvent(t *testing.T) {
	assert := require.New(t)

	ev := parseLogLine(fwdLine)
	rec := buildEvent(ev, "eth0")

	assert.Equal("FWD", rec.Direction)
	assert.Equal("1.2.3.4", rec.SrcIP)
	assert.Equal("10.0.0.5", rec.DstIP)
	assert.Equal("1.2.3.4", rec.WANIP)
	assert.Equal(int64(443), rec.SrcPort.Int64)
	assert.Equal(int64(53344), rec.DstPort.Int64)
	assert.Equal("TCP", rec.Proto)
	assert.Equal("eth0", rec.IfaceIn)
	assert.Equal("br-zoplog", rec.IfaceOut)
	assert.Equal(ev.raw, rec.Message)
}

func TestBuildEventCanonicalizesIPv6(t *testing.T) {
	assert := require.New(t)

	ev := parseLogLine("kernel: ZOPLOG-BLOCKLIST-OUT IN= OUT=eth0 " +
		"SRC=2001:0db8:0000:0000:0000:0000:0000:0005 " +
		"DST=2001:0db8:0000:0000:0000:0000:0000:0001 PROTO=TCP SPT=1 DPT=443")
	rec := buildEvent(ev, "eth0")

	assert.Equal("2001:db8::5", rec.SrcIP)
	assert.Equal("2001:db8::1", rec.DstIP)
	assert.Equal("2001:db8::1", rec.WANIP)
}
