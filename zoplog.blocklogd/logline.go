/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/network"

	"github.com/guregu/null"
)

// The firewall's LOG rules tag dropped packets with ZOPLOG-BLOCKLIST-<chain>
// prefixes.  nftables limits prefix length and happily glues the first
// KEY=VALUE field onto the chain token (`...-OUTIN=eth0`), and some rule
// generations glue an interface direction onto the chain itself
// (`...-FWDIN `).  Both forms are normalized here.
//
// Kernel log line format (standard iptables/nftables LOG action):
//
//	... ZOPLOG-BLOCKLIST-FWDIN IN=eth0 OUT=br-zoplog PHYSIN=eth0
//	    SRC=1.2.3.4 DST=10.0.0.5 LEN=60 PROTO=TCP SPT=443 DPT=53344 ...
const blocklistTag = "ZOPLOG-BLOCKLIST-"

// Chain tokens as observed in the journal, mapped onto the direction we
// record.  A glued interface suffix does not change the IN/FWD chains; the
// OUTIN combination is recorded as IN.
var prefixDirection = map[string]string{
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

var kvRE = regexp.MustCompile(`\b([A-Z]+)=(\S+)`)

// logEvent is one parsed drop record.
type logEvent struct {
	direction string
	fields    map[string]string
	raw       string
}

// prefixToken returns the run of capital letters following the blocklist
// tag: the chain token plus whatever got glued onto it.
func prefixToken(line string) (string, bool) {
	i := strings.Index(line, blocklistTag)
	if i < 0 {
		return "", false
	}

	rest := line[i+len(blocklistTag):]
	end := 0
	for end < len(rest) && rest[end] >= 'A' && rest[end] <= 'Z' {
		end++
	}
	return rest[:end], true
}

// normalizeGluedSpacing re-separates a KEY=VALUE field glued onto the chain
// token, e.g. `...-OUTIN=eth0` becomes `...-OUT IN=eth0`, so the field
// parser sees the IN= key.
func normalizeGluedSpacing(line string) string {
	for _, base := range []string{"IN", "OUT", "FWD"} {
		pref := blocklistTag + base
		i := strings.Index(line, pref)
		if i < 0 {
			continue
		}
		j := i + len(pref)
		if j < len(line) && line[j] != ' ' {
			line = line[:j] + " " + line[j:]
		}
	}
	return line
}

// parseLogLine extracts the direction and KEY=VALUE fields from a kernel
// drop record.  Returns nil for lines without a recognizable prefix.
func parseLogLine(line string) *logEvent {
	token, ok := prefixToken(line)
	if !ok {
		return nil
	}

	direction, ok := prefixDirection[token]
	if !ok {
		// Unknown glue; fall back to the longest known token the
		// observed one starts with.
		for _, t := range []string{"OUTOUT", "FWDOUT", "INOUT", "OUTIN",
			"FWDIN", "ININ", "OUT", "FWD", "IN"} {
			if strings.HasPrefix(token, t) {
				direction, ok = prefixDirection[t], true
				break
			}
		}
		if !ok {
			return nil
		}
	}

	raw := normalizeGluedSpacing(line)

	fields := make(map[string]string)
	for _, m := range kvRE.FindAllStringSubmatch(raw, -1) {
		fields[m[1]] = m[2]
	}

	return &logEvent{
		direction: direction,
		fields:    fields,
		raw:       raw,
	}
}

// wanIP picks the WAN-side address of the event: the remote endpoint as
// seen from the LAN.  monitor is the WAN-facing interface.
func wanIP(direction, src, dst string, fields map[string]string, monitor string) string {
	switch direction {
	case "FWD":
		physIn := fields["PHYSIN"]
		if physIn == "" {
			physIn = fields["IN"]
		}
		if physIn != "" && physIn != monitor {
			return dst
		}
		return src
	case "IN":
		return src
	case "OUT":
		return dst
	default:
		// Unexpected chain; assume the destination is remote.
		return dst
	}
}

func parsePort(s string) null.Int {
	if s == "" {
		return null.Int{}
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 {
		return null.Int{}
	}
	return null.IntFrom(int64(port))
}

// buildEvent turns a parsed drop record into the row the store persists.
func buildEvent(ev *logEvent, monitor string) *logdb.BlockedEventRecord {
	src := network.CanonicalIP(ev.fields["SRC"])
	dst := network.CanonicalIP(ev.fields["DST"])

	return &logdb.BlockedEventRecord{
		Direction: ev.direction,
		SrcIP:     src,
		DstIP:     dst,
		WANIP:     wanIP(ev.direction, src, dst, ev.fields, monitor),
		SrcPort:   parsePort(ev.fields["SPT"]),
		DstPort:   parsePort(ev.fields["DPT"]),
		Proto:     ev.fields["PROTO"],
		IfaceIn:   ev.fields["IN"],
		IfaceOut:  ev.fields["OUT"],
		Message:   ev.raw,
	}
}
