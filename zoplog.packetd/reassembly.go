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
)

// Large ClientHellos routinely straddle TCP segments, so each flow gets a
// small accumulator the demux can reparse as segments land.  Segments arrive
// in capture order; there is no sequence-number reordering here.  A buffer
// keeps only its trailing window, and idle flows are swept on a coarse tick,
// so the whole structure stays bounded no matter what the network does.
const (
	flowBufMax      = 8192
	flowTTL         = 3 * time.Second
	flowSweepPeriod = time.Second
)

type flowKey struct {
	srcIP   string
	srcPort uint16
	dstIP   string
	dstPort uint16
}

type flowBuf struct {
	data []byte
	ts   time.Time
}

// reassembler is private to the capture task; no locking.
type reassembler struct {
	flows     map[flowKey]*flowBuf
	lastSweep time.Time
}

func newReassembler() *reassembler {
	return &reassembler{
		flows: make(map[flowKey]*flowBuf),
	}
}

// grow appends a segment to the flow's buffer and returns the accumulated
// bytes for reparsing.
func (r *reassembler) grow(k flowKey, payload []byte, now time.Time) []byte {
	b, ok := r.flows[k]
	if !ok {
		b = &flowBuf{}
		r.flows[k] = b
	}

	b.data = append(b.data, payload...)
	if len(b.data) > flowBufMax {
		b.data = b.data[len(b.data)-flowBufMax:]
	}
	b.ts = now

	return b.data
}

func (r *reassembler) clear(k flowKey) {
	delete(r.flows, k)
}

// sweep drops flows that have been idle past the TTL.  It self-limits to one
// pass per second no matter how often it is called.
func (r *reassembler) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < flowSweepPeriod {
		return
	}
	r.lastSweep = now

	for k, b := range r.flows {
		if now.Sub(b.ts) > flowTTL {
			delete(r.flows, k)
		}
	}
}
