/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"encoding/binary"
	"strings"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/network"
)

// TLS ClientHello layout, as walked below:
//
//	record header:    ContentType (1) + Version (2) + Length (2)
//	handshake header: Type (1) + Length (3)
//	legacy_version (2) + random (32)
//	session_id:          1B length + data
//	cipher_suites:       2B length + data
//	compression_methods: 1B length + data
//	extensions:          2B length + entries of {type (2), length (2), data}
//
// The SNI extension (type 0) holds a 2B server_name_list length followed by
// entries of {name_type (1), name_length (2), name}; the first entry with
// name_type 0 carries the hostname.
const (
	tlsHandshake    = 0x16
	tlsClientHello  = 0x01
	tlsExtensionSNI = 0x0000
	sniHostName     = 0x00

	// A ClientHello that could carry an SNI entry is never shorter.
	minClientHello = 60
)

// clientHelloSNI extracts the SNI hostname from a TLS ClientHello at the
// start of payload.  Returns "" for anything else: non-handshake bytes,
// truncated records, a hello without SNI, or a name that doesn't survive
// normalization.  Every length is bounds-checked, so hostile input can at
// worst cost one linear walk.
func clientHelloSNI(payload []byte) string {
	if len(payload) < minClientHello || payload[0] != tlsHandshake {
		return ""
	}
	if payload[5] != tlsClientHello {
		return ""
	}

	// Skip the fixed headers, legacy_version, and random.
	idx := 5 + 4 + 2 + 32

	// session_id
	if idx >= len(payload) {
		return ""
	}
	idx += 1 + int(payload[idx])

	// cipher_suites
	if idx+2 > len(payload) {
		return ""
	}
	idx += 2 + int(binary.BigEndian.Uint16(payload[idx:]))

	// compression_methods
	if idx >= len(payload) {
		return ""
	}
	idx += 1 + int(payload[idx])

	// extensions
	if idx+2 > len(payload) {
		return ""
	}
	extEnd := idx + 2 + int(binary.BigEndian.Uint16(payload[idx:]))
	idx += 2
	if extEnd > len(payload) {
		return ""
	}

	for idx+4 <= extEnd {
		extType := binary.BigEndian.Uint16(payload[idx:])
		extLen := int(binary.BigEndian.Uint16(payload[idx+2:]))
		dataStart := idx + 4
		dataEnd := dataStart + extLen
		if dataEnd > extEnd {
			break
		}
		if extType == tlsExtensionSNI {
			return sniHostname(payload[dataStart:dataEnd])
		}
		idx = dataEnd
	}

	return ""
}

// sniHostname walks the server_name_list inside an SNI extension and returns
// the first host_name entry, normalized.
func sniHostname(data []byte) string {
	if len(data) < 2 {
		return ""
	}

	listEnd := 2 + int(binary.BigEndian.Uint16(data))
	if listEnd > len(data) {
		listEnd = len(data)
	}

	idx := 2
	for idx+3 <= listEnd {
		nameType := data[idx]
		nameLen := int(binary.BigEndian.Uint16(data[idx+1:]))
		nameStart := idx + 3
		if nameStart+nameLen > listEnd {
			return ""
		}
		if nameType == sniHostName {
			host := strings.ToValidUTF8(string(data[nameStart:nameStart+nameLen]), "")
			return network.CleanHostname(host)
		}
		idx = nameStart + nameLen
	}

	return ""
}
