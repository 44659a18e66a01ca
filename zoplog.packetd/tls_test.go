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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type sniEntry struct {
	nameType byte
	name     string
}

// buildClientHello assembles a syntactically valid ClientHello record whose
// SNI extension carries the given entries.  With no entries the extension is
// omitted entirely.
func buildClientHello(entries ...sniEntry) []byte {
	var ext []byte
	if len(entries) > 0 {
		var list []byte
		for _, e := range entries {
			entry := make([]byte, 3+len(e.name))
			entry[0] = e.nameType
			binary.BigEndian.PutUint16(entry[1:], uint16(len(e.name)))
			copy(entry[3:], e.name)
			list = append(list, entry...)
		}
		sniData := make([]byte, 2+len(list))
		binary.BigEndian.PutUint16(sniData, uint16(len(list)))
		copy(sniData[2:], list)

		ext = make([]byte, 4+len(sniData))
		binary.BigEndian.PutUint16(ext, tlsExtensionSNI)
		binary.BigEndian.PutUint16(ext[2:], uint16(len(sniData)))
		copy(ext[4:], sniData)
	}

	var body []byte
	body = append(body, 0x03, 0x03)            // legacy_version
	body = append(body, make([]byte, 32)...)   // random
	body = append(body, 0x00)                  // session_id length
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher_suites
	body = append(body, 0x01, 0x00)            // compression_methods

	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(len(ext)))
	body = append(body, extLen...)
	body = append(body, ext...)

	hs := make([]byte, 4+len(body))
	hs[0] = tlsClientHello
	hs[1] = byte(len(body) >> 16)
	hs[2] = byte(len(body) >> 8)
	hs[3] = byte(len(body))
	copy(hs[4:], body)

	rec := make([]byte, 5+len(hs))
	rec[0] = tlsHandshake
	rec[1], rec[2] = 0x03, 0x01
	binary.BigEndian.PutUint16(rec[3:], uint16(len(hs)))
	copy(rec[5:], hs)

	return rec
}

func TestClientHelloSNI(t *testing.T) {
	assert := require.New(t)

	hello := buildClientHello(sniEntry{sniHostName, "evil.example"})
	assert.Equal("evil.example", clientHelloSNI(hello))
}

func TestClientHelloSNINormalized(t *testing.T) {
	assert := require.New(t)

	hello := buildClientHello(sniEntry{sniHostName, "A.Thumbs.Redditmedia.COM."})
	assert.Equal("a.thumbs.redditmedia.com", clientHelloSNI(hello))
}

func TestClientHelloSNIWrongNameType(t *testing.T) {
	assert := require.New(t)

	assert.Equal("", clientHelloSNI(buildClientHello(sniEntry{0x01, "evil.example"})))

	// the first host_name entry wins even behind a non-hostname entry
	hello := buildClientHello(
		sniEntry{0x01, "ignored.example"},
		sniEntry{sniHostName, "real.example"})
	assert.Equal("real.example", clientHelloSNI(hello))
}

func TestClientHelloSNIAbsent(t *testing.T) {
	assert := require.New(t)

	assert.Equal("", clientHelloSNI(buildClientHello()))
}

func TestClientHelloSNIRejectsInvalidNames(t *testing.T) {
	assert := require.New(t)

	// no dot
	assert.Equal("", clientHelloSNI(buildClientHello(sniEntry{sniHostName, "localhost"})))
	// empty
	assert.Equal("", clientHelloSNI(buildClientHello(sniEntry{sniHostName, ""})))
}

func TestClientHelloSNIShortOrForeign(t *testing.T) {
	assert := require.New(t)

	// anything under the minimum, or not starting with a handshake byte,
	// is rejected outright
	for n := 0; n < minClientHello; n++ {
		assert.Equal("", clientHelloSNI(make([]byte, n)))
	}

	notTLS := buildClientHello(sniEntry{sniHostName, "evil.example"})
	notTLS[0] = 0x17
	assert.Equal("", clientHelloSNI(notTLS))

	notHello := buildClientHello(sniEntry{sniHostName, "evil.example"})
	notHello[5] = 0x02
	assert.Equal("", clientHelloSNI(notHello))
}

func TestClientHelloSNITruncations(t *testing.T) {
	assert := require.New(t)

	hello := buildClientHello(sniEntry{sniHostName, "evil.example"})
	for n := 0; n < len(hello); n++ {
		assert.Equal("", clientHelloSNI(hello[:n]), "prefix length %d", n)
	}
}

func TestClientHelloSNIFuzz(t *testing.T) {
	assert := require.New(t)

	// mutated hellos and pure noise must never panic
	rng := rand.New(rand.NewSource(1))
	base := buildClientHello(sniEntry{sniHostName, "evil.example"})

	for i := 0; i < 5000; i++ {
		buf := make([]byte, len(base))
		copy(buf, base)
		for j := 0; j < 4; j++ {
			buf[rng.Intn(len(buf))] = byte(rng.Intn(256))
		}
		clientHelloSNI(buf)
	}

	for i := 0; i < 5000; i++ {
		buf := make([]byte, rng.Intn(300))
		rng.Read(buf)
		clientHelloSNI(buf)
	}

	assert.Equal("evil.example", clientHelloSNI(base))
}
