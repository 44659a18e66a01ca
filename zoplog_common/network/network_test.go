/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalIP(t *testing.T) {
	assert := require.New(t)

	assert.Equal("1.2.3.4", CanonicalIP("1.2.3.4"))
	assert.Equal("1.2.3.4", CanonicalIP(" 1.2.3.4 "))
	assert.Equal("1.2.3.4", CanonicalIP("::ffff:1.2.3.4"))
	assert.Equal("2001:db8::1", CanonicalIP("2001:0db8:0000:0000:0000:0000:0000:0001"))
	assert.Equal("2001:db8::1", CanonicalIP("2001:DB8::1"))
	assert.Equal("fe80::1", CanonicalIP("fe80:0:0:0:0:0:0:1"))

	// non-addresses pass through trimmed
	assert.Equal("not-an-ip", CanonicalIP(" not-an-ip"))
	assert.Equal("", CanonicalIP(""))
}

func TestCanonicalMAC(t *testing.T) {
	assert := require.New(t)

	assert.Equal("9c:ef:d5:fe:e8:36", CanonicalMAC("9C:EF:D5:FE:E8:36"))
	assert.Equal("9c:ef:d5:fe:e8:36", CanonicalMAC("9c-ef-d5-fe-e8-36"))
	assert.Equal("", CanonicalMAC("garbage"))
	assert.Equal("", CanonicalMAC(""))
}

func TestNormalizeHostname(t *testing.T) {
	assert := require.New(t)

	assert.Equal("a.thumbs.redditmedia.com",
		NormalizeHostname("A.Thumbs.Redditmedia.COM:443."))
	assert.Equal("evil.example", NormalizeHostname("evil.example."))
	assert.Equal("evil.example", NormalizeHostname("  EVIL.example\t"))
	assert.Equal("host.example", NormalizeHostname("host.example:8080"))
	assert.Equal("", NormalizeHostname(":443"))
	assert.Equal("", NormalizeHostname(""))
}

func TestNormalizeHostnameIdempotent(t *testing.T) {
	assert := require.New(t)

	inputs := []string{
		"A.Thumbs.Redditmedia.COM:443.",
		"evil.example",
		"www.example.org.",
		"  spaced.example  ",
		"",
		":::",
		"localhost",
	}
	for _, in := range inputs {
		once := NormalizeHostname(in)
		assert.Equal(once, NormalizeHostname(once), "input %q", in)
	}
}

func TestValidHostname(t *testing.T) {
	assert := require.New(t)

	assert.True(ValidHostname("evil.example"))
	assert.False(ValidHostname(""))
	assert.False(ValidHostname("localhost"))

	long := make([]byte, 260)
	for i := range long {
		long[i] = 'a'
	}
	long[10] = '.'
	assert.False(ValidHostname(string(long)))
}

func TestCleanHostname(t *testing.T) {
	assert := require.New(t)

	assert.Equal("video.example", CleanHostname("Video.Example.:443"))
	assert.Equal("", CleanHostname("localhost"))
	assert.Equal("", CleanHostname("."))
}
