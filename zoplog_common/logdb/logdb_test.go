/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package logdb

import (
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestValidateMethod(t *testing.T) {
	assert := require.New(t)

	for _, m := range []string{"GET", "POST", "PROPFIND", "UNLOCK",
		"TLS_CLIENTHELLO", "QUIC", "N/A"} {
		assert.Equal(m, ValidateMethod(m))
	}

	for _, m := range []string{"", "get", "FETCH", "GET ", "BREW"} {
		assert.Equal("N/A", ValidateMethod(m), "method %q", m)
	}
}

func TestTruncateMessage(t *testing.T) {
	assert := require.New(t)

	short := "ZOPLOG-BLOCKLIST-OUT IN= OUT=eth0 SRC=10.0.0.5"
	assert.Equal(short, truncateMessage(short))

	long := strings.Repeat("x", maxMessageLen+100)
	assert.Len(truncateMessage(long), maxMessageLen)
	assert.Equal(long[:maxMessageLen], truncateMessage(long))
}

func TestIsConnErr(t *testing.T) {
	assert := require.New(t)

	assert.False(isConnErr(nil))
	assert.False(isConnErr(errors.New("syntax error")))

	assert.True(isConnErr(driver.ErrBadConn))
	assert.True(isConnErr(mysql.ErrInvalidConn))
	assert.True(isConnErr(errors.Wrap(driver.ErrBadConn, "insert failed")))
	assert.True(isConnErr(&mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}))
	assert.True(isConnErr(&mysql.MySQLError{Number: 2013, Message: "Lost connection to MySQL server"}))
	assert.False(isConnErr(&mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"}))

	assert.True(isConnErr(errors.New("MySQL server has gone away")))
	assert.True(isConnErr(errors.New("Lost connection to MySQL server during query")))
}
