/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package logdb is the write path to the zoplog MariaDB store.  Identifier
// strings (IPs, MACs, domains, paths, user agents) live in lookup tables and
// are interned on demand; packet_logs and blocked_events reference them by
// id.  The schema itself is owned by the installer and is consumed here, not
// defined.
package logdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"time"

	// The driver registers itself with database/sql on import.
	"github.com/go-sql-driver/mysql"
	"github.com/guregu/null"
	"github.com/pkg/errors"
)

// DBX describes the interface common to sql.DB and sql.Tx.
type DBX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}

// DataStore facilitates mocking the database
// See http://www.alexedwards.net/blog/organising-database-access
type DataStore interface {
	InternIP(context.Context, string) (null.Int, error)
	InternMAC(context.Context, string) (null.Int, error)
	InsertPacketLog(context.Context, *PacketRecord) error

	IsWhitelisted(context.Context, string) (bool, error)
	MatchBlocklists(context.Context, string) ([]BlocklistMatch, error)

	LatestDomainForIP(context.Context, int64) (null.Int, error)
	InsertBlockedEvent(context.Context, *BlockedEventRecord) (*BlockedEventResult, error)
	BumpBlockedCount(context.Context, int64, int64) error

	CountDay(context.Context, time.Time) (int64, int64, error)
	DeleteDay(context.Context, time.Time) (int64, error)
	CountOrphanIPs(context.Context) (int64, error)
	DeleteOrphanIPs(context.Context) (int64, error)
	TableSizes(context.Context) ([]TableSize, error)
	OptimizeTables(context.Context) ([]string, error)

	Ping() error
	Close() error
}

// LogDB implements DataStore with the actual DB backend.
// sql.DB implements Ping() and Close()
type LogDB struct {
	*sql.DB
}

// Connect opens a connection pool to the zoplog database and verifies that
// the server is reachable.
func Connect(dsn string) (*LogDB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to reach database")
	}
	return &LogDB{db}, nil
}

// isConnErr reports whether an error indicates a lost server connection,
// the class of failure worth one reconnect-and-retry.
func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var mErr *mysql.MySQLError
	if errors.As(err, &mErr) {
		// 2006 "server has gone away", 2013 "lost connection"
		if mErr.Number == 2006 || mErr.Number == 2013 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "gone away") ||
		strings.Contains(msg, "lost connection")
}

// withRetry runs fn and, if it failed because the server connection was
// lost, runs it exactly once more on a fresh connection from the pool.
func (db *LogDB) withRetry(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if !isConnErr(err) {
		return err
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		return errors.Wrap(err, "reconnect failed")
	}
	return fn(ctx)
}
