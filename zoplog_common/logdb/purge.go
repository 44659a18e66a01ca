/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package logdb

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// logTables are the tables the cleanup tool reports on and optimizes.
var logTables = []string{
	"packet_logs", "blocked_events", "ip_addresses",
	"domains", "paths", "user_agents", "accept_languages",
}

// TableSize is one table's on-disk footprint in megabytes.
type TableSize struct {
	Table  string
	SizeMB float64
}

const dayFormat = "2006-01-02"

// CountDay returns how many packet_logs and blocked_events rows carry the
// given calendar day.
func (db *LogDB) CountDay(ctx context.Context, day time.Time) (int64, int64, error) {
	var packets, blocked int64
	err := db.withRetry(ctx, func(ctx context.Context) error {
		d := day.Format(dayFormat)
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM packet_logs WHERE DATE(packet_timestamp) = DATE(?)",
			d).Scan(&packets)
		if err != nil {
			return errors.Wrap(err, "failed to count packet logs")
		}
		err = db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM blocked_events WHERE DATE(event_time) = DATE(?)",
			d).Scan(&blocked)
		return errors.Wrap(err, "failed to count blocked events")
	})
	return packets, blocked, err
}

// DeleteDay removes every packet_logs and blocked_events row from the given
// calendar day and returns the total number of rows deleted.
func (db *LogDB) DeleteDay(ctx context.Context, day time.Time) (int64, error) {
	var deleted int64
	err := db.withRetry(ctx, func(ctx context.Context) error {
		deleted = 0
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin purge transaction")
		}
		defer tx.Rollback()

		d := day.Format(dayFormat)
		res, err := tx.ExecContext(ctx,
			"DELETE FROM packet_logs WHERE DATE(packet_timestamp) = DATE(?)", d)
		if err != nil {
			return errors.Wrap(err, "failed to delete packet logs")
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}

		res, err = tx.ExecContext(ctx,
			"DELETE FROM blocked_events WHERE DATE(event_time) = DATE(?)", d)
		if err != nil {
			return errors.Wrap(err, "failed to delete blocked events")
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}

		return errors.Wrap(tx.Commit(), "failed to commit purge")
	})
	return deleted, err
}

const orphanIPJoin = `
	  FROM ip_addresses ia
	  LEFT JOIN packet_logs pl1 ON ia.id = pl1.src_ip_id
	  LEFT JOIN packet_logs pl2 ON ia.id = pl2.dst_ip_id
	  LEFT JOIN blocked_events be1 ON ia.id = be1.src_ip_id
	  LEFT JOIN blocked_events be2 ON ia.id = be2.dst_ip_id
	 WHERE pl1.id IS NULL AND pl2.id IS NULL
	   AND be1.id IS NULL AND be2.id IS NULL`

// CountOrphanIPs counts ip_addresses rows no longer referenced by any
// packet_logs or blocked_events row.
func (db *LogDB) CountOrphanIPs(ctx context.Context) (int64, error) {
	var count int64
	err := db.withRetry(ctx, func(ctx context.Context) error {
		return errors.Wrap(db.QueryRowContext(ctx,
			"SELECT COUNT(*)"+orphanIPJoin).Scan(&count),
			"failed to count orphaned IPs")
	})
	return count, err
}

// DeleteOrphanIPs removes unreferenced ip_addresses rows.
func (db *LogDB) DeleteOrphanIPs(ctx context.Context) (int64, error) {
	var deleted int64
	err := db.withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, "DELETE ia"+orphanIPJoin)
		if err != nil {
			return errors.Wrap(err, "failed to delete orphaned IPs")
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// TableSizes reports the data+index footprint of the log tables.
func (db *LogDB) TableSizes(ctx context.Context) ([]TableSize, error) {
	var sizes []TableSize
	err := db.withRetry(ctx, func(ctx context.Context) error {
		sizes = sizes[:0]
		for _, table := range logTables {
			var mb float64
			err := db.QueryRowContext(ctx,
				`SELECT COALESCE(ROUND(SUM(data_length + index_length) / 1024 / 1024, 2), 0)
				   FROM information_schema.tables
				  WHERE table_schema = DATABASE() AND table_name = ?`,
				table).Scan(&mb)
			if err != nil {
				return errors.Wrapf(err, "failed to size %s", table)
			}
			sizes = append(sizes, TableSize{Table: table, SizeMB: mb})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sizes, nil
}

// OptimizeTables runs OPTIMIZE TABLE over the log tables and returns the
// table names processed.
func (db *LogDB) OptimizeTables(ctx context.Context) ([]string, error) {
	var done []string
	err := db.withRetry(ctx, func(ctx context.Context) error {
		done = done[:0]
		for _, table := range logTables {
			if _, err := db.ExecContext(ctx, "OPTIMIZE TABLE "+table); err != nil {
				return errors.Wrapf(err, "failed to optimize %s", table)
			}
			done = append(done, table)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}
