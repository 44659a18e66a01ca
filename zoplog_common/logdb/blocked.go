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
	"database/sql"

	"github.com/guregu/null"
	"github.com/pkg/errors"
)

// maxMessageLen bounds the raw log line stored alongside a blocked event.
const maxMessageLen = 65535

// BlockedEventRecord is one parsed kernel drop-log entry.  WANIP is the
// address on the upstream side as resolved by the ingestor; it equals either
// SrcIP or DstIP.
type BlockedEventRecord struct {
	Direction string // IN, OUT, FWD
	SrcIP     string
	DstIP     string
	WANIP     string
	SrcPort   null.Int
	DstPort   null.Int
	Proto     string
	IfaceIn   string
	IfaceOut  string
	Message   string
}

// BlockedEventResult reports the ids the insert resolved, so the caller can
// decide whether to bump the pivot's blocked counter.
type BlockedEventResult struct {
	EventID  int64
	WANIPID  null.Int
	DomainID null.Int
}

func truncateMessage(msg string) string {
	if len(msg) > maxMessageLen {
		return msg[:maxMessageLen]
	}
	return msg
}

func latestDomainForIP(ctx context.Context, q DBX, ipID int64) (null.Int, error) {
	var domainID int64
	err := q.QueryRowContext(ctx,
		`SELECT domain_id FROM domain_ip_addresses
		  WHERE ip_address_id = ?
		  ORDER BY last_seen DESC LIMIT 1`, ipID).Scan(&domainID)
	if err == sql.ErrNoRows {
		return null.Int{}, nil
	}
	if err != nil {
		return null.Int{}, errors.Wrap(err, "domain lookup failed")
	}
	return null.IntFrom(domainID), nil
}

// LatestDomainForIP returns the domain most recently associated with an IP
// through the domain/ip pivot, or a null id when the IP has never been
// attributed.
func (db *LogDB) LatestDomainForIP(ctx context.Context, ipID int64) (null.Int, error) {
	var id null.Int
	err := db.withRetry(ctx, func(ctx context.Context) error {
		var err error
		id, err = latestDomainForIP(ctx, db.DB, ipID)
		return err
	})
	return id, err
}

// InsertBlockedEvent interns the event's addresses, resolves the WAN-side
// domain, and writes the blocked_events row plus its 1:1 message row in a
// single transaction.
func (db *LogDB) InsertBlockedEvent(ctx context.Context,
	ev *BlockedEventRecord) (*BlockedEventResult, error) {

	var res *BlockedEventResult
	err := db.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = db.insertBlockedEventOnce(ctx, ev)
		return err
	})
	return res, err
}

func (db *LogDB) insertBlockedEventOnce(ctx context.Context,
	ev *BlockedEventRecord) (*BlockedEventResult, error) {

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin blocked event transaction")
	}
	defer tx.Rollback()

	srcIPID, err := internIP(ctx, tx, ev.SrcIP)
	if err != nil {
		return nil, err
	}
	dstIPID, err := internIP(ctx, tx, ev.DstIP)
	if err != nil {
		return nil, err
	}
	wanIPID, err := internIP(ctx, tx, ev.WANIP)
	if err != nil {
		return nil, err
	}

	var domainID null.Int
	if wanIPID.Valid {
		if domainID, err = latestDomainForIP(ctx, tx, wanIPID.Int64); err != nil {
			return nil, err
		}
	}

	sqlRes, err := tx.ExecContext(ctx,
		`INSERT INTO blocked_events
		   (event_time, direction, src_ip_id, dst_ip_id, wan_ip_id,
		    domain_id, src_port, dst_port, proto, iface_in, iface_out)
		 VALUES (NOW(), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Direction, srcIPID, dstIPID, wanIPID,
		domainID, ev.SrcPort, ev.DstPort,
		null.NewString(ev.Proto, ev.Proto != ""),
		null.NewString(ev.IfaceIn, ev.IfaceIn != ""),
		null.NewString(ev.IfaceOut, ev.IfaceOut != ""))
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert blocked event")
	}

	eventID, err := sqlRes.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "no id for blocked event")
	}

	if ev.Message != "" {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO blocked_event_messages (event_id, message) VALUES (?, ?)",
			eventID, truncateMessage(ev.Message))
		if err != nil {
			return nil, errors.Wrap(err, "failed to insert blocked event message")
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit blocked event")
	}

	return &BlockedEventResult{
		EventID:  eventID,
		WANIPID:  wanIPID,
		DomainID: domainID,
	}, nil
}

// BumpBlockedCount increments the blocked counter on the (domain, wan ip)
// pivot row.  The caller applies its own burst dedup before calling.
func (db *LogDB) BumpBlockedCount(ctx context.Context, wanIPID, domainID int64) error {
	return db.withRetry(ctx, func(ctx context.Context) error {
		_, err := db.ExecContext(ctx,
			`UPDATE domain_ip_addresses
			    SET blocked_count = blocked_count + 1, last_seen = NOW()
			  WHERE ip_address_id = ? AND domain_id = ?`,
			wanIPID, domainID)
		return errors.Wrap(err, "failed to bump blocked count")
	})
}
