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

	"github.com/YiannisBourkelis/zoplog/zoplog_common/network"

	"github.com/guregu/null"
	"github.com/pkg/errors"
)

// internValue inserts value into table.column if it is not already there and
// returns its id either way.  The LAST_INSERT_ID(id) trick makes the
// duplicate-key path report the existing row's id through LastInsertId.
// Table and column names are string literals at the call sites in this
// package, never input.
func internValue(ctx context.Context, q DBX, table, column, value string) (null.Int, error) {
	if value == "" {
		return null.Int{}, nil
	}

	res, err := q.ExecContext(ctx,
		"INSERT INTO "+table+" ("+column+") VALUES (?) "+
			"ON DUPLICATE KEY UPDATE id=LAST_INSERT_ID(id)", value)
	if err != nil {
		return null.Int{}, errors.Wrapf(err, "failed to intern %s", table)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return null.Int{}, errors.Wrapf(err, "no id for interned %s", table)
	}
	return null.IntFrom(id), nil
}

func internIP(ctx context.Context, q DBX, ip string) (null.Int, error) {
	return internValue(ctx, q, "ip_addresses", "ip_address",
		network.CanonicalIP(ip))
}

func internMAC(ctx context.Context, q DBX, mac string) (null.Int, error) {
	return internValue(ctx, q, "mac_addresses", "mac_address",
		network.CanonicalMAC(mac))
}

// internDomainWithIP interns a domain and, when a destination IP id is also
// known, makes sure the (domain, ip) pivot row exists so its counters can be
// bumped.
func internDomainWithIP(ctx context.Context, q DBX, domain string,
	ipID null.Int) (null.Int, error) {

	domainID, err := internValue(ctx, q, "domains", "domain", domain)
	if err != nil || !domainID.Valid {
		return domainID, err
	}

	if ipID.Valid {
		_, err = q.ExecContext(ctx,
			"INSERT INTO domain_ip_addresses "+
				"(domain_id, ip_address_id, last_seen) "+
				"VALUES (?, ?, NOW()) "+
				"ON DUPLICATE KEY UPDATE domain_id = domain_id",
			domainID.Int64, ipID.Int64)
		if err != nil {
			return domainID, errors.Wrap(err, "failed to upsert domain/ip pivot")
		}
	}
	return domainID, nil
}

// InternIP records an IP address in its lookup table and returns its id.
// The address text is canonicalized first.  Empty input yields a null id.
func (db *LogDB) InternIP(ctx context.Context, ip string) (null.Int, error) {
	var id null.Int
	err := db.withRetry(ctx, func(ctx context.Context) error {
		var err error
		id, err = internIP(ctx, db.DB, ip)
		return err
	})
	return id, err
}

// InternMAC records a MAC address in its lookup table and returns its id.
func (db *LogDB) InternMAC(ctx context.Context, mac string) (null.Int, error) {
	var id null.Int
	err := db.withRetry(ctx, func(ctx context.Context) error {
		var err error
		id, err = internMAC(ctx, db.DB, mac)
		return err
	})
	return id, err
}
