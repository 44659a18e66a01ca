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

	"github.com/pkg/errors"
)

// BlocklistMatch identifies one blocklist entry that matched a hostname.
type BlocklistMatch struct {
	BlocklistID       int64
	BlocklistDomainID int64
}

// IsWhitelisted reports whether any active whitelist contains the exact
// normalized hostname.  A whitelisted host is never enforced against,
// regardless of blocklist matches.
func (db *LogDB) IsWhitelisted(ctx context.Context, host string) (bool, error) {
	var listed bool
	err := db.withRetry(ctx, func(ctx context.Context) error {
		var one int
		err := db.QueryRowContext(ctx,
			`SELECT 1
			   FROM whitelist_domains wd
			   JOIN whitelists wl ON wl.id = wd.whitelist_id
			  WHERE wl.active = 'active' AND wd.domain = ?
			  LIMIT 1`, host).Scan(&one)
		if err == sql.ErrNoRows {
			listed = false
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "whitelist lookup failed")
		}
		listed = true
		return nil
	})
	return listed, err
}

// MatchBlocklists returns every active blocklist entry whose domain equals
// the normalized hostname.  Matching is exact; subdomains are not implied.
func (db *LogDB) MatchBlocklists(ctx context.Context, host string) ([]BlocklistMatch, error) {
	var matches []BlocklistMatch
	err := db.withRetry(ctx, func(ctx context.Context) error {
		matches = matches[:0]
		rows, err := db.QueryContext(ctx,
			`SELECT bd.blocklist_id, bd.id
			   FROM blocklist_domains bd
			   JOIN blocklists bl ON bl.id = bd.blocklist_id
			  WHERE bl.active = 'active' AND bd.domain = ?`, host)
		if err != nil {
			return errors.Wrap(err, "blocklist lookup failed")
		}
		defer rows.Close()

		for rows.Next() {
			var m BlocklistMatch
			if err = rows.Scan(&m.BlocklistID, &m.BlocklistDomainID); err != nil {
				return errors.Wrap(err, "blocklist row scan failed")
			}
			matches = append(matches, m)
		}
		return errors.Wrap(rows.Err(), "blocklist row iteration failed")
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
