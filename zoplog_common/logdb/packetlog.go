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

// httpVerbs are the request methods we accept off the wire.  packet_logs
// additionally carries the pseudo tokens for non-HTTP rows.
var httpVerbs = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"HEAD": true, "OPTIONS": true, "PATCH": true, "CONNECT": true,
	"TRACE": true, "PROPFIND": true, "PROPPATCH": true, "MKCOL": true,
	"COPY": true, "MOVE": true, "LOCK": true, "UNLOCK": true,
}

var pseudoMethods = map[string]bool{
	"N/A": true, "TLS_CLIENTHELLO": true, "QUIC": true,
}

// IsHTTPVerb reports whether method is a real HTTP request method.
func IsHTTPVerb(method string) bool {
	return httpVerbs[method]
}

// ValidateMethod maps a request method onto the closed token set accepted by
// packet_logs.method.  Anything else is recorded as N/A.
func ValidateMethod(method string) string {
	if httpVerbs[method] || pseudoMethods[method] {
		return method
	}
	return "N/A"
}

// PacketRecord is one observed request or handshake, with identifier strings
// still in raw form; InsertPacketLog interns them.
type PacketRecord struct {
	Timestamp      time.Time
	SrcIP          string
	SrcPort        int
	DstIP          string
	DstPort        int
	SrcMAC         string
	DstMAC         string
	Method         string
	Host           string
	Path           string
	UserAgent      string
	AcceptLanguage string
	Type           string // HTTP or HTTPS
}

// InsertPacketLog interns every identifier string referenced by the record,
// appends one packet_logs row, and bumps the domain/ip pivot's allowed
// counter when both the domain and the destination IP are known.  The whole
// write is one transaction; a lost connection gets one retry.
func (db *LogDB) InsertPacketLog(ctx context.Context, r *PacketRecord) error {
	return db.withRetry(ctx, func(ctx context.Context) error {
		return db.insertPacketLogOnce(ctx, r)
	})
}

func (db *LogDB) insertPacketLogOnce(ctx context.Context, r *PacketRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin packet log transaction")
	}
	defer tx.Rollback()

	srcIPID, err := internIP(ctx, tx, r.SrcIP)
	if err != nil {
		return err
	}
	dstIPID, err := internIP(ctx, tx, r.DstIP)
	if err != nil {
		return err
	}
	srcMACID, err := internMAC(ctx, tx, r.SrcMAC)
	if err != nil {
		return err
	}
	dstMACID, err := internMAC(ctx, tx, r.DstMAC)
	if err != nil {
		return err
	}
	domainID, err := internDomainWithIP(ctx, tx, r.Host, dstIPID)
	if err != nil {
		return err
	}
	pathID, err := internValue(ctx, tx, "paths", "path", r.Path)
	if err != nil {
		return err
	}
	uaID, err := internValue(ctx, tx, "user_agents", "user_agent", r.UserAgent)
	if err != nil {
		return err
	}
	langID, err := internValue(ctx, tx, "accept_languages", "accept_language",
		r.AcceptLanguage)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO packet_logs
		   (packet_timestamp, src_ip_id, src_port, dst_ip_id, dst_port,
		    src_mac_id, dst_mac_id,
		    method, domain_id, path_id, user_agent_id, accept_language_id, type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, srcIPID, r.SrcPort, dstIPID, r.DstPort,
		srcMACID, dstMACID,
		ValidateMethod(r.Method), domainID, pathID, uaID, langID, r.Type)
	if err != nil {
		return errors.Wrap(err, "failed to insert packet log")
	}

	if domainID.Valid && dstIPID.Valid {
		_, err = tx.ExecContext(ctx,
			`UPDATE domain_ip_addresses
			    SET allowed_count = allowed_count + 1, last_seen = NOW()
			  WHERE domain_id = ? AND ip_address_id = ?`,
			domainID.Int64, dstIPID.Int64)
		if err != nil {
			return errors.Wrap(err, "failed to bump allowed count")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit packet log")
}
