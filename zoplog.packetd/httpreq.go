/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"bytes"
	"strings"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"
)

// httpRequest is the slice of a plaintext request we persist: the request
// line plus the identifying headers.
type httpRequest struct {
	method         string
	host           string
	path           string
	userAgent      string
	acceptLanguage string
}

// parseHTTPRequest sniffs the start of a TCP payload for a plaintext HTTP
// request.  It returns nil unless the payload opens with a known request
// method and an HTTP/ version token.  Header parsing is best-effort: a
// request whose headers continue in the next segment still yields whatever
// headers were present.
func parseHTTPRequest(payload []byte) *httpRequest {
	lineEnd := bytes.IndexByte(payload, '\n')
	if lineEnd < 0 {
		return nil
	}

	fields := strings.Fields(string(payload[:lineEnd]))
	if len(fields) != 3 || !strings.HasPrefix(fields[2], "HTTP/") {
		return nil
	}
	if !logdb.IsHTTPVerb(fields[0]) {
		return nil
	}

	req := &httpRequest{
		method: fields[0],
		path:   fields[1],
	}

	for _, line := range strings.Split(string(payload[lineEnd+1:]), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}

		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		value := strings.TrimSpace(line[i+1:])

		switch strings.ToLower(line[:i]) {
		case "host":
			req.host = value
		case "user-agent":
			req.userAgent = value
		case "accept-language":
			req.acceptLanguage = value
		}
	}

	return req
}
