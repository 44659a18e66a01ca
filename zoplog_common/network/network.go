/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package network collects the address and hostname plumbing shared by the
// zoplog daemons: canonical text forms for IP and MAC addresses, hostname
// normalization as applied to HTTP Host headers and TLS SNI values, and
// selection of the capture interface.
package network

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// PreferredBridge is tried when the configured interface is absent.
	PreferredBridge = "br-zoplog"

	// FallbackInterface is the last-resort capture device.
	FallbackInterface = "eth0"

	maxHostnameLen = 253
)

// CanonicalIP returns the canonical text form of an IP address: dotted-quad
// for IPv4 (including IPv4-mapped IPv6), compressed form for IPv6.  Strings
// that do not parse as an IP are returned unchanged, trimmed.
func CanonicalIP(s string) string {
	s = strings.TrimSpace(s)
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// CanonicalMAC returns the canonical lowercase colon-separated form of a MAC
// address, or "" if the string does not parse.
func CanonicalMAC(s string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return hw.String()
}

// NormalizeHostname canonicalizes a hostname the way it is stored and
// matched: leading/trailing space removed, anything from the first colon on
// (a port, or a stray IPv6 literal tail) dropped, lowercased, trailing dots
// stripped.  The result of normalizing a normalized name is the name itself.
func NormalizeHostname(host string) string {
	host = strings.TrimSpace(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.TrimRight(strings.ToLower(host), ".")
}

// ValidHostname reports whether a normalized hostname is worth recording:
// non-empty, at most 253 bytes, and qualified with at least one dot.
func ValidHostname(host string) bool {
	if host == "" || len(host) > maxHostnameLen {
		return false
	}
	return strings.Contains(host, ".")
}

// CleanHostname normalizes host and returns it, or "" if the normalized form
// is not a valid hostname.
func CleanHostname(host string) string {
	h := NormalizeHostname(host)
	if !ValidHostname(h) {
		return ""
	}
	return h
}

func interfaceExists(ifaces []net.Interface, name string) bool {
	for _, iface := range ifaces {
		if iface.Name == name {
			return true
		}
	}
	return false
}

func firstNonLoopback(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if (iface.Flags & net.FlagLoopback) != 0 {
			continue
		}
		if (iface.Flags & net.FlagUp) == 0 {
			continue
		}
		return iface.Name
	}
	return ""
}

// MonitorInterface resolves the capture device.  The configured name wins if
// the device exists; otherwise we prefer the zoplog bridge, then the first
// non-loopback interface that is up, then eth0.
func MonitorInterface(configured string) string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return FallbackInterface
	}

	if configured != "" && interfaceExists(ifaces, configured) {
		return configured
	}
	if interfaceExists(ifaces, PreferredBridge) {
		return PreferredBridge
	}
	if name := firstNonLoopback(ifaces); name != "" {
		return name
	}
	return FallbackInterface
}

// WaitForDevice waits for a network device to come online
func WaitForDevice(dev string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if iface, err := net.InterfaceByName(dev); err == nil {
			if (iface.Flags & net.FlagUp) != 0 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return errors.Errorf("%s failed to come online", dev)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
