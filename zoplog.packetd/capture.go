/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Packet capture and demultiplexing.  Every frame passing the BPF filter is
// classified as at most one of: plaintext HTTP request, TLS ClientHello
// (directly or via the reassembly buffer), DNS answer, or QUIC candidate.
// The demux itself never touches the database; observations are handed to
// the writer goroutine over a bounded channel and dropped, counted, if the
// writer is behind.
package main

import (
	"time"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/logdb"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/network"
	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlutil"

	// Requires libpcap
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const captureFilter = "tcp or udp port 53 or udp port 443"

const (
	idxEth int = iota
	idxIPv4
	idxIPv6
	idxTCP
	idxUDP
	idxPayload
	idxMAX
)

// frameInfo carries the L2-L4 tuple shared by every handler.
type frameInfo struct {
	ts     time.Time
	srcIP  string
	dstIP  string
	srcMAC string
	dstMAC string
}

type capturer struct {
	iface   string
	promisc bool
	sink    chan<- *logdb.PacketRecord

	decode []gopacket.DecodingLayer
	parser *gopacket.DecodingLayerParser

	state   *captureState
	running bool
}

// captureState bundles the capture task's private mutable state; it
// exists so tests can drive the demux state without a live pcap handle.
type captureState struct {
	flows *reassembler
	dns   *dnsCache
}

func newCapturer(iface string, promisc bool, sink chan<- *logdb.PacketRecord) *capturer {
	c := &capturer{
		iface:   iface,
		promisc: promisc,
		sink:    sink,
		decode:  make([]gopacket.DecodingLayer, idxMAX),
		state: &captureState{
			flows: newReassembler(),
			dns:   newDNSCache(),
		},
		running: true,
	}

	// These are the layers we wish to decode
	c.decode[idxEth] = &layers.Ethernet{}
	c.decode[idxIPv4] = &layers.IPv4{}
	c.decode[idxIPv6] = &layers.IPv6{}
	c.decode[idxTCP] = &layers.TCP{}
	c.decode[idxUDP] = &layers.UDP{}
	c.decode[idxPayload] = &gopacket.Payload{}

	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		c.decode...)

	return c
}

func (c *capturer) emit(rec *logdb.PacketRecord) {
	select {
	case c.sink <- rec:
	default:
		writeDrops.Inc()
	}
}

func (c *capturer) handleTCP(f *frameInfo, tcp *layers.TCP) {
	payload := tcp.Payload
	sport, dport := uint16(tcp.SrcPort), uint16(tcp.DstPort)

	if req := parseHTTPRequest(payload); req != nil {
		packetsClassified.WithLabelValues("http").Inc()
		host := network.CleanHostname(req.host)
		if host != "" {
			hostnamesExtracted.WithLabelValues("http").Inc()
		}
		c.emit(&logdb.PacketRecord{
			Timestamp: f.ts,
			SrcIP:     f.srcIP, SrcPort: int(sport),
			DstIP: f.dstIP, DstPort: int(dport),
			SrcMAC: f.srcMAC, DstMAC: f.dstMAC,
			Method: req.method, Host: host, Path: req.path,
			UserAgent: req.userAgent, AcceptLanguage: req.acceptLanguage,
			Type: "HTTP",
		})
		return
	}

	k := flowKey{f.srcIP, sport, f.dstIP, dport}
	host := clientHelloSNI(payload)
	source := "sni"
	if host == "" {
		host = clientHelloSNI(c.state.flows.grow(k, payload, f.ts))
		source = "sni_reassembled"
	}
	if host == "" {
		return
	}
	c.state.flows.clear(k)

	packetsClassified.WithLabelValues("tls").Inc()
	hostnamesExtracted.WithLabelValues(source).Inc()
	c.emit(&logdb.PacketRecord{
		Timestamp: f.ts,
		SrcIP:     f.srcIP, SrcPort: int(sport),
		DstIP: f.dstIP, DstPort: int(dport),
		SrcMAC: f.srcMAC, DstMAC: f.dstMAC,
		Method: "TLS_CLIENTHELLO", Host: host,
		Type: "HTTPS",
	})
}

func (c *capturer) handleDNS(f *frameInfo, udp *layers.UDP) {
	msg := new(dns.Msg)
	if err := msg.Unpack(udp.Payload); err != nil {
		slog.Debugf("unparseable DNS payload from %s: %v", f.srcIP, err)
		return
	}
	packetsClassified.WithLabelValues("dns").Inc()

	// The response's destination is the client that asked.
	c.state.dns.observe(f.dstIP, msg, f.ts)
}

func (c *capturer) handleQUIC(f *frameInfo, udp *layers.UDP) {
	// Orient the flow client->server regardless of which direction this
	// packet travels, so both directions land on one seen-flow entry and
	// the recorded row always points at the server.
	client, server := f.srcIP, f.dstIP
	clientMAC, serverMAC := f.srcMAC, f.dstMAC
	cport, sport := uint16(udp.SrcPort), uint16(udp.DstPort)
	if udp.SrcPort == 443 {
		client, server = server, client
		clientMAC, serverMAC = serverMAC, clientMAC
		cport, sport = sport, cport
	}

	k := flowKey{client, cport, server, sport}
	if c.state.dns.quicFlowSeen(k, f.ts) {
		return
	}

	host, ok := c.state.dns.lookup(client, server, f.ts)
	if !ok {
		return
	}
	c.state.dns.markQUICFlow(k, f.ts)

	packetsClassified.WithLabelValues("quic").Inc()
	hostnamesExtracted.WithLabelValues("quic").Inc()
	c.emit(&logdb.PacketRecord{
		Timestamp: f.ts,
		SrcIP:     client, SrcPort: int(cport),
		DstIP: server, DstPort: int(sport),
		SrcMAC: clientMAC, DstMAC: serverMAC,
		Method: "QUIC", Host: host,
		Type: "HTTPS",
	})
}

func (c *capturer) decodeOnePacket(data []byte, ts time.Time) {
	var (
		f   = frameInfo{ts: ts}
		tcp *layers.TCP
		udp *layers.UDP
	)

	decoded := []gopacket.LayerType{}
	// A decode error just means the frame ended in a layer we don't
	// handle; everything decoded up to that point is still usable.
	_ = c.parser.DecodeLayers(data, &decoded)

	for _, typ := range decoded {
		switch typ {
		case layers.LayerTypeEthernet:
			eth := c.decode[idxEth].(*layers.Ethernet)
			f.srcMAC = eth.SrcMAC.String()
			f.dstMAC = eth.DstMAC.String()

		case layers.LayerTypeIPv4:
			ip := c.decode[idxIPv4].(*layers.IPv4)
			f.srcIP = ip.SrcIP.String()
			f.dstIP = ip.DstIP.String()

		case layers.LayerTypeIPv6:
			ip := c.decode[idxIPv6].(*layers.IPv6)
			f.srcIP = ip.SrcIP.String()
			f.dstIP = ip.DstIP.String()

		case layers.LayerTypeTCP:
			tcp = c.decode[idxTCP].(*layers.TCP)

		case layers.LayerTypeUDP:
			udp = c.decode[idxUDP].(*layers.UDP)
		}
	}

	if f.srcIP == "" {
		return
	}

	switch {
	case tcp != nil && len(tcp.Payload) > 0:
		c.handleTCP(&f, tcp)

	case udp != nil && udp.SrcPort == 53:
		c.handleDNS(&f, udp)

	case udp != nil && (udp.SrcPort == 443 || udp.DstPort == 443):
		c.handleQUIC(&f, udp)
	}

	c.state.flows.sweep(ts)
	c.state.dns.sweep(ts)
}

// safeDecode keeps one pathological frame from taking the capture loop
// down with it.
func (c *capturer) safeDecode(data []byte, ts time.Time) {
	defer func() {
		if r := recover(); r != nil {
			tlog := zlutil.GetThrottledLogger(slog, time.Second, time.Hour)
			tlog.Errorf("panic decoding packet: %v", r)
		}
	}()
	c.decodeOnePacket(data, ts)
}

func (c *capturer) open() (*pcap.Handle, error) {
	if err := network.WaitForDevice(c.iface, time.Minute); err != nil {
		return nil, err
	}

	handle, err := pcap.OpenLive(c.iface, 65536, c.promisc, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "pcap.OpenLive(%s) failed", c.iface)
	}
	if err = handle.SetBPFFilter(captureFilter); err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "bad capture filter %q", captureFilter)
	}
	return handle, nil
}

func (c *capturer) run() {
	warned := false
	for c.running {
		handle, err := c.open()
		if err != nil {
			if !warned {
				slog.Errorf("opening %s: %v", c.iface, err)
				warned = true
			}
			time.Sleep(time.Second)
			continue
		}
		warned = false
		slog.Infof("capturing on %s, filter %q", c.iface, captureFilter)

		for c.running {
			data, ci, err := handle.ReadPacketData()
			if err != nil {
				slog.Warnf("error reading packet data: %v", err)
				break
			}
			c.safeDecode(data, ci.Timestamp)
		}
		handle.Close()
	}
}

func (c *capturer) stop() {
	c.running = false
}
