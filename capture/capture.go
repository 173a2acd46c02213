// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package capture reads SNMP messages out of pcap files and records a
// session's datagrams into one.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/nxpoll/snmp"
)

// DefaultPorts are the UDP ports whose payload is decoded as SNMP.
var DefaultPorts = []uint16{snmp.DefaultPort, snmp.DefaultTrapPort}

// Message is one SNMP datagram found in a capture. PDU is nil and Err set
// when the payload did not decode.
type Message struct {
	Timestamp time.Time
	Src, Dst  netip.AddrPort
	Payload   []byte
	PDU       *snmp.PDU
	Err       error
}

// Reader extracts SNMP messages from a pcap stream.
type Reader struct {
	// Ports filters UDP traffic; nil means DefaultPorts.
	Ports []uint16
	// Resolver supplies keys for authenticated or encrypted v3 messages.
	Resolver snmp.SecurityResolver
	Logger   snmp.Logger
}

// ReadAll decodes every SNMP message in r.
func (c *Reader) ReadAll(r io.Reader) ([]Message, error) {
	var out []Message
	err := c.Each(r, func(m Message) error {
		out = append(out, m)
		return nil
	})
	return out, err
}

// Each calls fn for every SNMP message in r, in capture order. Returning an
// error from fn stops the scan.
func (c *Reader) Each(r io.Reader, fn func(Message) error) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	ports := c.Ports
	if ports == nil {
		ports = DefaultPorts
	}

	source := gopacket.NewPacketSource(pr, pr.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		m, ok := c.message(packet, ports)
		if !ok {
			continue
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

func (c *Reader) message(packet gopacket.Packet, ports []uint16) (Message, bool) {
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return Message{}, false
	}
	if !slices.Contains(ports, uint16(udp.SrcPort)) && !slices.Contains(ports, uint16(udp.DstPort)) {
		return Message{}, false
	}

	var src, dst netip.Addr
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(ip.SrcIP)
		dst, _ = netip.AddrFromSlice(ip.DstIP)
	}

	m := Message{
		Timestamp: packet.Metadata().Timestamp,
		Src:       netip.AddrPortFrom(src, uint16(udp.SrcPort)),
		Dst:       netip.AddrPortFrom(dst, uint16(udp.DstPort)),
		Payload:   append([]byte(nil), udp.Payload...),
	}
	m.PDU, m.Err = snmp.ParseWithResolver(m.Payload, c.Resolver)
	if m.Err != nil {
		c.Logger.Printf("capture: %s -> %s: %s", m.Src, m.Dst, m.Err)
	}
	return m, true
}
