// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package capture

import (
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/nxpoll/snmp"
)

const snapLen = 65536

// Writer writes UDP datagrams as Ethernet frames to a pcap stream, so a
// session can be inspected with standard tools afterwards.
type Writer struct {
	mu  sync.Mutex
	w   *pcapgo.Writer
	now func() time.Time
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &Writer{w: pw, now: time.Now}, nil
}

// WriteDatagram frames payload as a UDP datagram from src to dst.
func (w *Writer) WriteDatagram(src, dst netip.AddrPort, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}

	var network gopacket.SerializableLayer
	if src.Addr().Is4() && dst.Addr().Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src.Addr().AsSlice(),
			DstIP:    dst.Addr().AsSlice(),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		network = ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		s16, d16 := src.Addr().As16(), dst.Addr().As16()
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      s16[:],
			DstIP:      d16[:],
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(payload)); err != nil {
		return err
	}
	frame := buf.Bytes()

	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{Timestamp: w.now(), CaptureLength: len(frame), Length: len(frame)}
	return w.w.WritePacket(ci, frame)
}

// Recorder is a snmp.Transport that copies every datagram it moves to a
// Writer. Recording failures are logged, never returned.
type Recorder struct {
	snmp.Transport
	W      *Writer
	Local  netip.AddrPort
	Logger snmp.Logger
}

var _ snmp.Transport = (*Recorder)(nil)

// NewRecorder wraps t. The local address is taken from t when it exposes
// one, otherwise a placeholder is used.
func NewRecorder(t snmp.Transport, w *Writer) *Recorder {
	local := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 50000)
	if l, ok := t.(interface{ LocalAddr() net.Addr }); ok {
		if a, ok := l.LocalAddr().(*net.UDPAddr); ok {
			local = unmap(a.AddrPort())
		}
	}
	return &Recorder{Transport: t, W: w, Local: local}
}

func (r *Recorder) remote() netip.AddrPort {
	if a, ok := r.Transport.RemoteAddr().(*net.UDPAddr); ok {
		return unmap(a.AddrPort())
	}
	return netip.AddrPortFrom(netip.IPv6Unspecified(), snmp.DefaultPort)
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (r *Recorder) Send(datagram []byte) error {
	if err := r.Transport.Send(datagram); err != nil {
		return err
	}
	if err := r.W.WriteDatagram(r.Local, r.remote(), datagram); err != nil {
		r.Logger.Printf("capture: record sent datagram: %s", err)
	}
	return nil
}

func (r *Recorder) Receive(timeout time.Duration) ([]byte, error) {
	data, err := r.Transport.Receive(timeout)
	if err != nil {
		return nil, err
	}
	if err := r.W.WriteDatagram(r.remote(), r.Local, data); err != nil {
		r.Logger.Printf("capture: record received datagram: %s", err)
	}
	return data, nil
}
