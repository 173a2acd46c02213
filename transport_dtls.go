// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pion/dtls/v3"
)

// DefaultDTLSPort is snmpdtls (RFC 6353 section 10.1).
const DefaultDTLSPort = 10161

// DTLSTransport carries SNMP over DTLS (RFC 6353). Pair it with a
// NewTSMContext security context: the DTLS session provides authentication
// and privacy.
type DTLSTransport struct {
	conn *dtls.Conn
	buf  []byte
}

var _ Transport = (*DTLSTransport)(nil)

// NewDTLSTransport dials host and completes the DTLS handshake within
// handshakeTimeout. Port 0 means DefaultDTLSPort.
func NewDTLSTransport(host string, port uint16, config *dtls.Config, handshakeTimeout time.Duration) (*DTLSTransport, error) {
	if config == nil {
		return nil, errorf(CodeParam, "dtls dial", "DTLS config required")
	}
	if port == 0 {
		port = DefaultDTLSPort
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, newError(CodeHostname, "resolve", err)
	}
	conn, err := dtls.Dial("udp", raddr, config)
	if err != nil {
		return nil, newError(CodeSocket, "dtls dial", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, newError(CodeComm, "dtls handshake", err)
	}
	return &DTLSTransport{conn: conn, buf: make([]byte, rxBufSize)}, nil
}

func (t *DTLSTransport) Send(datagram []byte) error {
	if _, err := t.conn.Write(datagram); err != nil {
		return newError(CodeComm, "dtls write", err)
	}
	return nil
}

func (t *DTLSTransport) Receive(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, newError(CodeComm, "set deadline", err)
	}
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, receiveError("dtls read", err)
	}
	return append([]byte(nil), t.buf[:n]...), nil
}

func (t *DTLSTransport) Close() error {
	return t.conn.Close()
}

func (t *DTLSTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Conn exposes the DTLS connection, for example to inspect the peer
// certificate.
func (t *DTLSTransport) Conn() *dtls.Conn {
	return t.conn
}
