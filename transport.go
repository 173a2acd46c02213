// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"errors"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultPort is the SNMP agent port.
	DefaultPort = 161
	// DefaultTrapPort is the notification receiver port.
	DefaultTrapPort = 162

	rxBufSize = 65536
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/nxpoll/snmp Transport

// Transport moves whole datagrams to and from one agent. A Transport
// exclusively owns its socket.
//
// Receive returns an error coded CodeTimeout when nothing arrives within
// timeout, CodeComm on socket errors. Close unblocks a pending Receive.
type Transport interface {
	Send(datagram []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
	RemoteAddr() net.Addr
}

// UDPTransport is a connected UDP socket.
type UDPTransport struct {
	conn  *net.UDPConn
	raddr *net.UDPAddr
	buf   []byte
}

var _ Transport = (*UDPTransport)(nil)

// NewUDPTransport resolves host and connects a UDP socket to it. Port 0
// means DefaultPort.
func NewUDPTransport(host string, port uint16) (*UDPTransport, error) {
	if port == 0 {
		port = DefaultPort
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, newError(CodeHostname, "resolve", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, newError(CodeSocket, "dial", err)
	}
	return &UDPTransport{conn: conn, raddr: raddr, buf: make([]byte, rxBufSize)}, nil
}

func (t *UDPTransport) Send(datagram []byte) error {
	if _, err := t.conn.Write(datagram); err != nil {
		return newError(CodeComm, "udp write", err)
	}
	return nil
}

func (t *UDPTransport) Receive(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, newError(CodeComm, "set deadline", err)
	}
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, receiveError("udp read", err)
	}
	return append([]byte(nil), t.buf[:n]...), nil
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) RemoteAddr() net.Addr {
	return t.raddr
}

// LocalAddr is the bound local address, useful in tests.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// receiveError classifies a read error.
func receiveError(op string, err error) error {
	if isTimeoutError(err) {
		return newError(CodeTimeout, op, err)
	}
	return newError(CodeComm, op, err)
}

// isTimeoutError returns true if the error represents a timeout condition.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
