// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nmsEngineID = []byte{0x80, 0x00, 0x1f, 0x88, 0x04, 'n', 'm', 's'}

type receivedTrap struct {
	pdu  *PDU
	from net.Addr
}

// startTrapListener serves tl on a loopback port and returns a client
// socket connected to it.
func startTrapListener(t *testing.T, tl *TrapListener) (*net.UDPConn, <-chan receivedTrap) {
	t.Helper()
	traps := make(chan receivedTrap, 16)
	tl.OnTrap = func(p *PDU, addr net.Addr) {
		c := *p
		c.Variables = append([]Variable(nil), p.Variables...)
		traps <- receivedTrap{&c, addr}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- tl.Listen("udp://127.0.0.1:0") }()
	select {
	case <-tl.Listening():
	case err := <-errCh:
		t.Fatalf("listen: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not start")
	}
	t.Cleanup(func() {
		tl.Close()
		assert.NoError(t, <-errCh)
	})

	conn, err := net.DialUDP("udp", nil, tl.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, traps
}

func waitTrap(t *testing.T, traps <-chan receivedTrap) *PDU {
	t.Helper()
	select {
	case r := <-traps:
		return r.pdu
	case <-time.After(3 * time.Second):
		t.Fatal("no trap received")
	}
	return nil
}

func readReply(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, rxBufSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func sendPDU(t *testing.T, conn *net.UDPConn, p *PDU, sc *SecurityContext) {
	t.Helper()
	data, err := p.Encode(sc)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func linkDownTrap(requestID uint32) *PDU {
	return &PDU{
		Type:      SNMPv2Trap,
		RequestID: requestID,
		Variables: []Variable{
			NewTimeTicksVariable(sysUpTime, 5000),
			NewOIDVariable(snmpTrapOID, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 3}),
			NewIntegerVariable(OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 1, 2}, 2),
		},
	}
}

func TestTrapListenerV2c(t *testing.T) {
	tl := NewTrapListener()
	tl.Community = "public"
	conn, traps := startTrapListener(t, tl)

	// A wrong community is dropped; the next trap is the first delivered.
	sendPDU(t, conn, linkDownTrap(1), NewCommunityContext(SecurityModelV2C, "guess"))
	sendPDU(t, conn, &PDU{Type: GetRequest, RequestID: 2, Variables: nullVariables([]OID{sysDescr0})},
		NewCommunityContext(SecurityModelV2C, "public"))
	_, _ = conn.Write([]byte{0x30, 0x03, 0x02, 0x01})
	sendPDU(t, conn, linkDownTrap(3), NewCommunityContext(SecurityModelV2C, "public"))

	p := waitTrap(t, traps)
	assert.EqualValues(t, 3, p.RequestID)
	assert.Equal(t, Version2c, p.Version)
	assert.Equal(t, "public", p.Community())
	assert.Equal(t, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 3}, p.TrapOID())
	assert.EqualValues(t, 5000, p.Uptime())
	assert.Empty(t, traps)
}

func TestTrapListenerV1(t *testing.T) {
	tl := NewTrapListener()
	conn, traps := startTrapListener(t, tl)

	_, err := conn.Write(v1TrapLiteral)
	require.NoError(t, err)
	p := waitTrap(t, traps)
	assert.Equal(t, Version1, p.Version)
	assert.Equal(t, Trap, p.Type)
	assert.Equal(t, 17, p.SpecificTrap)
	assert.Equal(t, OID{1, 3, 6, 1, 4, 1, 8072, 2, 3, 1, 0, 17}, p.TrapOID())
}

func TestTrapListenerInformV2c(t *testing.T) {
	tl := NewTrapListener()
	conn, traps := startTrapListener(t, tl)

	inform := linkDownTrap(4242)
	inform.Type = InformRequest
	sendPDU(t, conn, inform, NewCommunityContext(SecurityModelV2C, "public"))
	p := waitTrap(t, traps)
	assert.Equal(t, InformRequest, p.Type)

	resp, err := Parse(readReply(t, conn), nil)
	require.NoError(t, err)
	assert.Equal(t, GetResponse, resp.Type)
	assert.EqualValues(t, 4242, resp.RequestID)
	assert.Equal(t, "public", resp.Community())
	assert.Equal(t, inform.Variables, resp.Variables)
}

func TestTrapListenerV3Trap(t *testing.T) {
	senderEngine := NewEngine([]byte{0x80, 0x00, 0x1f, 0x88, 0x04, 'a', 'g', 't'}, 3, 900)
	tl := NewTrapListener()
	tl.Users = map[string]*SecurityContext{
		"poller": NewUSMContext("poller", AuthSHA256, "authpassword", PrivAES, "privpassword"),
	}
	conn, traps := startTrapListener(t, tl)

	sender := NewUSMContext("poller", AuthSHA256, "authpassword", PrivAES, "privpassword")
	require.NoError(t, sender.SetAuthoritativeEngine(senderEngine))
	mallory := NewUSMContext("mallory", AuthSHA256, "authpassword", PrivNone, "")
	require.NoError(t, mallory.SetAuthoritativeEngine(senderEngine))
	forged := NewUSMContext("poller", AuthSHA256, "wrongpassword", PrivAES, "privpassword")
	require.NoError(t, forged.SetAuthoritativeEngine(senderEngine))

	sendPDU(t, conn, linkDownTrap(1), mallory)
	sendPDU(t, conn, linkDownTrap(2), forged)
	trap := linkDownTrap(3)
	trap.MsgID = 3
	sendPDU(t, conn, trap, sender)

	p := waitTrap(t, traps)
	assert.EqualValues(t, 3, p.RequestID)
	assert.Equal(t, "poller", p.UserName)
	assert.Equal(t, AuthPriv, p.MsgFlags)
	assert.Equal(t, senderEngine.ID, p.AuthoritativeEngine.ID)
	assert.Equal(t, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 3}, p.TrapOID())
	assert.Empty(t, traps)
}

func TestTrapListenerV3SecurityLevel(t *testing.T) {
	senderEngine := NewEngine([]byte{0x80, 0x00, 0x1f, 0x88, 0x04, 'a', 'g', 't'}, 3, 900)
	tl := NewTrapListener()
	tl.EngineID = nmsEngineID
	tl.Users = map[string]*SecurityContext{
		"poller": NewUSMContext("poller", AuthSHA256, "authpassword", PrivAES, "privpassword"),
	}
	conn, traps := startTrapListener(t, tl)

	plain := NewUSMContext("poller", AuthNone, "", PrivNone, "")
	require.NoError(t, plain.SetAuthoritativeEngine(senderEngine))
	sendPDU(t, conn, linkDownTrap(1), plain)

	// A reportable message below the user's level is answered with a report.
	local := NewUSMContext("poller", AuthNone, "", PrivNone, "")
	require.NoError(t, local.SetAuthoritativeEngine(NewEngine(nmsEngineID, 1, 1)))
	inform := linkDownTrap(2)
	inform.Type = InformRequest
	inform.MsgID = 42
	sendPDU(t, conn, inform, local)
	report, err := Parse(readReply(t, conn), nil)
	require.NoError(t, err)
	assert.Equal(t, Report, report.Type)
	assert.EqualValues(t, 42, report.MsgID)
	assert.True(t, errors.Is(report.ReportError(), ErrUnknownSecurityLevel))
	assert.Equal(t, CodeUnsupportedSecLevel, CodeOf(report.ReportError()))
	assert.EqualValues(t, 2, report.Variables[0].ValueAsUint32())

	sender := NewUSMContext("poller", AuthSHA256, "authpassword", PrivAES, "privpassword")
	require.NoError(t, sender.SetAuthoritativeEngine(senderEngine))
	sendPDU(t, conn, linkDownTrap(3), sender)

	p := waitTrap(t, traps)
	assert.EqualValues(t, 3, p.RequestID)
	assert.Equal(t, AuthPriv, p.MsgFlags)
	assert.Empty(t, traps)
}

// TestTrapListenerV3Inform runs the inform sender's side of RFC 3414
// discovery: the receiver is authoritative and reports its engine.
func TestTrapListenerV3Inform(t *testing.T) {
	tl := NewTrapListener()
	tl.EngineID = nmsEngineID
	tl.Users = map[string]*SecurityContext{
		"poller": NewUSMContext("poller", AuthSHA1, "authpassword", PrivDES, "privpassword"),
	}
	conn, traps := startTrapListener(t, tl)

	discovery := &PDU{Type: InformRequest, RequestID: 5, MsgID: 77}
	sendPDU(t, conn, discovery, NewUSMContext("", AuthNone, "", PrivNone, ""))
	report, err := Parse(readReply(t, conn), nil)
	require.NoError(t, err)
	assert.Equal(t, Report, report.Type)
	assert.EqualValues(t, 77, report.MsgID)
	assert.EqualValues(t, 5, report.RequestID)
	assert.True(t, errors.Is(report.ReportError(), ErrUnknownEngineID))
	require.True(t, report.AuthoritativeEngine.Known())
	assert.Equal(t, nmsEngineID, report.AuthoritativeEngine.ID)
	assert.EqualValues(t, 1, report.Variables[0].ValueAsUint32())

	// An authenticated inform bound to some other engine gets the same answer.
	stale := NewUSMContext("poller", AuthSHA1, "authpassword", PrivDES, "privpassword")
	require.NoError(t, stale.SetAuthoritativeEngine(NewEngine(testEngineID, 1, 1)))
	inform := linkDownTrap(6)
	inform.Type = InformRequest
	inform.MsgID = 78
	sendPDU(t, conn, inform, stale)
	report, err = Parse(readReply(t, conn), nil)
	require.NoError(t, err)
	assert.Equal(t, Report, report.Type)
	assert.EqualValues(t, 2, report.Variables[0].ValueAsUint32())

	sender := NewUSMContext("poller", AuthSHA1, "authpassword", PrivDES, "privpassword")
	require.NoError(t, sender.SetAuthoritativeEngine(report.AuthoritativeEngine))
	inform.RequestID, inform.MsgID = 7, 79
	sendPDU(t, conn, inform, sender)

	p := waitTrap(t, traps)
	assert.Equal(t, InformRequest, p.Type)
	assert.EqualValues(t, 7, p.RequestID)

	resp, err := Parse(readReply(t, conn), sender)
	require.NoError(t, err)
	assert.Equal(t, GetResponse, resp.Type)
	assert.EqualValues(t, 7, resp.RequestID)
	assert.EqualValues(t, 79, resp.MsgID)
	assert.Equal(t, AuthPriv, resp.MsgFlags)
	assert.Len(t, resp.Variables, 3)
	assert.Empty(t, traps)
}

func TestTrapListenerListenErrors(t *testing.T) {
	tl := NewTrapListener()
	err := tl.Listen("tcp://127.0.0.1:0")
	assert.Equal(t, CodeParam, CodeOf(err))

	tl = NewTrapListener()
	err = tl.Listen("dtls://127.0.0.1:0")
	assert.Equal(t, CodeParam, CodeOf(err))

	tl = NewTrapListener()
	err = tl.Listen("udp://127.0.0.1:99999")
	assert.Equal(t, CodeHostname, CodeOf(err))

	// Close before Listen is a no-op.
	NewTrapListener().Close()
}

func TestTrapListenerBufferSize(t *testing.T) {
	tl := NewTrapListener().WithBufferSize(10)
	assert.EqualValues(t, 484, tl.buffSize)
	tl.WithBufferSize(9000)
	assert.EqualValues(t, 9000, tl.buffSize)
}
