// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v3"
)

//
// Receiving Traps ie acting as an NMS (Network Management Station).
//

// TrapHandlerFunc is the callback for notifications. It must not modify
// the PDU or retain references to it after returning.
type TrapHandlerFunc func(p *PDU, addr net.Addr)

// A TrapListener receives SNMP notifications (v1 traps, v2c/v3 traps and
// informs) over UDP or DTLS and acknowledges informs. Zero values of the
// exported fields are replaced by defaults.
type TrapListener struct {
	done      chan bool
	listening chan bool
	sync.Mutex

	// OnTrap handles every accepted notification. The default logs it.
	OnTrap TrapHandlerFunc

	// Community, when set, is required on v1/v2c notifications.
	Community string

	// Users holds the USM credentials of v3 senders by user name. Each is
	// cloned and localized to the sending engine when first used.
	Users map[string]*SecurityContext

	// EngineID is this receiver's authoritative engine, advertised to
	// senders of v3 informs that try to discover it (RFC 3414 section 4).
	EngineID []byte

	// DTLSConfig is required for "dtls://" addresses.
	DTLSConfig *dtls.Config

	// CertMappings turns DTLS peer certificates into TSM security names.
	CertMappings []CertMapping

	// CloseTimeout is the max wait time for the socket to gracefully signal its closure.
	CloseTimeout time.Duration

	Logger Logger

	conn         *net.UDPConn
	dtlsListener net.Listener
	proto        string
	started      time.Time

	resolve SecurityResolver

	// Total number of packets received referencing an unknown snmpEngineID
	usmStatsUnknownEngineIDsCount uint32
	// Total number of packets dropped below their user's security level
	usmStatsUnsupportedSecLevelsCount uint32

	finish int32 // Atomic flag; set to 1 when closing connection

	buffSize uint
}

const (
	// Default timeout value for CloseTimeout of 3 seconds
	defaultCloseTimeout = 3 * time.Second

	dtlsHandshakeTimeout = 10 * time.Second
)

// NewTrapListener returns an initialized TrapListener.
func NewTrapListener() *TrapListener {
	return &TrapListener{
		buffSize:     rxBufSize,
		done:         make(chan bool),
		listening:    make(chan bool, 1), // Buffered because one doesn't have to block on it.
		CloseTimeout: defaultCloseTimeout,
	}
}

// WithBufferSize changes the receive buffer size; the minimum is 484 bytes
// (RFC 3417 section 3).
func (t *TrapListener) WithBufferSize(n uint) *TrapListener {
	t.buffSize = max(n, 484)
	return t
}

// Listening returns a sentinel channel on which one can block
// until the listener is ready to receive requests.
func (t *TrapListener) Listening() <-chan bool {
	t.Lock()
	defer t.Unlock()
	return t.listening
}

// Addr returns the bound local address once listening.
func (t *TrapListener) Addr() net.Addr {
	t.Lock()
	defer t.Unlock()
	switch {
	case t.conn != nil:
		return t.conn.LocalAddr()
	case t.dtlsListener != nil:
		return t.dtlsListener.Addr()
	}
	return nil
}

// Close terminates the listening on TrapListener socket
func (t *TrapListener) Close() {
	if !atomic.CompareAndSwapInt32(&t.finish, 0, 1) {
		return
	}
	t.Lock()
	var closeErr error
	switch {
	case t.conn != nil:
		closeErr = t.conn.Close()
	case t.dtlsListener != nil:
		closeErr = t.dtlsListener.Close()
	default:
		t.Unlock()
		return
	}
	t.Unlock()
	if closeErr != nil {
		t.Logger.Printf("failed to Close() the TrapListener socket: %s", closeErr)
	}

	select {
	case <-t.done:
	case <-time.After(t.CloseTimeout): // A timeout can prevent blocking forever
		t.Logger.Printf("timeout while awaiting done signal on TrapListener Close()")
	}
}

// Listen serves addr until Close. addr is "host:port" or "udp://host:port"
// for UDP, "dtls://host:port" for DTLS.
func (t *TrapListener) Listen(addr string) error {
	if t.OnTrap == nil {
		t.OnTrap = t.debugTrapHandler
	}
	t.resolve = NewUserResolver(t.Users, t.Logger)
	if t.buffSize == 0 {
		t.buffSize = rxBufSize
	}
	if t.CloseTimeout == 0 {
		t.CloseTimeout = defaultCloseTimeout
	}
	t.started = time.Now()

	t.proto = "udp"
	if proto, rest, ok := strings.Cut(addr, "://"); ok {
		t.proto, addr = proto, rest
	}
	switch t.proto {
	case "udp", "udp4", "udp6":
		return t.listenUDP(addr)
	case "dtls":
		return t.listenDTLS(addr)
	}
	return errorf(CodeParam, "listen", "not implemented network protocol: %s [use: udp/dtls]", t.proto)
}

func (t *TrapListener) listenUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr(t.proto, addr)
	if err != nil {
		return newError(CodeHostname, "listen", err)
	}
	conn, err := net.ListenUDP(t.proto, udpAddr)
	if err != nil {
		return newError(CodeSocket, "listen", err)
	}
	t.Lock()
	t.conn = conn
	t.Unlock()
	defer conn.Close()

	// Mark that we are listening now.
	t.listening <- true

	buf := make([]byte, t.buffSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&t.finish) == 1 {
				t.done <- true
				return nil
			}
			t.Logger.Printf("TrapListener: error in read %s", err)
			continue
		}
		msg := append([]byte(nil), buf[:n]...)
		t.handle(msg, remote, "", func(b []byte) error {
			_, err := conn.WriteToUDP(b, remote)
			return err
		})
	}
}

// listenDTLS accepts DTLS sessions; each session may carry several
// notifications.
func (t *TrapListener) listenDTLS(addr string) error {
	if t.DTLSConfig == nil {
		return errorf(CodeParam, "listen", "DTLSConfig required for DTLS trap listener")
	}
	// TSM derives identities from client certificates
	t.DTLSConfig.ClientAuth = dtls.RequireAndVerifyClientCert

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return newError(CodeHostname, "listen", err)
	}
	listener, err := dtls.Listen("udp", udpAddr, t.DTLSConfig)
	if err != nil {
		return newError(CodeSocket, "listen", err)
	}
	t.Lock()
	t.dtlsListener = listener
	t.Unlock()
	t.listening <- true

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&t.finish) == 1 {
				t.done <- true
				return nil
			}
			t.Logger.Printf("TrapListener: DTLS accept: %s", err)
			continue
		}
		dconn, ok := conn.(*dtls.Conn)
		if !ok {
			conn.Close()
			continue
		}
		go t.handleDTLSConnection(dconn)
	}
}

func (t *TrapListener) handleDTLSConnection(conn *dtls.Conn) {
	defer conn.Close()

	// the handshake is lazy; the peer certificate is only known after it
	ctx, cancel := context.WithTimeout(context.Background(), dtlsHandshakeTimeout)
	err := conn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		t.Logger.Printf("DTLS handshake with %s: %s", conn.RemoteAddr(), err)
		return
	}

	securityName := t.dtlsSecurityName(conn)
	buf := make([]byte, t.buffSize)
	for atomic.LoadInt32(&t.finish) == 0 {
		n, err := conn.Read(buf)
		if err != nil {
			t.Logger.Printf("DTLS read error: %s", err)
			return
		}
		msg := append([]byte(nil), buf[:n]...)
		t.handle(msg, conn.RemoteAddr(), securityName, func(b []byte) error {
			_, err := conn.Write(b)
			return err
		})
	}
}

// dtlsSecurityName maps the peer certificate chain through CertMappings.
func (t *TrapListener) dtlsSecurityName(conn *dtls.Conn) string {
	state, ok := conn.ConnectionState()
	if !ok || len(state.PeerCertificates) == 0 || len(t.CertMappings) == 0 {
		return ""
	}
	chain := make([]*x509.Certificate, 0, len(state.PeerCertificates))
	for _, der := range state.PeerCertificates {
		// pion/dtls returns raw DER, must parse
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			t.Logger.Printf("DTLS: failed to parse peer cert: %v", err)
			return ""
		}
		chain = append(chain, cert)
	}
	name, err := ExtractSecurityName(chain, t.CertMappings)
	if err != nil {
		t.Logger.Printf("DTLS: failed to extract securityName: %v", err)
		return ""
	}
	return name
}

// handle decodes one datagram, dispatches it and acknowledges informs.
// securityName is the TSM identity for DTLS peers.
func (t *TrapListener) handle(msg []byte, remote net.Addr, securityName string, reply func([]byte) error) {
	var used *SecurityContext
	var claimed *Engine
	p, err := ParseWithResolver(msg, func(user string, engine *Engine) *SecurityContext {
		claimed = engine
		used = t.resolve(user, engine)
		return used
	})
	if err != nil {
		t.Logger.Printf("TrapListener: error in Parse from %s: %s", remote, err)
		// an authenticated inform addressed to some other engine
		if code := CodeOf(err); (code == CodeEngineID || code == CodeSecName) && !t.isLocalEngine(claimed) {
			if msgID, v3, ok := peekIDs(msg); ok && v3 {
				t.reportUnknownEngine(msgID, 0, "", reply)
			}
		}
		return
	}

	if p.Version == Version3 && p.SecurityModel == SecurityModelUSM {
		if p.MsgFlags&Reportable != 0 && len(t.EngineID) > 0 && !t.isLocalEngine(p.AuthoritativeEngine) {
			t.reportUnknownEngine(p.MsgID, p.RequestID, p.UserName, reply)
			return
		}
		user, ok := t.Users[p.UserName]
		if !ok && len(t.Users) > 0 {
			t.Logger.Printf("TrapListener: unknown user %q from %s", p.UserName, remote)
			return
		}
		if ok {
			want, err := user.SecurityLevel()
			if err != nil {
				t.Logger.Printf("TrapListener: user %q: %s", p.UserName, err)
				return
			}
			if p.MsgFlags&AuthPriv < want {
				count := atomic.AddUint32(&t.usmStatsUnsupportedSecLevelsCount, 1)
				t.Logger.Printf("TrapListener: %s message for %s user %q from %s",
					p.MsgFlags&AuthPriv, want, p.UserName, remote)
				if p.MsgFlags&Reportable != 0 && len(t.EngineID) > 0 {
					t.report(usmStatsUnsupportedSecLevels, count, p.MsgID, p.RequestID, p.UserName, reply)
				}
				return
			}
		}
	}

	switch p.Type {
	case Trap, SNMPv2Trap, InformRequest:
	default:
		t.Logger.Printf("TrapListener: ignoring %s from %s", p.Type, remote)
		return
	}
	if p.Version != Version3 && t.Community != "" && p.Community() != t.Community {
		t.Logger.Printf("TrapListener: bad community from %s", remote)
		return
	}
	if p.SecurityModel == SecurityModelTSM && securityName != "" {
		p.UserName = securityName
	}

	t.OnTrap(p, remote)

	if p.Type == InformRequest {
		if err := t.acknowledge(p, used, securityName, reply); err != nil {
			t.Logger.Printf("TrapListener: inform response to %s: %s", remote, err)
		}
	}
}

func (t *TrapListener) isLocalEngine(e *Engine) bool {
	return len(t.EngineID) == 0 || (e.Known() && string(e.ID) == string(t.EngineID))
}

// acknowledge answers an inform with the same request-id and varbinds.
func (t *TrapListener) acknowledge(inform *PDU, sc *SecurityContext, securityName string, reply func([]byte) error) error {
	resp := &PDU{
		Version:         inform.Version,
		Type:            GetResponse,
		RequestID:       inform.RequestID,
		Variables:       inform.Variables,
		MsgID:           inform.MsgID,
		ContextEngineID: inform.ContextEngineID,
		ContextName:     inform.ContextName,
	}
	resp.SetCommunity(inform.Community())

	switch {
	case inform.Version != Version3:
		sc = nil
	case inform.SecurityModel == SecurityModelTSM:
		sc = NewTSMContext(securityName)
	case sc == nil:
		// noAuthNoPriv inform
		sc = NewUSMContext(inform.UserName, AuthNone, "", PrivNone, "")
		if inform.AuthoritativeEngine != nil {
			if err := sc.SetAuthoritativeEngine(inform.AuthoritativeEngine); err != nil {
				return err
			}
		}
	}
	out, err := resp.Encode(sc)
	if err != nil {
		return fmt.Errorf("error marshaling response: %w", err)
	}
	return reply(out)
}

// reportUnknownEngine answers a reportable v3 message whose engine ID is
// not ours (RFC 3414 section 3.2 step 3b), which is how inform senders
// discover us.
func (t *TrapListener) reportUnknownEngine(msgID, requestID uint32, user string, reply func([]byte) error) {
	count := atomic.AddUint32(&t.usmStatsUnknownEngineIDsCount, 1)
	t.report(usmStatsUnknownEngineIDs, count, msgID, requestID, user, reply)
}

// report answers a reportable v3 message with a noAuthNoPriv REPORT
// carrying stat and our engine.
func (t *TrapListener) report(stat OID, count, msgID, requestID uint32, user string, reply func([]byte) error) {
	uptime := uint32(time.Since(t.started).Seconds())
	sc := NewUSMContext(user, AuthNone, "", PrivNone, "")
	if err := sc.SetAuthoritativeEngine(NewEngine(t.EngineID, 1, uptime)); err != nil {
		return
	}
	report := &PDU{
		Version:   Version3,
		Type:      Report,
		RequestID: requestID,
		MsgID:     msgID,
		Variables: []Variable{NewCounter32Variable(stat, count)},
	}
	out, err := report.Encode(sc)
	if err != nil {
		t.Logger.Printf("TrapListener: encode report: %s", err)
		return
	}
	if err := reply(out); err != nil {
		t.Logger.Printf("TrapListener: send report: %s", err)
	}
}

// debugTrapHandler is the default handler that logs received traps.
func (t *TrapListener) debugTrapHandler(p *PDU, addr net.Addr) {
	t.Logger.Printf("got trapdata from %s: %s", addr, p)
}
