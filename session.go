// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"
	"time"
)

const (
	// DefaultTimeout is the per-attempt wait for a response.
	DefaultTimeout = 1500 * time.Millisecond
	// DefaultRetries is the number of resends after the first attempt.
	DefaultRetries = 1
	// DefaultMaxRepetitions is used by GetBulk and BulkWalk when
	// Session.MaxRepetitions is zero.
	DefaultMaxRepetitions = 10

	// A datagram older than this is re-signed before a retry, so its
	// engine time stays inside the 150 second window of RFC 3414 3.2.7.
	resignAfter = 150 * time.Second

	// timeWindow is the RFC 3414 3.2.7 tolerance in seconds.
	timeWindow = 150
	// maxEngineBoots latches an engine that can no longer be trusted
	// (RFC 3414 section 2.2.2).
	maxEngineBoots = 2147483647
)

// Session sends requests to one agent and correlates the answers. The
// exported fields are its configuration; zero values take the defaults.
// A Session is not reentrant: callers serialize requests per target.
type Session struct {
	Transport Transport
	Security  *SecurityContext

	// Context bounds every request; nil means context.Background().
	Context context.Context

	// Timeout is the time to wait for a response to each attempt.
	Timeout time.Duration

	// Retries is the number of resends after the first attempt. A negative
	// value means no resend.
	Retries int

	// MaxRepetitions is the GETBULK max-repetitions used by BulkWalk.
	MaxRepetitions uint32

	// MsgMaxSize is advertised in v3 messages.
	MsgMaxSize uint32

	Logger Logger

	// OnSent is called when a datagram was sent
	OnSent func(*Session)
	// OnRecv is called when a datagram was received
	OnRecv func(*Session)
	// OnRetry is called before a retry
	OnRetry func(*Session)
	// OnFinish is called when a request completes with a response
	OnFinish func(*Session)
	// OnTimeout is called when a request gives up without a response
	OnTimeout func(*Session)
	// OnError is called when a request fails for any other reason
	OnError func(*Session)

	requestID uint32
	msgID     uint32
}

// NewSession returns a Session with the default timeout and retries.
func NewSession(transport Transport, sec *SecurityContext) *Session {
	return &Session{
		Transport:      transport,
		Security:       sec,
		Timeout:        DefaultTimeout,
		Retries:        DefaultRetries,
		MaxRepetitions: DefaultMaxRepetitions,
		MsgMaxSize:     defaultMaxSize,
	}
}

// NewUDPSession connects a UDP transport to host:port and wraps it.
func NewUDPSession(host string, port uint16, sec *SecurityContext) (*Session, error) {
	t, err := NewUDPTransport(host, port)
	if err != nil {
		return nil, err
	}
	return NewSession(t, sec), nil
}

// Close closes the transport.
func (s *Session) Close() error {
	if s.Transport == nil {
		return nil
	}
	return s.Transport.Close()
}

func (s *Session) nextRequestID() uint32 {
	return atomic.AddUint32(&s.requestID, 1) & 0x7FFFFFFF
}

func (s *Session) nextMsgID() uint32 {
	return atomic.AddUint32(&s.msgID, 1) & 0x7FFFFFFF
}

func (s *Session) ctx() context.Context {
	if s.Context == nil {
		return context.Background()
	}
	return s.Context
}

func (s *Session) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// pendingRequest is the state of one outstanding request across attempts.
type pendingRequest struct {
	pdu *PDU
	sec *SecurityContext

	datagram []byte
	signedAt time.Time
	reencode bool

	msgIDs []uint32
	level  SnmpV3MsgFlags

	// discovery requests accept the first REPORT carrying an engine
	discovery bool

	// last security failure seen on a correlated datagram
	lastErr error
}

// SNMPv3 Request Flow
//
// Requests go through: DoRequest() -> sendOneRequest() -> doRequestAttempt()
//
// There are two levels of retry:
//
//  1. sendOneRequest() handles the outer retry loop (timeouts, up to Retries resends)
//  2. doRequestAttempt() handles the inline resend for clock sync (notInTimeWindows
//     or unknownEngineIDs REPORT)
//
// The encoded datagram is kept across outer retries and re-encoded only
// when a REPORT changed the engine parameters or the datagram is about to
// fall out of the time window.

// responseOutcome indicates how to proceed after processing a received packet.
type responseOutcome int

const (
	outcomeSuccess      responseOutcome = iota // Return result to caller
	outcomeResend                              // Recoverable REPORT, resend once
	outcomeContinueWait                        // Stray datagram, keep waiting
	outcomeRetry                               // Start new attempt (timeout, etc.)
	outcomeFatal                               // Non-recoverable error
)

// isValidRequestID checks if the result's request ID matches the request.
// ID 0 is always valid per RFC 3412 section 7.1 step 3(c): the request-id in a Report
// PDU is set to the original request's ID if extractable, otherwise 0.
func isValidRequestID(resultID, reqID uint32) bool {
	return resultID == 0 || resultID == reqID
}

// isSecurityError reports whether err is a v3 security failure, which is
// surfaced in preference to a plain timeout.
func isSecurityError(err error) bool {
	switch CodeOf(err) {
	case CodeAuthFailure, CodeDecryption, CodeEngineID, CodeSecName, CodeUnsupportedSecLevel, CodeTimeWindow:
		return true
	}
	return false
}

// DoRequest sends request and waits for the correlated response. It assigns
// RequestID (and MsgID for v3); the version follows the security context.
// For v3 USM with an unknown authoritative engine, discovery runs first.
//
// Protocol errors reported by the agent in error-status are not Go errors:
// inspect the returned PDU's ErrorStatus.
//
// Once the request is valid, exactly one of OnFinish, OnTimeout and OnError
// runs, discovery included.
func (s *Session) DoRequest(request *PDU) (result *PDU, err error) {
	var started bool
	defer func() {
		if e := recover(); e != nil {
			var buf = make([]byte, 8192)
			buf = buf[:runtime.Stack(buf, false)]
			result, err = nil, errorf(CodeComm, "request", "recover: %v Stack:%v", e, string(buf))
		}
		if started {
			s.finish(err)
		}
	}()

	if s.Transport == nil {
		return nil, errorf(CodeParam, "request", "session has no transport")
	}
	if s.Security == nil {
		return nil, errorf(CodeParam, "request", "session has no security context")
	}
	if request == nil || !request.Type.valid() {
		return nil, errorf(CodeParam, "request", "invalid request PDU")
	}
	started = true

	request.Version = s.Security.Version()
	if request.Version == Version3 {
		if request.MsgMaxSize == 0 {
			request.MsgMaxSize = s.MsgMaxSize
		}
		if s.Security.model == SecurityModelUSM && !s.Security.engine.Known() {
			s.Logger.Print("SEND INIT NEGOTIATE SECURITY PARAMS")
			if err := s.discover(); err != nil {
				return nil, err
			}
			s.Logger.Printf("SEND END NEGOTIATE SECURITY PARAMS: %s", s.Security.engine)
		}
	}
	request.RequestID = s.nextRequestID()

	level, err := s.Security.SecurityLevel()
	if err != nil {
		return nil, err
	}
	p := &pendingRequest{pdu: request, sec: s.Security, level: level}
	result, err = s.sendOneRequest(p)
	if err != nil {
		s.Logger.Printf("SEND Error: %s", err)
		return nil, err
	}
	return result, nil
}

// discover learns the authoritative engine with an unauthenticated empty
// GET (RFC 3414 section 4) and localizes the keys to it.
func (s *Session) discover() error {
	req := &PDU{
		Version:    Version3,
		Type:       GetRequest,
		RequestID:  s.nextRequestID(),
		MsgMaxSize: s.MsgMaxSize,
	}
	p := &pendingRequest{
		pdu:       req,
		sec:       NewUSMContext("", AuthNone, "", PrivNone, ""),
		discovery: true,
	}
	if _, err := s.sendOneRequest(p); err != nil {
		return err
	}
	if !s.Security.engine.Known() {
		return errorf(CodeEngineID, "discovery", "agent did not report an engine ID")
	}
	return nil
}

// sendOneRequest sends/receives one SNMP request, handling retries.
func (s *Session) sendOneRequest(p *pendingRequest) (*PDU, error) {
	retries := max(s.Retries, 0)
	timeout := s.timeout()
	ctx := s.ctx()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if s.OnRetry != nil {
				s.OnRetry(s)
			}
			s.Logger.Printf("Retry number %d. Last error was: %v", attempt, lastErr)
		}
		if err := ctx.Err(); err != nil {
			return nil, newError(CodeTimeout, "request", err)
		}

		deadline := time.Now().Add(timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		result, err := s.doRequestAttempt(p, deadline)
		if err == nil {
			return result, nil
		}
		if CodeOf(err) != CodeTimeout {
			return nil, err
		}
		lastErr = err
	}

	if p.lastErr != nil {
		return nil, p.lastErr
	}
	return nil, newError(CodeTimeout, "request", fmt.Errorf("no response after %d attempts: %w", retries+1, lastErr))
}

// finish runs the one completion hook matching a request's outcome.
func (s *Session) finish(err error) {
	hook := s.OnError
	switch {
	case err == nil:
		hook = s.OnFinish
	case CodeOf(err) == CodeTimeout:
		hook = s.OnTimeout
	}
	if hook != nil {
		hook(s)
	}
}

// encode (re)builds the datagram. v3 messages get a fresh msgID each time
// so answers to superseded datagrams can still be told apart.
func (s *Session) encode(p *pendingRequest) error {
	if p.pdu.Version == Version3 {
		p.pdu.MsgID = s.nextMsgID()
		p.msgIDs = append(p.msgIDs, p.pdu.MsgID)
	}
	datagram, err := p.pdu.Encode(p.sec)
	if err != nil {
		return err
	}
	p.datagram = datagram
	p.signedAt = time.Now()
	p.reencode = false
	return nil
}

func (s *Session) needsEncode(p *pendingRequest) bool {
	if p.datagram == nil || p.reencode {
		return true
	}
	return p.pdu.Version == Version3 && p.level.auth() && time.Since(p.signedAt) > resignAfter
}

// doRequestAttempt performs a single request attempt. If the agent responds with
// a recoverable REPORT (e.g., clock out of sync), we resend once with corrected
// parameters. This inline resend is separate from the outer retry loop in sendOneRequest.
func (s *Session) doRequestAttempt(p *pendingRequest, deadline time.Time) (*PDU, error) {
	alreadyResent := false

	for {
		if s.needsEncode(p) {
			if err := s.encode(p); err != nil {
				return nil, err
			}
		}
		s.Logger.Printf("SENDING PACKET: %s", p.pdu)
		if err := s.Transport.Send(p.datagram); err != nil {
			return nil, err
		}
		if s.OnSent != nil {
			s.OnSent(s)
		}

		result, outcome, err := s.receiveUntilComplete(p, deadline, alreadyResent)
		if outcome != outcomeResend {
			return result, err
		}
		if alreadyResent {
			return nil, err
		}
		alreadyResent = true
		deadline = time.Now().Add(s.timeout())
	}
}

// receiveUntilComplete receives packets until a complete response is received,
// a resend is needed, or an error occurs.
func (s *Session) receiveUntilComplete(p *pendingRequest, deadline time.Time,
	alreadyResent bool) (*PDU, responseOutcome, error) {
	for {
		s.Logger.Print("WAITING RESPONSE...")
		result, outcome, err := s.receiveAndProcessResponse(p, deadline, alreadyResent)
		switch outcome {
		case outcomeContinueWait:
			continue
		case outcomeRetry:
			return nil, outcome, err
		default:
			return result, outcome, err
		}
	}
}

// receiveAndProcessResponse receives one datagram and determines how to proceed.
func (s *Session) receiveAndProcessResponse(p *pendingRequest, deadline time.Time,
	alreadyResent bool) (*PDU, responseOutcome, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, outcomeRetry, errorf(CodeTimeout, "receive", "deadline passed")
	}
	data, err := s.Transport.Receive(remaining)
	if err != nil {
		if CodeOf(err) == CodeTimeout {
			return nil, outcomeRetry, err
		}
		return nil, outcomeFatal, err
	}
	if s.OnRecv != nil {
		s.OnRecv(s)
	}

	result, err := Parse(data, s.Security)
	if err != nil {
		correlated := s.correlated(p, data)
		s.Logger.Printf("discarding datagram (correlated=%v): %s", correlated, err)
		switch {
		case !correlated:
			return nil, outcomeContinueWait, nil
		case isSecurityError(err):
			p.lastErr = err
			return nil, outcomeContinueWait, nil
		}
		return nil, outcomeFatal, newError(CodeBadResponse, "response", err)
	}
	s.Logger.Printf("GET RESPONSE OK: %s", result)

	if result.Version != p.pdu.Version {
		return nil, outcomeContinueWait, nil
	}
	if result.Version == Version3 {
		if !slices.Contains(p.msgIDs, result.MsgID) {
			s.Logger.Print("ERROR out of order msgID")
			return nil, outcomeContinueWait, nil
		}
		if result.Type == Report {
			return s.handleReportPDU(result, p, alreadyResent)
		}
		if p.discovery && result.AuthoritativeEngine.Known() {
			return result, outcomeSuccess, s.adoptEngine(result)
		}
	}

	if result.Type != GetResponse || result.RequestID != p.pdu.RequestID {
		s.Logger.Print("ERROR out of order")
		return nil, outcomeContinueWait, nil
	}

	if result.Version == Version3 {
		// a response must come back at the security level of the request
		if result.MsgFlags&AuthPriv != p.level&AuthPriv {
			p.lastErr = errorf(CodeUnsupportedSecLevel, "response", "response level %s, request level %s", result.MsgFlags, p.level)
			return nil, outcomeContinueWait, nil
		}
		if result.MsgFlags.auth() {
			if err := s.checkTimeliness(result); err != nil {
				s.Logger.Printf("discarding response: %s", err)
				p.lastErr = err
				return nil, outcomeContinueWait, nil
			}
		}
	}
	return result, outcomeSuccess, nil
}

// correlated reports whether an undecodable datagram still carries our
// request-id (v1/v2c) or msgID (v3).
func (s *Session) correlated(p *pendingRequest, data []byte) bool {
	id, v3, ok := peekIDs(data)
	if !ok {
		return false
	}
	if v3 {
		return slices.Contains(p.msgIDs, id)
	}
	return id == p.pdu.RequestID
}

// peekIDs extracts the msgID of a v3 message or the request-id of a v1/v2c
// message without decoding the rest.
func peekIDs(data []byte) (id uint32, v3 bool, ok bool) {
	r := newBERReader(data)
	msg, err := r.enter(Sequence, "message")
	if err != nil {
		return 0, false, false
	}
	version, err := msg.readInt("version")
	if err != nil {
		return 0, false, false
	}
	if SnmpVersion(version) == Version3 {
		global, err := msg.enter(Sequence, "msgGlobalData")
		if err != nil {
			return 0, true, false
		}
		msgID, err := global.readInt32("msgID")
		return uint32(msgID), true, err == nil
	}
	if _, err := msg.readOctets("community"); err != nil {
		return 0, false, false
	}
	_, content, _, err := msg.readTLV()
	if err != nil {
		return 0, false, false
	}
	reqID, err := newBERReader(content).readInt32("request-id")
	return uint32(reqID), false, err == nil
}

// handleReportPDU classifies a REPORT PDU and determines how to proceed.
// REPORTs are SNMPv3 error responses that tell us why a request failed (e.g., clock
// out of sync, unknown engine ID, bad credentials). Some are recoverable via resend.
func (s *Session) handleReportPDU(result *PDU, p *pendingRequest,
	alreadyResent bool) (*PDU, responseOutcome, error) {
	if !isValidRequestID(result.RequestID, p.pdu.RequestID) {
		return nil, outcomeContinueWait, nil
	}
	rerr := result.ReportError()
	if p.discovery {
		if !result.AuthoritativeEngine.Known() {
			return nil, outcomeFatal, rerr
		}
		return result, outcomeSuccess, s.adoptEngine(result)
	}

	switch {
	case errors.Is(rerr, ErrNotInTimeWindow), errors.Is(rerr, ErrUnknownEngineID):
		// Per RFC 3414 section 4 the REPORT carries the agent's current
		// engine parameters; adopt them and resend once.
		s.Logger.Printf("WARNING detected %s", rerr)
		if alreadyResent {
			return nil, outcomeFatal, rerr
		}
		if err := s.adoptEngine(result); err != nil {
			return nil, outcomeFatal, err
		}
		p.reencode = true
		return result, outcomeResend, rerr
	}
	return nil, outcomeFatal, rerr
}

// adoptEngine stores the engine parameters of a received message in the
// session's security context, re-localizing keys if the engine changed.
func (s *Session) adoptEngine(result *PDU) error {
	e := result.AuthoritativeEngine
	if !e.Known() {
		return errorf(CodeEngineID, "discovery", "message carries no engine ID")
	}
	return s.Security.updateEngine(e.ID, e.Boots, e.Time)
}

// checkTimeliness is RFC 3414 3.2.7b for the non-authoritative side. An
// authentic message from the cached engine is rejected when it is older than
// what was already seen; otherwise a later boots or time moves the local
// notion of the agent's clock forward.
func (s *Session) checkTimeliness(result *PDU) error {
	local, remote := s.Security.engine, result.AuthoritativeEngine
	if !local.Known() || !local.Equal(remote) {
		return nil
	}
	latest := local.AdjustedTime()
	switch {
	case local.Boots == maxEngineBoots || remote.Boots == maxEngineBoots:
		return newError(CodeTimeWindow, "response", fmt.Errorf("%w: engine boots at %d", ErrNotInTimeWindow, uint32(maxEngineBoots)))
	case remote.Boots < local.Boots:
		return newError(CodeTimeWindow, "response", fmt.Errorf("%w: boots %d, expected at least %d", ErrNotInTimeWindow, remote.Boots, local.Boots))
	case remote.Boots == local.Boots && int64(remote.Time) < int64(latest)-timeWindow:
		return newError(CodeTimeWindow, "response", fmt.Errorf("%w: time %d, expected about %d", ErrNotInTimeWindow, remote.Time, latest))
	}
	if remote.Boots > local.Boots || remote.Time > latest {
		local.SetTime(remote.Boots, remote.Time)
	}
	return nil
}

// -- request helpers ----------------------------------------------------------

func nullVariables(oids []OID) []Variable {
	vars := make([]Variable, len(oids))
	for i, oid := range oids {
		vars[i] = NewNullVariable(oid)
	}
	return vars
}

// Get sends a GetRequest for oids.
func (s *Session) Get(oids []OID) (*PDU, error) {
	if len(oids) == 0 {
		return nil, errorf(CodeParam, "get", "no OIDs")
	}
	return s.DoRequest(&PDU{Type: GetRequest, Variables: nullVariables(oids)})
}

// GetNext sends a GetNextRequest for oids.
func (s *Session) GetNext(oids []OID) (*PDU, error) {
	if len(oids) == 0 {
		return nil, errorf(CodeParam, "getnext", "no OIDs")
	}
	return s.DoRequest(&PDU{Type: GetNextRequest, Variables: nullVariables(oids)})
}

// GetBulk sends a GetBulkRequest. It needs SNMPv2c or v3.
func (s *Session) GetBulk(oids []OID, nonRepeaters, maxRepetitions uint32) (*PDU, error) {
	if len(oids) == 0 {
		return nil, errorf(CodeParam, "getbulk", "no OIDs")
	}
	if s.Security != nil && s.Security.Version() == Version1 {
		return nil, errorf(CodeParam, "getbulk", "GETBULK is not available in SNMPv1")
	}
	return s.DoRequest(&PDU{
		Type:           GetBulkRequest,
		NonRepeaters:   nonRepeaters,
		MaxRepetitions: maxRepetitions,
		Variables:      nullVariables(oids),
	})
}

// Set sends a SetRequest with the given varbinds.
func (s *Session) Set(vars []Variable) (*PDU, error) {
	if len(vars) == 0 {
		return nil, errorf(CodeParam, "set", "no varbinds")
	}
	return s.DoRequest(&PDU{Type: SetRequest, Variables: vars})
}
