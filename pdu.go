// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"fmt"
	"net/netip"
	"runtime"
	"strings"
)

// PDU is one SNMP message: the protocol data unit plus the header fields of
// whichever version carried it. A PDU exclusively owns its Variables.
//
// For GetBulkRequest, NonRepeaters and MaxRepetitions travel in the
// error-status and error-index positions.
type PDU struct {
	Version     SnmpVersion
	Type        PDUType
	RequestID   uint32
	ErrorStatus SNMPError
	ErrorIndex  uint32

	NonRepeaters   uint32
	MaxRepetitions uint32

	Variables []Variable

	// SNMPv1 trap header
	Enterprise   OID
	AgentAddress netip.Addr
	GenericTrap  int
	SpecificTrap int
	Timestamp    uint32

	// SNMPv3 header and scoped PDU
	MsgID           uint32
	MsgMaxSize      uint32
	MsgFlags        SnmpV3MsgFlags
	SecurityModel   SecurityModel
	ContextEngineID []byte
	ContextName     string

	// Filled in by Parse from the security parameters of a v3 message.
	AuthoritativeEngine *Engine
	UserName            string

	community string
	usm       *usmSecurityParameters
}

// SecurityResolver picks the context used to verify and decrypt a received
// v3 message, given the user name and authoritative engine it claims. The
// returned context must hold keys localized to that engine. Returning nil
// rejects the message.
type SecurityResolver func(userName string, engine *Engine) *SecurityContext

var (
	snmpTrapOID    = MustParseOID(".1.3.6.1.6.3.1.1.4.1.0")
	sysUpTime      = MustParseOID(".1.3.6.1.2.1.1.3.0")
	snmpTrapsRoot  = MustParseOID(".1.3.6.1.6.3.1.1.5")
	defaultMaxSize = uint32(65507)
)

// Community returns the community string captured from a received v1/v2c
// message, or set with SetCommunity. It is empty when absent.
func (p *PDU) Community() string {
	return p.community
}

// SetCommunity sets the community used by Encode when no security context
// is given.
func (p *PDU) SetCommunity(community string) {
	p.community = community
}

// TrapOID returns the notification OID. For SNMPv2 notifications it is the
// value of the snmpTrapOID.0 varbind; SNMPv1 traps are converted following
// RFC 3584 section 3.1.
func (p *PDU) TrapOID() OID {
	switch p.Type {
	case Trap:
		if p.GenericTrap >= 0 && p.GenericTrap < 6 {
			oid, _ := snmpTrapsRoot.Extend(uint32(p.GenericTrap + 1))
			return oid
		}
		if len(p.Enterprise) == 0 {
			return nil
		}
		oid, err := p.Enterprise.Extend(0, uint32(p.SpecificTrap))
		if err != nil {
			return nil
		}
		return oid
	case SNMPv2Trap, InformRequest:
		for i := range p.Variables {
			if p.Variables[i].Name.Equal(snmpTrapOID) {
				return p.Variables[i].ValueAsOID()
			}
		}
	}
	return nil
}

// Uptime returns the agent's sysUpTime in hundredths of a second, from the
// v1 trap timestamp or the sysUpTime.0 varbind.
func (p *PDU) Uptime() uint32 {
	if p.Type == Trap {
		return p.Timestamp
	}
	for i := range p.Variables {
		if p.Variables[i].Name.Equal(sysUpTime) {
			return p.Variables[i].ValueAsUint32()
		}
	}
	return 0
}

// ReportError classifies a REPORT PDU. It returns nil for other PDU types.
func (p *PDU) ReportError() error {
	if p.Type != Report {
		return nil
	}
	if len(p.Variables) == 0 {
		return errorf(CodeBadResponse, "report", "REPORT without varbinds")
	}
	return reportError(p.Variables[0].Name)
}

// String returns a summary suitable for logging. Credentials are never
// included.
func (p *PDU) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s request-id=%d", p.Version, p.Type, p.RequestID)
	if p.Version == Version3 {
		fmt.Fprintf(&b, " msg-id=%d flags=%s model=%s user=%q", p.MsgID, p.MsgFlags, p.SecurityModel, p.UserName)
		if p.AuthoritativeEngine != nil {
			fmt.Fprintf(&b, " engine=[%s]", p.AuthoritativeEngine)
		}
	}
	switch p.Type {
	case GetBulkRequest:
		fmt.Fprintf(&b, " non-repeaters=%d max-repetitions=%d", p.NonRepeaters, p.MaxRepetitions)
	case Trap:
		fmt.Fprintf(&b, " enterprise=%s agent=%s generic=%d specific=%d", p.Enterprise, p.AgentAddress, p.GenericTrap, p.SpecificTrap)
	default:
		if p.ErrorStatus != NoError {
			fmt.Fprintf(&b, " error=%s index=%d", p.ErrorStatus, p.ErrorIndex)
		}
	}
	fmt.Fprintf(&b, " varbinds=%d", len(p.Variables))
	return b.String()
}

// isConfirmed reports whether the PDU class expects a response (RFC 3411
// section 2.8), which makes a v3 message reportable.
func (t PDUType) isConfirmed() bool {
	switch t {
	case GetRequest, GetNextRequest, GetBulkRequest, SetRequest, InformRequest:
		return true
	}
	return false
}

// -- Marshalling Logic --------------------------------------------------------

// Encode serializes the message. The version and community come from sec
// when given; v3 requires sec. For v3 with authentication the message is
// signed, and for privacy the scoped PDU is encrypted.
func (p *PDU) Encode(sec *SecurityContext) ([]byte, error) {
	version := p.Version
	community := p.community
	if sec != nil {
		version = sec.Version()
		community = sec.Community()
	}
	if err := p.checkVersion(version); err != nil {
		return nil, err
	}
	pdu, err := p.marshalPDU()
	if err != nil {
		return nil, err
	}
	if version == Version3 {
		if sec == nil {
			return nil, errorf(CodeParam, "encode", "SNMPv3 requires a security context")
		}
		return p.marshalV3(pdu, sec)
	}
	return sequence(Sequence,
		tlv(Integer, marshalInt64(int64(version))),
		tlv(OctetString, []byte(community)),
		pdu,
	), nil
}

// EncodeTo encodes into buf and returns the message length, or 0 if the
// message cannot be encoded or does not fit.
func (p *PDU) EncodeTo(buf []byte, sec *SecurityContext) int {
	msg, err := p.Encode(sec)
	if err != nil || len(msg) > len(buf) {
		return 0
	}
	return copy(buf, msg)
}

func (p *PDU) checkVersion(version SnmpVersion) error {
	if !p.Type.valid() {
		return errorf(CodeParam, "encode", "invalid PDU type %s", p.Type)
	}
	switch version {
	case Version1:
		switch p.Type {
		case GetBulkRequest, InformRequest, SNMPv2Trap, Report:
			return errorf(CodeParam, "encode", "%s is not valid in SNMPv1", p.Type)
		}
	case Version2c, Version3:
		if p.Type == Trap {
			return errorf(CodeParam, "encode", "%s is only valid in SNMPv1", p.Type)
		}
	default:
		return errorf(CodeParam, "encode", "unsupported version %d", version)
	}
	return nil
}

// marshalPDU encodes the PDU element, tag included.
func (p *PDU) marshalPDU() ([]byte, error) {
	vbl, err := p.marshalVBL()
	if err != nil {
		return nil, err
	}
	if p.Type == Trap {
		header, err := p.marshalTrapV1Header()
		if err != nil {
			return nil, err
		}
		return sequence(Asn1BER(p.Type), header, vbl), nil
	}

	status, index := uint32(p.ErrorStatus), p.ErrorIndex
	if p.Type == GetBulkRequest {
		status, index = p.NonRepeaters, p.MaxRepetitions
	}
	return sequence(Asn1BER(p.Type),
		tlv(Integer, marshalInt32(int32(p.RequestID))),
		tlv(Integer, marshalInt64(int64(status))),
		tlv(Integer, marshalInt64(int64(index))),
		vbl,
	), nil
}

func (p *PDU) marshalTrapV1Header() ([]byte, error) {
	enterprise, err := marshalObjectIdentifier(p.Enterprise)
	if err != nil {
		return nil, newError(CodeBadOID, "marshal trap enterprise", err)
	}
	agent := []byte{0, 0, 0, 0}
	if p.AgentAddress.Is4() || p.AgentAddress.Is4In6() {
		a := p.AgentAddress.Unmap().As4()
		agent = a[:]
	} else if p.AgentAddress.IsValid() {
		return nil, errorf(CodeParam, "marshal trap agent-addr", "%s is not an IPv4 address", p.AgentAddress)
	}
	var out []byte
	out = append(out, tlv(ObjectIdentifier, enterprise)...)
	out = append(out, tlv(IPAddress, agent)...)
	out = append(out, tlv(Integer, marshalInt64(int64(p.GenericTrap)))...)
	out = append(out, tlv(Integer, marshalInt64(int64(p.SpecificTrap)))...)
	out = append(out, tlv(TimeTicks, marshalUint32(p.Timestamp))...)
	return out, nil
}

// marshalVBL encodes the varbind list SEQUENCE.
func (p *PDU) marshalVBL() ([]byte, error) {
	parts := make([][]byte, 0, len(p.Variables))
	for i := range p.Variables {
		vb, err := p.Variables[i].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("varbind %d: %w", i, err)
		}
		parts = append(parts, vb)
	}
	return sequence(Sequence, parts...), nil
}

// -- Unmarshalling Logic ------------------------------------------------------

// Parse decodes a datagram. sec supplies the keys for authenticated or
// encrypted v3 messages and may be nil for v1/v2c. Malformed input returns
// an error coded CodeParse; v3 security failures return CodeAuthFailure,
// CodeDecryption, CodeEngineID, CodeSecName or CodeUnsupportedSecLevel.
func Parse(data []byte, sec *SecurityContext) (*PDU, error) {
	return ParseWithResolver(data, func(string, *Engine) *SecurityContext { return sec })
}

// ParseWithResolver is Parse with the security context chosen per message,
// as a notification receiver serving several users needs.
func ParseWithResolver(data []byte, resolve SecurityResolver) (p *PDU, err error) {
	defer func() {
		if e := recover(); e != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			p, err = nil, errorf(CodeParse, "parse", "recover: %v stack: %s", e, buf)
		}
	}()

	r := newBERReader(data)
	msg, err := r.enter(Sequence, "message")
	if err != nil {
		return nil, newError(CodeParse, "parse", err)
	}
	if !r.empty() {
		return nil, errorf(CodeParse, "parse", "%d trailing bytes after message", r.remaining())
	}
	version, err := msg.readInt("version")
	if err != nil {
		return nil, newError(CodeParse, "parse", err)
	}

	p = &PDU{}
	switch SnmpVersion(version) {
	case Version1, Version2c:
		p.Version = SnmpVersion(version)
		err = p.unmarshalCommunityMsg(msg)
	case Version3:
		p.Version = Version3
		err = p.unmarshalV3(data, msg, resolve)
	default:
		return nil, errorf(CodeParse, "parse", "unsupported SNMP version %d", version)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PDU) unmarshalCommunityMsg(msg *berReader) error {
	community, err := msg.readOctets("community")
	if err != nil {
		return newError(CodeParse, "parse", err)
	}
	p.community = string(community)
	if err := p.unmarshalPDU(msg); err != nil {
		return err
	}
	if !msg.empty() {
		return errorf(CodeParse, "parse", "%d trailing bytes after PDU", msg.remaining())
	}
	return nil
}

// unmarshalPDU reads the PDU element, dispatching on its tag.
func (p *PDU) unmarshalPDU(r *berReader) error {
	tag, content, offset, err := r.readTLV()
	if err != nil {
		return newError(CodeParse, "parse pdu", err)
	}
	p.Type = PDUType(tag)
	if !p.Type.valid() {
		return errorf(CodeParse, "parse pdu", "unknown PDU type %#x", byte(tag))
	}
	body := &berReader{data: content, base: offset}
	if p.Type == Trap {
		err = p.unmarshalTrapV1(body)
	} else {
		err = p.unmarshalContent(body)
	}
	if err != nil {
		return newError(CodeParse, "parse "+p.Type.String(), err)
	}
	return nil
}

// unmarshalContent reads request-id, error-status, error-index and the
// varbind list.
func (p *PDU) unmarshalContent(r *berReader) error {
	reqID, err := r.readInt32("request-id")
	if err != nil {
		return err
	}
	p.RequestID = uint32(reqID)

	status, err := r.readInt("error-status")
	if err != nil {
		return err
	}
	index, err := r.readInt("error-index")
	if err != nil {
		return err
	}
	if status < 0 || index < 0 || index > 0x7fffffff {
		return fmt.Errorf("negative or oversized error-status %d / error-index %d", status, index)
	}
	if p.Type == GetBulkRequest {
		if status > 0x7fffffff {
			return fmt.Errorf("non-repeaters %d out of range", status)
		}
		p.NonRepeaters, p.MaxRepetitions = uint32(status), uint32(index)
	} else {
		if status > 0xff {
			return fmt.Errorf("error-status %d out of range", status)
		}
		p.ErrorStatus, p.ErrorIndex = SNMPError(status), uint32(index)
	}
	return p.unmarshalVBL(r)
}

func (p *PDU) unmarshalTrapV1(r *berReader) error {
	var err error
	if p.Enterprise, err = r.readOID("enterprise"); err != nil {
		return err
	}
	addr, err := r.expect(IPAddress, "agent-addr")
	if err != nil {
		return err
	}
	switch len(addr) {
	case 0:
	case 4:
		p.AgentAddress = netip.AddrFrom4([4]byte(addr))
	default:
		return fmt.Errorf("agent-addr: bad length %d", len(addr))
	}
	generic, err := r.readInt32("generic-trap")
	if err != nil {
		return err
	}
	specific, err := r.readInt32("specific-trap")
	if err != nil {
		return err
	}
	p.GenericTrap, p.SpecificTrap = int(generic), int(specific)
	if p.Timestamp, err = r.readUint32(TimeTicks, "time-stamp"); err != nil {
		return err
	}
	return p.unmarshalVBL(r)
}

// unmarshalVBL reads the varbind list; it must be the last element of r.
func (p *PDU) unmarshalVBL(r *berReader) error {
	vbl, err := r.enter(Sequence, "varbind list")
	if err != nil {
		return err
	}
	if !r.empty() {
		return fmt.Errorf("%d trailing bytes after varbind list", r.remaining())
	}
	p.Variables = p.Variables[:0]
	for !vbl.empty() {
		var v Variable
		if err := v.parseFrom(vbl); err != nil {
			return fmt.Errorf("varbind %d: %w", len(p.Variables), err)
		}
		p.Variables = append(p.Variables, v)
	}
	return nil
}
