// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A net-snmp style enterprise specific v1 trap:
//
//	community public, enterprise .1.3.6.1.4.1.8072.2.3.1, agent 192.0.2.1,
//	generic 6, specific 17, uptime 1034156,
//	.1.3.6.1.4.1.8072.2.3.2.1 = INTEGER: 42
var v1TrapLiteral = []byte{
	0x30, 0x3e,
	0x02, 0x01, 0x00,
	0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
	0xa4, 0x31,
	0x06, 0x0a, 0x2b, 0x06, 0x01, 0x04, 0x01, 0xbf, 0x08, 0x02, 0x03, 0x01,
	0x40, 0x04, 0xc0, 0x00, 0x02, 0x01,
	0x02, 0x01, 0x06,
	0x02, 0x01, 0x11,
	0x43, 0x03, 0x0f, 0xc7, 0xac,
	0x30, 0x12,
	0x30, 0x10,
	0x06, 0x0b, 0x2b, 0x06, 0x01, 0x04, 0x01, 0xbf, 0x08, 0x02, 0x03, 0x02, 0x01,
	0x02, 0x01, 0x2a,
}

// Decoded values are never nil, request varbinds built by nullVariables are.
var equateEmpty = cmpopts.EquateEmpty()

func TestParseV1Trap(t *testing.T) {
	p, err := Parse(v1TrapLiteral, nil)
	require.NoError(t, err)

	assert.Equal(t, Version1, p.Version)
	assert.Equal(t, Trap, p.Type)
	assert.Equal(t, "public", p.Community())
	assert.Equal(t, OID{1, 3, 6, 1, 4, 1, 8072, 2, 3, 1}, p.Enterprise)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), p.AgentAddress)
	assert.Equal(t, 6, p.GenericTrap)
	assert.Equal(t, 17, p.SpecificTrap)
	assert.EqualValues(t, 1034156, p.Timestamp)
	assert.EqualValues(t, 1034156, p.Uptime())
	assert.Equal(t, OID{1, 3, 6, 1, 4, 1, 8072, 2, 3, 1, 0, 17}, p.TrapOID())

	want := []Variable{NewIntegerVariable(OID{1, 3, 6, 1, 4, 1, 8072, 2, 3, 2, 1}, 42)}
	if diff := cmp.Diff(want, p.Variables, equateEmpty); diff != "" {
		t.Errorf("varbinds mismatch (-want +got):\n%s", diff)
	}

	// Encoding the decoded trap reproduces the datagram.
	out, err := p.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, v1TrapLiteral, out)
}

func TestV1GenericTrapOID(t *testing.T) {
	p := &PDU{Type: Trap, GenericTrap: 3, Enterprise: OID{1, 3, 6, 1, 4, 1, 9}}
	assert.Equal(t, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 4}, p.TrapOID(), "linkUp")
}

// Community must report what was on the wire, also after a re-encode with
// an explicit context.
func TestCommunityRegression(t *testing.T) {
	req := &PDU{Version: Version2c, Type: GetRequest, RequestID: 99, Variables: nullVariables([]OID{sysDescr0})}
	req.SetCommunity("private")
	data, err := req.Encode(nil)
	require.NoError(t, err)

	p, err := Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "private", p.Community())
	assert.Equal(t, Version2c, p.Version)

	// An explicit context overrides the captured community.
	data, err = p.Encode(NewCommunityContext(SecurityModelV1, "public"))
	require.NoError(t, err)
	again, err := Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "public", again.Community())
	assert.Equal(t, Version1, again.Version)
	assert.Equal(t, "private", p.Community(), "Encode does not modify the PDU")

	empty := &PDU{Version: Version2c, Type: GetRequest, Variables: nullVariables([]OID{sysDescr0})}
	data, err = empty.Encode(nil)
	require.NoError(t, err)
	p, err = Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "", p.Community())
}

func TestCommunityRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sec  *SecurityContext
		pdu  *PDU
	}{
		{"v1 get", NewCommunityContext(SecurityModelV1, "public"),
			&PDU{Type: GetRequest, RequestID: 1, Variables: nullVariables([]OID{sysDescr0})}},
		{"v2c getbulk", NewCommunityContext(SecurityModelV2C, "public"),
			&PDU{Type: GetBulkRequest, RequestID: 0x7fffffff, NonRepeaters: 1, MaxRepetitions: 25,
				Variables: nullVariables([]OID{sysDescr0, {1, 3, 6, 1, 2, 1, 2, 2}})}},
		{"v2c response with error", NewCommunityContext(SecurityModelV2C, "public"),
			&PDU{Type: GetResponse, RequestID: 5, ErrorStatus: NoSuchName, ErrorIndex: 1,
				Variables: []Variable{NewOctetStringVariable(sysDescr0, []byte("x"))}}},
		{"v2c trap", NewCommunityContext(SecurityModelV2C, "traps"),
			&PDU{Type: SNMPv2Trap, RequestID: 77, Variables: []Variable{
				NewTimeTicksVariable(sysUpTime, 500),
				NewOIDVariable(snmpTrapOID, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 3}),
			}}},
		{"v2c set", NewCommunityContext(SecurityModelV2C, "private"),
			&PDU{Type: SetRequest, RequestID: 3, Variables: []Variable{
				NewCounter64Variable(OID{1, 3, 6, 1, 4, 1, 1}, 1<<40),
				NewIPAddressVariable(OID{1, 3, 6, 1, 4, 1, 2}, netip.MustParseAddr("198.51.100.4")),
			}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.pdu.Encode(tt.sec)
			require.NoError(t, err)
			buf := make([]byte, len(data))
			assert.Equal(t, len(data), tt.pdu.EncodeTo(buf, tt.sec))
			assert.Zero(t, tt.pdu.EncodeTo(buf[:len(data)-1], tt.sec))

			got, err := Parse(data, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.sec.Version(), got.Version)
			assert.Equal(t, tt.sec.Community(), got.Community())
			assert.Equal(t, tt.pdu.Type, got.Type)
			assert.Equal(t, tt.pdu.RequestID, got.RequestID)
			assert.Equal(t, tt.pdu.ErrorStatus, got.ErrorStatus)
			assert.Equal(t, tt.pdu.ErrorIndex, got.ErrorIndex)
			assert.Equal(t, tt.pdu.NonRepeaters, got.NonRepeaters)
			assert.Equal(t, tt.pdu.MaxRepetitions, got.MaxRepetitions)
			if diff := cmp.Diff(tt.pdu.Variables, got.Variables, equateEmpty); diff != "" {
				t.Errorf("varbinds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrapHelpers(t *testing.T) {
	p := &PDU{Type: SNMPv2Trap, Variables: []Variable{
		NewTimeTicksVariable(sysUpTime, 12345),
		NewOIDVariable(snmpTrapOID, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 1}),
	}}
	assert.Equal(t, OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 1}, p.TrapOID())
	assert.EqualValues(t, 12345, p.Uptime())

	bare := &PDU{Type: SNMPv2Trap}
	assert.Nil(t, bare.TrapOID())
	assert.Zero(t, bare.Uptime())
}

func TestEncodeVersionChecks(t *testing.T) {
	v1 := NewCommunityContext(SecurityModelV1, "public")
	v2 := NewCommunityContext(SecurityModelV2C, "public")
	tests := []struct {
		name string
		sec  *SecurityContext
		pdu  *PDU
	}{
		{"getbulk over v1", v1, &PDU{Type: GetBulkRequest}},
		{"inform over v1", v1, &PDU{Type: InformRequest}},
		{"v2 trap over v1", v1, &PDU{Type: SNMPv2Trap}},
		{"v1 trap over v2c", v2, &PDU{Type: Trap, Enterprise: OID{1, 3}}},
		{"bad pdu type", v2, &PDU{Type: PDUType(0xaf)}},
		{"v3 without context", nil, &PDU{Version: Version3, Type: GetRequest}},
		{"unknown version", nil, &PDU{Version: SnmpVersion(2), Type: GetRequest}},
		{"ipv6 agent address", v1, &PDU{Type: Trap, Enterprise: OID{1, 3}, AgentAddress: netip.MustParseAddr("2001:db8::1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.pdu.Encode(tt.sec)
			assert.Equal(t, CodeParam, CodeOf(err), "got %v", err)
		})
	}

	bad := &PDU{Type: GetRequest, Variables: []Variable{{Name: OID{5}, Type: Null}}}
	_, err := bad.Encode(v2)
	assert.Equal(t, CodeBadOID, CodeOf(err))
}

func TestParseErrors(t *testing.T) {
	good, err := (&PDU{Type: GetRequest, RequestID: 1, Variables: nullVariables([]OID{sysDescr0})}).
		Encode(NewCommunityContext(SecurityModelV2C, "public"))
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":           nil,
		"garbage":         {0xde, 0xad, 0xbe, 0xef},
		"version 2":       {0x30, 0x03, 0x02, 0x01, 0x02},
		"trailing bytes":  append(append([]byte{}, good...), 0x00),
		"missing pdu":     {0x30, 0x05, 0x02, 0x01, 0x01, 0x04, 0x00},
		"unknown pdu tag": {0x30, 0x0f, 0x02, 0x01, 0x01, 0x04, 0x00, 0xaf, 0x08, 0x02, 0x01, 0x01, 0x02, 0x01, 0x00, 0x02, 0x01, 0x00},
		"negative status": {0x30, 0x12, 0x02, 0x01, 0x01, 0x04, 0x00, 0xa2, 0x0b, 0x02, 0x01, 0x01, 0x02, 0x01, 0xff, 0x02, 0x01, 0x00, 0x30, 0x00},
	}
	for i := 1; i < len(good); i++ {
		tests[fmt.Sprintf("truncated to %d", i)] = good[:i]
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data, nil)
			require.Error(t, err)
			assert.Equal(t, CodeParse, CodeOf(err), "got %v", err)
		})
	}
}

// -- SNMPv3 -------------------------------------------------------------------

func newTestUSM(t testing.TB, auth AuthMethod, priv PrivMethod) *SecurityContext {
	t.Helper()
	authPass, privPass := "", ""
	if auth != AuthNone {
		authPass = "auth-" + auth.String()
	}
	if priv != PrivNone {
		privPass = "priv-" + priv.String()
	}
	sc := NewUSMContext("poller", auth, authPass, priv, privPass)
	require.NoError(t, sc.SetAuthoritativeEngine(NewEngine(testEngineID, 12, 34567)))
	return sc
}

func TestV3RoundTrip(t *testing.T) {
	tests := []struct {
		auth AuthMethod
		priv PrivMethod
	}{
		{AuthNone, PrivNone},
		{AuthMD5, PrivNone},
		{AuthSHA1, PrivNone},
		{AuthSHA224, PrivNone},
		{AuthSHA256, PrivNone},
		{AuthSHA384, PrivNone},
		{AuthSHA512, PrivNone},
		{AuthMD5, PrivDES},
		{AuthSHA1, PrivDES},
		{AuthMD5, PrivAES},
		{AuthSHA1, PrivAES},
		{AuthSHA256, PrivAES},
		{AuthSHA512, PrivDES},
	}
	for _, tt := range tests {
		t.Run(tt.auth.String()+"/"+tt.priv.String(), func(t *testing.T) {
			sc := newTestUSM(t, tt.auth, tt.priv)
			sc.ContextName = "vrf-blue"
			req := &PDU{
				Type:      GetRequest,
				RequestID: 1234,
				MsgID:     5678,
				Variables: nullVariables([]OID{sysDescr0, sysUpTime}),
			}
			data, err := req.Encode(sc)
			require.NoError(t, err)

			got, err := Parse(data, sc)
			require.NoError(t, err)
			assert.Equal(t, Version3, got.Version)
			assert.EqualValues(t, 5678, got.MsgID)
			assert.EqualValues(t, 1234, got.RequestID)
			assert.Equal(t, SecurityModelUSM, got.SecurityModel)
			assert.Equal(t, "poller", got.UserName)
			assert.Equal(t, "vrf-blue", got.ContextName)
			assert.Equal(t, testEngineID, got.ContextEngineID)
			assert.True(t, got.MsgFlags&Reportable != 0, "GetRequest is confirmed")
			level, _ := sc.SecurityLevel()
			assert.Equal(t, level, got.MsgFlags&AuthPriv)
			require.NotNil(t, got.AuthoritativeEngine)
			assert.Equal(t, testEngineID, got.AuthoritativeEngine.ID)
			assert.EqualValues(t, 12, got.AuthoritativeEngine.Boots)
			if diff := cmp.Diff(req.Variables, got.Variables, equateEmpty); diff != "" {
				t.Errorf("varbinds mismatch (-want +got):\n%s", diff)
			}

			if tt.auth == AuthNone {
				return
			}

			// Any modified byte must be rejected, never silently accepted.
			for i := range data {
				flipped := append([]byte{}, data...)
				flipped[i] ^= 0x40
				_, err := Parse(flipped, sc)
				assert.Error(t, err, "flip at %d accepted", i)
			}

			// Wrong password
			other := NewUSMContext("poller", tt.auth, "wrong-password", tt.priv, "wrong-password")
			require.NoError(t, other.SetAuthoritativeEngine(NewEngine(testEngineID, 12, 34567)))
			_, err = Parse(data, other)
			assert.Equal(t, CodeAuthFailure, CodeOf(err))
			assert.True(t, errors.Is(err, ErrWrongDigest))
		})
	}
}

func TestV3SecurityFailures(t *testing.T) {
	sc := newTestUSM(t, AuthSHA1, PrivAES)
	req := &PDU{Type: GetRequest, RequestID: 1, MsgID: 1, Variables: nullVariables([]OID{sysDescr0})}
	data, err := req.Encode(sc)
	require.NoError(t, err)

	_, err = Parse(data, nil)
	assert.Equal(t, CodeSecName, CodeOf(err), "no context")

	wrongUser := NewUSMContext("someone", AuthSHA1, "auth-SHA1", PrivAES, "priv-AES")
	require.NoError(t, wrongUser.SetAuthoritativeEngine(NewEngine(testEngineID, 12, 34567)))
	_, err = Parse(data, wrongUser)
	assert.Equal(t, CodeSecName, CodeOf(err))

	otherEngine := NewUSMContext("poller", AuthSHA1, "auth-SHA1", PrivAES, "priv-AES")
	require.NoError(t, otherEngine.SetAuthoritativeEngine(NewEngine([]byte{1, 2, 3, 4, 5}, 1, 1)))
	_, err = Parse(data, otherEngine)
	assert.Equal(t, CodeEngineID, CodeOf(err))

	noPriv := NewUSMContext("poller", AuthSHA1, "auth-SHA1", PrivNone, "")
	require.NoError(t, noPriv.SetAuthoritativeEngine(NewEngine(testEngineID, 12, 34567)))
	_, err = Parse(data, noPriv)
	assert.Equal(t, CodeUnsupportedSecLevel, CodeOf(err))

	noAuth := NewUSMContext("poller", AuthNone, "", PrivNone, "")
	require.NoError(t, noAuth.SetAuthoritativeEngine(NewEngine(testEngineID, 12, 34567)))
	_, err = Parse(data, noAuth)
	assert.Equal(t, CodeUnsupportedSecLevel, CodeOf(err))

	// authenticated encode without localized keys
	undiscovered := NewUSMContext("poller", AuthSHA1, "auth-SHA1", PrivNone, "")
	_, err = req.Encode(undiscovered)
	assert.Equal(t, CodeEngineID, CodeOf(err))

	badLevel := NewUSMContext("poller", AuthNone, "", PrivAES, "priv")
	_, err = req.Encode(badLevel)
	assert.Equal(t, CodeUnsupportedSecLevel, CodeOf(err))
}

func TestV3DiscoveryRequest(t *testing.T) {
	req := &PDU{Type: GetRequest, RequestID: 9, MsgID: 10}
	data, err := req.Encode(NewUSMContext("", AuthNone, "", PrivNone, ""))
	require.NoError(t, err)

	got, err := Parse(data, nil)
	require.NoError(t, err)
	assert.Nil(t, got.AuthoritativeEngine, "discovery names no engine")
	assert.Equal(t, Reportable, got.MsgFlags)
	assert.Empty(t, got.Variables)

	report := &PDU{Type: Report, RequestID: 9, MsgID: 10,
		Variables: []Variable{NewCounter32Variable(usmStatsUnknownEngineIDs, 3)}}
	agent := NewUSMContext("", AuthNone, "", PrivNone, "")
	require.NoError(t, agent.SetAuthoritativeEngine(NewEngine(testEngineID, 5, 600)))
	data, err = report.Encode(agent)
	require.NoError(t, err)

	got, err = Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, Report, got.Type)
	assert.Equal(t, NoAuthNoPriv, got.MsgFlags, "reports are not reportable")
	require.True(t, got.AuthoritativeEngine.Known())
	assert.Equal(t, testEngineID, got.AuthoritativeEngine.ID)
	assert.EqualValues(t, 5, got.AuthoritativeEngine.Boots)
	assert.InDelta(t, 600, got.AuthoritativeEngine.Time, 1)
	assert.True(t, errors.Is(got.ReportError(), ErrUnknownEngineID))
	assert.Equal(t, CodeEngineID, CodeOf(got.ReportError()))
}

func TestReportError(t *testing.T) {
	tests := []struct {
		oid  OID
		code ErrorCode
		err  error
	}{
		{usmStatsUnsupportedSecLevels, CodeUnsupportedSecLevel, ErrUnknownSecurityLevel},
		{usmStatsNotInTimeWindows, CodeTimeWindow, ErrNotInTimeWindow},
		{usmStatsUnknownUserNames, CodeSecName, ErrUnknownUsername},
		{usmStatsUnknownEngineIDs, CodeEngineID, ErrUnknownEngineID},
		{usmStatsWrongDigests, CodeAuthFailure, ErrWrongDigest},
		{usmStatsDecryptionErrors, CodeDecryption, ErrDecryption},
		{snmpUnknownSecurityModels, CodeUnsupportedSecLevel, ErrUnknownSecurityModels},
		{snmpInvalidMsgs, CodeBadResponse, ErrInvalidMsgs},
		{snmpUnknownPDUHandlers, CodeBadResponse, ErrUnknownPDUHandlers},
		{OID{1, 3, 6, 1, 4, 1, 9, 9}, CodeBadResponse, ErrUnknownReportPDU},
	}
	for _, tt := range tests {
		p := &PDU{Type: Report, Variables: []Variable{NewCounter32Variable(tt.oid, 1)}}
		err := p.ReportError()
		assert.Equal(t, tt.code, CodeOf(err), tt.oid.String())
		assert.True(t, errors.Is(err, tt.err), tt.oid.String())
		assert.True(t, errors.Is(err, tt.code))
	}
	assert.Nil(t, (&PDU{Type: GetResponse}).ReportError())
	assert.Equal(t, CodeBadResponse, CodeOf((&PDU{Type: Report}).ReportError()))
}

func TestPDUStringHidesCommunity(t *testing.T) {
	p, err := Parse(v1TrapLiteral, nil)
	require.NoError(t, err)
	s := p.String()
	assert.Contains(t, s, "Trap")
	assert.Contains(t, s, "specific=17")
	assert.NotContains(t, s, "public")
}

func FuzzParse(f *testing.F) {
	f.Add(v1TrapLiteral)
	v2, _ := (&PDU{Type: GetResponse, RequestID: 7, Variables: []Variable{
		NewOctetStringVariable(sysDescr0, []byte("fuzz")),
		NewCounter64Variable(sysUpTime, 1<<50),
	}}).Encode(NewCommunityContext(SecurityModelV2C, "public"))
	f.Add(v2)

	sc := NewUSMContext("poller", AuthSHA1, "auth-SHA1", PrivDES, "priv-DES")
	if err := sc.SetAuthoritativeEngine(NewEngine(testEngineID, 1, 1)); err != nil {
		f.Fatal(err)
	}
	v3, _ := (&PDU{Type: GetRequest, RequestID: 1, MsgID: 2, Variables: nullVariables([]OID{sysDescr0})}).Encode(sc)
	f.Add(v3)
	f.Add([]byte{0x30, 0x84, 0x7f, 0xff, 0xff, 0xff})
	f.Add([]byte{0x30, 0x80, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := Parse(data, sc)
		if err != nil {
			if p != nil {
				t.Fatalf("error %v with non-nil PDU", err)
			}
			if code := CodeOf(err); code == CodeComm || code == CodeSuccess {
				t.Fatalf("unexpected code %d for %v", code, err)
			}
			return
		}
		// Whatever parses must encode again.
		if p.Version != Version3 {
			if _, err := p.Encode(nil); err != nil && CodeOf(err) != CodeParam && CodeOf(err) != CodeBadOID {
				t.Fatalf("re-encode: %v", err)
			}
		}
	})
}
