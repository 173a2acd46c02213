// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Variable is one variable binding: an OID, the ASN.1 type of its value and
// the raw BER content octets of that value. The typed accessors reinterpret
// Value according to Type; asking for the wrong type yields a zero value
// rather than an error, since agents in the wild are not always consistent.
type Variable struct {
	Name  OID
	Type  Asn1BER
	Value []byte
}

// NewVariable returns a Variable with a private copy of name and value.
func NewVariable(name OID, typ Asn1BER, value []byte) Variable {
	v := Variable{Name: name.Copy(), Type: typ}
	if value != nil {
		v.Value = append([]byte{}, value...)
	}
	return v
}

// NewNullVariable is the usual request binding for GET, GETNEXT and GETBULK.
func NewNullVariable(name OID) Variable {
	return Variable{Name: name.Copy(), Type: Null}
}

func NewIntegerVariable(name OID, value int32) Variable {
	return Variable{Name: name.Copy(), Type: Integer, Value: marshalInt32(value)}
}

func NewOctetStringVariable(name OID, value []byte) Variable {
	return NewVariable(name, OctetString, value)
}

// NewOIDVariable panics if value cannot be BER encoded; use ParseOID on
// untrusted input first.
func NewOIDVariable(name OID, value OID) Variable {
	content, err := marshalObjectIdentifier(value)
	if err != nil {
		panic(err)
	}
	return Variable{Name: name.Copy(), Type: ObjectIdentifier, Value: content}
}

// NewIPAddressVariable accepts IPv4 addresses only, mapped ones included;
// SMIv2 IpAddress is four octets. Any other addr leaves Value empty and
// MarshalBinary rejects the variable.
func NewIPAddressVariable(name OID, addr netip.Addr) Variable {
	addr = addr.Unmap()
	if !addr.Is4() {
		return Variable{Name: name.Copy(), Type: IPAddress}
	}
	a4 := addr.As4()
	return Variable{Name: name.Copy(), Type: IPAddress, Value: a4[:]}
}

func NewCounter32Variable(name OID, value uint32) Variable {
	return Variable{Name: name.Copy(), Type: Counter32, Value: marshalUint32(value)}
}

func NewGauge32Variable(name OID, value uint32) Variable {
	return Variable{Name: name.Copy(), Type: Gauge32, Value: marshalUint32(value)}
}

func NewTimeTicksVariable(name OID, value uint32) Variable {
	return Variable{Name: name.Copy(), Type: TimeTicks, Value: marshalUint32(value)}
}

func NewUinteger32Variable(name OID, value uint32) Variable {
	return Variable{Name: name.Copy(), Type: Uinteger32, Value: marshalUint32(value)}
}

func NewCounter64Variable(name OID, value uint64) Variable {
	return Variable{Name: name.Copy(), Type: Counter64, Value: marshalUint64(value)}
}

// -- decoding -----------------------------------------------------------------

// ParseVariable decodes a single varbind SEQUENCE.
func ParseVariable(data []byte) (Variable, error) {
	var v Variable
	err := v.Parse(data)
	return v, err
}

// Parse decodes a single varbind SEQUENCE into v. data must hold exactly
// one element.
func (v *Variable) Parse(data []byte) error {
	r := newBERReader(data)
	if err := v.parseFrom(r); err != nil {
		return err
	}
	if !r.empty() {
		return errorf(CodeParse, "parse varbind", "%d trailing bytes", r.remaining())
	}
	return nil
}

func (v *Variable) parseFrom(r *berReader) error {
	vb, err := r.enter(Sequence, "varbind")
	if err != nil {
		return newError(CodeParse, "parse varbind", err)
	}
	name, err := vb.readOID("varbind name")
	if err != nil {
		return newError(CodeParse, "parse varbind", err)
	}
	tag, content, _, err := vb.readTLV()
	if err != nil {
		return newError(CodeParse, "parse varbind", fmt.Errorf("value of %s: %w", name, err))
	}
	if !validValueType(tag) {
		return errorf(CodeParse, "parse varbind", "value of %s: unsupported type %s", name, tag)
	}
	if !vb.empty() {
		return errorf(CodeParse, "parse varbind", "%d trailing bytes in varbind %s", vb.remaining(), name)
	}
	v.Name = name
	v.Type = tag
	v.Value = append([]byte{}, content...)
	return nil
}

func validValueType(t Asn1BER) bool {
	switch t {
	case Integer, BitString, OctetString, Null, ObjectIdentifier,
		IPAddress, Counter32, Gauge32, TimeTicks, Opaque, NsapAddress,
		Counter64, Uinteger32, NoSuchObject, NoSuchInstance, EndOfMibView:
		return true
	}
	return false
}

// -- encoding -----------------------------------------------------------------

// MarshalBinary encodes v as a varbind SEQUENCE.
//
//	Sequence {
//	  ObjectIdentifier (v.Name)
//	  <Value TLV>      (v.Type + v.Value)
//	}
func (v *Variable) MarshalBinary() ([]byte, error) {
	oid, err := marshalObjectIdentifier(v.Name)
	if err != nil {
		return nil, newError(CodeBadOID, "marshal varbind", err)
	}
	if !validValueType(v.Type) {
		return nil, errorf(CodeBadType, "marshal varbind", "unsupported type %s", v.Type)
	}
	if v.Type == IPAddress && len(v.Value) != 4 {
		return nil, errorf(CodeParam, "marshal varbind", "IpAddress %s has %d octets, want 4", v.Name, len(v.Value))
	}
	return sequence(Sequence, tlv(ObjectIdentifier, oid), tlv(v.Type, v.Value)), nil
}

// Encode writes the varbind into buf and returns the number of bytes
// written, or 0 if buf is too small or v cannot be encoded.
func (v *Variable) Encode(buf []byte) int {
	b, err := v.MarshalBinary()
	if err != nil || len(b) > len(buf) {
		return 0
	}
	return copy(buf, b)
}

// -- typed accessors ----------------------------------------------------------

// IsException reports whether v carries noSuchObject, noSuchInstance or
// endOfMibView.
func (v *Variable) IsException() bool {
	return v.Type.IsException()
}

func (v *Variable) isUnsigned32() bool {
	switch v.Type {
	case Counter32, Gauge32, TimeTicks, Uinteger32:
		return true
	}
	return false
}

// ValueAsInt32 returns INTEGER values as is and unsigned 32 bit types
// reinterpreted as signed.
func (v *Variable) ValueAsInt32() int32 {
	switch {
	case v.Type == Integer:
		n, err := parseInt64(v.Value)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return 0
		}
		return int32(n)
	case v.isUnsigned32(), v.Type == IPAddress:
		return int32(v.ValueAsUint32())
	case v.Type == Counter64:
		return int32(v.ValueAsUint64())
	}
	return 0
}

// ValueAsUint32 returns unsigned 32 bit types, INTEGER reinterpreted as
// unsigned, the low 32 bits of a Counter64 and IpAddress in network order.
func (v *Variable) ValueAsUint32() uint32 {
	switch {
	case v.isUnsigned32():
		n, err := parseUint32(v.Value)
		if err != nil {
			return 0
		}
		return n
	case v.Type == Integer:
		return uint32(v.ValueAsInt32())
	case v.Type == Counter64:
		return uint32(v.ValueAsUint64())
	case v.Type == IPAddress:
		if len(v.Value) != 4 {
			return 0
		}
		return uint32(v.Value[0])<<24 | uint32(v.Value[1])<<16 | uint32(v.Value[2])<<8 | uint32(v.Value[3])
	}
	return 0
}

func (v *Variable) ValueAsUint64() uint64 {
	switch {
	case v.Type == Counter64:
		n, err := parseUint64(v.Value)
		if err != nil {
			return 0
		}
		return n
	case v.Type == Integer:
		return uint64(int64(v.ValueAsInt32()))
	case v.isUnsigned32(), v.Type == IPAddress:
		return uint64(v.ValueAsUint32())
	}
	return 0
}

// ValueAsOID returns the value of an OBJECT IDENTIFIER binding, or nil.
func (v *Variable) ValueAsOID() OID {
	if v.Type != ObjectIdentifier {
		return nil
	}
	oid, err := parseObjectIdentifier(v.Value)
	if err != nil {
		return nil
	}
	return oid
}

// ValueAsIPAddr accepts IpAddress and four or sixteen octet strings.
func (v *Variable) ValueAsIPAddr() netip.Addr {
	if v.Type != IPAddress && v.Type != OctetString {
		return netip.Addr{}
	}
	switch len(v.Value) {
	case 4:
		return netip.AddrFrom4([4]byte(v.Value))
	case 16:
		return netip.AddrFrom16([16]byte(v.Value))
	}
	return netip.Addr{}
}

// ValueAsMACAddr takes the first six octets of an octet string. Agents that
// return the textual form ("00:11:22:33:44:55") are handled too.
func (v *Variable) ValueAsMACAddr() net.HardwareAddr {
	if v.Type != OctetString && v.Type != Opaque {
		return nil
	}
	if len(v.Value) == 17 {
		if mac, err := net.ParseMAC(string(v.Value)); err == nil {
			return mac
		}
	}
	if len(v.Value) < 6 {
		return nil
	}
	return net.HardwareAddr(append([]byte{}, v.Value[:6]...))
}

// ValueAsString converts any value to text: numbers in decimal, OIDs and IP
// addresses in dotted form, octet strings verbatim. Exceptions and NULL give
// an empty string.
func (v *Variable) ValueAsString() string {
	switch {
	case v.Type == Integer:
		return strconv.FormatInt(int64(v.ValueAsInt32()), 10)
	case v.isUnsigned32():
		return strconv.FormatUint(uint64(v.ValueAsUint32()), 10)
	case v.Type == Counter64:
		return strconv.FormatUint(v.ValueAsUint64(), 10)
	case v.Type == IPAddress:
		if a := v.ValueAsIPAddr(); a.IsValid() {
			return a.String()
		}
		return ""
	case v.Type == ObjectIdentifier:
		return v.ValueAsOID().String()
	case v.Type == OctetString, v.Type == Opaque, v.Type == NsapAddress, v.Type == BitString:
		return string(v.Value)
	}
	return ""
}

// ValueAsPrintableString returns octet strings as text when they are
// printable UTF-8 (a single trailing NUL is tolerated), else as
// space-separated hex. The second result reports whether hex was used.
func (v *Variable) ValueAsPrintableString() (string, bool) {
	if v.Type != OctetString && v.Type != Opaque {
		return v.ValueAsString(), false
	}
	b := v.Value
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	if isPrintable(b) {
		return string(b), false
	}
	return hexString(v.Value), true
}

func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 0x20 && r != '\t' && r != '\r' && r != '\n' {
			return false
		}
		if r == 0x7f {
			return false
		}
	}
	return true
}

func hexString(b []byte) string {
	return fmt.Sprintf("% X", b)
}

// Interface returns the decoded Go value: int32, uint32, uint64, []byte,
// OID, netip.Addr or nil.
func (v *Variable) Interface() any {
	switch {
	case v.Type == Integer:
		return v.ValueAsInt32()
	case v.isUnsigned32():
		return v.ValueAsUint32()
	case v.Type == Counter64:
		return v.ValueAsUint64()
	case v.Type == IPAddress:
		return v.ValueAsIPAddr()
	case v.Type == ObjectIdentifier:
		return v.ValueAsOID()
	case v.Type == OctetString, v.Type == Opaque, v.Type == NsapAddress, v.Type == BitString:
		return v.Value
	}
	return nil
}

// String renders "name = TYPE: value".
func (v Variable) String() string {
	switch {
	case v.Type == Null || v.IsException():
		return fmt.Sprintf("%s = %s", v.Name, v.Type)
	case v.Type == OctetString || v.Type == Opaque:
		s, isHex := v.ValueAsPrintableString()
		if isHex {
			return fmt.Sprintf("%s = Hex-STRING: %s", v.Name, s)
		}
		return fmt.Sprintf("%s = STRING: %q", v.Name, s)
	}
	return fmt.Sprintf("%s = %s: %s", v.Name, v.Type, v.ValueAsString())
}

// -- building values ----------------------------------------------------------

// SetValueFromString replaces type and value with the conversion of text.
// Octet strings take text verbatim; see SetValueFromHexString for binary
// values.
func (v *Variable) SetValueFromString(typ Asn1BER, text string) error {
	var value []byte
	switch typ {
	case Integer:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 0, 32)
		if err != nil {
			return errorf(CodeParam, "set value", "%q is not an INTEGER: %v", text, err)
		}
		value = marshalInt32(int32(n))
	case Counter32, Gauge32, TimeTicks, Uinteger32:
		n, err := strconv.ParseUint(strings.TrimSpace(text), 0, 32)
		if err != nil {
			return errorf(CodeParam, "set value", "%q is not an unsigned 32 bit value: %v", text, err)
		}
		value = marshalUint32(uint32(n))
	case Counter64:
		n, err := strconv.ParseUint(strings.TrimSpace(text), 0, 64)
		if err != nil {
			return errorf(CodeParam, "set value", "%q is not a Counter64: %v", text, err)
		}
		value = marshalUint64(n)
	case OctetString, Opaque, NsapAddress, BitString:
		value = []byte(text)
	case ObjectIdentifier:
		oid, err := ParseOID(text)
		if err != nil {
			return err
		}
		content, err := marshalObjectIdentifier(oid)
		if err != nil {
			return newError(CodeBadOID, "set value", err)
		}
		value = content
	case IPAddress:
		addr, err := netip.ParseAddr(strings.TrimSpace(text))
		if err != nil || !addr.Unmap().Is4() {
			return errorf(CodeParam, "set value", "%q is not an IPv4 address", text)
		}
		a4 := addr.Unmap().As4()
		value = a4[:]
	case Null:
		value = nil
	default:
		return errorf(CodeBadType, "set value", "cannot convert text to %s", typ)
	}
	v.Type = typ
	v.Value = value
	return nil
}

// SetValueFromHexString sets an octet string type from hex text. Bytes may
// be separated by spaces, colons or dashes; a leading "0x" is ignored.
func (v *Variable) SetValueFromHexString(typ Asn1BER, text string) error {
	switch typ {
	case OctetString, Opaque, NsapAddress, BitString:
	default:
		return errorf(CodeBadType, "set value", "hex text not valid for %s", typ)
	}
	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimPrefix(strings.TrimSpace(text), "0x"))
	value, err := hex.DecodeString(clean)
	if err != nil {
		return errorf(CodeParam, "set value", "%q is not hex: %v", text, err)
	}
	v.Type = typ
	v.Value = value
	return nil
}
