// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

// -- BER encoding -------------------------------------------------------------

// maxLengthOctets bounds long form lengths to 2^32-1. SNMP messages never
// come close; anything longer is garbage.
const maxLengthOctets = 4

// marshalLength builds a byte representation of length
//
// http://luca.ntop.org/Teaching/Appunti/asn1.html
//
// Length octets. There are two forms: short (for lengths between 0 and 127),
// and long definite (for lengths between 0 and 2^1008 -1).
//
//   - Short form. One octet. Bit 8 has value "0" and bits 7-1 give the length.
//   - Long form. Two to 127 octets. Bit 8 of first octet has value "1" and bits
//     7-1 give the number of additional length octets. Second and following
//     octets give the length, base 256, most significant digit first.
func marshalLength(length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("length must be greater than zero")
	}
	return appendLength(nil, length), nil
}

func appendLength(dst []byte, length int) []byte {
	if length < 0x80 {
		return append(dst, byte(length))
	}
	n := 0
	for l := length; l > 0; l >>= 8 {
		n++
	}
	dst = append(dst, byte(0x80|n))
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(length>>(8*i)))
	}
	return dst
}

// tlv returns tag, length and value as one BER element.
func tlv(tag Asn1BER, value []byte) []byte {
	out := make([]byte, 0, len(value)+6)
	out = append(out, byte(tag))
	out = appendLength(out, len(value))
	return append(out, value...)
}

// marshalTLV writes a complete BER element to buf.
func marshalTLV(buf *bytes.Buffer, tag byte, value []byte) error {
	length, err := marshalLength(len(value))
	if err != nil {
		return err
	}
	buf.WriteByte(tag)
	buf.Write(length)
	buf.Write(value)
	return nil
}

// sequence concatenates parts and wraps them with tag.
func sequence(tag Asn1BER, parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size+6)
	out = append(out, byte(tag))
	out = appendLength(out, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

/*
	snmp Integer32 and INTEGER:
	-2^31 and 2^31-1 inclusive (-2147483648 to 2147483647 decimal)

	versus:

	snmp Counter32, Gauge32, TimeTicks, Unsigned32: (below)
	non-negative integer, maximum value of 2^32-1 (4294967295 decimal)
*/

// marshalInt64 returns the minimal two's complement big-endian form of v.
func marshalInt64(v int64) []byte {
	n := 1
	for i := v; i > 127 || i < -128; i >>= 8 {
		n++
	}
	out := make([]byte, n)
	for j := n - 1; j >= 0; j-- {
		out[j] = byte(v)
		v >>= 8
	}
	return out
}

// marshalInt32 builds a byte representation of a signed 32 bit int in BigEndian form
func marshalInt32(v int32) []byte {
	return marshalInt64(int64(v))
}

// marshalUint64 returns the minimal unsigned form of v, with a leading zero
// octet when the high bit of the first octet is set.
func marshalUint64(v uint64) []byte {
	n := 1
	for i := v; i > 0x7f; i >>= 8 {
		n++
	}
	out := make([]byte, n)
	for j := n - 1; j >= 0; j-- {
		out[j] = byte(v)
		v >>= 8
	}
	return out
}

// Counter32, Gauge32, TimeTicks, Unsigned32
func marshalUint32(v uint32) []byte {
	return marshalUint64(uint64(v))
}

func marshalBase128Int(out *bytes.Buffer, n uint64) {
	if n == 0 {
		out.WriteByte(0)
		return
	}
	l := 0
	for i := n; i > 0; i >>= 7 {
		l++
	}
	for i := l - 1; i >= 0; i-- {
		o := byte(n>>uint(i*7)) & 0x7f
		if i != 0 {
			o |= 0x80
		}
		out.WriteByte(o)
	}
}

// marshalObjectIdentifier encodes the content octets of an OID. The first
// two arcs share one sub-identifier (40*X + Y), so an OID needs at least two.
func marshalObjectIdentifier(oid OID) ([]byte, error) {
	switch {
	case len(oid) == 0:
		return nil, errors.New("unable to marshal OID: empty object identifier")
	case len(oid) == 1:
		return nil, fmt.Errorf("unable to marshal OID: .%d has a single arc", oid[0])
	case len(oid) > MaxOIDLen:
		return nil, fmt.Errorf("unable to marshal OID: %d sub-identifiers exceeds %d", len(oid), MaxOIDLen)
	case oid[0] > 2:
		return nil, fmt.Errorf("unable to marshal OID: first arc %d out of range", oid[0])
	case oid[0] < 2 && oid[1] >= 40:
		return nil, fmt.Errorf("unable to marshal OID: second arc %d out of range", oid[1])
	}

	out := new(bytes.Buffer)
	marshalBase128Int(out, uint64(oid[0])*40+uint64(oid[1]))
	for i := 2; i < len(oid); i++ {
		marshalBase128Int(out, uint64(oid[i]))
	}
	return out.Bytes(), nil
}

// -- BER decoding -------------------------------------------------------------

// parseLength parses and calculates an snmp element length. length is the
// size of the whole element (header included); cursor is the size of the
// header, ie the offset of the content octets.
//
// Indefinite lengths (0x80) are rejected: RFC 3417 section 8 allows only the
// definite form.
func parseLength(data []byte) (length int, cursor int, err error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("truncated element header: %d bytes", len(data))
	}
	first := data[1]
	if first < 0x80 {
		return int(first) + 2, 2, nil
	}
	numOctets := int(first & 0x7f)
	if numOctets == 0 {
		return 0, 0, errors.New("indefinite length not supported")
	}
	if numOctets > maxLengthOctets {
		return 0, 0, fmt.Errorf("length uses %d octets, maximum %d", numOctets, maxLengthOctets)
	}
	if len(data) < 2+numOctets {
		return 0, 0, fmt.Errorf("truncated length octets: need %d, have %d", numOctets, len(data)-2)
	}
	var l uint64
	for i := 0; i < numOctets; i++ {
		l = l<<8 | uint64(data[2+i])
	}
	if l > math.MaxInt32 {
		return 0, 0, fmt.Errorf("length %d too large", l)
	}
	return int(l) + 2 + numOctets, 2 + numOctets, nil
}

// parseBase128Int parses a base-128 encoded int from the given offset in the
// given byte slice. It returns the value and the new offset.
func parseBase128Int(data []byte, initOffset int) (ret uint64, offset int, err error) {
	offset = initOffset
	for shifted := 0; offset < len(data); shifted++ {
		// 5 * 7 bits covers a uint32 sub-identifier
		if shifted > 4 {
			return 0, offset, errors.New("structural error: base 128 integer too large")
		}
		ret <<= 7
		b := data[offset]
		ret |= uint64(b & 0x7f)
		offset++
		if b&0x80 == 0 {
			return ret, offset, nil
		}
	}
	return 0, offset, errors.New("syntax error: truncated base 128 integer")
}

// parseObjectIdentifier decodes OID content octets.
func parseObjectIdentifier(src []byte) (OID, error) {
	if len(src) == 0 {
		return nil, errors.New("invalid OID length")
	}
	v, offset, err := parseBase128Int(src, 0)
	if err != nil {
		return nil, err
	}
	oid := make(OID, 0, len(src)+1)
	switch {
	case v < 40:
		oid = append(oid, 0, uint32(v))
	case v < 80:
		oid = append(oid, 1, uint32(v-40))
	default:
		if v-80 > math.MaxUint32 {
			return nil, errors.New("OID sub-identifier out of range")
		}
		oid = append(oid, 2, uint32(v-80))
	}
	for offset < len(src) {
		v, offset, err = parseBase128Int(src, offset)
		if err != nil {
			return nil, err
		}
		if v > math.MaxUint32 {
			return nil, errors.New("OID sub-identifier out of range")
		}
		if len(oid) >= MaxOIDLen {
			return nil, fmt.Errorf("OID longer than %d sub-identifiers", MaxOIDLen)
		}
		oid = append(oid, uint32(v))
	}
	return oid, nil
}

// parseInt64 treats the given bytes as a big-endian, signed integer and
// returns the result. An empty slice decodes as zero; some agents send that.
func parseInt64(data []byte) (ret int64, err error) {
	if len(data) > 8 {
		return 0, errors.New("integer too large")
	}
	if len(data) == 0 {
		return 0, nil
	}
	for _, b := range data {
		ret = ret<<8 | int64(b)
	}
	// Shift up and down in order to sign extend the result.
	shift := 64 - uint(len(data))*8
	ret <<= shift
	ret >>= shift
	return ret, nil
}

// parseUint64 treats the given bytes as a big-endian, unsigned integer and returns
// the result.
func parseUint64(data []byte) (ret uint64, err error) {
	if len(data) > 9 || (len(data) > 8 && data[0] != 0x0) {
		return 0, errors.New("integer too large")
	}
	for _, b := range data {
		ret = ret<<8 | uint64(b)
	}
	return ret, nil
}

// parseUint32 is parseUint64 limited to 32 bits.
func parseUint32(data []byte) (uint32, error) {
	ret, err := parseUint64(data)
	if err != nil {
		return 0, err
	}
	if ret > math.MaxUint32 {
		return 0, errors.New("integer too large")
	}
	return uint32(ret), nil
}

// berReader walks a buffer of BER elements. Every read checks bounds before
// touching the buffer; base is the absolute offset of data[0] within the
// message being decoded, so callers can locate fields for signing.
type berReader struct {
	data []byte
	pos  int
	base int
}

func newBERReader(data []byte) *berReader {
	return &berReader{data: data}
}

func (r *berReader) empty() bool {
	return r.pos >= len(r.data)
}

func (r *berReader) remaining() int {
	return len(r.data) - r.pos
}

// offset returns the absolute position of the next element.
func (r *berReader) offset() int {
	return r.base + r.pos
}

func (r *berReader) peekTag() (Asn1BER, bool) {
	if r.empty() {
		return 0, false
	}
	return Asn1BER(r.data[r.pos]), true
}

// readTLV reads one element. contentOffset is the absolute offset of the
// content octets.
func (r *berReader) readTLV() (tag Asn1BER, content []byte, contentOffset int, err error) {
	if r.empty() {
		return 0, nil, 0, errors.New("unexpected end of data")
	}
	length, cursor, err := parseLength(r.data[r.pos:])
	if err != nil {
		return 0, nil, 0, err
	}
	if length > r.remaining() {
		return 0, nil, 0, fmt.Errorf("element length %d exceeds remaining %d bytes", length, r.remaining())
	}
	tag = Asn1BER(r.data[r.pos])
	content = r.data[r.pos+cursor : r.pos+length]
	contentOffset = r.base + r.pos + cursor
	r.pos += length
	return tag, content, contentOffset, nil
}

// expect reads one element and checks its tag.
func (r *berReader) expect(tag Asn1BER, what string) ([]byte, error) {
	got, content, _, err := r.readTLV()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if got != tag {
		return nil, fmt.Errorf("%s: expected %s, got %s", what, tag, got)
	}
	return content, nil
}

// enter reads a constructed element with the given tag and returns a reader
// over its content.
func (r *berReader) enter(tag Asn1BER, what string) (*berReader, error) {
	start := r.pos
	content, err := r.expect(tag, what)
	if err != nil {
		return nil, err
	}
	_, cursor, _ := parseLength(r.data[start:])
	return &berReader{data: content, base: r.base + start + cursor}, nil
}

func (r *berReader) readInt(what string) (int64, error) {
	content, err := r.expect(Integer, what)
	if err != nil {
		return 0, err
	}
	v, err := parseInt64(content)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}

// readInt32 reads an INTEGER that must fit the SNMP Integer32 range.
func (r *berReader) readInt32(what string) (int32, error) {
	v, err := r.readInt(what)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%s: value %d out of range", what, v)
	}
	return int32(v), nil
}

func (r *berReader) readUint32(tag Asn1BER, what string) (uint32, error) {
	content, err := r.expect(tag, what)
	if err != nil {
		return 0, err
	}
	v, err := parseUint32(content)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}

func (r *berReader) readOctets(what string) ([]byte, error) {
	return r.expect(OctetString, what)
}

func (r *berReader) readOID(what string) (OID, error) {
	content, err := r.expect(ObjectIdentifier, what)
	if err != nil {
		return nil, err
	}
	oid, err := parseObjectIdentifier(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return oid, nil
}
