// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"slices"
	"strconv"
	"strings"
)

// MaxOIDLen is the maximum number of sub-identifiers in an OID (RFC 2578
// section 3.5).
const MaxOIDLen = 128

// OID is an SNMP object identifier. Treat it as immutable: the only methods
// that change the receiver are Extend (via assignment of its result) and
// SetValue.
type OID []uint32

// OIDCompareResult is the outcome of OID.Compare.
type OIDCompareResult int

const (
	OIDEqual OIDCompareResult = iota
	OIDNotEqual
	OIDShorter // receiver is a proper prefix of the argument
	OIDLonger  // argument is a proper prefix of the receiver
	OIDError
)

func (r OIDCompareResult) String() string {
	switch r {
	case OIDEqual:
		return "EQUAL"
	case OIDNotEqual:
		return "NOT_EQUAL"
	case OIDShorter:
		return "SHORTER"
	case OIDLonger:
		return "LONGER"
	}
	return "ERROR"
}

// ParseOID converts dotted text ("1.3.6.1" or ".1.3.6.1") to an OID.
func ParseOID(text string) (OID, error) {
	s := strings.TrimPrefix(strings.TrimSpace(text), ".")
	if s == "" {
		return nil, errorf(CodeBadOID, "parse oid", "empty OID %q", text)
	}
	parts := strings.Split(s, ".")
	if len(parts) > MaxOIDLen {
		return nil, errorf(CodeBadOID, "parse oid", "%q has more than %d sub-identifiers", text, MaxOIDLen)
	}
	oid := make(OID, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, errorf(CodeBadOID, "parse oid", "%q: bad sub-identifier %q", text, p)
		}
		oid[i] = uint32(v)
	}
	return oid, nil
}

// MustParseOID is ParseOID for constants; it panics on bad input.
func MustParseOID(text string) OID {
	oid, err := ParseOID(text)
	if err != nil {
		panic(err)
	}
	return oid
}

// String renders the OID in dotted form with a leading dot.
func (o OID) String() string {
	if len(o) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(o) * 4)
	for _, arc := range o {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(arc), 10))
	}
	return b.String()
}

// Compare reports how o relates to other. Mismatching sub-identifiers give
// OIDNotEqual regardless of order; use Cmp for ordering.
func (o OID) Compare(other OID) OIDCompareResult {
	if len(o) == 0 || len(other) == 0 {
		return OIDError
	}
	n := min(len(o), len(other))
	for i := 0; i < n; i++ {
		if o[i] != other[i] {
			return OIDNotEqual
		}
	}
	switch {
	case len(o) == len(other):
		return OIDEqual
	case len(o) < len(other):
		return OIDShorter
	}
	return OIDLonger
}

// Cmp orders OIDs lexicographically: -1 if o sorts before other, 0 if
// equal, +1 otherwise.
func (o OID) Cmp(other OID) int {
	return slices.Compare(o, other)
}

func (o OID) Equal(other OID) bool {
	return slices.Equal(o, other)
}

// HasPrefix reports whether prefix is equal to or a prefix of o.
func (o OID) HasPrefix(prefix OID) bool {
	return len(prefix) <= len(o) && slices.Equal(o[:len(prefix)], prefix)
}

// Copy returns an OID that shares no memory with o.
func (o OID) Copy() OID {
	if o == nil {
		return nil
	}
	return slices.Clone(o)
}

// Extend returns a new OID with arcs appended to o.
func (o OID) Extend(arcs ...uint32) (OID, error) {
	if len(o)+len(arcs) > MaxOIDLen {
		return nil, errorf(CodeBadOID, "extend oid", "length %d exceeds %d", len(o)+len(arcs), MaxOIDLen)
	}
	out := make(OID, 0, len(o)+len(arcs))
	out = append(out, o...)
	return append(out, arcs...), nil
}

// SetValue replaces all sub-identifiers.
func (o *OID) SetValue(arcs []uint32) error {
	if len(arcs) > MaxOIDLen {
		return errorf(CodeBadOID, "set oid", "length %d exceeds %d", len(arcs), MaxOIDLen)
	}
	*o = slices.Clone(arcs)
	return nil
}

// Valid reports whether o can be BER encoded.
func (o OID) Valid() bool {
	_, err := marshalObjectIdentifier(o)
	return err == nil
}
