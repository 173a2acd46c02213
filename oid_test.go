// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOID(t *testing.T) {
	tests := []struct {
		in      string
		want    OID
		wantErr bool
	}{
		{in: ".1.3.6.1.2.1.1.1.0", want: OID{1, 3, 6, 1, 2, 1, 1, 1, 0}},
		{in: "1.3.6.1", want: OID{1, 3, 6, 1}},
		{in: " 1.3 ", want: OID{1, 3}},
		{in: "1.3.4294967295", want: OID{1, 3, 4294967295}},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "1..3", wantErr: true},
		{in: "1.3.x", wantErr: true},
		{in: "1.3.-1", wantErr: true},
		{in: "1.3.4294967296", wantErr: true},
		{in: strings.Repeat("1.", MaxOIDLen) + "1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOID(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, CodeBadOID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOIDString(t *testing.T) {
	assert.Equal(t, ".1.3.6.1.2.1.1.5.0", OID{1, 3, 6, 1, 2, 1, 1, 5, 0}.String())
	assert.Equal(t, "", OID{}.String())

	oid := MustParseOID(".1.3.6.1.4.1.2021.10.1.3.1")
	back, err := ParseOID(oid.String())
	require.NoError(t, err)
	assert.True(t, oid.Equal(back))
}

func TestOIDCompare(t *testing.T) {
	a := OID{1, 3, 6, 1, 2}
	tests := []struct {
		name string
		a, b OID
		want OIDCompareResult
	}{
		{"equal", a, OID{1, 3, 6, 1, 2}, OIDEqual},
		{"shorter", a, OID{1, 3, 6, 1, 2, 1}, OIDShorter},
		{"longer", OID{1, 3, 6, 1, 2, 1}, a, OIDLonger},
		{"different last", a, OID{1, 3, 6, 1, 3}, OIDNotEqual},
		{"different first", OID{2}, OID{1, 3}, OIDNotEqual},
		{"empty left", nil, a, OIDError},
		{"empty right", a, OID{}, OIDError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

// TestOIDCompareLaws checks that Compare and Cmp agree with each other and
// behave as relations should over a mixed set of OIDs.
func TestOIDCompareLaws(t *testing.T) {
	set := []OID{
		{1}, {1, 3}, {1, 3, 6}, {1, 3, 6, 1}, {1, 3, 6, 1, 2, 1},
		{1, 3, 6, 2}, {1, 4}, {2}, {2, 0, 0}, {0, 0},
		{1, 3, 4294967295}, {1, 3, 6, 1, 2, 1, 1, 1, 0},
	}
	inverse := map[OIDCompareResult]OIDCompareResult{
		OIDEqual:    OIDEqual,
		OIDNotEqual: OIDNotEqual,
		OIDShorter:  OIDLonger,
		OIDLonger:   OIDShorter,
	}
	for _, a := range set {
		assert.Equal(t, OIDEqual, a.Compare(a.Copy()), "reflexive %s", a)
		assert.Zero(t, a.Cmp(a.Copy()))
		for _, b := range set {
			ab, ba := a.Compare(b), b.Compare(a)
			assert.Equal(t, inverse[ab], ba, "antisymmetric %s %s", a, b)
			assert.Equal(t, -a.Cmp(b), b.Cmp(a))

			switch ab {
			case OIDEqual:
				assert.Zero(t, a.Cmp(b))
			case OIDShorter:
				assert.Negative(t, a.Cmp(b), "prefix sorts first: %s %s", a, b)
				assert.True(t, b.HasPrefix(a))
			case OIDLonger:
				assert.Positive(t, a.Cmp(b))
				assert.True(t, a.HasPrefix(b))
			case OIDNotEqual:
				assert.NotZero(t, a.Cmp(b))
				assert.False(t, a.HasPrefix(b))
				assert.False(t, b.HasPrefix(a))
			}

			for _, c := range set {
				if a.Cmp(b) < 0 && b.Cmp(c) < 0 {
					assert.Negative(t, a.Cmp(c), "transitive %s < %s < %s", a, b, c)
				}
			}
		}
	}
}

func TestOIDCopyAndExtend(t *testing.T) {
	base := OID{1, 3, 6, 1}
	c := base.Copy()
	c[0] = 9
	assert.Equal(t, OID{1, 3, 6, 1}, base)
	assert.Nil(t, OID(nil).Copy())

	ext, err := base.Extend(2, 1)
	require.NoError(t, err)
	assert.Equal(t, OID{1, 3, 6, 1, 2, 1}, ext)
	assert.Equal(t, OID{1, 3, 6, 1}, base)

	long := make(OID, MaxOIDLen)
	_, err = long.Extend(1)
	assert.True(t, errors.Is(err, CodeBadOID))

	var o OID
	arcs := []uint32{1, 3, 6}
	require.NoError(t, o.SetValue(arcs))
	arcs[0] = 7
	assert.Equal(t, OID{1, 3, 6}, o)
	assert.Error(t, o.SetValue(make([]uint32, MaxOIDLen+1)))
}

func TestOIDValid(t *testing.T) {
	assert.True(t, OID{1, 3, 6}.Valid())
	assert.True(t, OID{2, 100}.Valid())
	assert.False(t, OID{}.Valid())
	assert.False(t, OID{3}.Valid())
	assert.False(t, OID{1}.Valid(), "a single arc has no BER form")
	assert.False(t, OID{0, 40}.Valid())
}
