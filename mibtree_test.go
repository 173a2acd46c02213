// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMIBTreeTranslate(t *testing.T) {
	tree := NewMIBTree()
	tests := []struct {
		oid  OID
		want string
	}{
		{sysDescr0, "sysDescr.0"},
		{OID{1, 3, 6, 1, 2, 1, 1}, "system"},
		{OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 10, 3}, "ifInOctets.3"},
		{OID{1, 3, 6, 1, 6, 3, 1, 1, 5, 3}, "linkDown"},
		{OID{1, 3, 6, 1, 4, 1, 8072, 3, 2, 10}, "enterprises.8072.3.2.10"},
		{OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 4, 0}, "usmStatsUnknownEngineIDs.0"},
		{OID{2, 5, 4, 3}, ".2.5.4.3"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tree.Translate(tt.oid))
		})
	}
}

func TestMIBTreeResolve(t *testing.T) {
	tree := NewMIBTree()
	tests := []struct {
		text    string
		want    OID
		wantErr ErrorCode
	}{
		{"sysDescr.0", sysDescr0, CodeSuccess},
		{"ifDescr", OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 2}, CodeSuccess},
		{" .1.3.6.1 ", OID{1, 3, 6, 1}, CodeSuccess},
		{"1.3.6", OID{1, 3, 6}, CodeSuccess},
		{"ifInOctets.2.7", OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 10, 2, 7}, CodeSuccess},
		{"", nil, CodeBadOID},
		{"noSuchThing.0", nil, CodeNoObject},
		{"sysDescr.x", nil, CodeBadOID},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := tree.Resolve(tt.text)
			if tt.wantErr != CodeSuccess {
				assert.Equal(t, tt.wantErr, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustResolve(t, tree, tree.Translate(got)), "Resolve inverts Translate")
		})
	}
}

func mustResolve(t *testing.T, tree *MIBTree, text string) OID {
	t.Helper()
	oid, err := tree.Resolve(text)
	require.NoError(t, err)
	return oid
}

func TestMIBTreeAdd(t *testing.T) {
	tree := NewMIBTree()
	netSnmp := OID{1, 3, 6, 1, 4, 1, 8072}
	obj, err := tree.Add(netSnmp, MIBObject{Name: "netSnmp", Status: "current"})
	require.NoError(t, err)
	assert.Equal(t, netSnmp, obj.OID())
	assert.Equal(t, "enterprises", obj.Parent.Name)

	// Unnamed intermediate nodes are created for deep registrations.
	deep := OID{1, 3, 6, 1, 4, 1, 9999, 1, 2}
	_, err = tree.Add(deep, MIBObject{Name: "exampleLeaf"})
	require.NoError(t, err)
	mid, rest := tree.Lookup(OID{1, 3, 6, 1, 4, 1, 9999, 1})
	assert.Equal(t, "enterprises", mid.Name)
	assert.Equal(t, OID{9999, 1}, rest)

	_, err = tree.Add(OID{1, 3, 6, 1, 4, 1, 1}, MIBObject{Name: "netSnmp"})
	assert.Equal(t, CodeParam, CodeOf(err), "a name is registered once")
	_, err = tree.Add(nil, MIBObject{Name: "x"})
	assert.Equal(t, CodeBadOID, CodeOf(err))

	// Renaming keeps children and updates the name index.
	_, err = tree.Add(netSnmp, MIBObject{Name: "net-snmp"})
	require.NoError(t, err)
	_, ok := tree.FindByName("netSnmp")
	assert.False(t, ok)
	found, ok := tree.FindByName("net-snmp")
	require.True(t, ok)
	assert.Equal(t, netSnmp, found.OID())
}

func TestMIBTreeWalkOrder(t *testing.T) {
	tree := NewMIBTree()
	_, err := tree.Add(OID{1, 3, 6, 1, 2, 1, 1, 10}, MIBObject{Name: "sysTen"})
	require.NoError(t, err)

	var prev OID
	tree.Walk(func(oid OID, _ *MIBObject) bool {
		if prev != nil {
			assert.Negative(t, prev.Cmp(oid), "%s before %s", prev, oid)
		}
		prev = oid.Copy()
		return true
	})

	visited := 0
	tree.Walk(func(OID, *MIBObject) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

func TestMIBTreeSaveLoad(t *testing.T) {
	tree := NewMIBTree()
	_, err := tree.Add(OID{1, 3, 6, 1, 4, 1, 8072}, MIBObject{
		Name: "netSnmp", Status: "current", Description: "Net-SNMP enterprise\nwith a newline",
	})
	require.NoError(t, err)

	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, SaveMIBTree(&buf, tree, compress))
		assert.Equal(t, mibMagic, buf.Bytes()[:len(mibMagic)])

		loaded, err := LoadMIBTree(&buf)
		require.NoError(t, err)
		assert.Equal(t, tree.String(), loaded.String())
		assert.Equal(t, "sysDescr.0", loaded.Translate(sysDescr0))

		obj, ok := loaded.FindByName("netSnmp")
		require.True(t, ok)
		assert.Equal(t, "Net-SNMP enterprise\nwith a newline", obj.Description)
		assert.Equal(t, "current", obj.Status)
	}

	var plain, packed bytes.Buffer
	require.NoError(t, SaveMIBTree(&plain, tree, false))
	require.NoError(t, SaveMIBTree(&packed, tree, true))
	assert.Less(t, packed.Len(), plain.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMIBTreeLoadErrors(t *testing.T) {
	var good bytes.Buffer
	require.NoError(t, SaveMIBTree(&good, NewMIBTree(), false))
	data := good.Bytes()
	header := len(mibMagic) + 2

	tests := []struct {
		name string
		data []byte
		code ErrorCode
	}{
		{"empty", nil, CodeBadFileHeader},
		{"short header", data[:4], CodeBadFileHeader},
		{"bad magic", append([]byte("XXMIB\x00"), data[len(mibMagic):]...), CodeBadFileHeader},
		{"bad version", append(append([]byte{}, mibMagic...), 9, 0), CodeBadFileHeader},
		{"unknown flags", append(append([]byte{}, mibMagic...), mibFileVersion, 0x80), CodeBadFileHeader},
		{"no body", data[:header], CodeBadFileData},
		{"truncated body", data[:len(data)-3], CodeBadFileData},
		{"trailing data", append(append([]byte{}, data...), 0), CodeBadFileData},
		{"bad parent", append(append([]byte{}, data[:header]...), 1, 5, 1, 0, 0, 0, 0, 0), CodeBadFileData},
		{"huge count", append(append([]byte{}, data[:header]...), 0xff, 0xff, 0xff, 0xff, 0x0f), CodeBadFileData},
		{"not zlib", append(append([]byte{}, mibMagic...), mibFileVersion, mibFlagZlib, 1, 2, 3), CodeBadFileData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMIBTree(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err), "got %v", err)
		})
	}

	err := SaveMIBTree(failingWriter{}, NewMIBTree(), true)
	assert.Equal(t, CodeFileIO, CodeOf(err))
}

func TestMIBTreeString(t *testing.T) {
	s := NewMIBTree().String()
	assert.True(t, strings.HasPrefix(s, ".1 iso\n"))
	assert.Contains(t, s, ".1.3.6.1.2.1.1.5 sysName\n")
}
