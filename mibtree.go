// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// MIBObject is one node of a MIB tree. Nodes created only to connect a
// deeper registration have an empty Name.
type MIBObject struct {
	Name        string
	Arc         uint32
	Type        string
	Status      string
	Access      string
	Description string

	Parent   *MIBObject
	Children []*MIBObject // sorted by Arc
}

// OID returns the full object identifier of the node.
func (m *MIBObject) OID() OID {
	var arcs OID
	for n := m; n != nil && n.Parent != nil; n = n.Parent {
		arcs = append(arcs, n.Arc)
	}
	slices.Reverse(arcs)
	return arcs
}

func (m *MIBObject) child(arc uint32) *MIBObject {
	i, found := slices.BinarySearchFunc(m.Children, arc, func(c *MIBObject, a uint32) int {
		return cmpArc(c.Arc, a)
	})
	if found {
		return m.Children[i]
	}
	return nil
}

func (m *MIBObject) addChild(arc uint32) *MIBObject {
	i, found := slices.BinarySearchFunc(m.Children, arc, func(c *MIBObject, a uint32) int {
		return cmpArc(c.Arc, a)
	})
	if found {
		return m.Children[i]
	}
	c := &MIBObject{Arc: arc, Parent: m}
	m.Children = slices.Insert(m.Children, i, c)
	return c
}

func cmpArc(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MIBTree maps OIDs to object names for display. It is safe for concurrent
// reads once built.
type MIBTree struct {
	root   *MIBObject
	byName map[string]*MIBObject
}

// standardObjects seeds NewMIBTree: the internet root, SNMPv2-MIB system
// and snmpTrap groups, generic traps and the v3 statistics counters.
var standardObjects = []struct {
	oid, name, typ, access string
}{
	{".1", "iso", "", ""},
	{".1.3", "org", "", ""},
	{".1.3.6", "dod", "", ""},
	{".1.3.6.1", "internet", "", ""},
	{".1.3.6.1.2", "mgmt", "", ""},
	{".1.3.6.1.2.1", "mib-2", "", ""},
	{".1.3.6.1.2.1.1", "system", "", ""},
	{".1.3.6.1.2.1.1.1", "sysDescr", "DisplayString", "read-only"},
	{".1.3.6.1.2.1.1.2", "sysObjectID", "OBJECT IDENTIFIER", "read-only"},
	{".1.3.6.1.2.1.1.3", "sysUpTime", "TimeTicks", "read-only"},
	{".1.3.6.1.2.1.1.4", "sysContact", "DisplayString", "read-write"},
	{".1.3.6.1.2.1.1.5", "sysName", "DisplayString", "read-write"},
	{".1.3.6.1.2.1.1.6", "sysLocation", "DisplayString", "read-write"},
	{".1.3.6.1.2.1.1.7", "sysServices", "INTEGER", "read-only"},
	{".1.3.6.1.2.1.2", "interfaces", "", ""},
	{".1.3.6.1.2.1.2.1", "ifNumber", "Integer32", "read-only"},
	{".1.3.6.1.2.1.2.2", "ifTable", "SEQUENCE OF IfEntry", "not-accessible"},
	{".1.3.6.1.2.1.2.2.1", "ifEntry", "IfEntry", "not-accessible"},
	{".1.3.6.1.2.1.2.2.1.1", "ifIndex", "InterfaceIndex", "read-only"},
	{".1.3.6.1.2.1.2.2.1.2", "ifDescr", "DisplayString", "read-only"},
	{".1.3.6.1.2.1.2.2.1.3", "ifType", "IANAifType", "read-only"},
	{".1.3.6.1.2.1.2.2.1.5", "ifSpeed", "Gauge32", "read-only"},
	{".1.3.6.1.2.1.2.2.1.7", "ifAdminStatus", "INTEGER", "read-write"},
	{".1.3.6.1.2.1.2.2.1.8", "ifOperStatus", "INTEGER", "read-only"},
	{".1.3.6.1.2.1.2.2.1.10", "ifInOctets", "Counter32", "read-only"},
	{".1.3.6.1.2.1.2.2.1.16", "ifOutOctets", "Counter32", "read-only"},
	{".1.3.6.1.4", "private", "", ""},
	{".1.3.6.1.4.1", "enterprises", "", ""},
	{".1.3.6.1.6", "snmpV2", "", ""},
	{".1.3.6.1.6.3", "snmpModules", "", ""},
	{".1.3.6.1.6.3.1", "snmpMIB", "", ""},
	{".1.3.6.1.6.3.1.1", "snmpMIBObjects", "", ""},
	{".1.3.6.1.6.3.1.1.4", "snmpTrap", "", ""},
	{".1.3.6.1.6.3.1.1.4.1", "snmpTrapOID", "OBJECT IDENTIFIER", "accessible-for-notify"},
	{".1.3.6.1.6.3.1.1.4.3", "snmpTrapEnterprise", "OBJECT IDENTIFIER", "accessible-for-notify"},
	{".1.3.6.1.6.3.1.1.5", "snmpTraps", "", ""},
	{".1.3.6.1.6.3.1.1.5.1", "coldStart", "NOTIFICATION-TYPE", ""},
	{".1.3.6.1.6.3.1.1.5.2", "warmStart", "NOTIFICATION-TYPE", ""},
	{".1.3.6.1.6.3.1.1.5.3", "linkDown", "NOTIFICATION-TYPE", ""},
	{".1.3.6.1.6.3.1.1.5.4", "linkUp", "NOTIFICATION-TYPE", ""},
	{".1.3.6.1.6.3.1.1.5.5", "authenticationFailure", "NOTIFICATION-TYPE", ""},
	{".1.3.6.1.6.3.1.1.5.6", "egpNeighborLoss", "NOTIFICATION-TYPE", ""},
	{".1.3.6.1.6.3.10", "snmpFrameworkMIB", "", ""},
	{".1.3.6.1.6.3.10.2.1.1", "snmpEngineID", "SnmpEngineID", "read-only"},
	{".1.3.6.1.6.3.10.2.1.2", "snmpEngineBoots", "INTEGER", "read-only"},
	{".1.3.6.1.6.3.10.2.1.3", "snmpEngineTime", "INTEGER", "read-only"},
	{".1.3.6.1.6.3.11", "snmpMPDMIB", "", ""},
	{".1.3.6.1.6.3.11.2.1.1", "snmpUnknownSecurityModels", "Counter32", "read-only"},
	{".1.3.6.1.6.3.11.2.1.2", "snmpInvalidMsgs", "Counter32", "read-only"},
	{".1.3.6.1.6.3.11.2.1.3", "snmpUnknownPDUHandlers", "Counter32", "read-only"},
	{".1.3.6.1.6.3.15", "snmpUsmMIB", "", ""},
	{".1.3.6.1.6.3.15.1.1.1", "usmStatsUnsupportedSecLevels", "Counter32", "read-only"},
	{".1.3.6.1.6.3.15.1.1.2", "usmStatsNotInTimeWindows", "Counter32", "read-only"},
	{".1.3.6.1.6.3.15.1.1.3", "usmStatsUnknownUserNames", "Counter32", "read-only"},
	{".1.3.6.1.6.3.15.1.1.4", "usmStatsUnknownEngineIDs", "Counter32", "read-only"},
	{".1.3.6.1.6.3.15.1.1.5", "usmStatsWrongDigests", "Counter32", "read-only"},
	{".1.3.6.1.6.3.15.1.1.6", "usmStatsDecryptionErrors", "Counter32", "read-only"},
}

// NewMIBTree returns a tree holding the standard SNMP objects.
func NewMIBTree() *MIBTree {
	t := newEmptyMIBTree()
	for _, o := range standardObjects {
		obj := MIBObject{Name: o.name, Type: o.typ, Access: o.access}
		if o.typ != "" {
			obj.Status = "current"
		}
		if _, err := t.Add(MustParseOID(o.oid), obj); err != nil {
			panic(err)
		}
	}
	return t
}

func newEmptyMIBTree() *MIBTree {
	return &MIBTree{root: &MIBObject{}, byName: make(map[string]*MIBObject)}
}

// Add registers obj at oid, creating unnamed intermediate nodes. Registering
// an OID again replaces the node's attributes and keeps its children.
func (t *MIBTree) Add(oid OID, obj MIBObject) (*MIBObject, error) {
	if len(oid) == 0 {
		return nil, errorf(CodeBadOID, "mib add", "empty OID")
	}
	if obj.Name != "" {
		if prev, ok := t.byName[obj.Name]; ok && !prev.OID().Equal(oid) {
			return nil, errorf(CodeParam, "mib add", "name %q already registered at %s", obj.Name, prev.OID())
		}
	}
	n := t.root
	for _, arc := range oid {
		n = n.addChild(arc)
	}
	if n.Name != "" && n.Name != obj.Name {
		delete(t.byName, n.Name)
	}
	n.Name, n.Type, n.Status, n.Access, n.Description = obj.Name, obj.Type, obj.Status, obj.Access, obj.Description
	if n.Name != "" {
		t.byName[n.Name] = n
	}
	return n, nil
}

// Lookup returns the deepest named node on the path of oid and the arcs of
// oid below it.
func (t *MIBTree) Lookup(oid OID) (*MIBObject, OID) {
	var best *MIBObject
	depth := 0
	n := t.root
	for i, arc := range oid {
		if n = n.child(arc); n == nil {
			break
		}
		if n.Name != "" {
			best, depth = n, i+1
		}
	}
	if best == nil {
		return nil, oid
	}
	return best, oid[depth:]
}

// Translate renders oid as "name.suffix" using the longest registered
// prefix, for example sysDescr.0. Unknown OIDs render numerically.
func (t *MIBTree) Translate(oid OID) string {
	obj, rest := t.Lookup(oid)
	if obj == nil {
		return oid.String()
	}
	if len(rest) == 0 {
		return obj.Name
	}
	return obj.Name + rest.String()
}

// FindByName returns the node registered under name.
func (t *MIBTree) FindByName(name string) (*MIBObject, bool) {
	obj, ok := t.byName[name]
	return obj, ok
}

// Resolve is the inverse of Translate: it accepts numeric OIDs and
// "name.suffix" text.
func (t *MIBTree) Resolve(text string) (OID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errorf(CodeBadOID, "resolve", "empty name")
	}
	if c := text[0]; c == '.' || (c >= '0' && c <= '9') {
		return ParseOID(text)
	}
	name, suffix, _ := strings.Cut(text, ".")
	obj, ok := t.byName[name]
	if !ok {
		return nil, errorf(CodeNoObject, "resolve", "unknown object %q", name)
	}
	oid := obj.OID()
	if suffix == "" {
		return oid, nil
	}
	rest, err := ParseOID(suffix)
	if err != nil {
		return nil, err
	}
	return oid.Extend(rest...)
}

// Walk visits the nodes in lexicographic OID order. Returning false stops
// the walk.
func (t *MIBTree) Walk(fn func(oid OID, obj *MIBObject) bool) {
	var visit func(n *MIBObject, oid OID) bool
	visit = func(n *MIBObject, oid OID) bool {
		for _, c := range n.Children {
			coid := append(oid[:len(oid):len(oid)], c.Arc)
			if !fn(coid, c) || !visit(c, coid) {
				return false
			}
		}
		return true
	}
	visit(t.root, nil)
}

// -- Binary file format -------------------------------------------------------
//
//	magic   "NXMIB" 0x00
//	version 1 octet (1)
//	flags   1 octet, bit 0: body is zlib compressed
//	body    count (uvarint), then count node records in preorder:
//	          parent index (uvarint, 0 = root, n = n-th record)
//	          arc (uvarint)
//	          name, type, status, access, description (uvarint length + bytes)

var mibMagic = []byte("NXMIB\x00")

const (
	mibFileVersion = 1
	mibFlagZlib    = 0x01

	maxMIBNodes     = 1 << 22
	maxMIBStringLen = 1 << 16
)

// SaveMIBTree writes t to w, zlib compressed when compress is true.
func SaveMIBTree(w io.Writer, t *MIBTree, compress bool) error {
	var flags byte
	if compress {
		flags |= mibFlagZlib
	}
	header := append(append([]byte{}, mibMagic...), mibFileVersion, flags)
	if _, err := w.Write(header); err != nil {
		return newError(CodeFileIO, "save mib", err)
	}

	var body bytes.Buffer
	index := map[*MIBObject]uint64{t.root: 0}
	var count uint64
	t.Walk(func(_ OID, n *MIBObject) bool {
		count++
		index[n] = count
		return true
	})
	body.Write(binary.AppendUvarint(nil, count))
	t.Walk(func(_ OID, n *MIBObject) bool {
		rec := binary.AppendUvarint(nil, index[n.Parent])
		rec = binary.AppendUvarint(rec, uint64(n.Arc))
		for _, s := range []string{n.Name, n.Type, n.Status, n.Access, n.Description} {
			rec = binary.AppendUvarint(rec, uint64(len(s)))
			rec = append(rec, s...)
		}
		body.Write(rec)
		return true
	})

	if !compress {
		if _, err := body.WriteTo(w); err != nil {
			return newError(CodeFileIO, "save mib", err)
		}
		return nil
	}
	zw := zlib.NewWriter(w)
	if _, err := body.WriteTo(zw); err != nil {
		return newError(CodeFileIO, "save mib", err)
	}
	if err := zw.Close(); err != nil {
		return newError(CodeFileIO, "save mib", err)
	}
	return nil
}

// LoadMIBTree reads a tree written by SaveMIBTree.
func LoadMIBTree(r io.Reader) (*MIBTree, error) {
	header := make([]byte, len(mibMagic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errorf(CodeBadFileHeader, "load mib", "short header")
		}
		return nil, newError(CodeFileIO, "load mib", err)
	}
	if !bytes.Equal(header[:len(mibMagic)], mibMagic) {
		return nil, errorf(CodeBadFileHeader, "load mib", "bad magic %q", header[:len(mibMagic)])
	}
	version, flags := header[len(mibMagic)], header[len(mibMagic)+1]
	if version != mibFileVersion {
		return nil, errorf(CodeBadFileHeader, "load mib", "unsupported version %d", version)
	}
	if flags&^mibFlagZlib != 0 {
		return nil, errorf(CodeBadFileHeader, "load mib", "unknown flags %#x", flags)
	}

	var body io.Reader = r
	if flags&mibFlagZlib != 0 {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, newError(CodeBadFileData, "load mib", err)
		}
		defer zr.Close()
		body = zr
	}
	t, err := readMIBBody(bufio.NewReader(body))
	if err != nil {
		return nil, newError(CodeBadFileData, "load mib", err)
	}
	return t, nil
}

func readMIBBody(r *bufio.Reader) (*MIBTree, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("node count: %w", err)
	}
	if count > maxMIBNodes {
		return nil, fmt.Errorf("node count %d too large", count)
	}
	t := newEmptyMIBTree()
	nodes := []*MIBObject{t.root}
	for i := uint64(0); i < count; i++ {
		parent, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("node %d parent: %w", i, err)
		}
		if parent >= uint64(len(nodes)) {
			return nil, fmt.Errorf("node %d: parent %d not yet defined", i, parent)
		}
		arc, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("node %d arc: %w", i, err)
		}
		if arc > 0xffffffff {
			return nil, fmt.Errorf("node %d: arc %d out of range", i, arc)
		}
		var fields [5]string
		for j := range fields {
			if fields[j], err = readMIBString(r); err != nil {
				return nil, fmt.Errorf("node %d field %d: %w", i, j, err)
			}
		}
		p := nodes[parent]
		if p.child(uint32(arc)) != nil {
			return nil, fmt.Errorf("node %d: duplicate arc %d", i, arc)
		}
		n := p.addChild(uint32(arc))
		n.Name, n.Type, n.Status, n.Access, n.Description = fields[0], fields[1], fields[2], fields[3], fields[4]
		if n.Name != "" {
			if _, dup := t.byName[n.Name]; dup {
				return nil, fmt.Errorf("node %d: duplicate name %q", i, n.Name)
			}
			t.byName[n.Name] = n
		}
		nodes = append(nodes, n)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, errors.New("trailing data after last node")
	}
	return t, nil
}

func readMIBString(r *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > maxMIBStringLen {
		return "", fmt.Errorf("string length %d too large", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// String lists the named nodes, one "oid name" pair per line.
func (t *MIBTree) String() string {
	var b strings.Builder
	t.Walk(func(oid OID, n *MIBObject) bool {
		if n.Name != "" {
			b.WriteString(oid.String())
			b.WriteByte(' ')
			b.WriteString(n.Name)
			b.WriteByte('\n')
		}
		return true
	})
	return b.String()
}
