// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import "fmt"

//
// Wire level definitions shared by the codec, the PDU and Variable.
// See RFC 3416 (protocol operations) and RFC 2578 (SMIv2 application types).
//

// Asn1BER is the type of an SNMP value on the wire. Only single byte tags
// are supported.
type Asn1BER byte

// ASN.1 universal, SNMP application and exception tags
const (
	EndOfContents    Asn1BER = 0x00
	Integer          Asn1BER = 0x02
	BitString        Asn1BER = 0x03
	OctetString      Asn1BER = 0x04
	Null             Asn1BER = 0x05
	ObjectIdentifier Asn1BER = 0x06
	Sequence         Asn1BER = 0x30
	IPAddress        Asn1BER = 0x40
	Counter32        Asn1BER = 0x41
	Gauge32          Asn1BER = 0x42
	TimeTicks        Asn1BER = 0x43
	Opaque           Asn1BER = 0x44
	NsapAddress      Asn1BER = 0x45
	Counter64        Asn1BER = 0x46
	Uinteger32       Asn1BER = 0x47
	NoSuchObject     Asn1BER = 0x80
	NoSuchInstance   Asn1BER = 0x81
	EndOfMibView     Asn1BER = 0x82
)

var asn1BERNames = map[Asn1BER]string{
	EndOfContents:    "EndOfContents",
	Integer:          "INTEGER",
	BitString:        "BIT STRING",
	OctetString:      "OCTET STRING",
	Null:             "NULL",
	ObjectIdentifier: "OID",
	Sequence:         "SEQUENCE",
	IPAddress:        "IpAddress",
	Counter32:        "Counter32",
	Gauge32:          "Gauge32",
	TimeTicks:        "Timeticks",
	Opaque:           "Opaque",
	NsapAddress:      "NsapAddress",
	Counter64:        "Counter64",
	Uinteger32:       "UInteger32",
	NoSuchObject:     "noSuchObject",
	NoSuchInstance:   "noSuchInstance",
	EndOfMibView:     "endOfMibView",
}

func (t Asn1BER) String() string {
	if name, ok := asn1BERNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Asn1BER(%#x)", byte(t))
}

// IsException reports whether t is one of the v2 varbind exception markers.
func (t Asn1BER) IsException() bool {
	return t == NoSuchObject || t == NoSuchInstance || t == EndOfMibView
}

// SnmpVersion 1, 2c and 3 implemented
type SnmpVersion uint8

// SnmpVersion 1, 2c and 3 implemented
const (
	Version1  SnmpVersion = 0x0
	Version2c SnmpVersion = 0x1
	Version3  SnmpVersion = 0x3
)

func (s SnmpVersion) String() string {
	switch s {
	case Version1:
		return "1"
	case Version2c:
		return "2c"
	case Version3:
		return "3"
	}
	return fmt.Sprintf("SnmpVersion(%d)", uint8(s))
}

// PDUType describes which SNMP Protocol Data Unit is being sent.
type PDUType byte

// The currently supported PDUType's
const (
	GetRequest     PDUType = 0xa0
	GetNextRequest PDUType = 0xa1
	GetResponse    PDUType = 0xa2
	SetRequest     PDUType = 0xa3
	Trap           PDUType = 0xa4 // v1
	GetBulkRequest PDUType = 0xa5
	InformRequest  PDUType = 0xa6
	SNMPv2Trap     PDUType = 0xa7 // v2c, v3
	Report         PDUType = 0xa8 // v3
)

var pduTypeNames = map[PDUType]string{
	GetRequest:     "GetRequest",
	GetNextRequest: "GetNextRequest",
	GetResponse:    "GetResponse",
	SetRequest:     "SetRequest",
	Trap:           "Trap",
	GetBulkRequest: "GetBulkRequest",
	InformRequest:  "InformRequest",
	SNMPv2Trap:     "SNMPv2Trap",
	Report:         "Report",
}

func (p PDUType) String() string {
	if name, ok := pduTypeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PDUType(%#x)", byte(p))
}

func (p PDUType) valid() bool {
	_, ok := pduTypeNames[p]
	return ok
}

// SNMPError is the error-status field of a PDU (RFC 3416 section 3). It is
// what the agent reports, as opposed to ErrorCode which is what this library
// reports.
type SNMPError uint8

// SNMP error-status values
const (
	NoError             SNMPError = iota // No error occurred. This code is also used in all request PDUs, since they have no error status to report.
	TooBig                               // The size of the Response-PDU would be too large to transport.
	NoSuchName                           // The name of a requested object was not found.
	BadValue                             // A value in the request didn't match the structure that the recipient of the request had for the object.
	ReadOnly                             // An attempt was made to set a variable that has an Access value indicating that it is read-only.
	GenErr                               // An error occurred other than one indicated by a more specific error code in this table.
	NoAccess                             // Access was denied to the object for security reasons.
	WrongType                            // The object type in a variable binding is incorrect for the object.
	WrongLength                          // A variable binding specifies a length incorrect for the object.
	WrongEncoding                        // A variable binding specifies an encoding incorrect for the object.
	WrongValue                           // The value given in a variable binding is not possible for the object.
	NoCreation                           // A specified variable does not exist and cannot be created.
	InconsistentValue                    // A variable binding specifies a value that could be held by the variable but cannot be assigned to it at this time.
	ResourceUnavailable                  // An attempt to set a variable required a resource that is not available.
	CommitFailed                         // An attempt to set a particular variable failed.
	UndoFailed                           // An attempt to set a particular variable as part of a group of variables failed, and the attempt to then undo the setting of other variables was not successful.
	AuthorizationError                   // A problem occurred in authorization.
	NotWritable                          // The variable cannot be written or created.
	InconsistentName                     // The name in a variable binding specifies a variable that does not exist.
)

var snmpErrorNames = [...]string{
	"noError", "tooBig", "noSuchName", "badValue", "readOnly", "genErr",
	"noAccess", "wrongType", "wrongLength", "wrongEncoding", "wrongValue",
	"noCreation", "inconsistentValue", "resourceUnavailable", "commitFailed",
	"undoFailed", "authorizationError", "notWritable", "inconsistentName",
}

func (e SNMPError) String() string {
	if int(e) < len(snmpErrorNames) {
		return snmpErrorNames[e]
	}
	return fmt.Sprintf("SNMPError(%d)", uint8(e))
}
