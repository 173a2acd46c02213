// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"errors"
	"fmt"
)

// ErrorCode is the library level result of an operation. The numeric values
// are stable and may be logged or stored by callers.
type ErrorCode int

// Library error codes
const (
	CodeSuccess             ErrorCode = 0
	CodeTimeout             ErrorCode = 1
	CodeParam               ErrorCode = 2
	CodeSocket              ErrorCode = 3
	CodeComm                ErrorCode = 4
	CodeParse               ErrorCode = 5
	CodeNoObject            ErrorCode = 6
	CodeHostname            ErrorCode = 7
	CodeBadOID              ErrorCode = 8
	CodeAgent               ErrorCode = 9
	CodeBadType             ErrorCode = 10
	CodeFileIO              ErrorCode = 11
	CodeBadFileHeader       ErrorCode = 12
	CodeBadFileData         ErrorCode = 13
	CodeUnsupportedSecLevel ErrorCode = 14
	CodeTimeWindow          ErrorCode = 15
	CodeSecName             ErrorCode = 16
	CodeEngineID            ErrorCode = 17
	CodeAuthFailure         ErrorCode = 18
	CodeDecryption          ErrorCode = 19
	CodeBadResponse         ErrorCode = 20
)

var errorCodeText = [...]string{
	CodeSuccess:             "success",
	CodeTimeout:             "request timeout",
	CodeParam:               "invalid parameters passed to function",
	CodeSocket:              "unable to create socket",
	CodeComm:                "send/receive error",
	CodeParse:               "error parsing PDU",
	CodeNoObject:            "no such object",
	CodeHostname:            "invalid hostname or IP address",
	CodeBadOID:              "invalid OID",
	CodeAgent:               "agent error",
	CodeBadType:             "invalid variable type",
	CodeFileIO:              "file I/O error",
	CodeBadFileHeader:       "invalid file header",
	CodeBadFileData:         "invalid file data",
	CodeUnsupportedSecLevel: "unsupported security level",
	CodeTimeWindow:          "not in time window",
	CodeSecName:             "unknown security name",
	CodeEngineID:            "unknown engine ID",
	CodeAuthFailure:         "authentication failure",
	CodeDecryption:          "decryption error",
	CodeBadResponse:         "malformed or unexpected response from agent",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(errorCodeText) {
		return errorCodeText[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error makes ErrorCode usable as an errors.Is target:
//
//	if errors.Is(err, snmp.CodeTimeout) { ... }
func (c ErrorCode) Error() string {
	return c.String()
}

// Error carries an ErrorCode together with the operation that failed and
// the underlying cause.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Err.Error() != e.Code.String() {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a bare ErrorCode target against the error's code.
func (e *Error) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

func newError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func errorf(code ErrorCode, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the ErrorCode carried by err. A nil error is CodeSuccess;
// errors from outside this package are reported as CodeComm.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c ErrorCode
	if errors.As(err, &c) {
		return c
	}
	return CodeComm
}

// SNMPv3: User-based Security Model Report PDUs and
// error types as per https://tools.ietf.org/html/rfc3414
var (
	ErrDecryption            = errors.New("decryption error")
	ErrInvalidMsgs           = errors.New("invalid messages")
	ErrNotInTimeWindow       = errors.New("not in time window")
	ErrUnknownEngineID       = errors.New("unknown engine id")
	ErrUnknownPDUHandlers    = errors.New("unknown pdu handlers")
	ErrUnknownReportPDU      = errors.New("unknown report pdu")
	ErrUnknownSecurityLevel  = errors.New("unknown security level")
	ErrUnknownSecurityModels = errors.New("unknown security models")
	ErrUnknownUsername       = errors.New("unknown username")
	ErrWrongDigest           = errors.New("wrong digest")
)

var (
	usmStatsUnsupportedSecLevels = MustParseOID(".1.3.6.1.6.3.15.1.1.1.0")
	usmStatsNotInTimeWindows     = MustParseOID(".1.3.6.1.6.3.15.1.1.2.0")
	usmStatsUnknownUserNames     = MustParseOID(".1.3.6.1.6.3.15.1.1.3.0")
	usmStatsUnknownEngineIDs     = MustParseOID(".1.3.6.1.6.3.15.1.1.4.0")
	usmStatsWrongDigests         = MustParseOID(".1.3.6.1.6.3.15.1.1.5.0")
	usmStatsDecryptionErrors     = MustParseOID(".1.3.6.1.6.3.15.1.1.6.0")
	snmpUnknownSecurityModels    = MustParseOID(".1.3.6.1.6.3.11.2.1.1.0")
	snmpInvalidMsgs              = MustParseOID(".1.3.6.1.6.3.11.2.1.2.0")
	snmpUnknownPDUHandlers       = MustParseOID(".1.3.6.1.6.3.11.2.1.3.0")
)

// reportError classifies the first varbind of a REPORT PDU.
func reportError(oid OID) *Error {
	switch {
	case oid.Equal(usmStatsUnsupportedSecLevels):
		return newError(CodeUnsupportedSecLevel, "report", ErrUnknownSecurityLevel)
	case oid.Equal(usmStatsNotInTimeWindows):
		return newError(CodeTimeWindow, "report", ErrNotInTimeWindow)
	case oid.Equal(usmStatsUnknownUserNames):
		return newError(CodeSecName, "report", ErrUnknownUsername)
	case oid.Equal(usmStatsUnknownEngineIDs):
		return newError(CodeEngineID, "report", ErrUnknownEngineID)
	case oid.Equal(usmStatsWrongDigests):
		return newError(CodeAuthFailure, "report", ErrWrongDigest)
	case oid.Equal(usmStatsDecryptionErrors):
		return newError(CodeDecryption, "report", ErrDecryption)
	case oid.Equal(snmpUnknownSecurityModels):
		return newError(CodeUnsupportedSecLevel, "report", ErrUnknownSecurityModels)
	case oid.Equal(snmpInvalidMsgs):
		return newError(CodeBadResponse, "report", ErrInvalidMsgs)
	case oid.Equal(snmpUnknownPDUHandlers):
		return newError(CodeBadResponse, "report", ErrUnknownPDUHandlers)
	}
	return newError(CodeBadResponse, "report", fmt.Errorf("%w: %s", ErrUnknownReportPDU, oid))
}
