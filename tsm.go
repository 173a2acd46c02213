// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import "fmt"

// tsmSecurityParameters is the Transport Security Model (RFC 5591). The
// DTLS transport authenticates and encrypts, so the msgSecurityParameters
// field is an empty OCTET STRING and nothing is signed here. SecurityName
// comes from the peer certificate, not from the wire.
type tsmSecurityParameters struct {
	SecurityName string
}

var _ securityParameters = (*tsmSecurityParameters)(nil)

func (sp *tsmSecurityParameters) SafeString() string {
	return fmt.Sprintf("SecurityName:%s", sp.SecurityName)
}

// RFC 5591 section 5.2: "The securityParameters field is an empty OCTET STRING."
func (sp *tsmSecurityParameters) marshal() ([]byte, int, error) {
	return []byte{}, -1, nil
}

func (sp *tsmSecurityParameters) unmarshal(data []byte, _ int) error {
	if len(data) != 0 {
		return fmt.Errorf("TSM security parameters must be empty, got %d bytes", len(data))
	}
	return nil
}
